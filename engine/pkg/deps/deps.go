// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package deps

import (
	"reflect"

	"github.com/pingcap/modelflow/pkg/errors"
	"go.uber.org/dig"
)

// Deps is a dependency injection container. Components are registered with
// their constructors and built lazily, at most once, when first needed.
type Deps struct {
	container *dig.Container
}

// NewDeps creates an empty container.
func NewDeps() *Deps {
	return &Deps{
		container: dig.New(),
	}
}

// Provide registers constructors. A constructor is a function whose
// arguments are other components and whose results are the components it
// builds, optionally followed by an error.
func (d *Deps) Provide(constructors ...interface{}) error {
	for _, c := range constructors {
		if err := d.container.Provide(c); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Fill sets every field of the struct params points to. The struct must
// embed dig.In.
func (d *Deps) Fill(params interface{}) error {
	ptr := reflect.ValueOf(params)
	if ptr.Kind() != reflect.Pointer || ptr.Elem().Kind() != reflect.Struct {
		return errors.ErrInvalidArgument.GenWithStackByArgs("deps: params must be a pointer to struct")
	}
	fnType := reflect.FuncOf([]reflect.Type{ptr.Elem().Type()}, nil, false)
	fn := reflect.MakeFunc(fnType, func(args []reflect.Value) []reflect.Value {
		ptr.Elem().Set(args[0])
		return nil
	})
	return errors.Trace(d.container.Invoke(fn.Interface()))
}

// Resolve returns the component of type T, building it and its
// dependencies if needed.
func Resolve[T any](d *Deps) (T, error) {
	var ret T
	err := d.container.Invoke(func(v T) {
		ret = v
	})
	return ret, errors.Trace(err)
}
