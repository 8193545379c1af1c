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

package uuid

import (
	"strings"

	guuid "github.com/google/uuid"
	"github.com/pingcap/modelflow/pkg/errors"
)

// Generator defines an interface that can generate a uuid
type Generator interface {
	// NewString returns a canonical dashed uuid string.
	NewString() string
}

type generatorImpl struct{}

// NewString implements Generator.NewString
func (g *generatorImpl) NewString() string {
	return guuid.New().String()
}

// NewGenerator creates a new generatorImpl instance
func NewGenerator() Generator {
	return &generatorImpl{}
}

// Hex returns the uuid in its 32 hex digits form, which is the form model
// identifiers are stored in.
func Hex(uid string) string {
	return strings.ReplaceAll(uid, "-", "")
}

// ParseModelID validates a model identifier. Both the dashed and the 32 hex
// digits forms are accepted, the 32 hex digits form is returned.
func ParseModelID(id string) (string, error) {
	u, err := guuid.Parse(id)
	if err != nil {
		return "", errors.ErrInvalidModelIdentifier.GenWithStackByArgs(id)
	}
	return Hex(u.String()), nil
}
