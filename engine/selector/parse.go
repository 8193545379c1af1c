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

package selector

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pingcap/modelflow/engine/model"
	"github.com/pingcap/modelflow/pkg/errors"
)

// selectorRe matches "[N]+label[+[N]]" style expressions.
var selectorRe = regexp.MustCompile(`^(?:(\d*)\+)?([^+\s]+)(?:\+(\d*))?$`)

// Parse parses a selector expression:
//
//	label      the model only
//	+label     the model and all its ancestors
//	label+     the model and all its descendants
//	2+label+1  ancestors up to 2 hops and descendants up to 1 hop
func Parse(expr string) (model.Selector, error) {
	expr = strings.TrimSpace(expr)
	m := selectorRe.FindStringSubmatchIndex(expr)
	if m == nil {
		return model.Selector{}, errors.ErrSelectorInvalid.GenWithStackByArgs(expr)
	}
	sel := model.Selector{
		Label:       expr[m[4]:m[5]],
		Ancestors:   model.DepthNone,
		Descendants: model.DepthNone,
	}
	var err error
	if m[2] >= 0 {
		if sel.Ancestors, err = parseDepth(expr[m[2]:m[3]]); err != nil {
			return model.Selector{}, errors.ErrSelectorInvalid.GenWithStackByArgs(expr)
		}
	}
	if m[6] >= 0 {
		if sel.Descendants, err = parseDepth(expr[m[6]:m[7]]); err != nil {
			return model.Selector{}, errors.ErrSelectorInvalid.GenWithStackByArgs(expr)
		}
	}
	return sel, nil
}

// ParseAll parses every expression, failing on the first invalid one.
func ParseAll(exprs []string) ([]model.Selector, error) {
	sels := make([]model.Selector, 0, len(exprs))
	for _, expr := range exprs {
		sel, err := Parse(expr)
		if err != nil {
			return nil, err
		}
		sels = append(sels, sel)
	}
	return sels, nil
}

func parseDepth(s string) (model.Depth, error) {
	if s == "" {
		return model.DepthAll, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	return model.Depth(n), nil
}
