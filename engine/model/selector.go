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

package model

import (
	"strconv"
	"strings"
)

// Depth bounds how far a selector expands in one direction.
type Depth int

const (
	// DepthAll expands to the transitive closure.
	DepthAll Depth = -1
	// DepthNone doesn't expand, same as a bound of 0.
	DepthNone Depth = 0
)

// Selector selects a model and optionally its ancestors and descendants.
type Selector struct {
	Label       string `json:"label"`
	Ancestors   Depth  `json:"ancestors"`
	Descendants Depth  `json:"descendants"`
}

// String formats the selector in the expression syntax, e.g. "2+label+".
func (s Selector) String() string {
	var b strings.Builder
	switch {
	case s.Ancestors == DepthAll:
		b.WriteString("+")
	case s.Ancestors > 0:
		b.WriteString(strconv.Itoa(int(s.Ancestors)))
		b.WriteString("+")
	}
	b.WriteString(s.Label)
	switch {
	case s.Descendants == DepthAll:
		b.WriteString("+")
	case s.Descendants > 0:
		b.WriteString("+")
		b.WriteString(strconv.Itoa(int(s.Descendants)))
	}
	return b.String()
}
