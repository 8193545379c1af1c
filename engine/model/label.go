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
	"sort"

	"golang.org/x/exp/maps"
)

// LabelSet is a set of model labels. A LabelSet held by a ModelNode or a
// DagRunResult must not be modified.
type LabelSet map[string]struct{}

// NewLabelSet creates a set holding labels.
func NewLabelSet(labels ...string) LabelSet {
	s := make(LabelSet, len(labels))
	for _, l := range labels {
		s[l] = struct{}{}
	}
	return s
}

// Add adds a label.
func (s LabelSet) Add(label string) {
	s[label] = struct{}{}
}

// Has returns whether label is in the set.
func (s LabelSet) Has(label string) bool {
	_, ok := s[label]
	return ok
}

// Len returns the size of the set.
func (s LabelSet) Len() int {
	return len(s)
}

// Sorted returns the labels in ascending order.
func (s LabelSet) Sorted() []string {
	ret := maps.Keys(s)
	sort.Strings(ret)
	return ret
}

// Clone returns a copy of the set.
func (s LabelSet) Clone() LabelSet {
	c := make(LabelSet, len(s))
	maps.Copy(c, s)
	return c
}

// Union returns a new set holding labels of s and other.
func (s LabelSet) Union(other LabelSet) LabelSet {
	c := s.Clone()
	for l := range other {
		c[l] = struct{}{}
	}
	return c
}
