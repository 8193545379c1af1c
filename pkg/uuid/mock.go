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
	"sync"

	"github.com/pingcap/log"
)

// MockGenerator hands out pushed ids in order. Tests use it to know the ids
// of jobs, runs and models in advance.
type MockGenerator struct {
	mu      sync.Mutex
	pending []string
}

// NewMock creates a MockGenerator returning ids, then the ids pushed later.
func NewMock(ids ...string) *MockGenerator {
	return &MockGenerator{pending: ids}
}

// NewString implements Generator.NewString. It panics when every id was
// handed out.
func (g *MockGenerator) NewString() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.pending) == 0 {
		log.Panic("no id left in mock generator, push more ids")
	}
	id := g.pending[0]
	g.pending = g.pending[1:]
	return id
}

// Push appends ids to hand out.
func (g *MockGenerator) Push(ids ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = append(g.pending, ids...)
}

// Remaining returns how many ids are left.
func (g *MockGenerator) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}
