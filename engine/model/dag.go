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

// DAG is the immutable graph snapshot of one run, keyed by label. Adjacency
// is induced on the node set, so every parent and child label of a node is
// itself a node of the DAG.
type DAG struct {
	TeamID int64
	nodes  map[string]*ModelNode
}

// NewDAG creates a DAG from nodes.
func NewDAG(teamID int64, nodes []*ModelNode) *DAG {
	m := make(map[string]*ModelNode, len(nodes))
	for _, n := range nodes {
		m[n.Label()] = n
	}
	return &DAG{TeamID: teamID, nodes: m}
}

// Node returns the node of label.
func (d *DAG) Node(label string) (*ModelNode, bool) {
	n, ok := d.nodes[label]
	return n, ok
}

// Len returns the number of nodes.
func (d *DAG) Len() int {
	return len(d.nodes)
}

// Labels returns all labels in ascending order.
func (d *DAG) Labels() []string {
	s := make(LabelSet, len(d.nodes))
	for l := range d.nodes {
		s.Add(l)
	}
	return s.Sorted()
}

// Selected returns the labels of the selected nodes.
func (d *DAG) Selected() LabelSet {
	s := make(LabelSet)
	for l, n := range d.nodes {
		if n.Selected() {
			s.Add(l)
		}
	}
	return s
}

// Levels returns the nodes grouped by topological level: level 0 holds nodes
// without parents, level k nodes whose deepest parent is at level k-1.
// Labels in a level are sorted.
func (d *DAG) Levels() [][]string {
	remaining := make(map[string]int, len(d.nodes))
	var current []string
	for l, n := range d.nodes {
		remaining[l] = n.Parents().Len()
		if n.Parents().Len() == 0 {
			current = append(current, l)
		}
	}

	var levels [][]string
	for len(current) > 0 {
		level := NewLabelSet(current...).Sorted()
		levels = append(levels, level)
		var next []string
		for _, l := range level {
			for child := range d.nodes[l].Children() {
				remaining[child]--
				if remaining[child] == 0 {
					next = append(next, child)
				}
			}
		}
		current = next
	}
	return levels
}
