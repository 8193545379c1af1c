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

// ModelNode is one node of a run's DAG. Nodes are built from a precomputed
// adjacency map and never change afterwards.
type ModelNode struct {
	label    string
	parents  LabelSet
	children LabelSet
	selected bool
}

// NewModelNode creates a node. The sets are copied.
func NewModelNode(label string, parents, children LabelSet, selected bool) *ModelNode {
	return &ModelNode{
		label:    label,
		parents:  parents.Clone(),
		children: children.Clone(),
		selected: selected,
	}
}

// Label returns the model identifier of the node.
func (n *ModelNode) Label() string { return n.label }

// Parents returns the labels the node selects from.
func (n *ModelNode) Parents() LabelSet { return n.parents }

// Children returns the labels selecting from the node.
func (n *ModelNode) Children() LabelSet { return n.children }

// Selected returns whether the node is materialized by the run. Unselected
// nodes only provide context for ordering and failure propagation.
func (n *ModelNode) Selected() bool { return n.selected }

// NodeState is the execution state of a node within one run.
type NodeState int

// node states
const (
	NodeStatePending NodeState = iota
	NodeStateRunning
	NodeStateCompleted
	NodeStateFailed
	NodeStateAncestorFailed
)

var nodeStateNames = map[NodeState]string{
	NodeStatePending:        "PENDING",
	NodeStateRunning:        "RUNNING",
	NodeStateCompleted:      "COMPLETED",
	NodeStateFailed:         "FAILED",
	NodeStateAncestorFailed: "ANCESTOR_FAILED",
}

func (s NodeState) String() string {
	if name, ok := nodeStateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsTerminated returns whether the node reached a final state.
func (s NodeState) IsTerminated() bool {
	return s == NodeStateCompleted || s == NodeStateFailed || s == NodeStateAncestorFailed
}
