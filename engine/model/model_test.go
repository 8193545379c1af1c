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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectorString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		sel      Selector
		expected string
	}{
		{Selector{Label: "a"}, "a"},
		{Selector{Label: "a", Ancestors: DepthAll}, "+a"},
		{Selector{Label: "a", Descendants: DepthAll}, "a+"},
		{Selector{Label: "a", Ancestors: 2, Descendants: 1}, "2+a+1"},
		{Selector{Label: "a", Ancestors: DepthAll, Descendants: 3}, "+a+3"},
	}
	for _, c := range cases {
		require.Equal(t, c.expected, c.sel.String())
	}
}

func TestDAGLevels(t *testing.T) {
	t.Parallel()

	// a -> b -> d, a -> c -> d, e
	nodes := []*ModelNode{
		NewModelNode("a", NewLabelSet(), NewLabelSet("b", "c"), true),
		NewModelNode("b", NewLabelSet("a"), NewLabelSet("d"), true),
		NewModelNode("c", NewLabelSet("a"), NewLabelSet("d"), false),
		NewModelNode("d", NewLabelSet("b", "c"), NewLabelSet(), true),
		NewModelNode("e", NewLabelSet(), NewLabelSet(), true),
	}
	dag := NewDAG(1, nodes)
	require.Equal(t, 5, dag.Len())
	require.Equal(t, [][]string{{"a", "e"}, {"b", "c"}, {"d"}}, dag.Levels())
	require.Equal(t, []string{"a", "b", "d", "e"}, dag.Selected().Sorted())

	n, ok := dag.Node("d")
	require.True(t, ok)
	require.Equal(t, []string{"b", "c"}, n.Parents().Sorted())
	_, ok = dag.Node("x")
	require.False(t, ok)
}

func TestModelNodeCopiesSets(t *testing.T) {
	t.Parallel()

	parents := NewLabelSet("a")
	n := NewModelNode("b", parents, NewLabelSet(), true)
	parents.Add("c")
	require.Equal(t, 1, n.Parents().Len())
}

func TestDagRunResult(t *testing.T) {
	t.Parallel()

	r := NewDagRunResult()
	require.True(t, r.AllSucceeded())
	r.Completed.Add("a")
	r.AncestorFailed.Add("b")
	require.False(t, r.AllSucceeded())
	require.Equal(t, 2, r.Total())
	require.Equal(t, "ANCESTOR_FAILED", NodeStateAncestorFailed.String())
	require.True(t, NodeStateFailed.IsTerminated())
	require.False(t, NodeStateRunning.IsTerminated())
}
