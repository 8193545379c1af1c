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
	"testing"

	"github.com/pingcap/modelflow/engine/model"
	"github.com/pingcap/modelflow/engine/registry"
	ormModel "github.com/pingcap/modelflow/engine/pkg/orm/model"
	"github.com/pingcap/modelflow/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		expr     string
		expected model.Selector
	}{
		{"my_model", model.Selector{Label: "my_model"}},
		{"+my_model", model.Selector{Label: "my_model", Ancestors: model.DepthAll}},
		{"my_model+", model.Selector{Label: "my_model", Descendants: model.DepthAll}},
		{"+my_model+", model.Selector{Label: "my_model", Ancestors: model.DepthAll, Descendants: model.DepthAll}},
		{"1+my_model", model.Selector{Label: "my_model", Ancestors: 1}},
		{"my_model+1", model.Selector{Label: "my_model", Descendants: 1}},
		{"2+my_model+3", model.Selector{Label: "my_model", Ancestors: 2, Descendants: 3}},
		{"0+my_model+0", model.Selector{Label: "my_model"}},
		{" my_model ", model.Selector{Label: "my_model"}},
	}
	for _, c := range cases {
		sel, err := Parse(c.expr)
		require.NoError(t, err, c.expr)
		require.Equal(t, c.expected, sel, c.expr)
	}

	for _, expr := range []string{"", "+", "++a", "a++", "a+b", "x+a", "a b"} {
		_, err := Parse(expr)
		require.True(t, errors.Is(err, errors.ErrSelectorInvalid), expr)
	}
}

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{"a", "+a", "a+", "2+a+1", "+a+3"} {
		sel, err := Parse(expr)
		require.NoError(t, err)
		require.Equal(t, expr, sel.String())
	}

	sels, err := ParseAll([]string{"+a", "b+1"})
	require.NoError(t, err)
	require.Len(t, sels, 2)
	_, err = ParseAll([]string{"+a", "b+x"})
	require.Error(t, err)
}

// events -> parent -> child -> grand_child
//
//	parent -> child_2 -> grand_child
func testGraph() *registry.Snapshot {
	queries := []*ormModel.SavedQuery{
		{ID: "parent"}, {ID: "child"}, {ID: "child_2"}, {ID: "grand_child"}, {ID: "lonely"},
	}
	deps := []*ormModel.ModelDependency{
		{ModelID: "parent", ParentLabel: "events"},
		{ModelID: "child", ParentLabel: "parent"},
		{ModelID: "child_2", ParentLabel: "parent"},
		{ModelID: "grand_child", ParentLabel: "child"},
		{ModelID: "grand_child", ParentLabel: "child_2"},
		{ModelID: "lonely", ParentLabel: "persons"},
	}
	return registry.NewSnapshot(1, queries, deps, registry.DefaultBuiltinSources)
}

func TestResolve(t *testing.T) {
	t.Parallel()

	g := testGraph()
	cases := []struct {
		name      string
		selectors []model.Selector
		selected  []string
		context   []string
	}{
		{
			name:      "all ancestors",
			selectors: []model.Selector{{Label: "child", Ancestors: model.DepthAll}},
			selected:  []string{"child", "parent"},
			context:   []string{"events"},
		},
		{
			name:      "all descendants",
			selectors: []model.Selector{{Label: "parent", Descendants: model.DepthAll}},
			selected:  []string{"child", "child_2", "grand_child", "parent"},
			context:   []string{"events"},
		},
		{
			name: "multiple individual models",
			selectors: []model.Selector{
				{Label: "parent"}, {Label: "child"}, {Label: "child_2"},
			},
			selected: []string{"child", "child_2", "parent"},
			context:  []string{"events"},
		},
		{
			name:      "first parents",
			selectors: []model.Selector{{Label: "grand_child", Ancestors: 1}},
			selected:  []string{"child", "child_2", "grand_child"},
			context:   []string{"parent"},
		},
		{
			name:      "first children",
			selectors: []model.Selector{{Label: "parent", Descendants: 1}},
			selected:  []string{"child", "child_2", "parent"},
			context:   []string{"events"},
		},
		{
			name:      "first family",
			selectors: []model.Selector{{Label: "child", Ancestors: 1, Descendants: 1}},
			selected:  []string{"child", "grand_child", "parent"},
			context:   []string{"child_2", "events"},
		},
		{
			name:      "bridge between selected nodes",
			selectors: []model.Selector{{Label: "parent"}, {Label: "grand_child"}},
			selected:  []string{"grand_child", "parent"},
			context:   []string{"child", "child_2", "events"},
		},
		{
			name:      "source is never selected",
			selectors: []model.Selector{{Label: "persons", Descendants: model.DepthAll}},
			selected:  []string{"lonely"},
			context:   []string{"persons"},
		},
		{
			name:     "select all",
			selected: []string{"child", "child_2", "grand_child", "lonely", "parent"},
			context:  []string{"events", "persons"},
		},
	}
	for _, c := range cases {
		res, err := Resolve(1, g, c.selectors)
		require.NoError(t, err, c.name)
		require.Equal(t, c.selected, res.Selected.Sorted(), c.name)
		require.Equal(t, c.context, res.Context.Sorted(), c.name)
		require.Equal(t, len(c.selected)+len(c.context), res.Nodes().Len(), c.name)
	}
}

func TestResolveUnknownLabel(t *testing.T) {
	t.Parallel()

	_, err := Resolve(1, testGraph(), []model.Selector{{Label: "parent"}, {Label: "missing"}})
	require.True(t, errors.IsModelNotFound(err))
	require.Contains(t, err.Error(), "missing")
}
