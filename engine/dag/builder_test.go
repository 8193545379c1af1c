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

package dag

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pingcap/modelflow/engine/model"
	"github.com/pingcap/modelflow/engine/pkg/orm"
	ormModel "github.com/pingcap/modelflow/engine/pkg/orm/model"
	"github.com/pingcap/modelflow/engine/registry"
	"github.com/pingcap/modelflow/pkg/errors"
	"github.com/pingcap/modelflow/pkg/uuid"
	"github.com/stretchr/testify/require"
)

const (
	parentID     = "0190a2c47b3e7d2a9c1f3e5d8a6b4f01"
	childID      = "0190a2c47b3e7d2a9c1f3e5d8a6b4f02"
	child2ID     = "0190a2c47b3e7d2a9c1f3e5d8a6b4f03"
	grandChildID = "0190a2c47b3e7d2a9c1f3e5d8a6b4f04"
)

func newTestBuilder(t *testing.T) *Builder {
	cli, err := orm.NewMockClient()
	require.NoError(t, err)
	t.Cleanup(func() { cli.Close() })

	_, err = registry.Register(context.Background(), cli, 1, []registry.Definition{
		{ID: parentID, Name: "my_model", Query: "select event from events", Parents: []string{"events"}},
		{ID: childID, Name: "my_model_child", Query: "select * from my_model", Parents: []string{"my_model"}},
		{ID: child2ID, Name: "my_model_child_2", Query: "select * from my_model", Parents: []string{"my_model"}},
		{
			ID: grandChildID, Name: "my_model_grand_child", Query: "select * from my_model_child",
			Parents: []string{"my_model_child", "my_model_child_2"},
		},
	}, nil, uuid.NewGenerator())
	require.NoError(t, err)
	return NewBuilder(registry.NewRegistry(cli, nil))
}

func TestBuildSelectAll(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t)
	dag, err := b.Build(context.Background(), 1, nil)
	require.NoError(t, err)

	require.Equal(t, 5, dag.Len())
	child, _ := dag.Node(childID)
	require.Equal(t, []string{parentID}, child.Parents().Sorted())
	require.Equal(t, []string{grandChildID}, child.Children().Sorted())
	grand, _ := dag.Node(grandChildID)
	require.Equal(t, []string{childID, child2ID}, grand.Parents().Sorted())
	parent, _ := dag.Node(parentID)
	require.Equal(t, []string{childID, child2ID}, parent.Children().Sorted())
	require.Equal(t, []string{"events"}, parent.Parents().Sorted())

	events, ok := dag.Node("events")
	require.True(t, ok)
	require.False(t, events.Selected())
	for _, l := range []string{parentID, childID, child2ID, grandChildID} {
		n, _ := dag.Node(l)
		require.True(t, n.Selected(), l)
	}
	want := [][]string{{"events"}, {parentID}, {childID, child2ID}, {grandChildID}}
	if diff := cmp.Diff(want, dag.Levels()); diff != "" {
		t.Fatalf("unexpected levels (-want +got):\n%s", diff)
	}
}

func TestBuildInducedAdjacency(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t)
	dag, err := b.Build(context.Background(), 1, []model.Selector{
		{Label: childID, Ancestors: model.DepthAll},
	})
	require.NoError(t, err)

	require.Equal(t, []string{parentID, childID, "events"}, sortedLabels(dag))
	parent, _ := dag.Node(parentID)
	require.True(t, parent.Selected())
	// child_2 isn't part of the run, the edge is dropped
	require.Equal(t, []string{childID}, parent.Children().Sorted())
	child, _ := dag.Node(childID)
	require.Equal(t, 0, child.Children().Len())

	// every edge is mirrored
	for _, l := range dag.Labels() {
		n, _ := dag.Node(l)
		for p := range n.Parents() {
			pn, ok := dag.Node(p)
			require.True(t, ok)
			require.True(t, pn.Children().Has(l))
		}
	}
}

func sortedLabels(dag *model.DAG) []string {
	return model.NewLabelSet(dag.Labels()...).Sorted()
}

func TestBuildErrors(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t)
	_, err := b.Build(context.Background(), 1, []model.Selector{{Label: "0190a2c47b3e7d2a9c1f3e5d8a6b4fff"}})
	require.True(t, errors.IsModelNotFound(err))

	// models of another team are invisible
	_, err = b.Build(context.Background(), 2, []model.Selector{{Label: parentID}})
	require.True(t, errors.IsModelNotFound(err))

	snap := registry.NewSnapshot(1,
		[]*ormModel.SavedQuery{{ID: "a"}, {ID: "b"}},
		[]*ormModel.ModelDependency{{ModelID: "a", ParentLabel: "b"}, {ModelID: "b", ParentLabel: "a"}},
		nil)
	_, err = BuildFromSnapshot(snap, nil)
	require.True(t, errors.Is(err, errors.ErrModelCycle))
}

func TestBuildWithDeletedModel(t *testing.T) {
	t.Parallel()

	cli, err := orm.NewMockClient()
	require.NoError(t, err)
	t.Cleanup(func() { cli.Close() })
	ctx := context.Background()
	_, err = registry.Register(ctx, cli, 1, []registry.Definition{
		{ID: parentID, Name: "my_model", Query: "select event from events", Parents: []string{"events"}},
		{ID: childID, Name: "my_model_child", Query: "select * from my_model", Parents: []string{"my_model"}},
		{ID: child2ID, Name: "other", Query: "select event from events", Parents: []string{"events"}},
	}, nil, uuid.NewGenerator())
	require.NoError(t, err)
	_, err = cli.DeleteSavedQuery(ctx, 1, parentID)
	require.NoError(t, err)
	b := NewBuilder(registry.NewRegistry(cli, nil))

	// the deleted model is not a source
	for _, sel := range []model.Selector{
		{Label: parentID},
		{Label: parentID, Descendants: model.DepthAll},
	} {
		_, err = b.Build(ctx, 1, []model.Selector{sel})
		require.True(t, errors.IsModelNotFound(err), "%v", err)
	}

	// a selected model still reading from it fails the build
	_, err = b.Build(ctx, 1, []model.Selector{{Label: childID}})
	require.True(t, errors.IsModelNotFound(err), "%v", err)
	require.Contains(t, err.Error(), parentID)
	_, err = b.Build(ctx, 1, nil)
	require.True(t, errors.IsModelNotFound(err), "%v", err)

	// unrelated models still build
	dag, err := b.Build(ctx, 1, []model.Selector{{Label: child2ID}})
	require.NoError(t, err)
	require.Equal(t, []string{child2ID, "events"}, sortedLabels(dag))
}
