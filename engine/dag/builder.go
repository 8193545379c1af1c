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

	"github.com/pingcap/log"
	"github.com/pingcap/modelflow/engine/model"
	"github.com/pingcap/modelflow/engine/registry"
	"github.com/pingcap/modelflow/engine/selector"
	"github.com/pingcap/modelflow/pkg/errors"
	"go.uber.org/zap"
)

// Builder builds the DAG snapshot of a run.
type Builder struct {
	registry registry.Registry
}

// NewBuilder creates a Builder reading models from reg.
func NewBuilder(reg registry.Registry) *Builder {
	return &Builder{registry: reg}
}

// Build resolves selectors against the team's current models and returns
// the DAG over the selected and context nodes. Unknown or deleted labels,
// selected models reading from a deleted model, and cycles fail the whole
// build.
func (b *Builder) Build(ctx context.Context, teamID int64, selectors []model.Selector) (*model.DAG, error) {
	snap, err := b.registry.Snapshot(ctx, teamID)
	if err != nil {
		return nil, err
	}
	return BuildFromSnapshot(snap, selectors)
}

// BuildFromSnapshot builds the DAG from an already loaded snapshot.
func BuildFromSnapshot(snap *registry.Snapshot, selectors []model.Selector) (*model.DAG, error) {
	if err := snap.CheckAcyclic(); err != nil {
		return nil, err
	}
	res, err := selector.Resolve(snap.TeamID, snap, selectors)
	if err != nil {
		return nil, err
	}
	for _, label := range res.Selected.Sorted() {
		if deleted := snap.DeletedParentsOf(label); deleted.Len() > 0 {
			return nil, errors.Annotatef(
				errors.ErrModelNotFound.GenWithStackByArgs(snap.TeamID, deleted.Sorted()[0]),
				"parent of model %s", label)
		}
	}

	members := res.Nodes()
	nodes := make([]*model.ModelNode, 0, members.Len())
	for _, label := range members.Sorted() {
		parents := induce(snap.ParentsOf(label), members)
		children := induce(snap.ChildrenOf(label), members)
		nodes = append(nodes, model.NewModelNode(label, parents, children, res.Selected.Has(label)))
	}
	dag := model.NewDAG(snap.TeamID, nodes)

	log.Info("dag built",
		zap.Int64("team-id", snap.TeamID),
		zap.Int("nodes", dag.Len()),
		zap.Int("selected", res.Selected.Len()),
		zap.Any("levels", dag.Levels()))
	return dag, nil
}

func induce(labels model.LabelSet, members model.LabelSet) model.LabelSet {
	ret := model.NewLabelSet()
	for l := range labels {
		if members.Has(l) {
			ret.Add(l)
		}
	}
	return ret
}
