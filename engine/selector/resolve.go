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
	"github.com/pingcap/modelflow/engine/model"
	"github.com/pingcap/modelflow/pkg/errors"
)

// Graph is the adjacency a selector is resolved against.
type Graph interface {
	// IsModel returns whether label can be materialized.
	IsModel(label string) bool
	// Has returns whether label is a node of the graph.
	Has(label string) bool
	ParentsOf(label string) model.LabelSet
	ChildrenOf(label string) model.LabelSet
	// ModelLabels returns every model label.
	ModelLabels() []string
}

// Resolution is the outcome of resolving selectors.
type Resolution struct {
	// Selected are the models to materialize.
	Selected model.LabelSet
	// Context are the nodes kept for ordering and failure propagation:
	// direct parents of selected nodes and nodes lying on a path between
	// two selected nodes.
	Context model.LabelSet
}

// Nodes returns Selected and Context together.
func (r *Resolution) Nodes() model.LabelSet {
	return r.Selected.Union(r.Context)
}

// Resolve expands selectors over g. No selectors selects every model. A
// selector naming an unknown label fails the whole resolution. Sources are
// never selected.
func Resolve(teamID int64, g Graph, selectors []model.Selector) (*Resolution, error) {
	selected := model.NewLabelSet()
	if len(selectors) == 0 {
		for _, l := range g.ModelLabels() {
			selected.Add(l)
		}
	}
	for _, sel := range selectors {
		if !g.Has(sel.Label) {
			return nil, errors.ErrModelNotFound.GenWithStackByArgs(teamID, sel.Label)
		}
		expanded := model.NewLabelSet(sel.Label)
		walk(sel.Label, sel.Ancestors, g.ParentsOf, expanded)
		walk(sel.Label, sel.Descendants, g.ChildrenOf, expanded)
		for l := range expanded {
			if g.IsModel(l) {
				selected.Add(l)
			}
		}
	}

	ctxNodes := model.NewLabelSet()
	for l := range selected {
		for p := range g.ParentsOf(l) {
			if !selected.Has(p) {
				ctxNodes.Add(p)
			}
		}
	}
	// bridges: reachable downwards and upwards from the selected set
	below := model.NewLabelSet()
	above := model.NewLabelSet()
	for l := range selected {
		walk(l, model.DepthAll, g.ChildrenOf, below)
		walk(l, model.DepthAll, g.ParentsOf, above)
	}
	for l := range below {
		if above.Has(l) && !selected.Has(l) {
			ctxNodes.Add(l)
		}
	}

	return &Resolution{Selected: selected, Context: ctxNodes}, nil
}

// walk adds to out every label reachable from start through next within
// depth hops, start excluded.
func walk(start string, depth model.Depth, next func(string) model.LabelSet, out model.LabelSet) {
	if depth == model.DepthNone {
		return
	}
	visited := model.NewLabelSet(start)
	frontier := []string{start}
	for hop := 0; len(frontier) > 0; hop++ {
		if depth != model.DepthAll && hop >= int(depth) {
			return
		}
		var nextFrontier []string
		for _, l := range frontier {
			for n := range next(l) {
				if visited.Has(n) {
					continue
				}
				visited.Add(n)
				out.Add(n)
				nextFrontier = append(nextFrontier, n)
			}
		}
		frontier = nextFrontier
	}
}
