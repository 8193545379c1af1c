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

package registry

import (
	"context"
	"sort"
	"strings"

	"github.com/pingcap/log"
	"github.com/pingcap/modelflow/engine/model"
	"github.com/pingcap/modelflow/engine/pkg/orm"
	ormModel "github.com/pingcap/modelflow/engine/pkg/orm/model"
	"github.com/pingcap/modelflow/pkg/errors"
	"github.com/pingcap/modelflow/pkg/uuid"
	"go.uber.org/zap"
)

// DefaultBuiltinSources are the event store tables models may select from.
var DefaultBuiltinSources = []string{"events", "persons", "sessions", "groups"}

// Registry is the read-only view over the model definitions of a team.
type Registry interface {
	// Snapshot loads every live model of the team and their dependency
	// edges.
	Snapshot(ctx context.Context, teamID int64) (*Snapshot, error)
	// GetModel returns the live model definition of label.
	GetModel(ctx context.Context, teamID int64, label string) (*ormModel.SavedQuery, error)
}

// Snapshot is the adjacency of a team's models at one point in time. Parent
// labels that are not models, built-in sources included, are sources: they
// take part in the adjacency but can never be materialized. Soft deleted
// models are neither models nor sources.
type Snapshot struct {
	TeamID   int64
	Models   map[string]*ormModel.SavedQuery
	Sources  model.LabelSet
	Parents  map[string]model.LabelSet
	Children map[string]model.LabelSet
	// Deleted are the soft deleted models.
	Deleted model.LabelSet
	// DeletedParents maps a live model to its parents that were deleted.
	// These edges are not part of Parents.
	DeletedParents map[string]model.LabelSet
}

// IsModel returns whether label is a live model.
func (s *Snapshot) IsModel(label string) bool {
	_, ok := s.Models[label]
	return ok
}

// Has returns whether label is a known node, model or source.
func (s *Snapshot) Has(label string) bool {
	return s.IsModel(label) || s.Sources.Has(label)
}

// DeletedParentsOf returns the deleted models label still selects from.
func (s *Snapshot) DeletedParentsOf(label string) model.LabelSet {
	return s.DeletedParents[label]
}

// ParentsOf returns the parent labels of label.
func (s *Snapshot) ParentsOf(label string) model.LabelSet {
	return s.Parents[label]
}

// ChildrenOf returns the child labels of label.
func (s *Snapshot) ChildrenOf(label string) model.LabelSet {
	return s.Children[label]
}

// ModelLabels returns the labels of all live models, sorted.
func (s *Snapshot) ModelLabels() []string {
	labels := make([]string, 0, len(s.Models))
	for l := range s.Models {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// CheckAcyclic returns ErrModelCycle naming one cycle if the dependency
// edges contain one.
func (s *Snapshot) CheckAcyclic() error {
	return CheckAcyclic(s.Parents)
}

// NewSnapshot builds a snapshot from model rows and dependency edges.
func NewSnapshot(teamID int64, queries []*ormModel.SavedQuery,
	deps []*ormModel.ModelDependency, builtinSources []string,
) *Snapshot {
	s := &Snapshot{
		TeamID:         teamID,
		Models:         make(map[string]*ormModel.SavedQuery, len(queries)),
		Sources:        model.NewLabelSet(builtinSources...),
		Parents:        make(map[string]model.LabelSet),
		Children:       make(map[string]model.LabelSet),
		Deleted:        model.NewLabelSet(),
		DeletedParents: make(map[string]model.LabelSet),
	}
	for _, q := range queries {
		if q.Deleted {
			s.Deleted.Add(q.ID)
			continue
		}
		s.Models[q.ID] = q
		s.ensure(q.ID)
	}
	for src := range s.Sources {
		s.ensure(src)
	}
	for _, dep := range deps {
		if !s.IsModel(dep.ModelID) {
			// edges of deleted models
			continue
		}
		if s.Deleted.Has(dep.ParentLabel) {
			if _, ok := s.DeletedParents[dep.ModelID]; !ok {
				s.DeletedParents[dep.ModelID] = model.NewLabelSet()
			}
			s.DeletedParents[dep.ModelID].Add(dep.ParentLabel)
			continue
		}
		if !s.IsModel(dep.ParentLabel) && !s.Sources.Has(dep.ParentLabel) {
			s.Sources.Add(dep.ParentLabel)
			s.ensure(dep.ParentLabel)
		}
		s.Parents[dep.ModelID].Add(dep.ParentLabel)
		s.Children[dep.ParentLabel].Add(dep.ModelID)
	}
	return s
}

func (s *Snapshot) ensure(label string) {
	if _, ok := s.Parents[label]; !ok {
		s.Parents[label] = model.NewLabelSet()
	}
	if _, ok := s.Children[label]; !ok {
		s.Children[label] = model.NewLabelSet()
	}
}

// CheckAcyclic runs a depth first search over the parent edges.
func CheckAcyclic(parents map[string]model.LabelSet) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(parents))
	var path []string

	var visit func(label string) error
	visit = func(label string) error {
		switch state[label] {
		case done:
			return nil
		case visiting:
			start := 0
			for i, l := range path {
				if l == label {
					start = i
					break
				}
			}
			cycle := append(append([]string{}, path[start:]...), label)
			return errors.ErrModelCycle.GenWithStackByArgs(strings.Join(cycle, " <- "))
		}
		state[label] = visiting
		path = append(path, label)
		for _, parent := range parents[label].Sorted() {
			if err := visit(parent); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[label] = done
		return nil
	}

	labels := make([]string, 0, len(parents))
	for l := range parents {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		if err := visit(l); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry creates a registry over the metastore.
func NewRegistry(cli orm.Client, builtinSources []string) Registry {
	if builtinSources == nil {
		builtinSources = DefaultBuiltinSources
	}
	return &metaRegistry{
		cli:            cli,
		builtinSources: builtinSources,
	}
}

type metaRegistry struct {
	cli            orm.Client
	builtinSources []string
}

func (r *metaRegistry) Snapshot(ctx context.Context, teamID int64) (*Snapshot, error) {
	queries, err := r.cli.QuerySavedQueries(ctx, teamID)
	if err != nil {
		return nil, err
	}
	deletedIDs, err := r.cli.QueryDeletedSavedQueryIDs(ctx, teamID)
	if err != nil {
		return nil, err
	}
	for _, id := range deletedIDs {
		queries = append(queries, &ormModel.SavedQuery{ID: id, TeamID: teamID, Deleted: true})
	}
	deps, err := r.cli.QueryDependencies(ctx, teamID)
	if err != nil {
		return nil, err
	}
	snap := NewSnapshot(teamID, queries, deps, r.builtinSources)
	log.Debug("registry snapshot loaded",
		zap.Int64("team-id", teamID),
		zap.Int("models", len(snap.Models)),
		zap.Int("sources", snap.Sources.Len()))
	return snap, nil
}

func (r *metaRegistry) GetModel(ctx context.Context, teamID int64, label string) (*ormModel.SavedQuery, error) {
	q, err := r.cli.GetSavedQueryByID(ctx, teamID, label)
	if err != nil {
		if orm.IsNotFoundError(err) {
			return nil, errors.ErrModelNotFound.GenWithStackByArgs(teamID, label)
		}
		return nil, err
	}
	if q.Deleted {
		return nil, errors.ErrModelNotFound.GenWithStackByArgs(teamID, label)
	}
	return q, nil
}

// Definition is a model definition to be registered.
type Definition struct {
	// ID is the model identifier, generated when empty.
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Query string `yaml:"query" json:"query"`
	// Parents are ids or names of models, or source names, the query
	// selects from.
	Parents []string `yaml:"parents" json:"parents"`
}

// Register validates and stores definitions for a team. Parents given by name
// are resolved against the definitions and the team's existing models. The
// resulting graph must stay acyclic, otherwise nothing is written. The
// definitions and their edges are written in one transaction.
func Register(ctx context.Context, cli orm.Client, teamID int64,
	defs []Definition, builtinSources []string, gen uuid.Generator,
) ([]string, error) {
	if builtinSources == nil {
		builtinSources = DefaultBuiltinSources
	}
	existing, err := cli.QuerySavedQueries(ctx, teamID)
	if err != nil {
		return nil, err
	}
	deps, err := cli.QueryDependencies(ctx, teamID)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]string, len(existing)+len(defs))
	for _, q := range existing {
		byName[q.Name] = q.ID
	}
	ids := make([]string, len(defs))
	for i, def := range defs {
		if strings.TrimSpace(def.Name) == "" {
			return nil, errors.ErrInvalidArgument.GenWithStackByArgs("model name is empty")
		}
		id := def.ID
		if id == "" {
			if prev, ok := byName[def.Name]; ok {
				id = prev
			} else {
				id = uuid.Hex(gen.NewString())
			}
		}
		if id, err = uuid.ParseModelID(id); err != nil {
			return nil, err
		}
		ids[i] = id
		byName[def.Name] = id
	}

	queries := make([]*ormModel.SavedQuery, 0, len(existing)+len(defs))
	queries = append(queries, existing...)
	upserts := make([]*ormModel.SavedQuery, 0, len(defs))
	parentsOf := make(map[string][]string, len(defs))
	for i, def := range defs {
		q := &ormModel.SavedQuery{
			ID: ids[i], TeamID: teamID, Name: def.Name, Query: def.Query,
		}
		queries = append(queries, q)
		upserts = append(upserts, q)
		// a definition without parents drops its previous edges too
		parentsOf[ids[i]] = make([]string, 0, len(def.Parents))
		for _, p := range def.Parents {
			if id, ok := byName[p]; ok {
				p = id
			}
			parentsOf[ids[i]] = append(parentsOf[ids[i]], p)
		}
	}
	merged := make([]*ormModel.ModelDependency, 0, len(deps))
	for _, dep := range deps {
		if _, replaced := parentsOf[dep.ModelID]; !replaced {
			merged = append(merged, dep)
		}
	}
	for _, id := range ids {
		for _, p := range parentsOf[id] {
			merged = append(merged, &ormModel.ModelDependency{TeamID: teamID, ModelID: id, ParentLabel: p})
		}
	}
	if err := NewSnapshot(teamID, queries, merged, builtinSources).CheckAcyclic(); err != nil {
		return nil, err
	}

	if err := cli.UpsertModels(ctx, upserts, parentsOf); err != nil {
		return nil, err
	}
	return ids, nil
}
