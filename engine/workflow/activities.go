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

package workflow

import (
	"context"
	"fmt"

	"github.com/pingcap/log"
	"github.com/pingcap/modelflow/engine/dag"
	"github.com/pingcap/modelflow/engine/executor"
	"github.com/pingcap/modelflow/engine/jobs"
	"github.com/pingcap/modelflow/engine/materialize"
	"github.com/pingcap/modelflow/engine/model"
	"github.com/pingcap/modelflow/engine/pkg/clock"
	"github.com/pingcap/modelflow/engine/pkg/logutil"
	"github.com/pingcap/modelflow/engine/pkg/orm"
	ormModel "github.com/pingcap/modelflow/engine/pkg/orm/model"
	"github.com/pingcap/modelflow/engine/pkg/quota"
	"github.com/pingcap/modelflow/engine/pkg/storage"
	"github.com/pingcap/modelflow/engine/pkg/tenant"
	"github.com/pingcap/modelflow/engine/registry"
	"github.com/pingcap/modelflow/engine/selector"
	"github.com/pingcap/modelflow/pkg/errors"
	"github.com/pingcap/modelflow/pkg/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// AncestorFailedMessage is the latest error of models skipped because an
// upstream model failed.
const AncestorFailedMessage = "skipped: upstream failed"

// Activities are the steps of the run workflow. Every activity is an
// idempotent function of its inputs and the metastore.
type Activities struct {
	meta     orm.Client
	registry registry.Registry
	builder  *dag.Builder
	jobs     *jobs.Manager
	pipeline *materialize.Pipeline
	store    storage.TableStore
	quota    quota.ConcurrencyQuota
	clock    clock.Clock
	gen      uuid.Generator
}

// ActivitiesOption customizes Activities.
type ActivitiesOption func(*Activities)

// WithModelQuota sets the capacity shared by the DAG runs of all workflows.
func WithModelQuota(q quota.ConcurrencyQuota) ActivitiesOption {
	return func(a *Activities) {
		a.quota = q
	}
}

// WithActivitiesClock sets the clock stamping last_run_at.
func WithActivitiesClock(c clock.Clock) ActivitiesOption {
	return func(a *Activities) {
		a.clock = c
	}
}

// WithTableIDGenerator sets the generator of catalog entry ids.
func WithTableIDGenerator(gen uuid.Generator) ActivitiesOption {
	return func(a *Activities) {
		a.gen = gen
	}
}

// NewActivities creates the activities of the run workflow.
func NewActivities(
	meta orm.Client, reg registry.Registry, jobManager *jobs.Manager,
	pipeline *materialize.Pipeline, store storage.TableStore, opts ...ActivitiesOption,
) *Activities {
	a := &Activities{
		meta:     meta,
		registry: reg,
		builder:  dag.NewBuilder(reg),
		jobs:     jobManager,
		pipeline: pipeline,
		store:    store,
		quota:    quota.NewConcurrencyQuota(defaultMaxConcurrency * 2),
		clock:    clock.New(),
		gen:      uuid.NewGenerator(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CreateJob fails the orphans of the team and creates the RUNNING job of
// the current workflow execution.
func (a *Activities) CreateJob(ctx context.Context, teamID tenant.TeamID, selectors []string) (string, error) {
	info, _ := InfoFromContext(ctx)
	return a.jobs.CreateJob(ctx, teamID, selectors, jobs.WorkflowInfo{
		WorkflowID: info.WorkflowID,
		RunID:      info.RunID,
	})
}

// BuildDAG parses selectors and builds the DAG of the run. Invalid
// selectors, unknown models and cycles are not retried.
func (a *Activities) BuildDAG(ctx context.Context, teamID tenant.TeamID, selectors []string) (*model.DAG, error) {
	parsed, err := selector.ParseAll(selectors)
	if err != nil {
		return nil, NonRetryable(err)
	}
	d, err := a.builder.Build(ctx, teamID, parsed)
	if err != nil {
		if !errors.IsRetryable(err) {
			return nil, NonRetryable(err)
		}
		return nil, err
	}
	return d, nil
}

// StartRun marks every selected model RUNNING.
func (a *Activities) StartRun(ctx context.Context, teamID tenant.TeamID, jobID string, d *model.DAG) error {
	labels := d.Selected().Sorted()
	if len(labels) == 0 {
		return nil
	}
	_, err := a.meta.UpdateSavedQueries(ctx, teamID, labels, ormModel.KeyValueMap{
		"status": ormModel.ModelStatusRunning,
	})
	if err != nil {
		return errors.Trace(err)
	}
	logutil.NewLogger4Run(tenant.NewTeamInfo(teamID, ""), jobID).
		Info("models marked as running", zap.Strings("models", labels))
	return nil
}

// RunDAG materializes the selected models of d. A failed model only fails
// its descendants, the activity itself errors only when the run is
// cancelled.
func (a *Activities) RunDAG(
	ctx context.Context, teamID tenant.TeamID, jobID string, d *model.DAG,
) (*model.DagRunResult, error) {
	runner := executor.NodeRunnerFunc(func(ctx context.Context, node *model.ModelNode) error {
		def, err := a.registry.GetModel(ctx, teamID, node.Label())
		if err != nil {
			return err
		}
		_, err = a.pipeline.Materialize(ctx, teamID, def, jobID)
		return err
	})
	engine := executor.NewEngine(runner, executor.WithQuota(a.quota), executor.WithClock(a.clock))
	res, err := engine.Run(ctx, d, jobID)
	if err != nil {
		return res, NonRetryable(err)
	}
	return res, nil
}

// FinishRun records the outcome of every selected model.
func (a *Activities) FinishRun(
	ctx context.Context, teamID tenant.TeamID, jobID string, res *model.DagRunResult,
) error {
	var errs error
	if completed := res.Completed.Sorted(); len(completed) > 0 {
		_, err := a.meta.UpdateSavedQueries(ctx, teamID, completed, ormModel.KeyValueMap{
			"status":       ormModel.ModelStatusCompleted,
			"latest_error": "",
			"last_run_at":  a.clock.Now(),
		})
		errs = multierr.Append(errs, err)
	}
	for _, label := range res.Failed.Sorted() {
		_, err := a.meta.UpdateSavedQueries(ctx, teamID, []string{label}, ormModel.KeyValueMap{
			"status":       ormModel.ModelStatusFailed,
			"latest_error": res.Errors[label],
		})
		errs = multierr.Append(errs, err)
	}
	if skipped := res.AncestorFailed.Sorted(); len(skipped) > 0 {
		_, err := a.meta.UpdateSavedQueries(ctx, teamID, skipped, ormModel.KeyValueMap{
			"status":       ormModel.ModelStatusFailed,
			"latest_error": AncestorFailedMessage,
		})
		errs = multierr.Append(errs, err)
	}
	if errs != nil {
		return errors.Trace(errs)
	}
	logutil.NewLogger4Run(tenant.NewTeamInfo(teamID, ""), jobID).Info("run finished",
		zap.Int("completed", res.Completed.Len()),
		zap.Int("failed", res.Failed.Len()),
		zap.Int("ancestor-failed", res.AncestorFailed.Len()))
	return nil
}

// CreateTables creates or refreshes the catalog entry of every model in
// modelIDs. Identifiers that are not UUIDs are logged and skipped, the
// other entries are still processed when one of them fails.
func (a *Activities) CreateTables(ctx context.Context, teamID tenant.TeamID, modelIDs []string) error {
	var errs error
	for _, raw := range modelIDs {
		id, err := uuid.ParseModelID(raw)
		if err != nil {
			log.Error(fmt.Sprintf("Invalid model identifier '%s': expected UUID format", raw),
				zap.Int64("team_id", teamID))
			continue
		}
		errs = multierr.Append(errs, a.createTable(ctx, teamID, id))
	}
	return errors.Trace(errs)
}

func (a *Activities) createTable(ctx context.Context, teamID tenant.TeamID, id string) error {
	def, err := a.registry.GetModel(ctx, teamID, id)
	if err != nil {
		return err
	}
	handle, err := a.store.Open(ctx,
		materialize.StoragePrefix(teamID, def.ID, materialize.NormalizedName(def.Name)))
	if err != nil {
		return err
	}

	table, err := a.meta.GetWarehouseTable(ctx, teamID, def.Name)
	switch {
	case err == nil:
		_, err = a.meta.UpdateWarehouseTable(ctx, teamID, def.Name, ormModel.KeyValueMap{
			"format":         ormModel.TableFormatParquet,
			"url_pattern":    handle.URLPattern,
			"row_count":      handle.RowCount,
			"saved_query_id": def.ID,
		})
		if err != nil {
			return err
		}
	case orm.IsNotFoundError(err):
		table, err = a.meta.UpsertWarehouseTable(ctx, &ormModel.WarehouseTable{
			ID:           uuid.Hex(a.gen.NewString()),
			TeamID:       teamID,
			Name:         def.Name,
			Format:       ormModel.TableFormatParquet,
			URLPattern:   handle.URLPattern,
			RowCount:     handle.RowCount,
			SavedQueryID: def.ID,
		})
		if err != nil {
			return err
		}
	default:
		return err
	}

	if def.TableID != table.ID {
		_, err = a.meta.UpdateSavedQueries(ctx, teamID, []string{def.ID}, ormModel.KeyValueMap{
			"table_id": table.ID,
		})
		if err != nil {
			return err
		}
	}
	log.Info("catalog table created",
		zap.Int64("team_id", teamID),
		zap.String("model", def.ID),
		zap.String("table_id", table.ID),
		zap.String("url_pattern", handle.URLPattern),
		zap.Int64("rows", handle.RowCount))
	return nil
}

// FinishJob completes the job, or fails it with errMsg when errMsg is not
// empty.
func (a *Activities) FinishJob(ctx context.Context, jobID string, errMsg string) error {
	if errMsg != "" {
		return a.jobs.FailJob(ctx, jobID, errMsg)
	}
	return a.jobs.CompleteJob(ctx, jobID)
}

// FailJobs fails the job of a workflow execution that errored out. A job
// already terminated is left as is.
func (a *Activities) FailJobs(ctx context.Context, jobID string, cause error) error {
	err := a.jobs.FailJob(ctx, jobID, cause.Error())
	if errors.Is(err, errors.ErrJobAlreadyTerminated) {
		return nil
	}
	return err
}

// failureSummary describes the failed models of res, empty when none failed.
func failureSummary(res *model.DagRunResult) string {
	if res.AllSucceeded() {
		return ""
	}
	return fmt.Sprintf("%d model(s) failed, %d skipped: %v",
		res.Failed.Len(), res.AncestorFailed.Len(), res.Failed.Sorted())
}
