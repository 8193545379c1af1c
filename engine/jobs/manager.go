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

package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pingcap/log"
	"github.com/pingcap/modelflow/engine/pkg/clock"
	"github.com/pingcap/modelflow/engine/pkg/orm"
	ormModel "github.com/pingcap/modelflow/engine/pkg/orm/model"
	"github.com/pingcap/modelflow/engine/pkg/tenant"
	"github.com/pingcap/modelflow/pkg/errors"
	"github.com/pingcap/modelflow/pkg/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// OrphanErrorMessage is recorded on RUNNING jobs failed by the cleanup
// preceding a new run of the same team.
var OrphanErrorMessage = errors.ErrJobTimedOut.GetMsg()

const (
	reasonRun    = "run"
	reasonOrphan = "orphan"
	reasonStale  = "stale"
)

// WorkflowInfo correlates a job with the workflow execution running it.
type WorkflowInfo struct {
	WorkflowID string
	RunID      string
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock sets the clock used by SweepStale.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithUUIDGenerator sets the generator of job ids.
func WithUUIDGenerator(gen uuid.Generator) Option {
	return func(m *Manager) {
		m.gen = gen
	}
}

// Manager owns the lifecycle of run jobs. Every state change is a single
// conditional update so concurrent workflows can't re-open a terminal job.
type Manager struct {
	cli   orm.RunJobClient
	clock clock.Clock
	gen   uuid.Generator
}

// NewManager creates a Manager on the metastore client.
func NewManager(cli orm.RunJobClient, opts ...Option) *Manager {
	m := &Manager{
		cli:   cli,
		clock: clock.New(),
		gen:   uuid.NewGenerator(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CleanupOrphans fails every RUNNING job of the team regardless of its age.
// Only one run per team is live at a time, so a RUNNING job seen here was
// left behind by a crashed or timed out run.
func (m *Manager) CleanupOrphans(ctx context.Context, teamID tenant.TeamID) (int64, error) {
	res, err := m.cli.FailRunningJobs(ctx, teamID, OrphanErrorMessage)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if n := res.RowsAffected(); n > 0 {
		log.Warn("orphan run jobs marked as failed",
			zap.Int64("team_id", teamID), zap.Int64("count", n))
		jobFinishedCounter.WithLabelValues(string(ormModel.JobStatusFailed), reasonOrphan).Add(float64(n))
	}
	return res.RowsAffected(), nil
}

// CreateJob cleans up orphans of the team and inserts a new RUNNING job in
// the same transaction. It returns the id of the new job.
func (m *Manager) CreateJob(
	ctx context.Context, teamID tenant.TeamID, selectors []string, info WorkflowInfo,
) (string, error) {
	job := &ormModel.RunJob{
		ID:            m.gen.NewString(),
		TeamID:        teamID,
		Status:        ormModel.JobStatusRunning,
		WorkflowID:    info.WorkflowID,
		WorkflowRunID: info.RunID,
		Selectors:     strings.Join(selectors, " "),
	}
	cleaned, err := m.cli.CreateRunJobAfterCleanup(ctx, job, OrphanErrorMessage)
	if err != nil {
		return "", errors.Trace(err)
	}
	if cleaned > 0 {
		log.Warn("orphan run jobs marked as failed",
			zap.Int64("team_id", teamID), zap.Int64("count", cleaned))
		jobFinishedCounter.WithLabelValues(string(ormModel.JobStatusFailed), reasonOrphan).Add(float64(cleaned))
	}
	log.Info("run job created",
		zap.Int64("team_id", teamID),
		zap.String("job_id", job.ID),
		zap.String("workflow_id", info.WorkflowID),
		zap.Strings("selectors", selectors))
	return job.ID, nil
}

// AddRowsExpected adds the estimated row count of one model to the job.
func (m *Manager) AddRowsExpected(ctx context.Context, jobID string, n int64) error {
	if n <= 0 {
		return nil
	}
	return errors.Trace(m.cli.IncRunJobCounter(ctx, jobID, "rows_expected", n))
}

// AddRowsMaterialized adds the rows of one written part to the job.
func (m *Manager) AddRowsMaterialized(ctx context.Context, jobID string, n int64) error {
	if n <= 0 {
		return nil
	}
	if err := m.cli.IncRunJobCounter(ctx, jobID, "rows_materialized", n); err != nil {
		return errors.Trace(err)
	}
	rowsMaterializedCounter.Add(float64(n))
	return nil
}

// CompleteJob moves a RUNNING job to COMPLETED.
func (m *Manager) CompleteJob(ctx context.Context, jobID string) error {
	return m.finish(ctx, jobID, ormModel.JobStatusCompleted, "", reasonRun)
}

// FailJob moves a RUNNING job to FAILED with errMsg.
func (m *Manager) FailJob(ctx context.Context, jobID string, errMsg string) error {
	return m.finish(ctx, jobID, ormModel.JobStatusFailed, errMsg, reasonRun)
}

func (m *Manager) finish(
	ctx context.Context, jobID string, status ormModel.JobStatus, errMsg string, reason string,
) error {
	res, err := m.cli.FinishRunJob(ctx, jobID, status, errMsg)
	if err != nil {
		return errors.Trace(err)
	}
	if res.RowsAffected() == 0 {
		job, err := m.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		return errors.ErrJobAlreadyTerminated.GenWithStackByArgs(job.ID)
	}
	jobFinishedCounter.WithLabelValues(string(status), reason).Inc()
	log.Info("run job finished",
		zap.String("job_id", jobID),
		zap.String("status", string(status)),
		zap.String("reason", reason),
		zap.String("error", errMsg))
	return nil
}

// GetJob returns the job with jobID.
func (m *Manager) GetJob(ctx context.Context, jobID string) (*ormModel.RunJob, error) {
	job, err := m.cli.GetRunJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, errors.ErrMetaEntryNotFound) {
			return nil, errors.ErrJobNotFound.GenWithStackByArgs(jobID)
		}
		return nil, errors.Trace(err)
	}
	return job, nil
}

// ListJobs returns the jobs of a team, newest first, optionally filtered by
// status.
func (m *Manager) ListJobs(
	ctx context.Context, teamID tenant.TeamID, status ...ormModel.JobStatus,
) ([]*ormModel.RunJob, error) {
	jobs, err := m.cli.QueryRunJobs(ctx, teamID, status...)
	return jobs, errors.Trace(err)
}

// SweepStale fails RUNNING jobs of every team that made no progress for
// olderThan. It keeps going when a single job can't be updated and returns
// the number of jobs failed with all errors combined.
func (m *Manager) SweepStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	before := m.clock.Now().Add(-olderThan)
	jobs, err := m.cli.QueryRunJobsUpdatedBefore(ctx, ormModel.JobStatusRunning, before)
	if err != nil {
		return 0, errors.Trace(err)
	}

	var (
		swept int64
		errs  error
	)
	for _, job := range jobs {
		msg := staleErrorMessage(job.UpdatedAt)
		res, err := m.cli.FinishRunJob(ctx, job.ID, ormModel.JobStatusFailed, msg)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if res.RowsAffected() > 0 {
			swept++
			jobFinishedCounter.WithLabelValues(string(ormModel.JobStatusFailed), reasonStale).Inc()
			log.Warn("stale run job marked as failed",
				zap.Int64("team_id", job.TeamID),
				zap.String("job_id", job.ID),
				zap.Time("updated_at", job.UpdatedAt))
		}
	}
	return swept, errs
}

// staleErrorMessage is recorded on jobs failed by SweepStale.
func staleErrorMessage(updatedAt time.Time) string {
	return fmt.Sprintf(errors.ErrJobStale.MessageTemplate(), updatedAt.UTC().Format(time.RFC3339))
}
