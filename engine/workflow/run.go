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
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pingcap/log"
	"github.com/pingcap/modelflow/engine/model"
	"github.com/pingcap/modelflow/engine/pkg/logutil"
	ormModel "github.com/pingcap/modelflow/engine/pkg/orm/model"
	"github.com/pingcap/modelflow/engine/pkg/tenant"
	"github.com/pingcap/modelflow/pkg/errors"
	"go.uber.org/zap"
)

// DefaultTaskQueue is the task queue run workflows are submitted to.
const DefaultTaskQueue = "modelflow-run-task-queue"

const (
	defaultActivityTimeout  = "5m"
	defaultRunDAGTimeout    = "1h"
	defaultExecutionTimeout = "2h"
	defaultRunMaxAttempts   = 1
	defaultStaleJobTimeout  = "6h"
	defaultSweepInterval    = "10m"

	failJobsTimeout = time.Minute
)

// Config is the [execution] section of the configuration.
type Config struct {
	TaskQueue           string `toml:"task-queue" json:"task-queue"`
	MaxConcurrentRuns   int64  `toml:"max-concurrent-runs" json:"max-concurrent-runs"`
	MaxConcurrentModels int64  `toml:"max-concurrent-models" json:"max-concurrent-models"`
	// MaxAttempts is the number of times a failed run workflow is tried.
	MaxAttempts int `toml:"max-attempts" json:"max-attempts"`

	ActivityTimeoutStr  string `toml:"activity-timeout" json:"activity-timeout"`
	RunDAGTimeoutStr    string `toml:"run-dag-timeout" json:"run-dag-timeout"`
	ExecutionTimeoutStr string `toml:"execution-timeout" json:"execution-timeout"`
	// RUNNING jobs without progress for StaleJobTimeout are failed by the
	// sweep running every SweepInterval.
	StaleJobTimeoutStr string `toml:"stale-job-timeout" json:"stale-job-timeout"`
	SweepIntervalStr   string `toml:"sweep-interval" json:"sweep-interval"`

	ActivityTimeout  time.Duration `toml:"-" json:"-"`
	RunDAGTimeout    time.Duration `toml:"-" json:"-"`
	ExecutionTimeout time.Duration `toml:"-" json:"-"`
	StaleJobTimeout  time.Duration `toml:"-" json:"-"`
	SweepInterval    time.Duration `toml:"-" json:"-"`
}

// DefaultConfig returns the default [execution] section.
func DefaultConfig() *Config {
	return &Config{
		TaskQueue:           DefaultTaskQueue,
		MaxConcurrentRuns:   defaultMaxConcurrency,
		MaxConcurrentModels: defaultMaxConcurrency * 2,
		MaxAttempts:         defaultRunMaxAttempts,
		ActivityTimeoutStr:  defaultActivityTimeout,
		RunDAGTimeoutStr:    defaultRunDAGTimeout,
		ExecutionTimeoutStr: defaultExecutionTimeout,
		StaleJobTimeoutStr:  defaultStaleJobTimeout,
		SweepIntervalStr:    defaultSweepInterval,
	}
}

// Adjust validates the section and parses its durations.
func (c *Config) Adjust() (err error) {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.TaskQueue, validation.Required),
		validation.Field(&c.MaxConcurrentRuns, validation.Min(int64(1))),
		validation.Field(&c.MaxConcurrentModels, validation.Min(int64(1))),
		validation.Field(&c.MaxAttempts, validation.Min(1)),
	); err != nil {
		return errors.ErrInvalidArgument.Wrap(err).GenWithStackByArgs("execution")
	}

	if c.ActivityTimeout, err = time.ParseDuration(c.ActivityTimeoutStr); err != nil {
		return errors.ErrInvalidArgument.Wrap(err).GenWithStackByArgs("activity-timeout")
	}
	if c.RunDAGTimeout, err = time.ParseDuration(c.RunDAGTimeoutStr); err != nil {
		return errors.ErrInvalidArgument.Wrap(err).GenWithStackByArgs("run-dag-timeout")
	}
	if c.ExecutionTimeout, err = time.ParseDuration(c.ExecutionTimeoutStr); err != nil {
		return errors.ErrInvalidArgument.Wrap(err).GenWithStackByArgs("execution-timeout")
	}
	if c.StaleJobTimeout, err = time.ParseDuration(c.StaleJobTimeoutStr); err != nil {
		return errors.ErrInvalidArgument.Wrap(err).GenWithStackByArgs("stale-job-timeout")
	}
	if c.SweepInterval, err = time.ParseDuration(c.SweepIntervalStr); err != nil {
		return errors.ErrInvalidArgument.Wrap(err).GenWithStackByArgs("sweep-interval")
	}
	return nil
}

// WorkflowOptions returns the options run workflows are executed with.
func (c *Config) WorkflowOptions() Options {
	policy := DefaultRetryPolicy()
	policy.MaximumAttempts = c.MaxAttempts
	return Options{
		RetryPolicy:      policy,
		ExecutionTimeout: c.ExecutionTimeout,
	}
}

// RunInputs are the inputs of the run workflow.
type RunInputs struct {
	TeamID tenant.TeamID `json:"team-id"`
	// Selectors chooses the models to run, empty runs every model.
	Selectors []string `json:"selectors"`
}

// RunResult is the outcome of a run workflow.
type RunResult struct {
	JobID  string              `json:"job-id"`
	Status ormModel.JobStatus  `json:"status"`
	Result *model.DagRunResult `json:"result"`
}

// RunWorkflow materializes the selected models of a team and records the
// outcome on the run job.
type RunWorkflow struct {
	activities *Activities
	opts       ActivityOptions
	runDAGOpts ActivityOptions
}

// NewRunWorkflow creates the run workflow over activities.
func NewRunWorkflow(activities *Activities, conf *Config) *RunWorkflow {
	opts := DefaultActivityOptions()
	opts.StartToCloseTimeout = conf.ActivityTimeout
	// a DAG run is not retried, failed models are reported in its result
	runDAGOpts := ActivityOptions{
		StartToCloseTimeout: conf.RunDAGTimeout,
		RetryPolicy:         RetryPolicy{MaximumAttempts: 1},
	}
	return &RunWorkflow{
		activities: activities,
		opts:       opts,
		runDAGOpts: runDAGOpts,
	}
}

// NewWorker creates the worker running w on the configured task queue.
func (w *RunWorkflow) NewWorker(conf *Config) *Worker {
	return NewWorker(conf.TaskQueue, w.Run, WithMaxConcurrency(conf.MaxConcurrentRuns))
}

// Run is the WorkflowFunc of the run workflow. A run where some models
// failed still returns a result, with the job FAILED. Any other error fails
// the job and is returned.
func (w *RunWorkflow) Run(ctx context.Context, in RunInputs) (*RunResult, error) {
	jobID, err := ExecuteActivity(ctx, "create-job", w.opts, func(ctx context.Context) (string, error) {
		return w.activities.CreateJob(ctx, in.TeamID, in.Selectors)
	})
	if err != nil {
		return nil, err
	}

	res, err := w.run(ctx, in, jobID)
	if err != nil {
		logger := logutil.NewLogger4Run(tenant.NewTeamInfo(in.TeamID, ""), jobID)
		logger.Warn("run workflow failed", zap.Error(err))
		failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failJobsTimeout)
		defer cancel()
		ferr := ExecuteActivityNoResult(failCtx, "fail-jobs", w.opts, func(ctx context.Context) error {
			return w.activities.FailJobs(ctx, jobID, err)
		})
		if ferr != nil {
			logger.Error("fail run job failed", zap.Error(ferr))
		}
		return nil, err
	}
	return res, nil
}

func (w *RunWorkflow) run(ctx context.Context, in RunInputs, jobID string) (*RunResult, error) {
	d, err := ExecuteActivity(ctx, "build-dag", w.opts, func(ctx context.Context) (*model.DAG, error) {
		return w.activities.BuildDAG(ctx, in.TeamID, in.Selectors)
	})
	if err != nil {
		return nil, err
	}

	err = ExecuteActivityNoResult(ctx, "start-run", w.opts, func(ctx context.Context) error {
		return w.activities.StartRun(ctx, in.TeamID, jobID, d)
	})
	if err != nil {
		return nil, err
	}

	result, err := ExecuteActivity(ctx, "run-dag", w.runDAGOpts, func(ctx context.Context) (*model.DagRunResult, error) {
		return w.activities.RunDAG(ctx, in.TeamID, jobID, d)
	})
	if err != nil {
		return nil, err
	}

	err = ExecuteActivityNoResult(ctx, "finish-run", w.opts, func(ctx context.Context) error {
		return w.activities.FinishRun(ctx, in.TeamID, jobID, result)
	})
	if err != nil {
		return nil, err
	}

	err = ExecuteActivityNoResult(ctx, "create-tables", w.opts, func(ctx context.Context) error {
		return w.activities.CreateTables(ctx, in.TeamID, result.Completed.Sorted())
	})
	if err != nil {
		return nil, err
	}

	summary := failureSummary(result)
	err = ExecuteActivityNoResult(ctx, "finish-job", w.opts, func(ctx context.Context) error {
		return w.activities.FinishJob(ctx, jobID, summary)
	})
	if err != nil {
		return nil, err
	}

	status := ormModel.JobStatusCompleted
	if summary != "" {
		status = ormModel.JobStatusFailed
	}
	log.Info("run workflow finished",
		zap.Int64("team_id", in.TeamID),
		zap.String("job_id", jobID),
		zap.String("status", string(status)))
	return &RunResult{JobID: jobID, Status: status, Result: result}, nil
}
