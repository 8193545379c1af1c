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
	"sync"
	"time"

	"github.com/pingcap/log"
	"github.com/pingcap/modelflow/pkg/errors"
	"github.com/pingcap/modelflow/pkg/retry"
	"github.com/pingcap/modelflow/pkg/uuid"
	"go.uber.org/zap"
)

// Options configures a workflow execution.
type Options struct {
	// RetryPolicy applies to the whole workflow, a zero MaximumAttempts
	// runs it once.
	RetryPolicy RetryPolicy
	// ExecutionTimeout bounds the execution, retries included. Zero means
	// no limit.
	ExecutionTimeout time.Duration
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithUUIDGenerator sets the generator of run ids.
func WithUUIDGenerator(gen uuid.Generator) ClientOption {
	return func(c *Client) {
		c.gen = gen
	}
}

// Client starts workflow executions on the workers registered to it.
type Client struct {
	gen uuid.Generator

	mu      sync.Mutex
	workers map[string]*Worker
	running map[string]*execution
}

// NewClient creates a Client without any worker.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		gen:     uuid.NewGenerator(),
		workers: make(map[string]*Worker),
		running: make(map[string]*execution),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterWorker routes executions on w's task queue to w.
func (c *Client) RegisterWorker(w *Worker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workers[w.TaskQueue()] = w
}

// ExecuteWorkflow starts an execution of the workflow registered on
// taskQueue. Only one execution per id runs at a time. ctx only bounds the
// submission, the execution itself runs until it finishes or its worker
// stops.
func (c *Client) ExecuteWorkflow(
	ctx context.Context, id string, taskQueue string, inputs RunInputs, opts Options,
) (*WorkflowRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	if opts.RetryPolicy.MaximumAttempts <= 0 {
		opts.RetryPolicy.MaximumAttempts = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.workers[taskQueue]
	if !ok {
		return nil, errors.ErrTaskQueueNotFound.GenWithStackByArgs(taskQueue)
	}
	if _, ok := c.running[id]; ok {
		return nil, errors.ErrWorkflowAlreadyStarted.GenWithStackByArgs(id)
	}

	exec := &execution{
		id:        id,
		taskQueue: taskQueue,
		inputs:    inputs,
		opts:      opts,
		gen:       c.gen,
		done:      make(chan struct{}),
		onFinish:  c.forget,
	}
	if err := w.submit(exec); err != nil {
		return nil, err
	}
	c.running[id] = exec
	log.Info("workflow execution submitted",
		zap.String("workflow_id", id),
		zap.String("task_queue", taskQueue),
		zap.Int64("team_id", inputs.TeamID))
	return &WorkflowRun{exec: exec}, nil
}

func (c *Client) forget(exec *execution) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running[exec.id] == exec {
		delete(c.running, exec.id)
	}
}

// WorkflowRun is the handle of a submitted execution.
type WorkflowRun struct {
	exec *execution
}

// ID returns the workflow id.
func (r *WorkflowRun) ID() string {
	return r.exec.id
}

// RunID returns the id of the latest attempt, empty before the first one
// started.
func (r *WorkflowRun) RunID() string {
	r.exec.mu.Lock()
	defer r.exec.mu.Unlock()
	return r.exec.runID
}

// Get waits for the execution to finish and returns its outcome.
func (r *WorkflowRun) Get(ctx context.Context) (*RunResult, error) {
	select {
	case <-ctx.Done():
		return nil, errors.Trace(ctx.Err())
	case <-r.exec.done:
		return r.exec.result, r.exec.err
	}
}

type execution struct {
	id        string
	taskQueue string
	inputs    RunInputs
	opts      Options
	gen       uuid.Generator
	onFinish  func(*execution)

	mu    sync.Mutex
	runID string

	once   sync.Once
	done   chan struct{}
	result *RunResult
	err    error
}

func (e *execution) run(ctx context.Context, fn WorkflowFunc) {
	var cancel context.CancelFunc
	if e.opts.ExecutionTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.opts.ExecutionTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	logger := log.L().With(zap.String("workflow_id", e.id), zap.String("task_queue", e.taskQueue))

	var (
		result  *RunResult
		attempt int
	)
	op := func(ctx context.Context) error {
		attempt++
		info := Info{
			WorkflowID: e.id,
			RunID:      e.gen.NewString(),
			TaskQueue:  e.taskQueue,
			Attempt:    attempt,
		}
		e.mu.Lock()
		e.runID = info.RunID
		e.mu.Unlock()

		res, err := safeRunWorkflow(withInfo(ctx, info), fn, e.inputs)
		if err != nil {
			return err
		}
		result = res
		return nil
	}
	err := retry.Do(ctx, op, append(e.opts.RetryPolicy.options(),
		retry.WithIsRetryableErr(isRetryable),
		retry.WithOnRetry(func(attempt int, err error, next time.Duration) {
			logger.Warn("workflow attempt failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", next),
				zap.Error(err))
		}))...)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = errors.ErrWorkflowTimeout.Wrap(err).GenWithStackByArgs(e.id)
	}
	if err != nil {
		logger.Warn("workflow execution failed", zap.Int("attempts", attempt), zap.Error(err))
	} else {
		logger.Info("workflow execution finished", zap.Int("attempts", attempt))
	}
	e.finish(result, err)
}

func safeRunWorkflow(ctx context.Context, fn WorkflowFunc, inputs RunInputs) (res *RunResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NonRetryable(errors.Errorf("workflow panicked: %v", r))
		}
	}()
	return fn(ctx, inputs)
}

func (e *execution) finish(result *RunResult, err error) {
	e.once.Do(func() {
		e.result, e.err = result, err
		label := resultSuccess
		if err != nil {
			label = resultError
		}
		workflowFinishedCounter.WithLabelValues(e.taskQueue, label).Inc()
		close(e.done)
		if e.onFinish != nil {
			e.onFinish(e)
		}
	})
}
