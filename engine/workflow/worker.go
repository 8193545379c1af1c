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

	"github.com/pingcap/log"
	"github.com/pingcap/modelflow/engine/pkg/quota"
	"github.com/pingcap/modelflow/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	defaultQueueSize      = 64
	defaultMaxConcurrency = 4
)

// WorkflowFunc is the body of a workflow. It drives activities and must only
// depend on its inputs and activity results, a retried execution runs it
// again from the start.
type WorkflowFunc func(ctx context.Context, inputs RunInputs) (*RunResult, error)

// WorkerOption customizes a Worker.
type WorkerOption func(*Worker)

// WithQueueSize sets how many executions may wait for a free slot.
func WithQueueSize(size int) WorkerOption {
	return func(w *Worker) {
		if size > 0 {
			w.inQueue = make(chan *execution, size)
		}
	}
}

// WithMaxConcurrency sets how many executions run at the same time.
func WithMaxConcurrency(n int64) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.quota = quota.NewConcurrencyQuota(n)
		}
	}
}

// Worker polls one task queue and runs the workflow executions submitted to
// it in background goroutines.
type Worker struct {
	taskQueue string
	workflow  WorkflowFunc
	inQueue   chan *execution
	quota     quota.ConcurrencyQuota

	closeMu sync.RWMutex
	closed  bool

	wg      sync.WaitGroup
	running atomic.Int64
}

// NewWorker creates a Worker running fn for executions on taskQueue.
func NewWorker(taskQueue string, fn WorkflowFunc, opts ...WorkerOption) *Worker {
	w := &Worker{
		taskQueue: taskQueue,
		workflow:  fn,
		inQueue:   make(chan *execution, defaultQueueSize),
		quota:     quota.NewConcurrencyQuota(defaultMaxConcurrency),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// TaskQueue returns the name of the queue polled by w.
func (w *Worker) TaskQueue() string {
	return w.taskQueue
}

// Running returns the number of executions in progress.
func (w *Worker) Running() int64 {
	return w.running.Load()
}

func (w *Worker) submit(exec *execution) error {
	w.closeMu.RLock()
	defer w.closeMu.RUnlock()
	if w.closed {
		return errors.ErrTaskQueueClosed.GenWithStackByArgs(w.taskQueue)
	}
	select {
	case w.inQueue <- exec:
		return nil
	default:
	}
	return errors.ErrTaskQueueFull.GenWithStackByArgs(w.taskQueue)
}

// Run polls the task queue until ctx is done. Executions in progress are
// cancelled and awaited before Run returns, executions still queued fail
// with ErrTaskQueueClosed.
func (w *Worker) Run(ctx context.Context) error {
	defer w.close()

	for {
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		case exec := <-w.inQueue:
			w.launch(ctx, exec)
		}
	}
}

func (w *Worker) launch(ctx context.Context, exec *execution) {
	w.wg.Add(1)
	w.running.Inc()
	runningWorkflowsGauge.WithLabelValues(w.taskQueue).Inc()

	go func() {
		defer w.wg.Done()
		defer func() {
			w.running.Dec()
			runningWorkflowsGauge.WithLabelValues(w.taskQueue).Dec()
		}()

		if err := w.quota.Consume(ctx); err != nil {
			exec.finish(nil, errors.ErrTaskQueueClosed.Wrap(err).GenWithStackByArgs(w.taskQueue))
			return
		}
		defer w.quota.Release()
		exec.run(ctx, w.workflow)
	}()
}

func (w *Worker) close() {
	w.closeMu.Lock()
	w.closed = true
	w.closeMu.Unlock()

	w.wg.Wait()
	for {
		select {
		case exec := <-w.inQueue:
			log.Info("dropping queued workflow execution",
				zap.String("task_queue", w.taskQueue),
				zap.String("workflow_id", exec.id))
			exec.finish(nil, errors.ErrTaskQueueClosed.GenWithStackByArgs(w.taskQueue))
		default:
			return
		}
	}
}
