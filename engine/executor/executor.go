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

package executor

import (
	"context"

	"github.com/edwingeng/deque"
	"github.com/pingcap/modelflow/engine/model"
	"github.com/pingcap/modelflow/engine/pkg/clock"
	"github.com/pingcap/modelflow/engine/pkg/logutil"
	"github.com/pingcap/modelflow/engine/pkg/quota"
	"github.com/pingcap/modelflow/engine/pkg/tenant"
	"github.com/pingcap/modelflow/pkg/errors"
	"go.uber.org/zap"
)

const defaultWorkerCapacity = 8

// NodeRunner materializes one selected node.
type NodeRunner interface {
	RunNode(ctx context.Context, node *model.ModelNode) error
}

// NodeRunnerFunc adapts a function to NodeRunner.
type NodeRunnerFunc func(ctx context.Context, node *model.ModelNode) error

// RunNode implements NodeRunner.RunNode
func (f NodeRunnerFunc) RunNode(ctx context.Context, node *model.ModelNode) error {
	return f(ctx, node)
}

// Option customizes an Engine.
type Option func(*Engine)

// WithQuota sets the worker capacity shared by all runs of the engine.
func WithQuota(q quota.ConcurrencyQuota) Option {
	return func(e *Engine) {
		e.quota = q
	}
}

// WithClock sets the clock used to measure node durations.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// Engine executes DAGs. Independent nodes run concurrently, bounded only by
// the worker capacity.
type Engine struct {
	runner NodeRunner
	quota  quota.ConcurrencyQuota
	clock  clock.Clock
}

// NewEngine creates an Engine running selected nodes with runner.
func NewEngine(runner NodeRunner, opts ...Option) *Engine {
	e := &Engine{
		runner: runner,
		quota:  quota.NewConcurrencyQuota(defaultWorkerCapacity),
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type nodeReport struct {
	label    string
	err      error
	duration float64
}

// runState is owned by the coordinator goroutine of one Run.
type runState struct {
	dag    *model.DAG
	result *model.DagRunResult
	states map[string]model.NodeState
	// remaining counts the parents of a node not terminated yet.
	remaining map[string]int
	// failedAncestor is the first failed ancestor seen by a node.
	failedAncestor map[string]string
	ready          deque.Deque
}

// Run executes dag and returns which selected nodes completed, failed, or
// were skipped because an ancestor failed. A node starts once every parent
// reached a final state. When ctx is cancelled no new node starts, the
// nodes running are abandoned without waiting for them to return and Run
// returns the partial result with ErrRunCancelled; nodes not finished by
// then appear in no set.
func (e *Engine) Run(ctx context.Context, dag *model.DAG, jobID string) (*model.DagRunResult, error) {
	logger := logutil.NewLogger4Run(tenant.NewTeamInfo(dag.TeamID, ""), jobID)
	st := &runState{
		dag:            dag,
		result:         model.NewDagRunResult(),
		states:         make(map[string]model.NodeState, dag.Len()),
		remaining:      make(map[string]int, dag.Len()),
		failedAncestor: make(map[string]string),
		ready:          deque.NewDeque(),
	}
	for _, label := range dag.Labels() {
		node, _ := dag.Node(label)
		st.states[label] = model.NodeStatePending
		st.remaining[label] = node.Parents().Len()
		if node.Parents().Len() == 0 {
			st.ready.PushBack(label)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	reportCh := make(chan nodeReport, dag.Len())
	inFlight := 0

	for {
		for !st.ready.Empty() {
			label := st.ready.PopFront().(string)
			node, _ := dag.Node(label)
			switch {
			case st.failedAncestor[label] != "":
				st.terminate(label, model.NodeStateAncestorFailed,
					errors.ErrAncestorFailed.GenWithStackByArgs(st.failedAncestor[label]))
			case !node.Selected():
				st.terminate(label, model.NodeStateCompleted, nil)
			default:
				st.states[label] = model.NodeStateRunning
				inFlight++
				go e.runNode(runCtx, node, reportCh)
			}
		}
		if inFlight == 0 {
			break
		}

		select {
		case <-ctx.Done():
			// running nodes report into the buffered reportCh and exit on
			// their own, Run doesn't wait for them
			logger.Warn("dag run cancelled, abandoning running nodes",
				zap.Int("running", inFlight), zap.Error(ctx.Err()))
			return st.result, errors.ErrRunCancelled.GenWithStackByArgs()
		case report := <-reportCh:
			inFlight--
			if ctx.Err() != nil {
				// results racing with the cancellation are dropped
				continue
			}
			if report.err != nil {
				logger.Warn("model materialization failed",
					zap.String("model", report.label), zap.Error(report.err))
				st.terminate(report.label, model.NodeStateFailed, report.err)
				nodeDurationHistogram.WithLabelValues(model.NodeStateFailed.String()).Observe(report.duration)
			} else {
				st.terminate(report.label, model.NodeStateCompleted, nil)
				nodeDurationHistogram.WithLabelValues(model.NodeStateCompleted.String()).Observe(report.duration)
			}
		}
	}

	if ctx.Err() != nil {
		return st.result, errors.ErrRunCancelled.GenWithStackByArgs()
	}
	logger.Info("dag run finished",
		zap.Int("completed", st.result.Completed.Len()),
		zap.Int("failed", st.result.Failed.Len()),
		zap.Int("ancestor-failed", st.result.AncestorFailed.Len()))
	return st.result, nil
}

// runNode runs in its own goroutine and only talks to the coordinator
// through reportCh.
func (e *Engine) runNode(ctx context.Context, node *model.ModelNode, reportCh chan<- nodeReport) {
	report := nodeReport{label: node.Label()}
	defer func() {
		reportCh <- report
	}()

	if err := e.quota.Consume(ctx); err != nil {
		report.err = err
		return
	}
	defer e.quota.Release()
	runningNodesGauge.Inc()
	defer runningNodesGauge.Dec()

	start := e.clock.Mono()
	defer func() {
		report.duration = clock.Elapsed(e.clock, start).Seconds()
	}()
	report.err = e.safeRun(ctx, node)
}

func (e *Engine) safeRun(ctx context.Context, node *model.ModelNode) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.ErrNodePanic.GenWithStackByArgs(node.Label(), r)
		}
	}()
	return e.runner.RunNode(ctx, node)
}

func (st *runState) terminate(label string, state model.NodeState, err error) {
	st.states[label] = state
	node, _ := st.dag.Node(label)

	if node.Selected() {
		switch state {
		case model.NodeStateCompleted:
			st.result.Completed.Add(label)
		case model.NodeStateFailed:
			st.result.Failed.Add(label)
		case model.NodeStateAncestorFailed:
			st.result.AncestorFailed.Add(label)
		}
		if err != nil {
			st.result.Errors[label] = err.Error()
		}
		nodeTerminatedCounter.WithLabelValues(state.String()).Inc()
	}

	origin := ""
	switch state {
	case model.NodeStateFailed:
		origin = label
	case model.NodeStateAncestorFailed:
		origin = st.failedAncestor[label]
	}
	for child := range node.Children() {
		if origin != "" && st.failedAncestor[child] == "" {
			st.failedAncestor[child] = origin
		}
		st.remaining[child]--
		if st.remaining[child] == 0 {
			st.ready.PushBack(child)
		}
	}
}
