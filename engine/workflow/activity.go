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

	"github.com/pingcap/log"
	"github.com/pingcap/modelflow/engine/pkg/clock"
	"github.com/pingcap/modelflow/pkg/errors"
	"github.com/pingcap/modelflow/pkg/retry"
	"go.uber.org/zap"
)

const (
	defaultInitialInterval    = time.Second
	defaultBackoffCoefficient = 2.0
	defaultMaximumInterval    = time.Minute
	defaultMaximumAttempts    = 3

	defaultStartToCloseTimeout = 5 * time.Minute
)

// RetryPolicy defines how a failed activity or workflow is tried again.
// MaximumAttempts counts the first attempt, 1 disables retries.
type RetryPolicy struct {
	InitialInterval    time.Duration
	BackoffCoefficient float64
	MaximumInterval    time.Duration
	MaximumAttempts    int
}

// DefaultRetryPolicy returns the policy used when none is given.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval:    defaultInitialInterval,
		BackoffCoefficient: defaultBackoffCoefficient,
		MaximumInterval:    defaultMaximumInterval,
		MaximumAttempts:    defaultMaximumAttempts,
	}
}

func (p RetryPolicy) options() []retry.Option {
	return []retry.Option{
		retry.WithBackoffBaseDelay(p.InitialInterval),
		retry.WithBackoffMaxDelay(p.MaximumInterval),
		retry.WithBackoffMultiplier(p.BackoffCoefficient),
		retry.WithMaxTries(p.MaximumAttempts),
	}
}

// ActivityOptions configures one activity invocation.
type ActivityOptions struct {
	// StartToCloseTimeout bounds every attempt separately.
	StartToCloseTimeout time.Duration
	RetryPolicy         RetryPolicy
}

// DefaultActivityOptions returns the options used when none are given.
func DefaultActivityOptions() ActivityOptions {
	return ActivityOptions{
		StartToCloseTimeout: defaultStartToCloseTimeout,
		RetryPolicy:         DefaultRetryPolicy(),
	}
}

type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }

func (e *nonRetryableError) Cause() error { return e.err }

func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable marks err so that the activity or workflow returning it is
// not attempted again.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsNonRetryable returns whether err was marked by NonRetryable.
func IsNonRetryable(err error) bool {
	var target *nonRetryableError
	return errors.As(err, &target)
}

func isRetryable(err error) bool {
	return !IsNonRetryable(err) && errors.IsRetryable(err)
}

// Activity is the body of an activity. It must be idempotent, it may run
// more than once for the same inputs.
type Activity[T any] func(ctx context.Context) (T, error)

// ExecuteActivity runs fn under opts. Every attempt gets its own
// StartToCloseTimeout, an attempt exceeding it fails with
// ErrActivityTimeout and may be retried.
func ExecuteActivity[T any](ctx context.Context, name string, opts ActivityOptions, fn Activity[T]) (T, error) {
	if opts.StartToCloseTimeout <= 0 {
		opts.StartToCloseTimeout = defaultStartToCloseTimeout
	}
	info, _ := InfoFromContext(ctx)
	logger := log.L().With(
		zap.String("workflow_id", info.WorkflowID),
		zap.String("run_id", info.RunID),
		zap.String("activity", name))

	var ret T
	start := clock.MonoNow()
	op := func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, opts.StartToCloseTimeout)
		defer cancel()
		res, err := fn(attemptCtx)
		if err != nil {
			if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
				return errors.ErrActivityTimeout.Wrap(err).GenWithStackByArgs(name)
			}
			return err
		}
		ret = res
		return nil
	}
	err := retry.Do(ctx, op, append(opts.RetryPolicy.options(),
		retry.WithIsRetryableErr(isRetryable),
		retry.WithOnRetry(func(attempt int, err error, next time.Duration) {
			activityRetryCounter.WithLabelValues(name).Inc()
			logger.Warn("activity attempt failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", next),
				zap.Error(err))
		}))...)

	result := resultSuccess
	if err != nil {
		result = resultError
	}
	activityDurationHistogram.WithLabelValues(name, result).Observe(clock.MonoNow().Sub(start).Seconds())
	return ret, err
}

// ExecuteActivityNoResult is ExecuteActivity for activities only returning
// an error.
func ExecuteActivityNoResult(
	ctx context.Context, name string, opts ActivityOptions, fn func(ctx context.Context) error,
) error {
	_, err := ExecuteActivity(ctx, name, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
