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

package retry

import (
	"time"
)

const (
	defaultBackoffBase       = 100 * time.Millisecond
	defaultBackoffCap        = 10 * time.Second
	defaultBackoffMultiplier = 2.0
	defaultMaxTries          = 3
)

// Option customizes a retry run.
type Option func(*retryOptions)

// IsRetryableErr checks the error is safe to retry or not, eg. "context.Canceled" better not retry
type IsRetryableErr func(error) bool

// OnRetryFn is called before each sleep with the failed attempt number
// (starting at 1) and its error.
type OnRetryFn func(attempt int, err error, nextBackoff time.Duration)

type retryOptions struct {
	maxTries    int
	backoffBase time.Duration
	backoffCap  time.Duration
	multiplier  float64
	isRetryable IsRetryableErr
	onRetry     OnRetryFn
}

func newRetryOptions() *retryOptions {
	return &retryOptions{
		maxTries:    defaultMaxTries,
		backoffBase: defaultBackoffBase,
		backoffCap:  defaultBackoffCap,
		multiplier:  defaultBackoffMultiplier,
		isRetryable: func(err error) bool { return true },
	}
}

// WithBackoffBaseDelay configures the initial delay
func WithBackoffBaseDelay(delay time.Duration) Option {
	return func(o *retryOptions) {
		if delay > 0 {
			o.backoffBase = delay
		}
	}
}

// WithBackoffMaxDelay configures the maximum delay
func WithBackoffMaxDelay(delay time.Duration) Option {
	return func(o *retryOptions) {
		if delay > 0 {
			o.backoffCap = delay
		}
	}
}

// WithBackoffMultiplier configures the growth factor between two delays.
func WithBackoffMultiplier(m float64) Option {
	return func(o *retryOptions) {
		if m >= 1 {
			o.multiplier = m
		}
	}
}

// WithMaxTries configures maximum tries, including the first one.
func WithMaxTries(tries int) Option {
	return func(o *retryOptions) {
		if tries > 0 {
			o.maxTries = tries
		}
	}
}

// WithIsRetryableErr configures the error handler, if not set, retry by default
func WithIsRetryableErr(f IsRetryableErr) Option {
	return func(o *retryOptions) {
		if f != nil {
			o.isRetryable = f
		}
	}
}

// WithOnRetry registers a hook invoked between attempts.
func WithOnRetry(f OnRetryFn) Option {
	return func(o *retryOptions) {
		o.onRetry = f
	}
}
