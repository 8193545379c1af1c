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
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pingcap/errors"
)

// Operation is the function to be retried.
type Operation func(ctx context.Context) error

// Do runs op until it succeeds, returns a non-retryable error, exhausts the
// configured tries or ctx is done. The last error of op is returned.
func Do(ctx context.Context, op Operation, opts ...Option) error {
	o := newRetryOptions()
	for _, opt := range opts {
		opt(o)
	}

	errBackoff := backoff.NewExponentialBackOff()
	errBackoff.InitialInterval = o.backoffBase
	errBackoff.MaxInterval = o.backoffCap
	errBackoff.Multiplier = o.multiplier
	// The number of tries bounds the run, not the elapsed time.
	errBackoff.MaxElapsedTime = 0
	errBackoff.Reset()

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return errors.Trace(err)
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !o.isRetryable(lastErr) || attempt >= o.maxTries {
			return lastErr
		}

		interval := errBackoff.NextBackOff()
		if o.onRetry != nil {
			o.onRetry(attempt, lastErr, interval)
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
}
