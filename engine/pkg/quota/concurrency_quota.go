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

package quota

import (
	"context"

	"github.com/pingcap/errors"
	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"
)

// ConcurrencyQuota bounds the number of tasks running at the same time.
type ConcurrencyQuota interface {
	// Consume blocks until a slot is free or ctx is done.
	Consume(ctx context.Context) error
	// TryConsume takes a slot if one is free without blocking.
	TryConsume() bool
	// Release returns a slot taken by Consume or TryConsume.
	Release()
	// InUse returns the number of slots currently taken.
	InUse() int64
	// Capacity returns the total number of slots.
	Capacity() int64
}

// NewConcurrencyQuota creates a quota with total slots.
func NewConcurrencyQuota(total int64) ConcurrencyQuota {
	if total <= 0 {
		total = 1
	}
	return &concurrencyQuotaImpl{
		sem:   semaphore.NewWeighted(total),
		total: total,
	}
}

type concurrencyQuotaImpl struct {
	sem   *semaphore.Weighted
	total int64
	inUse atomic.Int64
}

func (c *concurrencyQuotaImpl) Consume(ctx context.Context) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return errors.Trace(err)
	}
	c.inUse.Inc()
	return nil
}

func (c *concurrencyQuotaImpl) TryConsume() bool {
	if !c.sem.TryAcquire(1) {
		return false
	}
	c.inUse.Inc()
	return true
}

func (c *concurrencyQuotaImpl) Release() {
	c.inUse.Dec()
	c.sem.Release(1)
}

func (c *concurrencyQuotaImpl) InUse() int64 {
	return c.inUse.Load()
}

func (c *concurrencyQuotaImpl) Capacity() int64 {
	return c.total
}
