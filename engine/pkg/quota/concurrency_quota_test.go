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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConcurrencyQuota(t *testing.T) {
	t.Parallel()

	q := NewConcurrencyQuota(2)
	require.Equal(t, int64(2), q.Capacity())
	require.True(t, q.TryConsume())
	require.NoError(t, q.Consume(context.Background()))
	require.Equal(t, int64(2), q.InUse())
	require.False(t, q.TryConsume())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, q.Consume(ctx))

	q.Release()
	require.Equal(t, int64(1), q.InUse())
	require.True(t, q.TryConsume())
	q.Release()
	q.Release()
	require.Equal(t, int64(0), q.InUse())
}

func TestConcurrencyQuotaMinimumCapacity(t *testing.T) {
	t.Parallel()

	q := NewConcurrencyQuota(0)
	require.Equal(t, int64(1), q.Capacity())
}
