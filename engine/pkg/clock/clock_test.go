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

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMockElapsed(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockAt(start)
	begin := c.Mono()
	c.Add(3 * time.Second)
	require.Equal(t, 3*time.Second, Elapsed(c, begin))
	require.Equal(t, start.Add(3*time.Second), c.Now())
}

func TestRealMonoIncreases(t *testing.T) {
	t.Parallel()

	c := New()
	first := c.Mono()
	time.Sleep(time.Millisecond)
	require.Greater(t, Elapsed(c, first), time.Duration(0))
}
