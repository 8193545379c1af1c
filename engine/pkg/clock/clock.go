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
	"time"

	bclock "github.com/benbjohnson/clock"
	"github.com/gavv/monotime"
)

type (
	// Timer is re-exported so that callers don't import benbjohnson/clock.
	Timer = bclock.Timer
	// Ticker is re-exported so that callers don't import benbjohnson/clock.
	Ticker = bclock.Ticker
	// MonotonicTime is a reading of a monotonic clock, only differences
	// between two readings are meaningful.
	MonotonicTime time.Duration
)

var unixEpoch = time.Unix(0, 0)

// Clock is the time source injected into everything that stamps rows or
// measures durations.
type Clock interface {
	bclock.Clock
	Mono() MonotonicTime
}

type withRealMono struct {
	bclock.Clock
}

func (r withRealMono) Mono() MonotonicTime {
	return MonotonicTime(monotime.Now())
}

// Mock is a manually advanced clock for tests.
type Mock struct {
	*bclock.Mock
}

// Mono derives the monotonic reading from the mocked wall time.
func (r Mock) Mono() MonotonicTime {
	return MonotonicTime(r.Now().Sub(unixEpoch))
}

// New returns the real clock.
func New() Clock {
	return withRealMono{bclock.New()}
}

// NewMock returns a mocked clock set to the unix epoch.
func NewMock() *Mock {
	return &Mock{bclock.NewMock()}
}

// NewMockAt returns a mocked clock set to t.
func NewMockAt(t time.Time) *Mock {
	m := NewMock()
	m.Set(t)
	return m
}

// Sub returns m - other.
func (m MonotonicTime) Sub(other MonotonicTime) time.Duration {
	return time.Duration(m - other)
}

// Elapsed returns the duration since start according to c.
func Elapsed(c Clock, start MonotonicTime) time.Duration {
	return c.Mono().Sub(start)
}

// MonoNow returns the current monotonic reading of the real clock.
func MonoNow() MonotonicTime {
	return MonotonicTime(monotime.Now())
}
