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

package orm

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pingcap/log"
	"github.com/pingcap/modelflow/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newBufferedLogger(t *testing.T, level string, opts ...LoggerOption) (logger.Interface, *zaptest.Buffer) {
	buffer := &zaptest.Buffer{}
	zapLg, _, err := log.InitLoggerWithWriteSyncer(&log.Config{Level: level}, buffer, nil)
	require.NoError(t, err)
	return NewOrmLogger(zapLg, opts...), buffer
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestOrmLoggerTrace(t *testing.T) {
	stmt := func() (string, int64) { return "UPDATE run_jobs SET status = 'FAILED'", 2 }

	cases := []struct {
		name    string
		begin   time.Time
		err     error
		opts    []LoggerOption
		expects string
	}{
		{
			name:  "fast statements are debug logs",
			begin: time.Now(),
		},
		{
			name:    "slow statement",
			begin:   time.Now().Add(-time.Second),
			opts:    []LoggerOption{WithSlowThreshold(100 * time.Millisecond)},
			expects: `["slow metastore statement"]`,
		},
		{
			name:  "slow log disabled",
			begin: time.Now().Add(-time.Second),
		},
		{
			name:    "failed statement",
			begin:   time.Now(),
			err:     errors.New("database is locked"),
			expects: `[error="database is locked"]`,
		},
		{
			name:    "missing rows are errors by default",
			begin:   time.Now(),
			err:     gorm.ErrRecordNotFound,
			expects: `["metastore statement failed"]`,
		},
		{
			name:  "missing rows ignored",
			begin: time.Now(),
			err:   gorm.ErrRecordNotFound,
			opts:  []LoggerOption{WithIgnoreTraceRecordNotFoundErr()},
		},
	}
	for _, tc := range cases {
		lg, buffer := newBufferedLogger(t, "warn", tc.opts...)
		lg.Trace(context.Background(), tc.begin, stmt, tc.err)
		if tc.expects == "" {
			require.Empty(t, buffer.Lines(), tc.name)
			continue
		}
		require.Contains(t, buffer.Stripped(), tc.expects, tc.name)
		require.Contains(t, buffer.Stripped(), `[affected-rows=2]`, tc.name)
	}
}

func TestOrmLoggerLevels(t *testing.T) {
	lg, buffer := newBufferedLogger(t, "info")
	lg.Info(context.Background(), "migrated %d tables", 3)
	require.Contains(t, buffer.Stripped(), "migrated 3 tables")
	buffer.Reset()

	quiet := lg.LogMode(logger.Error)
	quiet.Info(context.Background(), "hidden")
	quiet.Warn(context.Background(), "hidden")
	require.Empty(t, buffer.Lines())
	quiet.Error(context.Background(), "%s", "shown")
	require.Contains(t, buffer.Stripped(), "shown")
	buffer.Reset()

	before := counterValue(t, slowStatementCounter)
	silent := NewOrmLogger(log.L(), WithSlowThreshold(time.Millisecond)).LogMode(logger.Silent)
	silent.Trace(context.Background(), time.Now().Add(-time.Second),
		func() (string, int64) { return "SELECT 1", 1 }, errors.New("boom"))
	require.Empty(t, buffer.Lines())
	// metrics are recorded even when logs are silenced
	require.Equal(t, before+1, counterValue(t, slowStatementCounter))
}

func TestOrmLoggerCutsStatements(t *testing.T) {
	lg, buffer := newBufferedLogger(t, "warn", WithMaxSQLLength(8))
	long := "SELECT " + strings.Repeat("x", 100)
	lg.Trace(context.Background(), time.Now(), func() (string, int64) { return long, 0 }, errors.New("boom"))
	require.Contains(t, buffer.Stripped(), `[sql="SELECT x...(107 bytes)"]`)
}
