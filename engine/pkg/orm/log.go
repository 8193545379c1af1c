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
	"fmt"
	"time"

	"github.com/pingcap/modelflow/engine/pkg/promutil"
	"github.com/pingcap/modelflow/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// saved query bodies can be large, statements are cut in logs
const defaultMaxLoggedSQL = 1024

var (
	factory = promutil.NewFactory4Component("metastore")

	statementDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "modelflow",
		Subsystem: "metastore",
		Name:      "statement_duration_seconds",
		Help:      "Duration of metastore statements",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"result"})

	slowStatementCounter = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "modelflow",
		Subsystem: "metastore",
		Name:      "slow_statements_total",
		Help:      "Total number of metastore statements slower than the slow threshold",
	})
)

type loggerOption struct {
	slowThreshold  time.Duration
	maxSQLLength   int
	ignoreNotFound bool
}

// LoggerOption customizes the gorm logger of the metastore.
type LoggerOption func(*loggerOption)

// WithSlowThreshold logs statements slower than thres at warn level. Zero
// disables the slow log.
func WithSlowThreshold(thres time.Duration) LoggerOption {
	return func(op *loggerOption) {
		op.slowThreshold = thres
	}
}

// WithMaxSQLLength cuts logged statements to n bytes.
func WithMaxSQLLength(n int) LoggerOption {
	return func(op *loggerOption) {
		op.maxSQLLength = n
	}
}

// WithIgnoreTraceRecordNotFoundErr traces lookups of missing rows at debug
// level. Missing models and jobs are an expected outcome of lookups.
func WithIgnoreTraceRecordNotFoundErr() LoggerOption {
	return func(op *loggerOption) {
		op.ignoreNotFound = true
	}
}

// NewOrmLogger returns a gorm logger writing to lg.
func NewOrmLogger(lg *zap.Logger, opts ...LoggerOption) logger.Interface {
	op := loggerOption{maxSQLLength: defaultMaxLoggedSQL}
	for _, opt := range opts {
		opt(&op)
	}

	return &ormLogger{
		op:    op,
		lg:    lg,
		level: logger.Info,
	}
}

// ormLogger routes gorm logs to zap. The level set by LogMode only gates
// Info/Warn/Error, traces are always handed to zap which filters them.
type ormLogger struct {
	op    loggerOption
	lg    *zap.Logger
	level logger.LogLevel
}

func (l *ormLogger) LogMode(level logger.LogLevel) logger.Interface {
	cloned := *l
	cloned.level = level
	return &cloned
}

func (l *ormLogger) Info(_ context.Context, format string, args ...interface{}) {
	if l.level >= logger.Info {
		l.lg.Info(fmt.Sprintf(format, args...))
	}
}

func (l *ormLogger) Warn(_ context.Context, format string, args ...interface{}) {
	if l.level >= logger.Warn {
		l.lg.Warn(fmt.Sprintf(format, args...))
	}
}

func (l *ormLogger) Error(_ context.Context, format string, args ...interface{}) {
	if l.level >= logger.Error {
		l.lg.Error(fmt.Sprintf(format, args...))
	}
}

func (l *ormLogger) Trace(_ context.Context, begin time.Time, resFunc func() (sql string, rowsAffected int64), err error) {
	elapsed := time.Since(begin)
	failed := err != nil && !(l.op.ignoreNotFound && errors.Is(err, gorm.ErrRecordNotFound))
	result := "ok"
	if failed {
		result = "error"
	}
	statementDuration.WithLabelValues(result).Observe(elapsed.Seconds())
	slow := l.op.slowThreshold > 0 && elapsed > l.op.slowThreshold
	if slow {
		slowStatementCounter.Inc()
	}
	if l.level == logger.Silent {
		return
	}

	sql, rows := resFunc()
	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", l.cut(sql)),
		zap.Int64("affected-rows", rows),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	switch {
	case failed:
		l.lg.Error("metastore statement failed", fields...)
	case slow:
		l.lg.Warn("slow metastore statement", fields...)
	default:
		l.lg.Debug("metastore statement", fields...)
	}
}

func (l *ormLogger) cut(sql string) string {
	if l.op.maxSQLLength <= 0 || len(sql) <= l.op.maxSQLLength {
		return sql
	}
	return fmt.Sprintf("%s...(%d bytes)", sql[:l.op.maxSQLLength], len(sql))
}
