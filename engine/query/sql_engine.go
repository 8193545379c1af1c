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

package query

import (
	"context"
	"database/sql"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pingcap/log"
	ormModel "github.com/pingcap/modelflow/engine/pkg/orm/model"
	"github.com/pingcap/modelflow/engine/pkg/tenant"
	"github.com/pingcap/modelflow/pkg/errors"
	"go.uber.org/zap"
)

const (
	defaultBatchSize     = 10000
	defaultStmtCacheSize = 128
)

// SQLOption customizes a SQLEngine.
type SQLOption func(*SQLEngine)

// WithBatchSize sets the maximum number of rows per batch.
func WithBatchSize(n int) SQLOption {
	return func(e *SQLEngine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithAllocator sets the allocator of the produced batches.
func WithAllocator(mem memory.Allocator) SQLOption {
	return func(e *SQLEngine) {
		e.mem = mem
	}
}

// WithStmtCacheSize sets how many prepared statements are kept. Zero
// disables the cache.
func WithStmtCacheSize(n int) SQLOption {
	return func(e *SQLEngine) {
		e.stmtCacheSize = n
	}
}

// SQLEngine runs model queries against a database/sql event store.
type SQLEngine struct {
	db            *sql.DB
	batchSize     int
	mem           memory.Allocator
	stmtCacheSize int
	stmtCache     *lru.Cache
}

// NewSQLEngine creates a SQLEngine on db. The caller keeps the ownership of
// db.
func NewSQLEngine(db *sql.DB, opts ...SQLOption) (*SQLEngine, error) {
	e := &SQLEngine{
		db:            db,
		batchSize:     defaultBatchSize,
		mem:           memory.DefaultAllocator,
		stmtCacheSize: defaultStmtCacheSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.stmtCacheSize > 0 {
		cache, err := lru.NewWithEvict(e.stmtCacheSize, func(key, value interface{}) {
			stmt := value.(*sql.Stmt)
			stmt.Close()
		})
		if err != nil {
			return nil, errors.Trace(err)
		}
		e.stmtCache = cache
	}
	return e, nil
}

// Close closes the cached prepared statements.
func (e *SQLEngine) Close() {
	if e.stmtCache != nil {
		e.stmtCache.Purge()
	}
}

func (e *SQLEngine) query(ctx context.Context, text string) (*sql.Rows, error) {
	if e.stmtCache == nil {
		return e.db.QueryContext(ctx, text)
	}
	if v, ok := e.stmtCache.Get(text); ok {
		return v.(*sql.Stmt).QueryContext(ctx)
	}
	stmt, err := e.db.PrepareContext(ctx, text)
	if err != nil {
		return nil, err
	}
	e.stmtCache.Add(text, stmt)
	return stmt.QueryContext(ctx)
}

// Execute implements Engine.Execute.
func (e *SQLEngine) Execute(ctx context.Context, def *ormModel.SavedQuery, teamID tenant.TeamID) (BatchStream, error) {
	rows, err := e.query(ctx, def.Query)
	if err != nil {
		return nil, errors.ErrQueryExecute.Wrap(err).GenWithStackByArgs(def.Name)
	}
	s, err := newSQLStream(rows, e.batchSize, e.mem)
	if err != nil {
		_ = rows.Close()
		return nil, errors.ErrQueryExecute.Wrap(err).GenWithStackByArgs(def.Name)
	}
	log.Debug("model query started",
		zap.Int64("team_id", teamID),
		zap.String("model", def.ID),
		zap.Stringer("schema", s.schema))
	return s, nil
}

// CountRows implements Engine.CountRows.
func (e *SQLEngine) CountRows(ctx context.Context, def *ormModel.SavedQuery, teamID tenant.TeamID) (int64, bool, error) {
	var n int64
	row := e.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ("+def.Query+") AS model_count")
	if err := row.Scan(&n); err != nil {
		return 0, false, errors.ErrQueryExecute.Wrap(err).GenWithStackByArgs(def.Name)
	}
	return n, true, nil
}

type sqlStream struct {
	rows      *sql.Rows
	schema    *arrow.Schema
	batchSize int
	mem       memory.Allocator

	values []any
	dest   []any
	// pending holds the row read ahead to infer untyped columns.
	pending bool
	closed  bool
}

func newSQLStream(rows *sql.Rows, batchSize int, mem memory.Allocator) (*sqlStream, error) {
	cts, err := rows.ColumnTypes()
	if err != nil {
		return nil, errors.Trace(err)
	}
	s := &sqlStream{
		rows:      rows,
		batchSize: batchSize,
		mem:       mem,
		values:    make([]any, len(cts)),
		dest:      make([]any, len(cts)),
	}
	for i := range s.values {
		s.dest[i] = &s.values[i]
	}

	types := make([]arrow.DataType, len(cts))
	untyped := false
	for i, ct := range cts {
		if types[i], err = arrowType(ct); err != nil {
			return nil, err
		}
		untyped = untyped || types[i] == nil
	}
	if untyped {
		if err := s.readAhead(); err != nil {
			return nil, err
		}
		for i := range types {
			if types[i] == nil {
				types[i] = inferType(s.pendingValue(i))
			}
		}
	}

	fields := make([]arrow.Field, len(cts))
	for i, ct := range cts {
		fields[i] = arrow.Field{Name: ct.Name(), Type: types[i], Nullable: true}
	}
	s.schema = arrow.NewSchema(fields, nil)
	return s, nil
}

func (s *sqlStream) readAhead() error {
	if !s.rows.Next() {
		return errors.Trace(s.rows.Err())
	}
	if err := s.rows.Scan(s.dest...); err != nil {
		return errors.Trace(err)
	}
	s.pending = true
	return nil
}

func (s *sqlStream) pendingValue(i int) any {
	if !s.pending {
		return nil
	}
	return s.values[i]
}

func (s *sqlStream) Schema() *arrow.Schema {
	return s.schema
}

func (s *sqlStream) Next(ctx context.Context) (arrow.Record, error) {
	if s.closed {
		return nil, io.EOF
	}
	b := array.NewRecordBuilder(s.mem, s.schema)
	defer b.Release()

	n := 0
	for n < s.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, errors.Trace(err)
		}
		if !s.pending {
			if !s.rows.Next() {
				if err := s.rows.Err(); err != nil {
					return nil, errors.ErrQueryExecute.Wrap(err).GenWithStackByArgs("read rows")
				}
				s.Close()
				break
			}
			if err := s.rows.Scan(s.dest...); err != nil {
				return nil, errors.ErrQueryExecute.Wrap(err).GenWithStackByArgs("scan row")
			}
		}
		s.pending = false
		for i, v := range s.values {
			if err := appendValue(b.Field(i), v); err != nil {
				return nil, errors.ErrQueryExecute.Wrap(err).GenWithStackByArgs(
					"convert column " + s.schema.Field(i).Name)
			}
		}
		n++
	}
	if n == 0 {
		return nil, io.EOF
	}
	return b.NewRecord(), nil
}

func (s *sqlStream) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if err := s.rows.Close(); err != nil {
		log.Warn("close rows failed", zap.Error(err))
	}
}
