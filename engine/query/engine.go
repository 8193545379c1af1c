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
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	ormModel "github.com/pingcap/modelflow/engine/pkg/orm/model"
	"github.com/pingcap/modelflow/engine/pkg/tenant"
)

//go:generate mockgen -source engine.go -destination mock/engine_mock.go -package mock

// Engine turns a model definition into a stream of record batches.
type Engine interface {
	// Execute starts a fresh execution of def. Every call returns a new
	// stream, streams are never shared between materializations.
	Execute(ctx context.Context, def *ormModel.SavedQuery, teamID tenant.TeamID) (BatchStream, error)
	// CountRows estimates how many rows Execute would return. ok is false
	// when no estimate is available.
	CountRows(ctx context.Context, def *ormModel.SavedQuery, teamID tenant.TeamID) (n int64, ok bool, err error)
}

// BatchStream is a pull based stream of record batches sharing one declared
// schema.
type BatchStream interface {
	Schema() *arrow.Schema
	// Next returns the next batch, or io.EOF after the last one. The caller
	// must release the returned record.
	Next(ctx context.Context) (arrow.Record, error)
	Close()
}

// staticStream replays prepared records.
type staticStream struct {
	schema *arrow.Schema
	recs   []arrow.Record
}

// NewStaticStream returns a BatchStream over recs. The stream takes
// ownership of recs.
func NewStaticStream(schema *arrow.Schema, recs ...arrow.Record) BatchStream {
	return &staticStream{schema: schema, recs: recs}
}

func (s *staticStream) Schema() *arrow.Schema {
	return s.schema
}

func (s *staticStream) Next(ctx context.Context) (arrow.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.recs) == 0 {
		return nil, io.EOF
	}
	rec := s.recs[0]
	s.recs = s.recs[1:]
	return rec, nil
}

func (s *staticStream) Close() {
	for _, rec := range s.recs {
		rec.Release()
	}
	s.recs = nil
}
