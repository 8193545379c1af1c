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
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	ormModel "github.com/pingcap/modelflow/engine/pkg/orm/model"
	"github.com/pingcap/modelflow/engine/pkg/sqlutil"
	"github.com/pingcap/modelflow/pkg/errors"
	"github.com/stretchr/testify/require"
)

func newEventStore(t *testing.T) *sql.DB {
	db, err := sqlutil.NewSQLDB(sqlutil.DefaultStoreConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE events (
		id INTEGER,
		name TEXT,
		amount DECIMAL(50,10),
		price REAL,
		happened_at DATETIME,
		payload BLOB,
		shape GEOMETRY
	)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO events (id, name, amount, price, happened_at) VALUES
		(1, 'a', 1.5, 0.25, '2024-01-02 03:04:05'),
		(2, 'b', NULL, 1.0, '2024-01-03 00:00:00'),
		(3, NULL, 123.45, NULL, NULL)`)
	require.NoError(t, err)
	return db
}

func drain(t *testing.T, s BatchStream) []arrow.Record {
	var recs []arrow.Record
	for {
		rec, err := s.Next(context.Background())
		if err == io.EOF {
			return recs
		}
		require.NoError(t, err)
		t.Cleanup(rec.Release)
		recs = append(recs, rec)
	}
}

func TestSQLEngineExecute(t *testing.T) {
	db := newEventStore(t)
	e, err := NewSQLEngine(db, WithBatchSize(2))
	require.NoError(t, err)
	defer e.Close()

	def := &ormModel.SavedQuery{
		ID:    "0123456789abcdef0123456789abcdef",
		Name:  "my_model",
		Query: "SELECT id, name, amount, price, happened_at FROM events ORDER BY id",
	}
	s, err := e.Execute(context.Background(), def, 1)
	require.NoError(t, err)
	defer s.Close()

	schema := s.Schema()
	require.Equal(t, 5, len(schema.Fields()))
	require.True(t, arrow.TypeEqual(arrow.PrimitiveTypes.Int64, schema.Field(0).Type))
	require.True(t, arrow.TypeEqual(arrow.BinaryTypes.String, schema.Field(1).Type))
	require.True(t, arrow.TypeEqual(&arrow.Decimal256Type{Precision: 50, Scale: 10}, schema.Field(2).Type))
	require.True(t, arrow.TypeEqual(arrow.PrimitiveTypes.Float64, schema.Field(3).Type))
	require.True(t, arrow.TypeEqual(arrow.FixedWidthTypes.Timestamp_us, schema.Field(4).Type))

	recs := drain(t, s)
	require.Len(t, recs, 2)
	require.Equal(t, int64(2), recs[0].NumRows())
	require.Equal(t, int64(1), recs[1].NumRows())

	ids := recs[0].Column(0).(*array.Int64)
	require.Equal(t, []int64{1, 2}, ids.Int64Values())
	names := recs[0].Column(1).(*array.String)
	require.Equal(t, "a", names.Value(0))
	require.True(t, recs[1].Column(1).IsNull(0))
	amounts := recs[0].Column(2).(*array.Decimal256)
	require.Equal(t, "1.5000000000", amounts.Value(0).ToString(10))
	require.True(t, amounts.IsNull(1))
	last := recs[1].Column(2).(*array.Decimal256)
	require.Equal(t, "123.4500000000", last.Value(0).ToString(10))

	// the stream stays at EOF
	_, err = s.Next(context.Background())
	require.Equal(t, io.EOF, err)

	// a second execution gets a fresh stream from the cached statement
	s2, err := e.Execute(context.Background(), def, 1)
	require.NoError(t, err)
	defer s2.Close()
	require.Len(t, drain(t, s2), 2)
}

func TestSQLEngineInfersExpressionTypes(t *testing.T) {
	db := newEventStore(t)
	e, err := NewSQLEngine(db, WithStmtCacheSize(0))
	require.NoError(t, err)

	def := &ormModel.SavedQuery{Name: "agg", Query: "SELECT count(*) AS n, 'x' AS label, 1.5 AS f FROM events"}
	s, err := e.Execute(context.Background(), def, 1)
	require.NoError(t, err)
	defer s.Close()
	require.True(t, arrow.TypeEqual(arrow.PrimitiveTypes.Int64, s.Schema().Field(0).Type))
	require.True(t, arrow.TypeEqual(arrow.BinaryTypes.String, s.Schema().Field(1).Type))
	require.True(t, arrow.TypeEqual(arrow.PrimitiveTypes.Float64, s.Schema().Field(2).Type))

	recs := drain(t, s)
	require.Len(t, recs, 1)
	require.Equal(t, int64(3), recs[0].Column(0).(*array.Int64).Value(0))

	// no rows at all
	def = &ormModel.SavedQuery{Name: "empty", Query: "SELECT id FROM events WHERE id > 100"}
	s, err = e.Execute(context.Background(), def, 1)
	require.NoError(t, err)
	defer s.Close()
	require.Len(t, drain(t, s), 0)
}

func TestSQLEngineErrors(t *testing.T) {
	db := newEventStore(t)
	e, err := NewSQLEngine(db)
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Execute(context.Background(), &ormModel.SavedQuery{Name: "bad", Query: "SELECT nope FROM missing"}, 1)
	require.True(t, errors.Is(err, errors.ErrQueryExecute))

	_, err = e.Execute(context.Background(), &ormModel.SavedQuery{Name: "shape", Query: "SELECT shape FROM events"}, 1)
	require.Error(t, err)

	_, ok, err := e.CountRows(context.Background(), &ormModel.SavedQuery{Name: "bad", Query: "SELECT nope FROM missing"}, 1)
	require.Error(t, err)
	require.False(t, ok)
}

func TestSQLEngineCountRows(t *testing.T) {
	db := newEventStore(t)
	e, err := NewSQLEngine(db)
	require.NoError(t, err)
	defer e.Close()

	n, ok, err := e.CountRows(context.Background(), &ormModel.SavedQuery{Query: "SELECT id FROM events WHERE id > 1"}, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(2), n)
}

func TestDecimalHelpers(t *testing.T) {
	t.Parallel()

	p, s := decimalSize("(50,10)")
	require.Equal(t, int64(50), p)
	require.Equal(t, int64(10), s)
	p, s = decimalSize("(12)")
	require.Equal(t, int64(12), p)
	require.Equal(t, int64(0), s)
	p, s = decimalSize("")
	require.Equal(t, int64(38), p)
	require.Equal(t, int64(10), s)

	require.True(t, arrow.TypeEqual(&arrow.Decimal128Type{Precision: 38, Scale: 2}, decimalType(38, 2)))
	require.True(t, arrow.TypeEqual(&arrow.Decimal256Type{Precision: 76, Scale: 10}, decimalType(100, 10)))

	coef, err := decimalCoefficient("12.3456", 2, 127)
	require.NoError(t, err)
	require.Equal(t, "1235", coef.String())
	coef, err = decimalCoefficient(int64(-7), 3, 127)
	require.NoError(t, err)
	require.Equal(t, "-7000", coef.String())
	_, err = decimalCoefficient("1e60", 0, 127)
	require.Error(t, err)
}

func TestStaticStream(t *testing.T) {
	t.Parallel()

	schema := arrow.NewSchema([]arrow.Field{{Name: "n", Type: arrow.PrimitiveTypes.Int64}}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	b.Field(0).(*array.Int64Builder).Append(1)
	first := b.NewRecord()
	b.Field(0).(*array.Int64Builder).Append(2)
	second := b.NewRecord()

	s := NewStaticStream(schema, first, second)
	require.Equal(t, schema, s.Schema())
	rec, err := s.Next(context.Background())
	require.NoError(t, err)
	rec.Release()
	s.Close()
	_, err = s.Next(context.Background())
	require.Equal(t, io.EOF, err)
}
