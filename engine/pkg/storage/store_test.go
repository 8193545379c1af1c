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

package storage

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pingcap/modelflow/pkg/errors"
	mockstorage "github.com/pingcap/tidb/br/pkg/mock/storage"
	brStorage "github.com/pingcap/tidb/br/pkg/storage"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestStore(t *testing.T) TableStore {
	ext, err := brStorage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	store := NewTableStoreWithStorage(ext, DefaultConfig())
	t.Cleanup(store.Close)
	return store
}

func newIntRecord(t *testing.T, values ...int64) arrow.Record {
	schema := arrow.NewSchema([]arrow.Field{{Name: "n", Type: arrow.PrimitiveTypes.Int64, Nullable: true}}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	b.Field(0).(*array.Int64Builder).AppendValues(values, nil)
	rec := b.NewRecord()
	t.Cleanup(rec.Release)
	return rec
}

func newDecimalRecord(t *testing.T, dt arrow.DataType, values ...decimal128.Num) arrow.Record {
	schema := arrow.NewSchema([]arrow.Field{{Name: "amount", Type: dt, Nullable: true}}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	b.Field(0).(*array.Decimal128Builder).AppendValues(values, nil)
	rec := b.NewRecord()
	t.Cleanup(rec.Release)
	return rec
}

func newFloatRecord(t *testing.T, values ...float64) arrow.Record {
	schema := arrow.NewSchema([]arrow.Field{{Name: "amount", Type: arrow.PrimitiveTypes.Float64, Nullable: true}}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	b.Field(0).(*array.Float64Builder).AppendValues(values, nil)
	rec := b.NewRecord()
	t.Cleanup(rec.Release)
	return rec
}

func TestWriteAndOpen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	prefix := "tenant_1_model_abc/modeling/my_model__query"

	w, err := store.NewWriter(ctx, prefix)
	require.NoError(t, err)
	require.NoError(t, w.Append(ctx, newIntRecord(t, 1, 2, 3)))
	require.NoError(t, w.Append(ctx, newIntRecord(t, 4, 5)))
	h, err := w.Close(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(5), h.RowCount)
	require.Equal(t, []string{prefix + "/part-00000.parquet", prefix + "/part-00001.parquet"}, h.Parts)
	require.Contains(t, h.URLPattern, prefix+"/*.parquet")

	opened, err := store.Open(ctx, prefix)
	require.NoError(t, err)
	require.Equal(t, h.Parts, opened.Parts)
	require.Equal(t, int64(5), opened.RowCount)

	tbl, err := opened.ReadTable(ctx)
	require.NoError(t, err)
	defer tbl.Release()
	require.Equal(t, int64(5), tbl.NumRows())
	require.Equal(t, "n", tbl.Schema().Field(0).Name)
}

func TestFirstAppendReplacesTable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	prefix := "tenant_1_model_abc/modeling/m__query"

	w, err := store.NewWriter(ctx, prefix)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Append(ctx, newIntRecord(t, 1)))
	}
	_, err = w.Close(ctx)
	require.NoError(t, err)

	w, err = store.NewWriter(ctx, prefix)
	require.NoError(t, err)
	require.NoError(t, w.Append(ctx, newIntRecord(t, 7, 8)))
	_, err = w.Close(ctx)
	require.NoError(t, err)

	h, err := store.Open(ctx, prefix)
	require.NoError(t, err)
	require.Len(t, h.Parts, 1)
	require.Equal(t, int64(2), h.RowCount)

	// a writer closed without appends still clears the table
	w, err = store.NewWriter(ctx, prefix)
	require.NoError(t, err)
	h, err = w.Close(ctx)
	require.NoError(t, err)
	require.Len(t, h.Parts, 0)
	_, err = store.Open(ctx, prefix)
	require.Error(t, err)
	_, err = h.ReadTable(ctx)
	require.Error(t, err)
}

func TestEmptyRecordIsReadable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	w, err := store.NewWriter(ctx, "t/empty")
	require.NoError(t, err)
	require.NoError(t, w.Append(ctx, newIntRecord(t)))
	_, err = w.Close(ctx)
	require.NoError(t, err)

	h, err := store.Open(ctx, "t/empty")
	require.NoError(t, err)
	tbl, err := h.ReadTable(ctx)
	require.NoError(t, err)
	defer tbl.Release()
	require.Equal(t, int64(0), tbl.NumRows())
	require.Equal(t, 1, int(tbl.NumCols()))
}

func TestReadTableReconcilesWidenedParts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	// 1.5 at scale 10, then 2.25 at scale 4
	wide := &arrow.Decimal128Type{Precision: 38, Scale: 10}
	narrow := &arrow.Decimal128Type{Precision: 38, Scale: 4}
	w, err := store.NewWriter(ctx, "t/decimal")
	require.NoError(t, err)
	require.NoError(t, w.Append(ctx, newDecimalRecord(t, wide, decimal128.FromI64(15_000_000_000))))
	require.NoError(t, w.Append(ctx, newDecimalRecord(t, narrow, decimal128.FromI64(22_500))))
	_, err = w.Close(ctx)
	require.NoError(t, err)

	h, err := store.Open(ctx, "t/decimal")
	require.NoError(t, err)
	require.True(t, arrow.TypeEqual(narrow, h.Schema.Field(0).Type))
	tbl, err := h.ReadTable(ctx)
	require.NoError(t, err)
	defer tbl.Release()
	require.Equal(t, int64(2), tbl.NumRows())
	chunks := tbl.Column(0).Data().Chunks()
	require.Len(t, chunks, 2)
	first := chunks[0].(*array.Decimal128)
	require.Equal(t, "1.5000", first.Value(0).ToString(4))

	// then a float part, every decimal part is read as float
	w, err = store.NewWriter(ctx, "t/float")
	require.NoError(t, err)
	require.NoError(t, w.Append(ctx, newDecimalRecord(t, wide, decimal128.FromI64(15_000_000_000))))
	require.NoError(t, w.Append(ctx, newFloatRecord(t, 3.5)))
	_, err = w.Close(ctx)
	require.NoError(t, err)
	h, err = store.Open(ctx, "t/float")
	require.NoError(t, err)
	tbl2, err := h.ReadTable(ctx)
	require.NoError(t, err)
	defer tbl2.Release()
	floats := tbl2.Column(0).Data().Chunks()
	require.InDelta(t, 1.5, floats[0].(*array.Float64).Value(0), 1e-9)
	require.InDelta(t, 3.5, floats[1].(*array.Float64).Value(0), 1e-9)
}

func TestSortParts(t *testing.T) {
	t.Parallel()

	parts := []string{
		partName("t/m", 100000),
		partName("t/m", 99999),
		partName("t/m", 2),
		"t/m/part-x.parquet",
		partName("t/m", 10),
	}
	sortParts(parts)
	require.Equal(t, []string{
		"t/m/part-x.parquet",
		"t/m/part-00002.parquet",
		"t/m/part-00010.parquet",
		"t/m/part-99999.parquet",
		"t/m/part-100000.parquet",
	}, parts)
	require.Equal(t, 100000, partSeq("t/m/part-100000.parquet"))
	require.Equal(t, -1, partSeq("t/m/other.parquet"))
}

func TestConfigAdjust(t *testing.T) {
	t.Parallel()

	conf := &Config{}
	require.NoError(t, conf.Adjust())
	require.Equal(t, defaultStorageURI, conf.URI)
	require.Equal(t, "snappy", conf.Compression)

	conf = &Config{URI: "s3://bucket/prefix", Compression: "lz4"}
	require.Error(t, conf.Adjust())
}

func TestNewTableStoreFromURI(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	conf := DefaultConfig()
	conf.URI = "file://" + t.TempDir()
	store, err := NewTableStore(ctx, conf)
	require.NoError(t, err)
	defer store.Close()
	w, err := store.NewWriter(ctx, "a/b")
	require.NoError(t, err)
	require.NoError(t, w.Append(ctx, newIntRecord(t, 1)))
	_, err = w.Close(ctx)
	require.NoError(t, err)
	_, err = store.NewWriter(ctx, "/")
	require.Error(t, err)
}

func TestWriteFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	controller := gomock.NewController(t)
	mockStorage := mockstorage.NewMockExternalStorage(controller)
	mockStorage.EXPECT().WalkDir(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(1)
	mockStorage.EXPECT().WriteFile(gomock.Any(), "t/m/part-00000.parquet", gomock.Any()).
		Return(errors.New("injected error")).Times(1)

	store := NewTableStoreWithStorage(mockStorage, DefaultConfig())
	w, err := store.NewWriter(ctx, "t/m")
	require.NoError(t, err)
	err = w.Append(ctx, newIntRecord(t, 1))
	require.True(t, errors.Is(err, errors.ErrStorageOpFail))

	mockStorage.EXPECT().WalkDir(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(errors.New("list failed")).Times(1)
	_, err = store.Open(ctx, "t/m")
	require.True(t, errors.Is(err, errors.ErrStorageOpFail))
}
