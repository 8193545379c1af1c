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
	"bytes"
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/pingcap/modelflow/pkg/errors"
)

// TableHandle describes a table stored as parquet parts.
type TableHandle struct {
	store *brTableStore

	Prefix string
	// URLPattern matches every part of the table, it's what the catalog
	// stores.
	URLPattern string
	Parts      []string
	// Schema is the schema of the last part. Earlier parts may use narrower
	// decimal types and are converted by ReadTable.
	Schema   *arrow.Schema
	RowCount int64
}

// ReadTable reads all parts into a single table with the handle's schema.
// The caller must release the table.
func (h *TableHandle) ReadTable(ctx context.Context) (arrow.Table, error) {
	if len(h.Parts) == 0 || h.Schema == nil {
		return nil, errors.ErrStorageOpFail.GenWithStackByArgs("table " + h.Prefix + " has no parts")
	}

	chunks := make([][]arrow.Array, len(h.Schema.Fields()))
	defer func() {
		for _, cs := range chunks {
			for _, c := range cs {
				c.Release()
			}
		}
	}()
	for _, part := range h.Parts {
		if err := h.readPart(ctx, part, chunks); err != nil {
			return nil, err
		}
	}

	cols := make([]arrow.Column, 0, len(chunks))
	defer func() {
		for i := range cols {
			cols[i].Release()
		}
	}()
	for i, field := range h.Schema.Fields() {
		chunked := arrow.NewChunked(field.Type, chunks[i])
		cols = append(cols, *arrow.NewColumn(field, chunked))
		chunked.Release()
	}
	return array.NewTable(h.Schema, cols, h.RowCount), nil
}

// readPart appends the columns of part to chunks, converted to the handle's
// schema.
func (h *TableHandle) readPart(ctx context.Context, part string, chunks [][]arrow.Array) error {
	tbl, err := h.store.readPart(ctx, part)
	if err != nil {
		return err
	}
	defer tbl.Release()

	for i, field := range h.Schema.Fields() {
		idx := tbl.Schema().FieldIndices(field.Name)
		if len(idx) != 1 {
			return errors.ErrSchemaMismatch.GenWithStackByArgs(
				"column " + field.Name + " is missing in " + part)
		}
		col := tbl.Column(idx[0])
		for _, chunk := range col.Data().Chunks() {
			if arrow.TypeEqual(chunk.DataType(), field.Type) {
				chunk.Retain()
				chunks[i] = append(chunks[i], chunk)
				continue
			}
			casted, err := compute.CastArray(ctx, chunk, compute.SafeCastOptions(field.Type))
			if err != nil {
				return errors.ErrSchemaMismatch.Wrap(err).GenWithStackByArgs(
					"convert column " + field.Name + " of " + part + " to " + field.Type.String())
			}
			chunks[i] = append(chunks[i], casted)
		}
	}
	return nil
}

func (s *brTableStore) openPart(ctx context.Context, part string) (*pqarrow.FileReader, *file.Reader, error) {
	data, err := s.ext.ReadFile(ctx, part)
	if err != nil {
		return nil, nil, errors.ErrStorageOpFail.Wrap(err).GenWithStackByArgs("read " + part)
	}
	pf, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, errors.ErrStorageOpFail.Wrap(err).GenWithStackByArgs("open parquet " + part)
	}
	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, s.mem)
	if err != nil {
		_ = pf.Close()
		return nil, nil, errors.ErrStorageOpFail.Wrap(err).GenWithStackByArgs("open parquet " + part)
	}
	return fr, pf, nil
}

func (s *brTableStore) readFooter(ctx context.Context, part string) (*arrow.Schema, int64, error) {
	fr, pf, err := s.openPart(ctx, part)
	if err != nil {
		return nil, 0, err
	}
	defer pf.Close()
	schema, err := fr.Schema()
	if err != nil {
		return nil, 0, errors.ErrStorageOpFail.Wrap(err).GenWithStackByArgs("read schema of " + part)
	}
	return schema, pf.NumRows(), nil
}

func (s *brTableStore) readPart(ctx context.Context, part string) (arrow.Table, error) {
	fr, pf, err := s.openPart(ctx, part)
	if err != nil {
		return nil, err
	}
	defer pf.Close()
	tbl, err := fr.ReadTable(ctx)
	if err != nil {
		return nil, errors.ErrStorageOpFail.Wrap(err).GenWithStackByArgs("read " + part)
	}
	return tbl, nil
}
