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
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/dustin/go-humanize"
	"github.com/pingcap/log"
	"github.com/pingcap/modelflow/pkg/errors"
	brStorage "github.com/pingcap/tidb/br/pkg/storage"
	"go.uber.org/zap"
)

const partSuffix = ".parquet"

// TableStore stores tables as a directory of parquet parts.
type TableStore interface {
	// NewWriter returns a writer that replaces the table under prefix.
	// The previous parts are removed when the first batch is appended, or on
	// Close if nothing was appended.
	NewWriter(ctx context.Context, prefix string) (TableWriter, error)
	// Open returns the table currently stored under prefix.
	Open(ctx context.Context, prefix string) (*TableHandle, error)
	// URI returns the root of the store.
	URI() string
	Close()
}

// TableWriter appends record batches to a table, one part per batch.
// A TableWriter is not safe for concurrent use.
type TableWriter interface {
	Append(ctx context.Context, rec arrow.Record) error
	Close(ctx context.Context) (*TableHandle, error)
}

type brTableStore struct {
	ext   brStorage.ExternalStorage
	codec compress.Compression
	mem   memory.Allocator
}

// NewTableStore creates a TableStore on the external storage described by
// conf.
func NewTableStore(ctx context.Context, conf *Config) (TableStore, error) {
	backend, err := brStorage.ParseBackend(conf.URI, conf.backendOptions())
	if err != nil {
		return nil, errors.ErrStorageOpFail.Wrap(err).GenWithStackByArgs("parse backend " + conf.URI)
	}
	// Note that we may have network I/O here.
	ext, err := brStorage.New(ctx, backend, &brStorage.ExternalStorageOptions{})
	if err != nil {
		return nil, errors.ErrStorageOpFail.Wrap(err).GenWithStackByArgs("create external storage")
	}
	return NewTableStoreWithStorage(ext, conf), nil
}

// NewTableStoreWithStorage creates a TableStore on an existing external
// storage.
func NewTableStoreWithStorage(ext brStorage.ExternalStorage, conf *Config) TableStore {
	return &brTableStore{
		ext:   ext,
		codec: conf.codec(),
		mem:   memory.DefaultAllocator,
	}
}

func (s *brTableStore) URI() string {
	return s.ext.URI()
}

func (s *brTableStore) Close() {
	s.ext.Close()
}

func (s *brTableStore) NewWriter(_ context.Context, prefix string) (TableWriter, error) {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return nil, errors.ErrInvalidArgument.GenWithStackByArgs("empty table prefix")
	}
	return &partWriter{store: s, prefix: prefix}, nil
}

func (s *brTableStore) Open(ctx context.Context, prefix string) (*TableHandle, error) {
	prefix = strings.Trim(prefix, "/")
	parts, err := s.listParts(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, errors.ErrStorageOpFail.GenWithStackByArgs("table not found under " + prefix)
	}

	h := s.newHandle(prefix)
	for _, part := range parts {
		schema, rows, err := s.readFooter(ctx, part)
		if err != nil {
			return nil, err
		}
		h.Parts = append(h.Parts, part)
		h.RowCount += rows
		// decisions only widen, so the last part carries the table schema
		h.Schema = schema
	}
	return h, nil
}

func (s *brTableStore) newHandle(prefix string) *TableHandle {
	return &TableHandle{
		store:      s,
		Prefix:     prefix,
		URLPattern: strings.TrimRight(s.ext.URI(), "/") + "/" + prefix + "/*" + partSuffix,
	}
}

func (s *brTableStore) listParts(ctx context.Context, prefix string) ([]string, error) {
	var parts []string
	err := s.ext.WalkDir(ctx, &brStorage.WalkOption{SubDir: prefix}, func(p string, _ int64) error {
		p = strings.TrimPrefix(p, "/")
		if path.Dir(p) == prefix && strings.HasSuffix(p, partSuffix) {
			parts = append(parts, p)
		}
		return nil
	})
	if err != nil {
		return nil, errors.ErrStorageOpFail.Wrap(err).GenWithStackByArgs("list parts of " + prefix)
	}
	sortParts(parts)
	return parts, nil
}

func (s *brTableStore) removeParts(ctx context.Context, prefix string) error {
	parts, err := s.listParts(ctx, prefix)
	if err != nil {
		return err
	}
	if len(parts) > 0 {
		log.Info("removing previous table parts",
			zap.String("prefix", prefix), zap.Int("parts", len(parts)))
	}
	for _, part := range parts {
		if err := s.ext.DeleteFile(ctx, part); err != nil {
			return errors.ErrStorageOpFail.Wrap(err).GenWithStackByArgs("delete " + part)
		}
	}
	return nil
}

func (s *brTableStore) encode(rec arrow.Record) ([]byte, error) {
	var buf bytes.Buffer
	props := parquet.NewWriterProperties(parquet.WithCompression(s.codec))
	fw, err := pqarrow.NewFileWriter(rec.Schema(), &buf, props,
		pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := fw.Write(rec); err != nil {
		_ = fw.Close()
		return nil, errors.Trace(err)
	}
	if err := fw.Close(); err != nil {
		return nil, errors.Trace(err)
	}
	return buf.Bytes(), nil
}

const partPrefix = "part-"

func partName(prefix string, seq int) string {
	return path.Join(prefix, fmt.Sprintf("%s%05d%s", partPrefix, seq, partSuffix))
}

// partSeq returns the sequence number of a part, or -1 for foreign files.
func partSeq(part string) int {
	name := strings.TrimSuffix(path.Base(part), partSuffix)
	if !strings.HasPrefix(name, partPrefix) {
		return -1
	}
	seq, err := strconv.Atoi(strings.TrimPrefix(name, partPrefix))
	if err != nil {
		return -1
	}
	return seq
}

// sortParts orders parts by write sequence. The zero padding of part names
// stops sorting them lexically past 99999 parts.
func sortParts(parts []string) {
	sort.Slice(parts, func(i, j int) bool {
		si, sj := partSeq(parts[i]), partSeq(parts[j])
		if si != sj {
			return si < sj
		}
		return parts[i] < parts[j]
	})
}

type partWriter struct {
	store   *brTableStore
	prefix  string
	cleared bool

	parts  []string
	schema *arrow.Schema
	rows   int64
	bytes  uint64
}

func (w *partWriter) Append(ctx context.Context, rec arrow.Record) error {
	if !w.cleared {
		if err := w.store.removeParts(ctx, w.prefix); err != nil {
			return err
		}
		w.cleared = true
	}

	name := partName(w.prefix, len(w.parts))
	data, err := w.store.encode(rec)
	if err != nil {
		return errors.ErrParquetEncode.Wrap(err).GenWithStackByArgs(name)
	}
	if err := w.store.ext.WriteFile(ctx, name, data); err != nil {
		return errors.ErrStorageOpFail.Wrap(err).GenWithStackByArgs("write " + name)
	}
	w.parts = append(w.parts, name)
	w.schema = rec.Schema()
	w.rows += rec.NumRows()
	w.bytes += uint64(len(data))
	log.Debug("table part written",
		zap.String("part", name),
		zap.Int64("rows", rec.NumRows()),
		zap.String("size", humanize.Bytes(uint64(len(data)))))
	return nil
}

func (w *partWriter) Close(ctx context.Context) (*TableHandle, error) {
	if !w.cleared {
		if err := w.store.removeParts(ctx, w.prefix); err != nil {
			return nil, err
		}
		w.cleared = true
	}
	log.Info("table written",
		zap.String("prefix", w.prefix),
		zap.Int("parts", len(w.parts)),
		zap.String("rows", humanize.Comma(w.rows)),
		zap.String("size", humanize.Bytes(w.bytes)))

	h := w.store.newHandle(w.prefix)
	h.Parts = append(h.Parts, w.parts...)
	h.Schema = w.schema
	h.RowCount = w.rows
	return h, nil
}
