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

package materialize

import (
	"context"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pingcap/modelflow/engine/pkg/cache"
	"github.com/pingcap/modelflow/engine/pkg/clock"
	"github.com/pingcap/modelflow/engine/pkg/logutil"
	"github.com/pingcap/modelflow/engine/pkg/orm"
	ormModel "github.com/pingcap/modelflow/engine/pkg/orm/model"
	"github.com/pingcap/modelflow/engine/pkg/storage"
	"github.com/pingcap/modelflow/engine/pkg/tenant"
	"github.com/pingcap/modelflow/engine/query"
	"github.com/pingcap/modelflow/pkg/errors"
	"go.uber.org/zap"
)

const (
	defaultCountCacheTTL = 10 * time.Minute
	markFailedTimeout    = 10 * time.Second
)

// Config holds the top-level materialization settings of the config file.
type Config struct {
	// Naming is "direct" or "snake_case". The SCHEMA__NAMING environment
	// variable takes precedence.
	Naming        string        `toml:"naming" json:"naming"`
	CountCacheTTL time.Duration `toml:"count-cache-ttl" json:"count-cache-ttl"`
}

// Adjust fills defaults and validates the config.
func (c *Config) Adjust() error {
	if c.Naming == "" {
		c.Naming = string(NamingDirect)
	}
	if c.CountCacheTTL <= 0 {
		c.CountCacheTTL = defaultCountCacheTTL
	}
	err := validation.ValidateStruct(c,
		validation.Field(&c.Naming, validation.In(string(NamingDirect), string(NamingSnakeCase))),
	)
	if err != nil {
		return errors.ErrInvalidArgument.Wrap(err).GenWithStackByArgs("materialize config")
	}
	return nil
}

// Progress receives the row counters of a run job.
type Progress interface {
	AddRowsExpected(ctx context.Context, jobID string, n int64) error
	AddRowsMaterialized(ctx context.Context, jobID string, n int64) error
}

// MetaClient is the part of the metastore a Pipeline writes.
type MetaClient interface {
	orm.SavedQueryClient
	orm.CatalogClient
}

// Result describes a materialized model.
type Result struct {
	// Key is the normalized name of the model.
	Key   string
	Table *storage.TableHandle
	JobID string
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithNaming sets the column naming mode.
func WithNaming(mode NamingMode) Option {
	return func(p *Pipeline) {
		p.naming = mode
	}
}

// WithCountCache sets the cache of row count estimates. The cache is keyed
// by team and query text.
func WithCountCache(c *cache.Cache[int64]) Option {
	return func(p *Pipeline) {
		p.counts = c
	}
}

// WithClock sets the clock stamping last_run_at.
func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) {
		p.clock = c
	}
}

// Pipeline writes the output of model queries to the table store.
type Pipeline struct {
	engine   query.Engine
	store    storage.TableStore
	meta     MetaClient
	progress Progress

	naming NamingMode
	counts *cache.Cache[int64]
	clock  clock.Clock
	mem    memory.Allocator
}

// NewPipeline creates a Pipeline.
func NewPipeline(
	engine query.Engine, store storage.TableStore, meta MetaClient, progress Progress, opts ...Option,
) *Pipeline {
	p := &Pipeline{
		engine:   engine,
		store:    store,
		meta:     meta,
		progress: progress,
		naming:   NamingDirect,
		clock:    clock.New(),
		mem:      memory.DefaultAllocator,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.counts == nil {
		p.counts = cache.New[int64](defaultCountCacheTTL, 0)
	}
	return p
}

// Materialize runs def and replaces its table with the result. On failure
// the parts written so far are kept and the model is marked FAILED.
func (p *Pipeline) Materialize(
	ctx context.Context, teamID tenant.TeamID, def *ormModel.SavedQuery, jobID string,
) (*Result, error) {
	logger := logutil.NewLogger4Model(tenant.NewTeamInfo(teamID, ""), jobID, def.ID)
	key := NormalizedName(def.Name)
	prefix := StoragePrefix(teamID, def.ID, key)

	start := p.clock.Now()
	handle, err := p.materialize(ctx, logger, teamID, def, jobID, prefix)
	if err != nil {
		logger.Warn("materialize model failed", zap.String("prefix", prefix), zap.Error(err))
		p.markFailed(ctx, logger, teamID, def, err)
		return nil, errors.ErrMaterializeModel.GenWithStackByArgs(def.Name, err.Error())
	}

	if err := p.markCompleted(ctx, teamID, def, handle); err != nil {
		return nil, errors.ErrMaterializeModel.GenWithStackByArgs(def.Name, err.Error())
	}
	logger.Info("model materialized",
		zap.String("key", key),
		zap.String("prefix", prefix),
		zap.Int64("rows", handle.RowCount),
		zap.Int("parts", len(handle.Parts)),
		zap.Duration("duration", p.clock.Since(start)))
	return &Result{Key: key, Table: handle, JobID: jobID}, nil
}

func (p *Pipeline) materialize(
	ctx context.Context, logger *zap.Logger, teamID tenant.TeamID,
	def *ormModel.SavedQuery, jobID string, prefix string,
) (*storage.TableHandle, error) {
	p.recordExpectedRows(ctx, logger, teamID, def, jobID)

	stream, err := p.engine.Execute(ctx, def, teamID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer stream.Close()

	normalizer := NewDecimalNormalizer(stream.Schema(), p.mem)
	names := newRenamer(stream.Schema(), p.naming)
	writer, err := p.store.NewWriter(ctx, prefix)
	if err != nil {
		return nil, errors.Trace(err)
	}

	batches := 0
	for {
		rec, err := stream.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Trace(err)
		}
		n := rec.NumRows()
		err = p.appendBatch(ctx, writer, normalizer, names, rec)
		rec.Release()
		if err != nil {
			return nil, err
		}
		batches++
		if err := p.progress.AddRowsMaterialized(ctx, jobID, n); err != nil {
			return nil, errors.Trace(err)
		}
	}

	if batches == 0 {
		// an empty table is still written so that readers find a schema
		empty := emptyRecord(renameSchema(normalizer.Schema(), names))
		err := writer.Append(ctx, empty)
		empty.Release()
		if err != nil {
			return nil, err
		}
	}
	return writer.Close(ctx)
}

func (p *Pipeline) appendBatch(
	ctx context.Context, writer storage.TableWriter, normalizer *DecimalNormalizer,
	names *renamer, rec arrow.Record,
) error {
	normalized, err := normalizer.Normalize(rec)
	if err != nil {
		return err
	}
	defer normalized.Release()
	out := array.NewRecord(renameSchema(normalized.Schema(), names), normalized.Columns(), normalized.NumRows())
	defer out.Release()
	return writer.Append(ctx, out)
}

// recordExpectedRows adds the row estimate of def to the job. A missing
// estimate only loses progress information, so errors are logged.
func (p *Pipeline) recordExpectedRows(
	ctx context.Context, logger *zap.Logger, teamID tenant.TeamID, def *ormModel.SavedQuery, jobID string,
) {
	n, err := p.counts.GetOrLoad(ctx, cache.NewKey(teamID, def.Query), func(ctx context.Context) (int64, error) {
		n, ok, err := p.engine.CountRows(ctx, def, teamID)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, errNoEstimate
		}
		return n, nil
	})
	if err != nil {
		if !errors.Is(err, errNoEstimate) {
			logger.Warn("count model rows failed", zap.Error(err))
		}
		return
	}
	if err := p.progress.AddRowsExpected(ctx, jobID, n); err != nil {
		logger.Warn("record expected rows failed", zap.Error(err))
	}
}

var errNoEstimate = errors.New("no row count estimate")

func (p *Pipeline) markCompleted(
	ctx context.Context, teamID tenant.TeamID, def *ormModel.SavedQuery, handle *storage.TableHandle,
) error {
	now := p.clock.Now()
	_, err := p.meta.UpdateSavedQueries(ctx, teamID, []string{def.ID}, ormModel.KeyValueMap{
		"status":       ormModel.ModelStatusCompleted,
		"latest_error": "",
		"last_run_at":  now,
	})
	if err != nil {
		return errors.Trace(err)
	}

	// the catalog entry is created after the run, only its row count is
	// refreshed here
	_, err = p.meta.UpdateWarehouseTable(ctx, teamID, def.Name, ormModel.KeyValueMap{
		"row_count":   handle.RowCount,
		"url_pattern": handle.URLPattern,
	})
	return errors.Trace(err)
}

func (p *Pipeline) markFailed(
	ctx context.Context, logger *zap.Logger, teamID tenant.TeamID, def *ormModel.SavedQuery, cause error,
) {
	// the run may be failing because ctx is done
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markFailedTimeout)
	defer cancel()
	_, err := p.meta.UpdateSavedQueries(ctx, teamID, []string{def.ID}, ormModel.KeyValueMap{
		"status":       ormModel.ModelStatusFailed,
		"latest_error": cause.Error(),
	})
	if err != nil {
		logger.Warn("mark model failed failed", zap.Error(err))
	}
}

func renameSchema(schema *arrow.Schema, names *renamer) *arrow.Schema {
	fields := make([]arrow.Field, len(schema.Fields()))
	for i, f := range schema.Fields() {
		f.Name = names.name(i)
		fields[i] = f
	}
	return arrow.NewSchema(fields, nil)
}

func emptyRecord(schema *arrow.Schema) arrow.Record {
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	return b.NewRecord()
}
