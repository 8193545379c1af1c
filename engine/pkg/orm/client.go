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
	"database/sql"
	"time"

	"github.com/pingcap/modelflow/engine/pkg/clock"
	"github.com/pingcap/modelflow/engine/pkg/orm/model"
	"github.com/pingcap/modelflow/engine/pkg/sqlutil"
	"github.com/pingcap/modelflow/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var globalModels = []interface{}{
	&model.SavedQuery{},
	&model.ModelDependency{},
	&model.WarehouseTable{},
	&model.RunJob{},
}

// Client defines an interface that has the ability to manage every kind of
// logic abstraction in metastore, including saved query, dependency, catalog
// table and run job
type Client interface {
	// Initialize creates all tables if they don't exist.
	Initialize(ctx context.Context) error
	// Close releases the underlying connection if the client owns it.
	Close() error

	// SavedQueryClient is the interface to operate model definitions.
	SavedQueryClient
	// DependencyClient is the interface to operate model dependency edges.
	DependencyClient
	// CatalogClient is the interface to operate catalog tables.
	CatalogClient
	// RunJobClient is the interface to operate run jobs.
	RunJobClient
}

// SavedQueryClient defines interface that manages saved queries in metastore
type SavedQueryClient interface {
	UpsertSavedQuery(ctx context.Context, query *model.SavedQuery) error
	GetSavedQueryByID(ctx context.Context, teamID model.TeamID, id string) (*model.SavedQuery, error)
	QuerySavedQueries(ctx context.Context, teamID model.TeamID) ([]*model.SavedQuery, error)
	// QueryDeletedSavedQueryIDs returns the ids of soft deleted saved
	// queries of a team.
	QueryDeletedSavedQueryIDs(ctx context.Context, teamID model.TeamID) ([]string, error)
	DeleteSavedQuery(ctx context.Context, teamID model.TeamID, id string) (Result, error)
	UpdateSavedQueries(ctx context.Context, teamID model.TeamID, ids []string, values model.KeyValueMap) (Result, error)
}

// DependencyClient defines interface that manages dependency edges in metastore
type DependencyClient interface {
	ReplaceDependencies(ctx context.Context, teamID model.TeamID, modelID string, parents []string) error
	// UpsertModels upserts queries and replaces the parent edges of each of
	// them with parents[query.ID], in one transaction.
	UpsertModels(ctx context.Context, queries []*model.SavedQuery, parents map[string][]string) error
	QueryDependencies(ctx context.Context, teamID model.TeamID) ([]*model.ModelDependency, error)
}

// CatalogClient defines interface that manages catalog tables in metastore
type CatalogClient interface {
	UpsertWarehouseTable(ctx context.Context, table *model.WarehouseTable) (*model.WarehouseTable, error)
	GetWarehouseTable(ctx context.Context, teamID model.TeamID, name string) (*model.WarehouseTable, error)
	// UpdateWarehouseTable updates the given columns of an existing entry
	UpdateWarehouseTable(ctx context.Context, teamID model.TeamID, name string, values model.KeyValueMap) (Result, error)
}

// RunJobClient defines interface that manages run jobs in metastore
type RunJobClient interface {
	// CreateRunJobAfterCleanup fails every RUNNING job of the team with
	// cleanupErr and inserts job, in one transaction. It returns the number
	// of jobs failed.
	CreateRunJobAfterCleanup(ctx context.Context, job *model.RunJob, cleanupErr string) (int64, error)
	FailRunningJobs(ctx context.Context, teamID model.TeamID, errMsg string) (Result, error)
	GetRunJobByID(ctx context.Context, jobID string) (*model.RunJob, error)
	QueryRunJobs(ctx context.Context, teamID model.TeamID, status ...model.JobStatus) ([]*model.RunJob, error)
	QueryRunJobsUpdatedBefore(ctx context.Context, status model.JobStatus, before time.Time) ([]*model.RunJob, error)
	IncRunJobCounter(ctx context.Context, jobID string, column string, delta int64) error
	// FinishRunJob moves a RUNNING job to status, a job not RUNNING is left
	// untouched and the result affects 0 rows.
	FinishRunJob(ctx context.Context, jobID string, status model.JobStatus, errMsg string) (Result, error)
}

// ClientOption customizes a client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	clock    clock.Clock
	ownsConn bool
}

// WithClock sets the time source of created_at/updated_at.
func WithClock(c clock.Clock) ClientOption {
	return func(o *clientOptions) {
		o.clock = c
	}
}

// withOwnedConn makes Close close the underlying sql.DB.
func withOwnedConn() ClientOption {
	return func(o *clientOptions) {
		o.ownsConn = true
	}
}

// NewClient return the client to operate metastore
func NewClient(db *sql.DB, storeType sqlutil.StoreType, opts ...ClientOption) (Client, error) {
	if db == nil {
		return nil, errors.ErrMetaParamsInvalid.GenWithStackByArgs("input db is nil")
	}
	return newClient(db, storeType, opts...)
}

// NewClientWithConfig opens the store described by conf and returns a client
// owning the connection.
func NewClientWithConfig(conf *sqlutil.StoreConfig, opts ...ClientOption) (Client, error) {
	db, err := sqlutil.NewSQLDB(conf)
	if err != nil {
		return nil, err
	}
	cli, err := newClient(db, conf.StoreType, append(opts, withOwnedConn())...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return cli, nil
}

func newClient(db *sql.DB, storeType sqlutil.StoreType, opts ...ClientOption) (*metaOpsClient, error) {
	op := clientOptions{clock: clock.New()}
	for _, opt := range opts {
		opt(&op)
	}
	ormDB, err := NewGormDB(db, storeType, op.clock)
	if err != nil {
		return nil, err
	}

	return &metaOpsClient{
		db:       ormDB,
		clock:    op.clock,
		ownsConn: op.ownsConn,
	}, nil
}

// metaOpsClient is the meta operations client for metastore
type metaOpsClient struct {
	// gorm claim to be thread safe
	db       *gorm.DB
	clock    clock.Clock
	ownsConn bool
}

func (c *metaOpsClient) Initialize(ctx context.Context) error {
	if err := c.db.WithContext(ctx).AutoMigrate(globalModels...); err != nil {
		return errors.ErrMetaOpFail.Wrap(err)
	}
	return nil
}

func (c *metaOpsClient) Close() error {
	if !c.ownsConn {
		// DON NOT CLOSE the underlying connection
		return nil
	}
	impl, err := c.db.DB()
	if err != nil {
		return errors.ErrMetaOpFail.Wrap(err)
	}
	if err := impl.Close(); err != nil {
		return errors.ErrMetaOpFail.Wrap(err)
	}
	return nil
}

// /////////////////////// Saved query
// UpsertSavedQuery inserts or updates the model definition by id
func (c *metaOpsClient) UpsertSavedQuery(ctx context.Context, query *model.SavedQuery) error {
	if query == nil {
		return errors.ErrMetaParamsInvalid.GenWithStackByArgs("input saved query is nil")
	}
	if err := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(model.SavedQueryUpdateColumns),
		}).Create(query).Error; err != nil {
		return errors.ErrMetaOpFail.Wrap(err)
	}

	return nil
}

// GetSavedQueryByID query the saved query by id, soft deleted rows included
func (c *metaOpsClient) GetSavedQueryByID(ctx context.Context, teamID model.TeamID, id string) (*model.SavedQuery, error) {
	var query model.SavedQuery
	if err := c.db.WithContext(ctx).
		Where("team_id = ? AND id = ?", teamID, id).
		First(&query).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ErrMetaEntryNotFound.Wrap(err)
		}

		return nil, errors.ErrMetaOpFail.Wrap(err)
	}

	return &query, nil
}

// QuerySavedQueries query all live saved queries of a team
func (c *metaOpsClient) QuerySavedQueries(ctx context.Context, teamID model.TeamID) ([]*model.SavedQuery, error) {
	var queries []*model.SavedQuery
	if err := c.db.WithContext(ctx).
		Where("team_id = ? AND deleted = ?", teamID, false).
		Order("seq_id").
		Find(&queries).Error; err != nil {
		return nil, errors.ErrMetaOpFail.Wrap(err)
	}

	return queries, nil
}

// QueryDeletedSavedQueryIDs query ids of all soft deleted saved queries of a team
func (c *metaOpsClient) QueryDeletedSavedQueryIDs(ctx context.Context, teamID model.TeamID) ([]string, error) {
	var ids []string
	if err := c.db.WithContext(ctx).
		Model(&model.SavedQuery{}).
		Where("team_id = ? AND deleted = ?", teamID, true).
		Order("seq_id").
		Pluck("id", &ids).Error; err != nil {
		return nil, errors.ErrMetaOpFail.Wrap(err)
	}

	return ids, nil
}

// DeleteSavedQuery soft deletes the saved query
func (c *metaOpsClient) DeleteSavedQuery(ctx context.Context, teamID model.TeamID, id string) (Result, error) {
	result := c.db.WithContext(ctx).
		Model(&model.SavedQuery{}).
		Where("team_id = ? AND id = ?", teamID, id).
		Update("deleted", true)
	if result.Error != nil {
		return nil, errors.ErrMetaOpFail.Wrap(result.Error)
	}

	return &ormResult{rowsAffected: result.RowsAffected}, nil
}

// UpdateSavedQueries updates the given columns of saved queries of a team
func (c *metaOpsClient) UpdateSavedQueries(ctx context.Context, teamID model.TeamID, ids []string, values model.KeyValueMap) (Result, error) {
	if len(ids) == 0 {
		return &ormResult{}, nil
	}
	result := c.db.WithContext(ctx).
		Model(&model.SavedQuery{}).
		Where("team_id = ? AND id IN ?", teamID, ids).
		Updates(values)
	if result.Error != nil {
		return nil, errors.ErrMetaOpFail.Wrap(result.Error)
	}

	return &ormResult{rowsAffected: result.RowsAffected}, nil
}

// /////////////////////// Dependency
// ReplaceDependencies replaces all parent edges of a model
func (c *metaOpsClient) ReplaceDependencies(ctx context.Context, teamID model.TeamID, modelID string, parents []string) error {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return replaceDependencies(tx, teamID, modelID, parents)
	})
	if err != nil {
		return errors.ErrMetaOpFail.Wrap(err)
	}

	return nil
}

// UpsertModels upserts model definitions together with their parent edges
func (c *metaOpsClient) UpsertModels(ctx context.Context, queries []*model.SavedQuery, parents map[string][]string) error {
	if len(queries) == 0 {
		return nil
	}
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, query := range queries {
			if query == nil {
				return errors.ErrMetaParamsInvalid.GenWithStackByArgs("input saved query is nil")
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns(model.SavedQueryUpdateColumns),
			}).Create(query).Error; err != nil {
				return err
			}
			if err := replaceDependencies(tx, query.TeamID, query.ID, parents[query.ID]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errors.ErrMetaParamsInvalid) {
			return err
		}
		return errors.ErrMetaOpFail.Wrap(err)
	}

	return nil
}

func replaceDependencies(tx *gorm.DB, teamID model.TeamID, modelID string, parents []string) error {
	if err := tx.Where("team_id = ? AND model_id = ?", teamID, modelID).
		Delete(&model.ModelDependency{}).Error; err != nil {
		return err
	}
	if len(parents) == 0 {
		return nil
	}
	deps := make([]*model.ModelDependency, 0, len(parents))
	for _, parent := range parents {
		deps = append(deps, &model.ModelDependency{
			TeamID:      teamID,
			ModelID:     modelID,
			ParentLabel: parent,
		})
	}
	return tx.Create(deps).Error
}

// QueryDependencies query all dependency edges of a team
func (c *metaOpsClient) QueryDependencies(ctx context.Context, teamID model.TeamID) ([]*model.ModelDependency, error) {
	var deps []*model.ModelDependency
	if err := c.db.WithContext(ctx).
		Where("team_id = ?", teamID).
		Order("seq_id").
		Find(&deps).Error; err != nil {
		return nil, errors.ErrMetaOpFail.Wrap(err)
	}

	return deps, nil
}

// /////////////////////// Catalog
// UpsertWarehouseTable inserts or updates the catalog table identified by
// team and name, and returns the stored row.
func (c *metaOpsClient) UpsertWarehouseTable(ctx context.Context, table *model.WarehouseTable) (*model.WarehouseTable, error) {
	if table == nil {
		return nil, errors.ErrMetaParamsInvalid.GenWithStackByArgs("input warehouse table is nil")
	}
	var stored model.WarehouseTable
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "team_id"}, {Name: "name"}},
			DoUpdates: clause.AssignmentColumns(model.WarehouseTableUpdateColumns),
		}).Create(table).Error; err != nil {
			return err
		}
		return tx.Where("team_id = ? AND name = ?", table.TeamID, table.Name).
			First(&stored).Error
	})
	if err != nil {
		return nil, errors.ErrMetaOpFail.Wrap(err)
	}

	return &stored, nil
}

// GetWarehouseTable query the catalog table by team and name
func (c *metaOpsClient) GetWarehouseTable(ctx context.Context, teamID model.TeamID, name string) (*model.WarehouseTable, error) {
	var table model.WarehouseTable
	if err := c.db.WithContext(ctx).
		Where("team_id = ? AND name = ?", teamID, name).
		First(&table).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ErrMetaEntryNotFound.Wrap(err)
		}

		return nil, errors.ErrMetaOpFail.Wrap(err)
	}

	return &table, nil
}

// UpdateWarehouseTable implements CatalogClient.UpdateWarehouseTable
func (c *metaOpsClient) UpdateWarehouseTable(ctx context.Context, teamID model.TeamID, name string, values model.KeyValueMap) (Result, error) {
	result := c.db.WithContext(ctx).
		Model(&model.WarehouseTable{}).
		Where("team_id = ? AND name = ?", teamID, name).
		Updates(values)
	if result.Error != nil {
		return nil, errors.ErrMetaOpFail.Wrap(result.Error)
	}

	return &ormResult{rowsAffected: result.RowsAffected}, nil
}

// /////////////////////// Run job
// CreateRunJobAfterCleanup implements RunJobClient.CreateRunJobAfterCleanup
func (c *metaOpsClient) CreateRunJobAfterCleanup(ctx context.Context, job *model.RunJob, cleanupErr string) (int64, error) {
	if job == nil {
		return 0, errors.ErrMetaParamsInvalid.GenWithStackByArgs("input run job is nil")
	}
	var cleaned int64
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.RunJob{}).
			Where("team_id = ? AND status = ?", job.TeamID, model.JobStatusRunning).
			Updates(model.KeyValueMap{
				"status": model.JobStatusFailed,
				"error":  cleanupErr,
			})
		if result.Error != nil {
			return result.Error
		}
		cleaned = result.RowsAffected

		// return nil will commit the whole transaction
		return tx.Create(job).Error
	})
	if err != nil {
		return 0, errors.ErrMetaOpFail.Wrap(err)
	}

	return cleaned, nil
}

// FailRunningJobs marks every RUNNING job of the team FAILED
func (c *metaOpsClient) FailRunningJobs(ctx context.Context, teamID model.TeamID, errMsg string) (Result, error) {
	result := c.db.WithContext(ctx).
		Model(&model.RunJob{}).
		Where("team_id = ? AND status = ?", teamID, model.JobStatusRunning).
		Updates(model.KeyValueMap{
			"status": model.JobStatusFailed,
			"error":  errMsg,
		})
	if result.Error != nil {
		return nil, errors.ErrMetaOpFail.Wrap(result.Error)
	}

	return &ormResult{rowsAffected: result.RowsAffected}, nil
}

// GetRunJobByID query the run job by id
func (c *metaOpsClient) GetRunJobByID(ctx context.Context, jobID string) (*model.RunJob, error) {
	var job model.RunJob
	if err := c.db.WithContext(ctx).
		Where("id = ?", jobID).
		First(&job).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ErrMetaEntryNotFound.Wrap(err)
		}

		return nil, errors.ErrMetaOpFail.Wrap(err)
	}

	return &job, nil
}

// QueryRunJobs query run jobs of a team, optionally filtered by status,
// newest first
func (c *metaOpsClient) QueryRunJobs(ctx context.Context, teamID model.TeamID, status ...model.JobStatus) ([]*model.RunJob, error) {
	var jobs []*model.RunJob
	db := c.db.WithContext(ctx).Where("team_id = ?", teamID)
	if len(status) > 0 {
		db = db.Where("status IN ?", status)
	}
	if err := db.Order("seq_id desc").Find(&jobs).Error; err != nil {
		return nil, errors.ErrMetaOpFail.Wrap(err)
	}

	return jobs, nil
}

// QueryRunJobsUpdatedBefore query jobs of all teams in status whose last
// update is older than before
func (c *metaOpsClient) QueryRunJobsUpdatedBefore(ctx context.Context, status model.JobStatus, before time.Time) ([]*model.RunJob, error) {
	var jobs []*model.RunJob
	if err := c.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, before.Local()).
		Order("seq_id").
		Find(&jobs).Error; err != nil {
		return nil, errors.ErrMetaOpFail.Wrap(err)
	}

	return jobs, nil
}

// IncRunJobCounter atomically adds delta to a counter column of a job
func (c *metaOpsClient) IncRunJobCounter(ctx context.Context, jobID string, column string, delta int64) error {
	if column != "rows_materialized" && column != "rows_expected" {
		return errors.ErrMetaParamsInvalid.GenWithStackByArgs("unknown counter column " + column)
	}
	if err := c.db.WithContext(ctx).
		Model(&model.RunJob{}).
		Where("id = ?", jobID).
		Update(column, gorm.Expr(column+" + ?", delta)).Error; err != nil {
		return errors.ErrMetaOpFail.Wrap(err)
	}

	return nil
}

// FinishRunJob implements RunJobClient.FinishRunJob
func (c *metaOpsClient) FinishRunJob(ctx context.Context, jobID string, status model.JobStatus, errMsg string) (Result, error) {
	if !status.IsTerminated() {
		return nil, errors.ErrMetaParamsInvalid.GenWithStackByArgs("finish run job with non-terminal status " + string(status))
	}
	result := c.db.WithContext(ctx).
		Model(&model.RunJob{}).
		Where("id = ? AND status = ?", jobID, model.JobStatusRunning).
		Updates(model.KeyValueMap{
			"status": status,
			"error":  errMsg,
		})
	if result.Error != nil {
		return nil, errors.ErrMetaOpFail.Wrap(result.Error)
	}

	return &ormResult{rowsAffected: result.RowsAffected}, nil
}

// Result defines a query result interface
type Result interface {
	RowsAffected() int64
}

type ormResult struct {
	rowsAffected int64
}

// RowsAffected return the affected rows of an execution
func (r ormResult) RowsAffected() int64 {
	return r.rowsAffected
}
