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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pingcap/modelflow/engine/pkg/clock"
	"github.com/pingcap/modelflow/engine/pkg/orm/model"
	"github.com/pingcap/modelflow/engine/pkg/sqlutil"
	"github.com/pingcap/modelflow/pkg/errors"
	"github.com/stretchr/testify/require"
)

func mockGetDBConn(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.Nil(t, err)
	// common execution for orm
	mock.ExpectQuery("SELECT VERSION()").
		WillReturnRows(sqlmock.NewRows([]string{"VERSION()"}).AddRow("5.7.35-log"))
	return db, mock
}

func newTestClient(t *testing.T) (Client, *clock.Mock) {
	clk := clock.NewMockAt(time.Date(2024, 7, 1, 10, 0, 0, 0, time.Local))
	cli, err := NewMockClientWithClock(clk)
	require.NoError(t, err)
	t.Cleanup(func() { cli.Close() })
	return cli, clk
}

func TestNewMetaOpsClient(t *testing.T) {
	t.Parallel()

	_, err := NewClient(nil, sqlutil.StoreTypeMySQL)
	require.True(t, errors.Is(err, errors.ErrMetaParamsInvalid))

	sqlDB, mock := mockGetDBConn(t)
	defer sqlDB.Close()
	defer mock.ExpectClose()
	cli, err := NewClient(sqlDB, sqlutil.StoreTypeMySQL)
	require.Nil(t, err)
	// the client doesn't own the connection
	require.NoError(t, cli.Close())

	_, err = NewClient(sqlDB, "etcd")
	require.True(t, errors.Is(err, errors.ErrMetaParamsInvalid))
}

func TestSavedQuery(t *testing.T) {
	t.Parallel()

	cli, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, cli.UpsertSavedQuery(ctx, &model.SavedQuery{
		ID: "a1", TeamID: 1, Name: "orders", Query: "SELECT 1",
	}))
	require.NoError(t, cli.UpsertSavedQuery(ctx, &model.SavedQuery{
		ID: "b2", TeamID: 1, Name: "users", Query: "SELECT 2",
	}))
	require.NoError(t, cli.UpsertSavedQuery(ctx, &model.SavedQuery{
		ID: "c3", TeamID: 2, Name: "other", Query: "SELECT 3",
	}))
	// upsert by id updates the definition
	require.NoError(t, cli.UpsertSavedQuery(ctx, &model.SavedQuery{
		ID: "a1", TeamID: 1, Name: "orders_v2", Query: "SELECT 11",
	}))

	queries, err := cli.QuerySavedQueries(ctx, 1)
	require.NoError(t, err)
	require.Len(t, queries, 2)
	require.Equal(t, "orders_v2", queries[0].Name)
	require.Equal(t, "SELECT 11", queries[0].Query)

	now := time.Date(2024, 7, 1, 11, 0, 0, 0, time.Local)
	res, err := cli.UpdateSavedQueries(ctx, 1, []string{"a1", "b2"}, model.KeyValueMap{
		"status":      model.ModelStatusCompleted,
		"last_run_at": now,
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), res.RowsAffected())

	q, err := cli.GetSavedQueryByID(ctx, 1, "b2")
	require.NoError(t, err)
	require.Equal(t, model.ModelStatusCompleted, q.Status)
	require.NotNil(t, q.LastRunAt)
	require.True(t, now.Equal(*q.LastRunAt))

	res, err = cli.UpdateSavedQueries(ctx, 1, nil, model.KeyValueMap{"status": model.ModelStatusFailed})
	require.NoError(t, err)
	require.Equal(t, int64(0), res.RowsAffected())

	res, err = cli.DeleteSavedQuery(ctx, 1, "b2")
	require.NoError(t, err)
	require.Equal(t, int64(1), res.RowsAffected())
	queries, err = cli.QuerySavedQueries(ctx, 1)
	require.NoError(t, err)
	require.Len(t, queries, 1)

	_, err = cli.GetSavedQueryByID(ctx, 1, "c3")
	require.True(t, IsNotFoundError(err))
}

func TestDependencies(t *testing.T) {
	t.Parallel()

	cli, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, cli.ReplaceDependencies(ctx, 1, "b", []string{"a", "events"}))
	require.NoError(t, cli.ReplaceDependencies(ctx, 1, "c", []string{"b"}))
	require.NoError(t, cli.ReplaceDependencies(ctx, 2, "x", []string{"events"}))

	deps, err := cli.QueryDependencies(ctx, 1)
	require.NoError(t, err)
	require.Len(t, deps, 3)

	require.NoError(t, cli.ReplaceDependencies(ctx, 1, "b", []string{"persons"}))
	deps, err = cli.QueryDependencies(ctx, 1)
	require.NoError(t, err)
	edges := map[string]string{}
	for _, d := range deps {
		edges[d.ModelID+"<-"+d.ParentLabel] = d.ParentLabel
	}
	require.Len(t, edges, 2)
	require.Contains(t, edges, "b<-persons")
	require.Contains(t, edges, "c<-b")

	require.NoError(t, cli.ReplaceDependencies(ctx, 1, "c", nil))
	deps, err = cli.QueryDependencies(ctx, 1)
	require.NoError(t, err)
	require.Len(t, deps, 1)
}

func TestUpsertModels(t *testing.T) {
	t.Parallel()

	cli, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, cli.ReplaceDependencies(ctx, 1, "b", []string{"events"}))
	require.NoError(t, cli.UpsertModels(ctx, []*model.SavedQuery{
		{ID: "a", TeamID: 1, Name: "a", Query: "SELECT 1"},
		{ID: "b", TeamID: 1, Name: "b", Query: "SELECT * FROM a"},
	}, map[string][]string{"b": {"a"}}))

	queries, err := cli.QuerySavedQueries(ctx, 1)
	require.NoError(t, err)
	require.Len(t, queries, 2)
	deps, err := cli.QueryDependencies(ctx, 1)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	require.Equal(t, "b", deps[0].ModelID)
	require.Equal(t, "a", deps[0].ParentLabel)

	// a failure rolls back every model of the batch
	err = cli.UpsertModels(ctx, []*model.SavedQuery{
		{ID: "c", TeamID: 1, Name: "c", Query: "SELECT 2"},
		nil,
	}, map[string][]string{"c": {"events"}})
	require.True(t, errors.Is(err, errors.ErrMetaParamsInvalid))
	_, err = cli.GetSavedQueryByID(ctx, 1, "c")
	require.True(t, IsNotFoundError(err))
	deps, err = cli.QueryDependencies(ctx, 1)
	require.NoError(t, err)
	require.Len(t, deps, 1)

	require.NoError(t, cli.UpsertModels(ctx, nil, nil))
}

func TestQueryDeletedSavedQueryIDs(t *testing.T) {
	t.Parallel()

	cli, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, cli.UpsertModels(ctx, []*model.SavedQuery{
		{ID: "a", TeamID: 1, Name: "a"},
		{ID: "b", TeamID: 1, Name: "b"},
		{ID: "x", TeamID: 2, Name: "x"},
	}, nil))
	_, err := cli.DeleteSavedQuery(ctx, 1, "b")
	require.NoError(t, err)
	_, err = cli.DeleteSavedQuery(ctx, 2, "x")
	require.NoError(t, err)

	ids, err := cli.QueryDeletedSavedQueryIDs(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, ids)
}

func TestWarehouseTable(t *testing.T) {
	t.Parallel()

	cli, _ := newTestClient(t)
	ctx := context.Background()

	stored, err := cli.UpsertWarehouseTable(ctx, &model.WarehouseTable{
		ID: "t1", TeamID: 1, Name: "orders", Format: model.TableFormatParquet,
		URLPattern: "local:///tmp/orders", RowCount: 3, SavedQueryID: "a1",
	})
	require.NoError(t, err)
	require.Equal(t, "t1", stored.ID)
	require.Equal(t, int64(3), stored.RowCount)

	// a second upsert with a new id keeps the original row
	stored, err = cli.UpsertWarehouseTable(ctx, &model.WarehouseTable{
		ID: "t2", TeamID: 1, Name: "orders", Format: model.TableFormatParquet,
		URLPattern: "local:///tmp/orders", RowCount: 7, SavedQueryID: "a1",
	})
	require.NoError(t, err)
	require.Equal(t, "t1", stored.ID)
	require.Equal(t, int64(7), stored.RowCount)

	table, err := cli.GetWarehouseTable(ctx, 1, "orders")
	require.NoError(t, err)
	require.Equal(t, int64(7), table.RowCount)

	res, err := cli.UpdateWarehouseTable(ctx, 1, "orders", model.KeyValueMap{"row_count": 9})
	require.NoError(t, err)
	require.Equal(t, int64(1), res.RowsAffected())
	table, err = cli.GetWarehouseTable(ctx, 1, "orders")
	require.NoError(t, err)
	require.Equal(t, int64(9), table.RowCount)

	res, err = cli.UpdateWarehouseTable(ctx, 2, "orders", model.KeyValueMap{"row_count": 9})
	require.NoError(t, err)
	require.Equal(t, int64(0), res.RowsAffected())

	_, err = cli.GetWarehouseTable(ctx, 2, "orders")
	require.True(t, IsNotFoundError(err))

	_, err = cli.UpsertWarehouseTable(ctx, nil)
	require.True(t, errors.Is(err, errors.ErrMetaParamsInvalid))
}

func TestRunJobLifecycle(t *testing.T) {
	t.Parallel()

	cli, clk := newTestClient(t)
	ctx := context.Background()

	cleaned, err := cli.CreateRunJobAfterCleanup(ctx, &model.RunJob{
		ID: "job1", TeamID: 1, Status: model.JobStatusRunning, WorkflowID: "wf1",
	}, "Job timed out")
	require.NoError(t, err)
	require.Equal(t, int64(0), cleaned)

	// another team's running job is untouched by team 1's cleanup
	_, err = cli.CreateRunJobAfterCleanup(ctx, &model.RunJob{
		ID: "other", TeamID: 2, Status: model.JobStatusRunning,
	}, "Job timed out")
	require.NoError(t, err)

	clk.Add(time.Minute)
	cleaned, err = cli.CreateRunJobAfterCleanup(ctx, &model.RunJob{
		ID: "job2", TeamID: 1, Status: model.JobStatusRunning, WorkflowID: "wf2", WorkflowRunID: "run2",
	}, "Job timed out")
	require.NoError(t, err)
	require.Equal(t, int64(1), cleaned)

	job1, err := cli.GetRunJobByID(ctx, "job1")
	require.NoError(t, err)
	require.Equal(t, model.JobStatusFailed, job1.Status)
	require.Equal(t, "Job timed out", job1.Error)

	require.NoError(t, cli.IncRunJobCounter(ctx, "job2", "rows_expected", 6))
	for _, n := range []int64{3, 2, 1} {
		require.NoError(t, cli.IncRunJobCounter(ctx, "job2", "rows_materialized", n))
	}
	err = cli.IncRunJobCounter(ctx, "job2", "status", 1)
	require.True(t, errors.Is(err, errors.ErrMetaParamsInvalid))

	job2, err := cli.GetRunJobByID(ctx, "job2")
	require.NoError(t, err)
	require.Equal(t, int64(6), job2.RowsExpected)
	require.Equal(t, int64(6), job2.RowsMaterialized)
	require.Equal(t, "run2", job2.WorkflowRunID)

	res, err := cli.FinishRunJob(ctx, "job2", model.JobStatusCompleted, "")
	require.NoError(t, err)
	require.Equal(t, int64(1), res.RowsAffected())
	// terminal exactly once
	res, err = cli.FinishRunJob(ctx, "job2", model.JobStatusFailed, "late failure")
	require.NoError(t, err)
	require.Equal(t, int64(0), res.RowsAffected())
	job2, err = cli.GetRunJobByID(ctx, "job2")
	require.NoError(t, err)
	require.Equal(t, model.JobStatusCompleted, job2.Status)

	_, err = cli.FinishRunJob(ctx, "job2", model.JobStatusRunning, "")
	require.True(t, errors.Is(err, errors.ErrMetaParamsInvalid))

	jobs, err := cli.QueryRunJobs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "job2", jobs[0].ID)
	jobs, err = cli.QueryRunJobs(ctx, 1, model.JobStatusFailed)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "job1", jobs[0].ID)

	stale, err := cli.QueryRunJobsUpdatedBefore(ctx, model.JobStatusRunning, clk.Now().Add(-30*time.Second))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, "other", stale[0].ID)

	res, err = cli.FailRunningJobs(ctx, 2, "failed by test")
	require.NoError(t, err)
	require.Equal(t, int64(1), res.RowsAffected())

	_, err = cli.GetRunJobByID(ctx, "unknown")
	require.True(t, IsNotFoundError(err))
}

func TestMetaOpFail(t *testing.T) {
	t.Parallel()

	sqlDB, mock := mockGetDBConn(t)
	defer sqlDB.Close()
	defer mock.ExpectClose()
	cli, err := NewClient(sqlDB, sqlutil.StoreTypeMySQL)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT [*] FROM `run_jobs` WHERE id").
		WillReturnError(errors.New("connection refused"))
	_, err = cli.GetRunJobByID(context.TODO(), "job1")
	require.True(t, errors.Is(err, errors.ErrMetaOpFail))

	mock.ExpectQuery("SELECT [*] FROM `run_jobs` WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{"seq_id", "id"}))
	_, err = cli.GetRunJobByID(context.TODO(), "job1")
	require.True(t, IsNotFoundError(err))

	mock.ExpectExec("UPDATE `run_jobs` SET `rows_materialized`=rows_materialized [+] [?]").
		WillReturnError(errors.New("lock wait timeout"))
	err = cli.IncRunJobCounter(context.TODO(), "job1", "rows_materialized", 5)
	require.True(t, errors.Is(err, errors.ErrMetaOpFail))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsNotFoundError(t *testing.T) {
	t.Parallel()

	require.True(t, IsNotFoundError(errors.ErrMetaEntryNotFound.GenWithStackByArgs()))
	require.True(t, IsNotFoundError(errors.ErrMetaEntryNotFound.Wrap(errors.New("error"))))
	require.False(t, IsNotFoundError(errors.ErrMetaNewClientFail.Wrap(errors.New("error"))))
	require.False(t, IsNotFoundError(errors.New("error")))
}
