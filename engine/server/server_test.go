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

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/phayes/freeport"
	"github.com/pingcap/modelflow/engine/pkg/orm"
	ormModel "github.com/pingcap/modelflow/engine/pkg/orm/model"
	"github.com/pingcap/modelflow/engine/pkg/sqlutil"
	"github.com/pingcap/modelflow/engine/scheduler"
	"github.com/pingcap/modelflow/engine/workflow"
	"github.com/pingcap/modelflow/pkg/errors"
	"github.com/pingcap/modelflow/pkg/leakutil"
	"github.com/stretchr/testify/require"
)

const testManifest = `
models:
  - name: all_events
    query: SELECT event, distinct_id FROM events
    parents: [events]
  - name: events_a
    query: SELECT event, distinct_id FROM events WHERE distinct_id = 'a'
    parents: [all_events]
`

func TestMain(m *testing.M) {
	leakutil.SetUpLeakTest(m)
}

func newTestConfig(t *testing.T) *Config {
	dir := t.TempDir()
	cfg := GetDefaultConfig()
	cfg.Addr = ""
	cfg.Metastore.File = filepath.Join(dir, "meta.db")
	cfg.EventStore.File = filepath.Join(dir, "events.db")
	cfg.Storage.URI = "file://" + filepath.Join(dir, "warehouse")
	require.NoError(t, cfg.Adjust())

	db, err := sqlutil.NewSQLDB(cfg.EventStore)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`CREATE TABLE events (event TEXT, distinct_id TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO events (event, distinct_id) VALUES
		('$pageview', 'a'), ('$pageview', 'a'), ('$pageview', 'b')`)
	require.NoError(t, err)
	return cfg
}

func writeManifest(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testManifest), 0o600))
	return path
}

func TestServerRunOnce(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	s, err := NewServer(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()

	ids, err := s.ImportModels(ctx, 1, writeManifest(t))
	require.NoError(t, err)
	require.Len(t, ids, 2)

	res, err := s.RunOnce(ctx, 1, nil)
	require.NoError(t, err)
	require.Equal(t, ormModel.JobStatusCompleted, res.Status)
	require.ElementsMatch(t, ids, res.Result.Completed.Sorted())

	jobList, err := s.ListJobs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, jobList, 1)
	require.Equal(t, res.JobID, jobList[0].ID)
	require.Equal(t, int64(5), jobList[0].RowsMaterialized)

	sq, err := s.Meta.GetSavedQueryByID(ctx, 1, ids[1])
	require.NoError(t, err)
	require.Equal(t, ormModel.ModelStatusCompleted, sq.Status)
	require.NotEmpty(t, sq.TableID)
	s.Close()

	// the metastore outlives the server
	meta, err := orm.NewClientWithConfig(cfg.Metastore)
	require.NoError(t, err)
	defer meta.Close()
	jobList, err = meta.QueryRunJobs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, jobList, 1)
}

func TestServerRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := newTestConfig(t)
	s, err := NewServer(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.ImportModels(ctx, 1, writeManifest(t))
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Run(ctx)
	}()

	run, err := s.Client().ExecuteWorkflow(ctx, "wf-1", cfg.Execution.TaskQueue,
		workflow.RunInputs{TeamID: 1, Selectors: []string{}}, cfg.Execution.WorkflowOptions())
	require.NoError(t, err)
	res, err := run.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, ormModel.JobStatusCompleted, res.Status)

	rec := httptest.NewRecorder()
	s.handleListJobs(rec, httptest.NewRequest(http.MethodGet, jobAPIPath+"?team-id=1&status=COMPLETED", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var jobList []*ormModel.RunJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobList))
	require.Len(t, jobList, 1)
	require.Equal(t, "wf-1", jobList[0].WorkflowID)

	rec = httptest.NewRecorder()
	s.handleListJobs(rec, httptest.NewRequest(http.MethodGet, jobAPIPath+"?team-id=x", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = httptest.NewRecorder()
	s.handleListJobs(rec, httptest.NewRequest(http.MethodPost, jobAPIPath, nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	cancel()
	err = <-errCh
	require.Equal(t, context.Canceled, errors.Cause(err))
}

func TestServerHTTPService(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := newTestConfig(t)
	port, err := freeport.GetFreePort()
	require.NoError(t, err)
	cfg.Addr = fmt.Sprintf("127.0.0.1:%d", port)
	s, err := NewServer(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Run(ctx)
	}()

	cli := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	get := func(path string) int {
		resp, err := cli.Get(fmt.Sprintf("http://%s%s", cfg.Addr, path))
		if err != nil {
			return 0
		}
		defer resp.Body.Close()
		return resp.StatusCode
	}
	require.Eventually(t, func() bool {
		return get("/metrics") == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)
	require.Equal(t, http.StatusOK, get(jobAPIPath+"?team-id=1"))
	require.Equal(t, http.StatusBadRequest, get(jobAPIPath))

	cancel()
	err = <-errCh
	require.Equal(t, context.Canceled, errors.Cause(err))
}

func TestNewServerFails(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	cfg.Storage.URI = "unknown://bucket/prefix"
	_, err := NewServer(ctx, cfg)
	require.Error(t, err)

	cfg = newTestConfig(t)
	cfg.Schedules = append(cfg.Schedules, scheduler.Schedule{Name: "bad", Cron: "not a cron"})
	s, err := NewServer(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()
	require.True(t, errors.Is(s.Run(ctx), errors.ErrInvalidArgument))
}
