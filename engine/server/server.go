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
	"database/sql"
	"encoding/json"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"sync"

	"github.com/pingcap/log"
	"github.com/pingcap/modelflow/engine/jobs"
	"github.com/pingcap/modelflow/engine/materialize"
	"github.com/pingcap/modelflow/engine/pkg/cache"
	"github.com/pingcap/modelflow/engine/pkg/clock"
	"github.com/pingcap/modelflow/engine/pkg/deps"
	"github.com/pingcap/modelflow/engine/pkg/orm"
	ormModel "github.com/pingcap/modelflow/engine/pkg/orm/model"
	"github.com/pingcap/modelflow/engine/pkg/promutil"
	"github.com/pingcap/modelflow/engine/pkg/quota"
	"github.com/pingcap/modelflow/engine/pkg/sqlutil"
	"github.com/pingcap/modelflow/engine/pkg/storage"
	"github.com/pingcap/modelflow/engine/pkg/tenant"
	"github.com/pingcap/modelflow/engine/query"
	"github.com/pingcap/modelflow/engine/registry"
	"github.com/pingcap/modelflow/engine/scheduler"
	"github.com/pingcap/modelflow/engine/workflow"
	"github.com/pingcap/modelflow/pkg/errors"
	"github.com/pingcap/modelflow/pkg/uuid"
	"go.uber.org/dig"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const jobAPIPath = "/api/v1/jobs"

// Option customizes a Server.
type Option func(*Server)

// WithClock sets the clock of every component.
func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

// WithUUIDGenerator sets the generator of model, job and workflow ids.
func WithUUIDGenerator(gen uuid.Generator) Option {
	return func(s *Server) {
		s.gen = gen
	}
}

type components struct {
	dig.In

	Meta     orm.Client
	Engine   *query.SQLEngine
	Store    storage.TableStore
	Counts   *cache.Cache[int64]
	Jobs     *jobs.Manager
	Registry registry.Registry
	Workflow *workflow.RunWorkflow
}

// Server wires the metastore, the event store and the warehouse into the
// run workflow, its worker and the scheduler.
type Server struct {
	cfg   *Config
	clock clock.Clock
	gen   uuid.Generator

	components
	worker *workflow.Worker
	client *workflow.Client

	closeOnce sync.Once
	closers   []func()
}

// NewServer opens every store of cfg. cfg must have been adjusted.
func NewServer(ctx context.Context, cfg *Config, opts ...Option) (_ *Server, err error) {
	s := &Server{
		cfg:   cfg,
		clock: clock.New(),
		gen:   uuid.NewGenerator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	d := deps.NewDeps()
	if err := d.Provide(
		s.newMetaClient,
		s.newQueryEngine,
		func() (storage.TableStore, error) {
			store, err := storage.NewTableStore(ctx, cfg.Storage)
			if err != nil {
				return nil, err
			}
			s.closers = append(s.closers, store.Close)
			return store, nil
		},
		func() *cache.Cache[int64] {
			counts := cache.New[int64](cfg.CountCacheTTL, 0)
			counts.Start()
			s.closers = append(s.closers, counts.Stop)
			return counts
		},
		func(meta orm.Client) *jobs.Manager {
			return jobs.NewManager(meta, jobs.WithClock(s.clock), jobs.WithUUIDGenerator(s.gen))
		},
		func(meta orm.Client) registry.Registry {
			return registry.NewRegistry(meta, cfg.Registry.BuiltinSources)
		},
		func(
			engine *query.SQLEngine, store storage.TableStore, meta orm.Client,
			manager *jobs.Manager, counts *cache.Cache[int64],
		) *materialize.Pipeline {
			return materialize.NewPipeline(engine, store, meta, manager,
				materialize.WithNaming(materialize.ResolveNamingMode(cfg.Naming)),
				materialize.WithCountCache(counts),
				materialize.WithClock(s.clock))
		},
		func(
			meta orm.Client, reg registry.Registry, manager *jobs.Manager,
			pipeline *materialize.Pipeline, store storage.TableStore,
		) *workflow.Activities {
			return workflow.NewActivities(meta, reg, manager, pipeline, store,
				workflow.WithModelQuota(quota.NewConcurrencyQuota(cfg.Execution.MaxConcurrentModels)),
				workflow.WithActivitiesClock(s.clock),
				workflow.WithTableIDGenerator(s.gen))
		},
		func(a *workflow.Activities) *workflow.RunWorkflow {
			return workflow.NewRunWorkflow(a, cfg.Execution)
		},
	); err != nil {
		return nil, err
	}
	if err := d.Fill(&s.components); err != nil {
		return nil, err
	}
	if err := s.Meta.Initialize(ctx); err != nil {
		return nil, err
	}

	s.worker = s.Workflow.NewWorker(cfg.Execution)
	s.client = workflow.NewClient(workflow.WithUUIDGenerator(s.gen))
	s.client.RegisterWorker(s.worker)
	return s, nil
}

func (s *Server) newMetaClient() (orm.Client, error) {
	meta, err := orm.NewClientWithConfig(s.cfg.Metastore, orm.WithClock(s.clock))
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() {
		if err := meta.Close(); err != nil {
			log.Warn("close metastore failed", zap.Error(err))
		}
	})
	return meta, nil
}

func (s *Server) newQueryEngine() (*query.SQLEngine, error) {
	db, err := sqlutil.NewSQLDB(s.cfg.EventStore)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() { closeDB(db) })
	engine, err := query.NewSQLEngine(db,
		query.WithBatchSize(s.cfg.Query.BatchSize),
		query.WithStmtCacheSize(s.cfg.Query.StmtCacheSize))
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, engine.Close)
	return engine, nil
}

func closeDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		log.Warn("close event store failed", zap.Error(err))
	}
}

// Close releases every store, in the reverse order they were opened.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		for i := len(s.closers) - 1; i >= 0; i-- {
			s.closers[i]()
		}
	})
}

// Client returns the client submitting run workflows to the server's worker.
func (s *Server) Client() *workflow.Client {
	return s.client
}

// Run runs the worker, the schedules and the http server until ctx is done
// or one of them fails.
func (s *Server) Run(ctx context.Context) error {
	sched, err := scheduler.New(s.client, s.Jobs, s.cfg.Execution, s.cfg.Schedules)
	if err != nil {
		return err
	}

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return s.worker.Run(ctx)
	})
	wg.Go(func() error {
		sched.Start()
		<-ctx.Done()
		sched.Stop()
		return nil
	})
	if s.cfg.Addr != "" {
		if err := s.startHTTPService(ctx, wg); err != nil {
			return err
		}
	}
	log.Info("modelflow server started",
		zap.String("addr", s.cfg.Addr),
		zap.String("task-queue", s.worker.TaskQueue()),
		zap.Int("schedules", len(s.cfg.Schedules)))
	return wg.Wait()
}

func (s *Server) startHTTPService(ctx context.Context, wg *errgroup.Group) error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.Annotatef(err, "listen %s", s.cfg.Addr)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/metrics", promutil.HTTPHandlerForMetric())
	mux.HandleFunc(jobAPIPath, s.handleListJobs)
	httpSrv := &http.Server{Handler: mux}

	wg.Go(func() error {
		<-ctx.Done()
		return httpSrv.Close()
	})
	wg.Go(func() error {
		err := httpSrv.Serve(lis)
		if err != nil && err != http.ErrServerClosed {
			log.L().Error("http server returned", zap.Error(err))
			return err
		}
		return nil
	})
	return nil
}

// handleListJobs serves GET /api/v1/jobs?team-id=1&status=RUNNING.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	teamID, err := strconv.ParseInt(r.URL.Query().Get("team-id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid team-id", http.StatusBadRequest)
		return
	}
	var status []ormModel.JobStatus
	if st := r.URL.Query().Get("status"); st != "" {
		status = append(status, ormModel.JobStatus(st))
	}
	jobList, err := s.ListJobs(r.Context(), teamID, status...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(jobList); err != nil {
		log.Warn("write job list failed", zap.Error(err))
	}
}

// RunOnce runs the models of a team chosen by selectors and waits for the
// outcome. It drives the worker itself, so a Server either serves with Run or
// runs once.
func (s *Server) RunOnce(ctx context.Context, teamID tenant.TeamID, selectors []string) (*workflow.RunResult, error) {
	workerCtx, cancel := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		_ = s.worker.Run(workerCtx)
	}()
	defer func() {
		cancel()
		<-workerDone
	}()

	run, err := s.client.ExecuteWorkflow(ctx, "run-"+s.gen.NewString(), s.worker.TaskQueue(),
		workflow.RunInputs{TeamID: teamID, Selectors: selectors}, s.cfg.Execution.WorkflowOptions())
	if err != nil {
		return nil, err
	}
	log.Info("run started", zap.String("workflow_id", run.ID()), zap.Int64("team_id", teamID))
	return run.Get(ctx)
}

// ImportModels registers the models of the manifest at path for a team.
func (s *Server) ImportModels(ctx context.Context, teamID tenant.TeamID, path string) ([]string, error) {
	m, err := registry.LoadManifest(path)
	if err != nil {
		return nil, err
	}
	ids, err := registry.Register(ctx, s.Meta, teamID, m.Models, s.cfg.Registry.BuiltinSources, s.gen)
	if err != nil {
		return nil, err
	}
	log.Info("models imported", zap.Int64("team_id", teamID), zap.Strings("models", ids))
	return ids, nil
}

// ListJobs returns the run jobs of a team, newest first.
func (s *Server) ListJobs(
	ctx context.Context, teamID tenant.TeamID, status ...ormModel.JobStatus,
) ([]*ormModel.RunJob, error) {
	return s.Jobs.ListJobs(ctx, teamID, status...)
}
