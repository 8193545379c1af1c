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

package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pingcap/log"
	"github.com/pingcap/modelflow/engine/jobs"
	"github.com/pingcap/modelflow/engine/workflow"
	"github.com/pingcap/modelflow/pkg/errors"
	"github.com/robfig/cron"
	"go.uber.org/zap"
)

const sweepTimeout = time.Minute

// Schedule is one [[schedule]] entry: a periodic run of a team's models.
type Schedule struct {
	Name string `toml:"name" json:"name"`
	// Cron is a standard five fields expression or a descriptor such as
	// "@hourly" or "@every 30m".
	Cron      string   `toml:"cron" json:"cron"`
	TeamID    int64    `toml:"team-id" json:"team-id"`
	Selectors []string `toml:"selectors" json:"selectors"`
}

// WorkflowID is the id of the executions started by s. Executions of one
// schedule never overlap.
func (s Schedule) WorkflowID() string {
	return fmt.Sprintf("schedule-%s-team-%d", s.Name, s.TeamID)
}

// Validate checks the entry and returns its parsed cron schedule.
func (s Schedule) Validate() (cron.Schedule, error) {
	if strings.TrimSpace(s.Name) == "" {
		return nil, errors.ErrInvalidArgument.GenWithStackByArgs("schedule name is empty")
	}
	sched, err := cron.ParseStandard(s.Cron)
	if err != nil {
		return nil, errors.ErrInvalidArgument.Wrap(err).GenWithStackByArgs(
			fmt.Sprintf("schedule %s: invalid cron %q", s.Name, s.Cron))
	}
	return sched, nil
}

// Scheduler starts run workflows on cron schedules and periodically fails
// stale jobs of every team.
type Scheduler struct {
	cron   *cron.Cron
	client *workflow.Client
	jobs   *jobs.Manager
	conf   *workflow.Config
}

// New creates a Scheduler. Every schedule is validated before anything is
// registered.
func New(
	client *workflow.Client, jobManager *jobs.Manager, conf *workflow.Config, schedules []Schedule,
) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(),
		client: client,
		jobs:   jobManager,
		conf:   conf,
	}
	s.cron.ErrorLog = zap.NewStdLog(log.L())

	names := make(map[string]struct{}, len(schedules))
	for _, sc := range schedules {
		sched, err := sc.Validate()
		if err != nil {
			return nil, err
		}
		if _, ok := names[sc.WorkflowID()]; ok {
			return nil, errors.ErrInvalidArgument.GenWithStackByArgs("duplicated schedule " + sc.Name)
		}
		names[sc.WorkflowID()] = struct{}{}

		sc := sc
		s.cron.Schedule(sched, cron.FuncJob(func() { s.trigger(sc) }))
	}
	if conf.SweepInterval > 0 {
		s.cron.Schedule(cron.Every(conf.SweepInterval), cron.FuncJob(s.sweep))
	}
	return s, nil
}

// Len returns the number of registered entries, the stale sweep included.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Start runs the schedules in the background.
func (s *Scheduler) Start() {
	log.Info("scheduler started", zap.Int("entries", s.Len()))
	s.cron.Start()
}

// Stop stops triggering new runs. Runs already started go on.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Info("scheduler stopped")
}

func (s *Scheduler) trigger(sc Schedule) {
	_, err := s.client.ExecuteWorkflow(context.Background(), sc.WorkflowID(), s.conf.TaskQueue,
		workflow.RunInputs{TeamID: sc.TeamID, Selectors: sc.Selectors}, s.conf.WorkflowOptions())
	if err != nil {
		if errors.Is(err, errors.ErrWorkflowAlreadyStarted) {
			log.Info("previous scheduled run still in progress, skipping",
				zap.String("schedule", sc.Name), zap.Int64("team_id", sc.TeamID))
			return
		}
		log.Warn("start scheduled run failed",
			zap.String("schedule", sc.Name), zap.Int64("team_id", sc.TeamID), zap.Error(err))
		return
	}
	log.Info("scheduled run started",
		zap.String("schedule", sc.Name),
		zap.Int64("team_id", sc.TeamID),
		zap.Strings("selectors", sc.Selectors))
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	n, err := s.jobs.SweepStale(ctx, s.conf.StaleJobTimeout)
	if err != nil {
		log.Warn("sweep stale run jobs failed", zap.Int64("swept", n), zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("stale run jobs swept", zap.Int64("swept", n))
	}
}
