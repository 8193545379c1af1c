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

package jobs

import (
	"github.com/pingcap/modelflow/engine/pkg/promutil"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	factory = promutil.NewFactory4Component("jobs")

	jobFinishedCounter = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "modelflow",
		Subsystem: "jobs",
		Name:      "finished_total",
		Help:      "Total number of run jobs leaving RUNNING",
	}, []string{"status", "reason"})

	rowsMaterializedCounter = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "modelflow",
		Subsystem: "jobs",
		Name:      "rows_materialized_total",
		Help:      "Total number of rows written by all run jobs",
	})
)
