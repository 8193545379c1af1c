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

package workflow

import (
	"github.com/pingcap/modelflow/engine/pkg/promutil"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	factory = promutil.NewFactory4Component("workflow")

	activityDurationHistogram = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "modelflow",
		Subsystem: "workflow",
		Name:      "activity_duration_seconds",
		Help:      "Bucketed histogram of activity durations, retries included",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 18), // 10ms ~ 1310s
	}, []string{"activity", "result"})

	activityRetryCounter = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "modelflow",
		Subsystem: "workflow",
		Name:      "activity_retries_total",
		Help:      "Total number of activity attempts that were retried",
	}, []string{"activity"})

	workflowFinishedCounter = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "modelflow",
		Subsystem: "workflow",
		Name:      "finished_total",
		Help:      "Total number of finished workflow executions",
	}, []string{"task_queue", "result"})

	runningWorkflowsGauge = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "modelflow",
		Subsystem: "workflow",
		Name:      "running",
		Help:      "Number of workflow executions running",
	}, []string{"task_queue"})
)

const (
	resultSuccess = "success"
	resultError   = "error"
)
