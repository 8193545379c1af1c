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

package executor

import (
	"github.com/pingcap/modelflow/engine/pkg/promutil"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	factory = promutil.NewFactory4Component("executor")

	nodeTerminatedCounter = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "modelflow",
		Subsystem: "executor",
		Name:      "node_terminated_total",
		Help:      "Total number of selected dag nodes reaching a final state",
	}, []string{"state"})

	nodeDurationHistogram = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "modelflow",
		Subsystem: "executor",
		Name:      "node_duration_seconds",
		Help:      "Bucketed histogram of the time spent materializing one node",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 18), // 10ms ~ 1310s
	}, []string{"state"})

	runningNodesGauge = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "modelflow",
		Subsystem: "executor",
		Name:      "running_nodes",
		Help:      "Number of nodes being materialized",
	})
)
