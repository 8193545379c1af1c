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

package promutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestComponentFactory(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	f := NewFactory4ComponentImpl(reg, "executor")
	counter := f.NewCounterVec(prometheus.CounterOpts{
		Namespace: "modelflow",
		Subsystem: "test",
		Name:      "nodes_total",
		Help:      "test counter",
	}, []string{"status"})
	counter.WithLabelValues("completed").Add(2)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 1)
	require.Equal(t, "modelflow_test_nodes_total", mfs[0].GetName())
	labels := map[string]string{}
	for _, lp := range mfs[0].GetMetric()[0].GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	require.Equal(t, map[string]string{
		"framework": "true",
		"component": "executor",
		"status":    "completed",
	}, labels)
	require.Equal(t, 2.0, mfs[0].GetMetric()[0].GetCounter().GetValue())

	reg.Unregister("executor")
	mfs, err = reg.Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 0)
}

func TestDuplicateRegisterPanics(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	f := NewFactory4FrameworkImpl(reg)
	opts := prometheus.GaugeOpts{Namespace: "modelflow", Name: "dup", Help: "dup"}
	f.NewGauge(opts)
	require.Panics(t, func() { f.NewGauge(opts) })
}

func TestHTTPHandler(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	f := NewFactory4FrameworkImpl(reg)
	f.NewGauge(prometheus.GaugeOpts{Namespace: "modelflow", Name: "up", Help: "up"}).Set(1)

	srv := httptest.NewServer(HTTPHandlerForMetricImpl(reg))
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `modelflow_up{framework="true"} 1`)
}
