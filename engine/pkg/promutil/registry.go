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
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
)

var _ prometheus.Gatherer = globalMetricGatherer

// NOTICE: we don't use prometheus.DefaultRegistry so that only metrics created
// through a Factory are exposed.
var (
	globalMetricRegistry                     = NewRegistry()
	globalMetricGatherer prometheus.Gatherer = globalMetricRegistry
)

func init() {
	globalMetricRegistry.MustRegister(systemID, collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	globalMetricRegistry.MustRegister(systemID, collectors.NewGoCollector())
}

// Registry is used for registering metric
type Registry struct {
	sync.Mutex
	*prometheus.Registry

	// collectorByOwner is for cleaning all collectors of a component
	collectorByOwner map[string][]prometheus.Collector
}

// NewRegistry return a new Registry
func NewRegistry() *Registry {
	return &Registry{
		Registry:         prometheus.NewRegistry(),
		collectorByOwner: make(map[string][]prometheus.Collector),
	}
}

// MustRegister registers the provided Collector of the specified owner
func (r *Registry) MustRegister(owner string, c prometheus.Collector) {
	if c == nil {
		return
	}
	r.Lock()
	defer r.Unlock()

	r.Registry.MustRegister(c)
	r.collectorByOwner[owner] = append(r.collectorByOwner[owner], c)
}

// Unregister unregisters all Collectors of the specified owner
func (r *Registry) Unregister(owner string) {
	r.Lock()
	defer r.Unlock()

	cls, exists := r.collectorByOwner[owner]
	if exists {
		for _, collector := range cls {
			r.Registry.Unregister(collector)
		}
		delete(r.collectorByOwner, owner)
	}
}

// Gather implements Gatherer interface
func (r *Registry) Gather() ([]*dto.MetricFamily, error) {
	// NOT NEED lock here. prometheus.Registry has thread-safe methods
	return r.Registry.Gather()
}

// wrappingFactory creates metrics with const labels and registers them to
// the registry under owner.
type wrappingFactory struct {
	r           *Registry
	owner       string
	constLabels prometheus.Labels
}

func (f *wrappingFactory) labels(own prometheus.Labels) prometheus.Labels {
	merged := make(prometheus.Labels, len(own)+len(f.constLabels))
	for k, v := range own {
		merged[k] = v
	}
	for k, v := range f.constLabels {
		merged[k] = v
	}
	return merged
}

// NewCounter implements Factory.NewCounter.
func (f *wrappingFactory) NewCounter(opts prometheus.CounterOpts) prometheus.Counter {
	opts.ConstLabels = f.labels(opts.ConstLabels)
	c := prometheus.NewCounter(opts)
	f.r.MustRegister(f.owner, c)
	return c
}

// NewCounterVec implements Factory.NewCounterVec.
func (f *wrappingFactory) NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	opts.ConstLabels = f.labels(opts.ConstLabels)
	c := prometheus.NewCounterVec(opts, labelNames)
	f.r.MustRegister(f.owner, c)
	return c
}

// NewGauge implements Factory.NewGauge.
func (f *wrappingFactory) NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	opts.ConstLabels = f.labels(opts.ConstLabels)
	c := prometheus.NewGauge(opts)
	f.r.MustRegister(f.owner, c)
	return c
}

// NewGaugeVec implements Factory.NewGaugeVec.
func (f *wrappingFactory) NewGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
	opts.ConstLabels = f.labels(opts.ConstLabels)
	c := prometheus.NewGaugeVec(opts, labelNames)
	f.r.MustRegister(f.owner, c)
	return c
}

// NewHistogram implements Factory.NewHistogram.
func (f *wrappingFactory) NewHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	opts.ConstLabels = f.labels(opts.ConstLabels)
	c := prometheus.NewHistogram(opts)
	f.r.MustRegister(f.owner, c)
	return c
}

// NewHistogramVec implements Factory.NewHistogramVec.
func (f *wrappingFactory) NewHistogramVec(opts prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec {
	opts.ConstLabels = f.labels(opts.ConstLabels)
	c := prometheus.NewHistogramVec(opts, labelNames)
	f.r.MustRegister(f.owner, c)
	return c
}
