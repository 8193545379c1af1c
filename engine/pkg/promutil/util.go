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
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	systemID    = "modelflow-system"
	frameworkID = "modelflow-framework"
)

const (
	/// framework const lable
	constLabelFrameworkKey = "framework"
	// constLabelComponentKey is used to recognize metrics of one component
	constLabelComponentKey = "component"
)

// HTTPHandlerForMetric return http.Handler for prometheus metric
func HTTPHandlerForMetric() http.Handler {
	return HTTPHandlerForMetricImpl(globalMetricGatherer)
}

// HTTPHandlerForMetricImpl return http.Handler for the given gatherer
func HTTPHandlerForMetricImpl(gather prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(
		gather,
		promhttp.HandlerOpts{},
	)
}

// NewFactory4Framework return a Factory for framework level metrics
func NewFactory4Framework() Factory {
	return NewFactory4FrameworkImpl(globalMetricRegistry)
}

// NewFactory4FrameworkImpl return a Factory registering to reg
func NewFactory4FrameworkImpl(reg *Registry) Factory {
	return &wrappingFactory{
		r:     reg,
		owner: frameworkID,
		constLabels: prometheus.Labels{
			constLabelFrameworkKey: "true",
		},
	}
}

// NewFactory4Component return a Factory for one engine component
func NewFactory4Component(component string) Factory {
	return NewFactory4ComponentImpl(globalMetricRegistry, component)
}

// NewFactory4ComponentImpl return a Factory for one engine component
// registering to reg
func NewFactory4ComponentImpl(reg *Registry, component string) Factory {
	return &wrappingFactory{
		r:     reg,
		owner: component,
		constLabels: prometheus.Labels{
			constLabelFrameworkKey: "true",
			constLabelComponentKey: component,
		},
	}
}

// UnregisterComponentMetrics unregisters all metrics of component
func UnregisterComponentMetrics(component string) {
	globalMetricRegistry.Unregister(component)
}
