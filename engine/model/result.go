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

package model

// DagRunResult is the outcome of executing a DAG. Only selected nodes are
// reported and every reported node is in exactly one set.
type DagRunResult struct {
	Completed      LabelSet          `json:"completed"`
	Failed         LabelSet          `json:"failed"`
	AncestorFailed LabelSet          `json:"ancestor-failed"`
	Errors         map[string]string `json:"errors"`
}

// NewDagRunResult creates an empty result.
func NewDagRunResult() *DagRunResult {
	return &DagRunResult{
		Completed:      make(LabelSet),
		Failed:         make(LabelSet),
		AncestorFailed: make(LabelSet),
		Errors:         make(map[string]string),
	}
}

// AllSucceeded returns whether no node failed, directly or through an
// ancestor.
func (r *DagRunResult) AllSucceeded() bool {
	return len(r.Failed) == 0 && len(r.AncestorFailed) == 0
}

// Total returns the number of reported nodes.
func (r *DagRunResult) Total() int {
	return len(r.Completed) + len(r.Failed) + len(r.AncestorFailed)
}
