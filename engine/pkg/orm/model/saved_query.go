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

import (
	"time"
)

// ModelStatus is the last known materialization status of a saved query.
type ModelStatus string

// saved query status
const (
	ModelStatusNone      ModelStatus = ""
	ModelStatusRunning   ModelStatus = "RUNNING"
	ModelStatusCompleted ModelStatus = "COMPLETED"
	ModelStatusFailed    ModelStatus = "FAILED"
)

// SavedQuery is a named model definition of a team. Its ID is the model label
// used in selectors and the DAG.
type SavedQuery struct {
	Model
	ID          string      `json:"id" gorm:"column:id;type:varchar(32) not null;uniqueIndex:uidx_sq_id"`
	TeamID      TeamID      `json:"team-id" gorm:"column:team_id;type:bigint not null;index:idx_sq_team"`
	Name        string      `json:"name" gorm:"column:name;type:varchar(256) not null"`
	Query       string      `json:"query" gorm:"column:query;type:text"`
	Status      ModelStatus `json:"status" gorm:"column:status;type:varchar(16)"`
	LatestError string      `json:"latest-error" gorm:"column:latest_error;type:text"`
	LastRunAt   *time.Time  `json:"last-run-at" gorm:"column:last_run_at"`
	TableID     string      `json:"table-id" gorm:"column:table_id;type:varchar(32)"`
	Deleted     bool        `json:"deleted" gorm:"column:deleted;index:idx_sq_team"`
}

// SavedQueryUpdateColumns is used in upsert
var SavedQueryUpdateColumns = []string{
	"updated_at",
	"name",
	"query",
	"deleted",
}

// ModelDependency is one "model selects from parent" edge. ParentLabel is
// either another saved query id or the name of a built-in source.
type ModelDependency struct {
	Model
	TeamID      TeamID `json:"team-id" gorm:"column:team_id;type:bigint not null;index:idx_dep_team"`
	ModelID     string `json:"model-id" gorm:"column:model_id;type:varchar(32) not null;uniqueIndex:uidx_dep"`
	ParentLabel string `json:"parent-label" gorm:"column:parent_label;type:varchar(128) not null;uniqueIndex:uidx_dep"`
}
