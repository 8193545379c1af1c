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

// JobStatus is the status of a RunJob.
type JobStatus string

// run job status
const (
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// IsTerminated returns whether the status is COMPLETED or FAILED.
func (s JobStatus) IsTerminated() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// RunJob is the persisted record of one model run of a team.
// A RunJob leaves RUNNING exactly once.
type RunJob struct {
	Model
	ID               string    `json:"id" gorm:"column:id;type:varchar(36) not null;uniqueIndex:uidx_job_id"`
	TeamID           TeamID    `json:"team-id" gorm:"column:team_id;type:bigint not null;index:idx_job_team_status"`
	Status           JobStatus `json:"status" gorm:"column:status;type:varchar(16) not null;index:idx_job_team_status"`
	WorkflowID       string    `json:"workflow-id" gorm:"column:workflow_id;type:varchar(128);index:idx_job_workflow"`
	WorkflowRunID    string    `json:"workflow-run-id" gorm:"column:workflow_run_id;type:varchar(128)"`
	Selectors        string    `json:"selectors" gorm:"column:selectors;type:text"`
	RowsMaterialized int64     `json:"rows-materialized" gorm:"column:rows_materialized;type:bigint not null;default:0"`
	RowsExpected     int64     `json:"rows-expected" gorm:"column:rows_expected;type:bigint not null;default:0"`
	Error            string    `json:"error" gorm:"column:error;type:text"`
}
