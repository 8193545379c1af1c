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

package tenant

import (
	"fmt"
	"strconv"
)

// TeamID is the id of the tenant owning models and jobs.
type TeamID = int64

// tenant const variables
var (
	// FrameTeamInfo is used by framework level tasks which don't belong to
	// a single team, such as the stale job sweep.
	FrameTeamInfo = TeamInfo{
		teamID: 0,
		name:   "modelflow_root",
	}
	// TestTeamInfo is used in unit tests.
	TestTeamInfo = TeamInfo{
		teamID: 1,
		name:   "modelflow_test",
	}
)

// NewTeamInfo return an immutable TeamInfo
func NewTeamInfo(teamID TeamID, name string) TeamInfo {
	return TeamInfo{
		teamID: teamID,
		name:   name,
	}
}

// TeamInfo is the tenant information resolved before a run is requested.
type TeamInfo struct {
	teamID TeamID
	name   string
}

// TeamID returns the team id
func (t TeamInfo) TeamID() TeamID {
	return t.teamID
}

// Name returns the display name of the team.
func (t TeamInfo) Name() string {
	return t.name
}

// UniqueID returns the string form of the team id, used as a metric label
// and as part of storage keys.
func (t TeamInfo) UniqueID() string {
	return strconv.FormatInt(t.teamID, 10)
}

// StoragePrefix returns the storage key prefix of a model of the team.
func (t TeamInfo) StoragePrefix(modelID string) string {
	return fmt.Sprintf("tenant_%d_model_%s", t.teamID, modelID)
}
