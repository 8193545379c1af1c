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

// TableFormat is the file format of a catalog table.
type TableFormat string

// table formats
const (
	TableFormatParquet TableFormat = "Parquet"
)

// WarehouseTable is a table catalog entry pointing at materialized data.
type WarehouseTable struct {
	Model
	ID           string      `json:"id" gorm:"column:id;type:varchar(32) not null;uniqueIndex:uidx_wt_id"`
	TeamID       TeamID      `json:"team-id" gorm:"column:team_id;type:bigint not null;uniqueIndex:uidx_wt_name"`
	Name         string      `json:"name" gorm:"column:name;type:varchar(256) not null;uniqueIndex:uidx_wt_name"`
	Format       TableFormat `json:"format" gorm:"column:format;type:varchar(16) not null"`
	URLPattern   string      `json:"url-pattern" gorm:"column:url_pattern;type:text"`
	RowCount     int64       `json:"row-count" gorm:"column:row_count;type:bigint"`
	SavedQueryID string      `json:"saved-query-id" gorm:"column:saved_query_id;type:varchar(32)"`
}

// WarehouseTableUpdateColumns is used in upsert
var WarehouseTableUpdateColumns = []string{
	"updated_at",
	"format",
	"url_pattern",
	"row_count",
	"saved_query_id",
}
