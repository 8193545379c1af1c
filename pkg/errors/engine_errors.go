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

package errors

import (
	"github.com/pingcap/errors"
)

// all modelflow errors
var (
	// general errors
	ErrInvalidArgument = errors.Normalize(
		"invalid argument: %s",
		errors.RFCCodeText("MODELFLOW:ErrInvalidArgument"),
	)
	ErrDecodeConfigFile = errors.Normalize(
		"decode config file failed",
		errors.RFCCodeText("MODELFLOW:ErrDecodeConfigFile"),
	)
	ErrConfigUnknownItem = errors.Normalize(
		"config contains unknown configuration options: %s",
		errors.RFCCodeText("MODELFLOW:ErrConfigUnknownItem"),
	)

	// registry and selector errors
	ErrModelNotFound = errors.Normalize(
		"model is not found: team %d, label %s",
		errors.RFCCodeText("MODELFLOW:ErrModelNotFound"),
	)
	ErrModelCycle = errors.Normalize(
		"model dependencies contain a cycle: %s",
		errors.RFCCodeText("MODELFLOW:ErrModelCycle"),
	)
	ErrSelectorInvalid = errors.Normalize(
		"invalid selector expression: %s",
		errors.RFCCodeText("MODELFLOW:ErrSelectorInvalid"),
	)
	ErrInvalidModelIdentifier = errors.Normalize(
		"Invalid model identifier '%s': expected UUID format",
		errors.RFCCodeText("MODELFLOW:ErrInvalidModelIdentifier"),
	)

	// execution errors
	ErrMaterializeModel = errors.Normalize(
		"materialize model %s failed: %s",
		errors.RFCCodeText("MODELFLOW:ErrMaterializeModel"),
	)
	ErrAncestorFailed = errors.Normalize(
		"skipped: upstream model %s failed",
		errors.RFCCodeText("MODELFLOW:ErrAncestorFailed"),
	)
	ErrRunCancelled = errors.Normalize(
		"dag run is cancelled before all nodes reached a terminal state",
		errors.RFCCodeText("MODELFLOW:ErrRunCancelled"),
	)
	ErrNodePanic = errors.Normalize(
		"model %s panicked: %v",
		errors.RFCCodeText("MODELFLOW:ErrNodePanic"),
	)
	ErrDecimalRescale = errors.Normalize(
		"decimal value of column %s can't be rescaled from scale %d to %d exactly",
		errors.RFCCodeText("MODELFLOW:ErrDecimalRescale"),
	)
	ErrSchemaMismatch = errors.Normalize(
		"batch schema mismatch: %s",
		errors.RFCCodeText("MODELFLOW:ErrSchemaMismatch"),
	)

	// job lifecycle errors
	ErrJobNotFound = errors.Normalize(
		"run job is not found: %s",
		errors.RFCCodeText("MODELFLOW:ErrJobNotFound"),
	)
	ErrJobTimedOut = errors.Normalize(
		"Job timed out",
		errors.RFCCodeText("MODELFLOW:ErrJobTimedOut"),
	)
	ErrJobStale = errors.Normalize(
		"Job timed out: no progress since %s",
		errors.RFCCodeText("MODELFLOW:ErrJobStale"),
	)
	ErrJobAlreadyTerminated = errors.Normalize(
		"run job %s is already terminated",
		errors.RFCCodeText("MODELFLOW:ErrJobAlreadyTerminated"),
	)

	// workflow errors
	ErrActivityTimeout = errors.Normalize(
		"activity %s timed out",
		errors.RFCCodeText("MODELFLOW:ErrActivityTimeout"),
	)
	ErrWorkflowTimeout = errors.Normalize(
		"workflow %s timed out",
		errors.RFCCodeText("MODELFLOW:ErrWorkflowTimeout"),
	)
	ErrTaskQueueClosed = errors.Normalize(
		"task queue %s is closed",
		errors.RFCCodeText("MODELFLOW:ErrTaskQueueClosed"),
	)
	ErrTaskQueueFull = errors.Normalize(
		"task queue %s is full",
		errors.RFCCodeText("MODELFLOW:ErrTaskQueueFull"),
	)
	ErrWorkflowAlreadyStarted = errors.Normalize(
		"workflow %s is already running",
		errors.RFCCodeText("MODELFLOW:ErrWorkflowAlreadyStarted"),
	)
	ErrTaskQueueNotFound = errors.Normalize(
		"task queue %s is not registered",
		errors.RFCCodeText("MODELFLOW:ErrTaskQueueNotFound"),
	)

	// meta related errors
	ErrMetaParamsInvalid = errors.Normalize(
		"meta params is invalid: %s",
		errors.RFCCodeText("MODELFLOW:ErrMetaParamsInvalid"),
	)
	ErrMetaOpFail = errors.Normalize(
		"meta operation fail",
		errors.RFCCodeText("MODELFLOW:ErrMetaOpFail"),
	)
	ErrMetaEntryNotFound = errors.Normalize(
		"meta entry not found",
		errors.RFCCodeText("MODELFLOW:ErrMetaEntryNotFound"),
	)
	ErrMetaNewClientFail = errors.Normalize(
		"create meta client fail",
		errors.RFCCodeText("MODELFLOW:ErrMetaNewClientFail"),
	)

	// storage and query engine errors
	ErrStorageOpFail = errors.Normalize(
		"storage operation fail: %s",
		errors.RFCCodeText("MODELFLOW:ErrStorageOpFail"),
	)
	ErrParquetEncode = errors.Normalize(
		"encode parquet part %s failed",
		errors.RFCCodeText("MODELFLOW:ErrParquetEncode"),
	)
	ErrQueryExecute = errors.Normalize(
		"execute model query failed: %s",
		errors.RFCCodeText("MODELFLOW:ErrQueryExecute"),
	)
	ErrUnsupportedColumnType = errors.Normalize(
		"unsupported column type %s of column %s",
		errors.RFCCodeText("MODELFLOW:ErrUnsupportedColumnType"),
	)
)
