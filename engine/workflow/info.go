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

package workflow

import (
	"context"
)

// Info describes the workflow execution an activity runs for.
type Info struct {
	WorkflowID string
	RunID      string
	TaskQueue  string
	// Attempt starts at 1 and grows each time the workflow is retried.
	Attempt int
}

type infoCtxKey struct{}

func withInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, infoCtxKey{}, info)
}

// InfoFromContext returns the workflow execution ctx belongs to.
func InfoFromContext(ctx context.Context) (Info, bool) {
	info, ok := ctx.Value(infoCtxKey{}).(Info)
	return info, ok
}
