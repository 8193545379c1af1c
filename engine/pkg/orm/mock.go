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

package orm

import (
	"context"
	"time"

	"github.com/pingcap/modelflow/engine/pkg/clock"
	"github.com/pingcap/modelflow/engine/pkg/sqlutil"
)

// NewMockClient creates a client over a private in-memory sqlite database
// with all tables created.
func NewMockClient(opts ...ClientOption) (Client, error) {
	conf := sqlutil.DefaultStoreConfig()
	cli, err := NewClientWithConfig(conf, opts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := cli.Initialize(ctx); err != nil {
		cli.Close()
		return nil, err
	}

	return cli, nil
}

// NewMockClientWithClock is NewMockClient stamping rows with c.
func NewMockClientWithClock(c clock.Clock) (Client, error) {
	return NewMockClient(WithClock(c))
}
