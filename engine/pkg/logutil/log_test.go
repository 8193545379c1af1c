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

package logutil

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/pingcap/log"
	"github.com/pingcap/modelflow/engine/pkg/tenant"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "test.log")

	cfg := &Config{Level: "warn", File: testFile}
	require.NoError(t, cfg.Adjust())
	require.NoError(t, InitLogger(cfg))

	logger := NewLogger4Framework()
	logger.Warn("framework test", zap.String("type", "framework"))
	logger = NewLogger4Run(tenant.NewTeamInfo(7, "team7"), "job1")
	logger.Warn("run test", zap.String("type", "run"))
	logger = NewLogger4Model(tenant.NewTeamInfo(7, "team7"), "job1", "model1")
	logger.Warn("model test", zap.String("type", "model"))
	logger.Info("filtered")
	require.NoError(t, log.L().Sync())

	content, err := os.ReadFile(testFile)
	require.NoError(t, err)
	text := string(content)
	require.Regexp(t, regexp.QuoteMeta("[\"framework test\"] [framework=true] [type=framework]"), text)
	require.Regexp(t, regexp.QuoteMeta("[\"run test\"] [team_id=7] [job_id=job1] [type=run]"), text)
	require.Regexp(t, regexp.QuoteMeta("[\"model test\"] [team_id=7] [job_id=job1] [model=model1] [type=model]"), text)
	require.NotContains(t, text, "filtered")
}

func TestConfigAdjust(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	require.NoError(t, cfg.Adjust())
	require.Equal(t, DefaultConfig(), *cfg)

	cfg = &Config{Level: "verbose"}
	require.Error(t, cfg.Adjust())

	cfg = &Config{Level: "debug", Format: "xml"}
	require.Error(t, cfg.Adjust())
}
