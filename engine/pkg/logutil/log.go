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
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/pingcap/modelflow/engine/pkg/tenant"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	/// framework const lable
	constFieldFrameworkKey   = "framework"
	constFieldFrameworkValue = true

	/// run const label
	// constFieldTeamKey is used to recognize logs of the same tenant
	constFieldTeamKey = "team_id"
	// constFieldJobKey is used to recognize logs of the same run job
	constFieldJobKey = "job_id"
	// constFieldModelKey is used to recognize logs of the same model
	constFieldModelKey = "model"
	// constFieldComponentKey names the component emitting the log
	constFieldComponentKey = "component"
)

// Config serializes log related config in toml/json.
type Config struct {
	// Log level.
	Level string `toml:"level" json:"level"`
	// Log filename, leave empty to disable file log.
	File string `toml:"file" json:"file"`
	// Log format, one of "text" or "json".
	Format string `toml:"format" json:"format"`
}

// DefaultConfig returns the default log config.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "text",
	}
}

// Adjust fills empty fields with defaults and validates the level.
func (c *Config) Adjust() error {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
		return errors.Annotatef(err, "invalid log level %s", c.Level)
	}
	if c.Format != "text" && c.Format != "json" {
		return errors.Errorf("invalid log format %s", c.Format)
	}
	return nil
}

// InitLogger initializes the global pingcap/log logger.
func InitLogger(cfg *Config) error {
	logger, props, err := log.InitLogger(&log.Config{
		Level:  cfg.Level,
		Format: cfg.Format,
		File: log.FileLogConfig{
			Filename: cfg.File,
		},
	})
	if err != nil {
		return errors.Trace(err)
	}
	log.ReplaceGlobals(logger, props)
	return nil
}

// NewLogger4Framework return a new logger for framework
func NewLogger4Framework() *zap.Logger {
	return log.L().With(
		zap.Bool(constFieldFrameworkKey, constFieldFrameworkValue),
	)
}

// NewLogger4Component returns a framework logger tagged with a component name.
func NewLogger4Component(component string) *zap.Logger {
	return NewLogger4Framework().With(zap.String(constFieldComponentKey, component))
}

// NewLogger4Run return a new logger for a run job
func NewLogger4Run(team tenant.TeamInfo, jobID string) *zap.Logger {
	return log.L().With(
		zap.Int64(constFieldTeamKey, team.TeamID()),
		zap.String(constFieldJobKey, jobID),
	)
}

// NewLogger4Model return a new logger for a model materialized by a run job
func NewLogger4Model(team tenant.TeamInfo, jobID string, label string) *zap.Logger {
	return log.L().With(
		zap.Int64(constFieldTeamKey, team.TeamID()),
		zap.String(constFieldJobKey, jobID),
		zap.String(constFieldModelKey, label),
	)
}
