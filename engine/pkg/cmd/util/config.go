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

package util

import (
	"github.com/pingcap/log"
	"github.com/pingcap/modelflow/engine/pkg/logutil"
	"github.com/pingcap/modelflow/engine/server"
	"github.com/pingcap/modelflow/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// ConfigOptions binds the flags locating and overriding the config file.
// They are shared by every command.
type ConfigOptions struct {
	ConfigFile string
	LogConf    logutil.Config
}

// NewConfigOptions creates new config options.
func NewConfigOptions() *ConfigOptions {
	return &ConfigOptions{
		LogConf: logutil.DefaultConfig(),
	}
}

// AddFlags binds the shared flags to cmd and its subcommands.
func (o *ConfigOptions) AddFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&o.ConfigFile, "config", "", "Path of the configuration file")
	cmd.PersistentFlags().StringVar(&o.LogConf.File, "log-file", o.LogConf.File, "log file path")
	cmd.PersistentFlags().StringVar(&o.LogConf.Level, "log-level", o.LogConf.Level, "log level (etc: debug|info|warn|error)")
}

// FlagVisitor applies a command specific flag to the config. It returns
// false for flags it doesn't know.
type FlagVisitor func(cfg *server.Config, flag *pflag.Flag) bool

// Complete loads the config file, applies the flags set on the command line
// over it, adjusts the result and initializes the logger.
func (o *ConfigOptions) Complete(cmd *cobra.Command, visit FlagVisitor) (*server.Config, error) {
	cfg := server.GetDefaultConfig()
	if len(o.ConfigFile) > 0 {
		if err := cfg.ConfigFromFile(o.ConfigFile); err != nil {
			return nil, err
		}
	}

	cmd.Flags().Visit(func(flag *pflag.Flag) {
		switch flag.Name {
		case "config":
			// do nothing
		case "log-file":
			cfg.LogConf.File = o.LogConf.File
		case "log-level":
			cfg.LogConf.Level = o.LogConf.Level
		default:
			if visit == nil || !visit(cfg, flag) {
				log.Panic("unknown flag, please report a bug", zap.String("flagName", flag.Name))
			}
		}
	})

	if err := cfg.Adjust(); err != nil {
		return nil, errors.Trace(err)
	}
	if err := logutil.InitLogger(&cfg.LogConf); err != nil {
		return nil, errors.Trace(err)
	}
	return cfg, nil
}
