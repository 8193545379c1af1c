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

package cli

import (
	"context"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/pingcap/log"
	"github.com/pingcap/modelflow/engine/pkg/cmd/util"
	"github.com/pingcap/modelflow/engine/server"
	"github.com/pingcap/modelflow/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// memoryLimitRatio is the share of the cgroup memory limit given to the Go
// runtime soft limit.
const memoryLimitRatio = 0.9

// serveOptions defines flags for the `serve` command.
type serveOptions struct {
	configOpts *util.ConfigOptions

	addr string
	cfg  *server.Config
}

// addFlags receives a *cobra.Command reference and binds
// flags related to template printing to it.
func (o *serveOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.addr, "addr", "", "Set the listening address of /metrics and the job api")
}

// complete adapts from the command line args and config file to the data required.
func (o *serveOptions) complete(cmd *cobra.Command) (err error) {
	o.cfg, err = o.configOpts.Complete(cmd, func(cfg *server.Config, flag *pflag.Flag) bool {
		switch flag.Name {
		case "addr":
			cfg.Addr = o.addr
		default:
			return false
		}
		return true
	})
	return err
}

// run runs the server until the context is cancelled.
func (o *serveOptions) run(ctx context.Context) error {
	log.Info("starting modelflow server", zap.Stringer("config", o.cfg))
	if limit, err := memlimit.SetGoMemLimit(memoryLimitRatio); err != nil {
		log.Info("no cgroup memory limit", zap.Error(err))
	} else {
		log.Info("go memory limit set from cgroup", zap.Int64("limit", limit))
	}
	srv, err := server.NewServer(ctx, o.cfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	err = srv.Run(ctx)
	if err != nil && errors.Cause(err) != context.Canceled {
		log.Error("run modelflow server with error", zap.Error(err))
		return errors.Trace(err)
	}
	log.Info("modelflow server exits successfully")
	return nil
}

// newCmdServe creates the `serve` command.
func newCmdServe(configOpts *util.ConfigOptions) *cobra.Command {
	o := &serveOptions{configOpts: configOpts}

	command := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled runs and serve metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.complete(cmd); err != nil {
				return err
			}
			return o.run(cmd.Context())
		},
	}

	o.addFlags(command)

	return command
}
