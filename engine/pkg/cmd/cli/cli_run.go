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

	"github.com/pingcap/modelflow/engine/pkg/cmd/util"
	ormModel "github.com/pingcap/modelflow/engine/pkg/orm/model"
	"github.com/pingcap/modelflow/engine/server"
	"github.com/pingcap/modelflow/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// runOptions defines flags for the `run` command.
type runOptions struct {
	configOpts *util.ConfigOptions

	teamID    int64
	selectors []string
	naming    string
	cfg       *server.Config
}

// addFlags receives a *cobra.Command reference and binds
// flags related to template printing to it.
func (o *runOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&o.teamID, "team-id", 0, "the team owning the models")
	cmd.Flags().StringSliceVarP(&o.selectors, "select", "s", nil,
		"models to run, for example +model, model+ or 2+model+1; every model when empty")
	cmd.Flags().StringVar(&o.naming, "naming", "", "column naming of the output tables (direct|snake_case)")
	_ = cmd.MarkFlagRequired("team-id")
}

// complete adapts from the command line args and config file to the data required.
func (o *runOptions) complete(cmd *cobra.Command) (err error) {
	o.cfg, err = o.configOpts.Complete(cmd, func(cfg *server.Config, flag *pflag.Flag) bool {
		switch flag.Name {
		case "naming":
			cfg.Naming = o.naming
		case "team-id", "select":
			// run inputs
		default:
			return false
		}
		return true
	})
	return err
}

// run runs the selected models once and prints the outcome.
func (o *runOptions) run(ctx context.Context, cmd *cobra.Command) error {
	srv, err := server.NewServer(ctx, o.cfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	res, err := srv.RunOnce(ctx, o.teamID, o.selectors)
	if err != nil {
		return err
	}
	if err := util.JSONPrint(cmd, res); err != nil {
		return err
	}
	if res.Status != ormModel.JobStatusCompleted {
		return errors.Errorf("run %s finished with status %s", res.JobID, res.Status)
	}
	return nil
}

// newCmdRun creates the `run` command.
func newCmdRun(configOpts *util.ConfigOptions) *cobra.Command {
	o := &runOptions{configOpts: configOpts}

	command := &cobra.Command{
		Use:   "run",
		Short: "Materialize the selected models of a team once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.complete(cmd); err != nil {
				return err
			}
			return o.run(cmd.Context(), cmd)
		},
	}

	o.addFlags(command)

	return command
}
