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
	"github.com/pingcap/modelflow/engine/server"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// teamOptions defines the flags of the commands working on the models or
// jobs of one team.
type teamOptions struct {
	configOpts *util.ConfigOptions

	teamID int64
	cfg    *server.Config
}

func (o *teamOptions) addFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().Int64Var(&o.teamID, "team-id", 0, "the team owning the models")
	_ = cmd.MarkPersistentFlagRequired("team-id")
}

// complete loads the config. localFlags are the flags of the subcommand,
// they are not config items.
func (o *teamOptions) complete(cmd *cobra.Command, localFlags ...string) (err error) {
	o.cfg, err = o.configOpts.Complete(cmd, func(_ *server.Config, flag *pflag.Flag) bool {
		if flag.Name == "team-id" {
			return true
		}
		for _, name := range localFlags {
			if flag.Name == name {
				return true
			}
		}
		return false
	})
	return err
}

func (o *teamOptions) withServer(ctx context.Context, fn func(*server.Server) error) error {
	srv, err := server.NewServer(ctx, o.cfg)
	if err != nil {
		return err
	}
	defer srv.Close()
	return fn(srv)
}
