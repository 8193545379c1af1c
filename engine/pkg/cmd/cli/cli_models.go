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
	"github.com/pingcap/modelflow/engine/pkg/cmd/util"
	"github.com/pingcap/modelflow/engine/server"
	"github.com/spf13/cobra"
)

// newCmdModels creates the `models` command.
func newCmdModels(configOpts *util.ConfigOptions) *cobra.Command {
	o := &teamOptions{configOpts: configOpts}

	cmds := &cobra.Command{
		Use:   "models",
		Short: "Manage the models of a team",
		Args:  cobra.NoArgs,
	}

	o.addFlags(cmds)
	cmds.AddCommand(newCmdImportModels(o))
	cmds.AddCommand(newCmdListModels(o))

	return cmds
}

// newCmdImportModels creates the `models import` command.
func newCmdImportModels(o *teamOptions) *cobra.Command {
	var file string
	command := &cobra.Command{
		Use:   "import",
		Short: "Register the models of a yaml manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.complete(cmd, "file"); err != nil {
				return err
			}
			return o.withServer(cmd.Context(), func(srv *server.Server) error {
				ids, err := srv.ImportModels(cmd.Context(), o.teamID, file)
				if err != nil {
					return err
				}
				return util.JSONPrint(cmd, ids)
			})
		},
	}
	command.Flags().StringVarP(&file, "file", "f", "", "the manifest of the models")
	_ = command.MarkFlagRequired("file")
	return command
}

// newCmdListModels creates the `models list` command.
func newCmdListModels(o *teamOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the models of a team with their last run status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.complete(cmd); err != nil {
				return err
			}
			return o.withServer(cmd.Context(), func(srv *server.Server) error {
				models, err := srv.Meta.QuerySavedQueries(cmd.Context(), o.teamID)
				if err != nil {
					return err
				}
				return util.JSONPrint(cmd, models)
			})
		},
	}
}
