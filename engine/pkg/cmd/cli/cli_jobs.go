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
	"strings"

	"github.com/pingcap/modelflow/engine/pkg/cmd/util"
	ormModel "github.com/pingcap/modelflow/engine/pkg/orm/model"
	"github.com/pingcap/modelflow/engine/server"
	"github.com/spf13/cobra"
)

// newCmdJobs creates the `jobs` command.
func newCmdJobs(configOpts *util.ConfigOptions) *cobra.Command {
	o := &teamOptions{configOpts: configOpts}

	cmds := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect the run jobs of a team",
		Args:  cobra.NoArgs,
	}

	o.addFlags(cmds)
	cmds.AddCommand(newCmdListJobs(o))

	return cmds
}

// newCmdListJobs creates the `jobs list` command.
func newCmdListJobs(o *teamOptions) *cobra.Command {
	var status string
	command := &cobra.Command{
		Use:   "list",
		Short: "List the run jobs of a team, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.complete(cmd, "status"); err != nil {
				return err
			}
			var filter []ormModel.JobStatus
			if status != "" {
				filter = append(filter, ormModel.JobStatus(strings.ToUpper(status)))
			}
			return o.withServer(cmd.Context(), func(srv *server.Server) error {
				jobs, err := srv.ListJobs(cmd.Context(), o.teamID, filter...)
				if err != nil {
					return err
				}
				return util.JSONPrint(cmd, jobs)
			})
		},
	}
	command.Flags().StringVar(&status, "status", "", "only list jobs in this status (RUNNING|COMPLETED|FAILED)")
	return command
}
