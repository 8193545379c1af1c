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
	"io"

	"github.com/chzyer/readline"
	"github.com/mattn/go-shellwords"
	"github.com/pingcap/modelflow/engine/pkg/cmd/util"
	"github.com/spf13/cobra"
)

// NewCmd creates the root `modelflow` command.
func NewCmd() *cobra.Command {
	o := util.NewConfigOptions()

	cmds := &cobra.Command{
		Use:           "modelflow",
		Short:         "Materialize the data models of teams into the warehouse",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	o.AddFlags(cmds)
	cmds.AddCommand(newCmdServe(o))
	cmds.AddCommand(newCmdRun(o))
	cmds.AddCommand(newCmdModels(o))
	cmds.AddCommand(newCmdJobs(o))
	cmds.AddCommand(newCmdShell())

	return cmds
}

// newCmdShell creates the `shell` command running commands read
// interactively.
func newCmdShell() *cobra.Command {
	var historyFile string
	command := &cobra.Command{
		Use:   "shell",
		Short: "Run modelflow commands interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := readline.NewEx(&readline.Config{
				Prompt:            "modelflow> ",
				HistoryFile:       historyFile,
				InterruptPrompt:   "^C",
				EOFPrompt:         "^D",
				HistorySearchFold: true,
				Stdin:             io.NopCloser(cmd.InOrStdin()),
				Stdout:            cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}
			defer l.Close()
			return runShell(cmd, l.Readline)
		},
	}
	command.Flags().StringVar(&historyFile, "history-file", "/tmp/modelflow.history", "file keeping the command history")
	return command
}

// runShell executes every line returned by readLine as a modelflow command
// until exit or the end of the input.
func runShell(cmd *cobra.Command, readLine func() (string, error)) error {
	for {
		line, err := readLine()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return nil
			}
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		args, err := shellwords.Parse(line)
		if err != nil {
			cmd.Printf("parse command err: %v\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		if args[0] == "shell" {
			cmd.Println("already in shell")
			continue
		}

		command := NewCmd()
		command.SetArgs(args)
		command.SetOut(cmd.OutOrStdout())
		command.SetErr(cmd.OutOrStdout())
		if err := command.ExecuteContext(cmd.Context()); err != nil {
			cmd.Printf("Error: %v\n", err)
		}
	}
}
