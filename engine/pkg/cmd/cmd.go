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

package cmd

import (
	"os"

	"github.com/pingcap/modelflow/engine/pkg/cmd/cli"
	"github.com/pingcap/modelflow/engine/pkg/cmd/util"
)

// Run runs the modelflow command line and exits with a non zero status on
// failure.
func Run() {
	ctx, cancel := util.InitCmd()
	defer cancel()

	cmd := cli.NewCmd()
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		cmd.PrintErrf("Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}
