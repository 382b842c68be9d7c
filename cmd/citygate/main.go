// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command citygate runs the multi-tenant city data admin service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "citygate",
		Short: "Multi-tenant admin service for city data",
		Long: `citygate serves the tenant-scoped admin API and pages for city data.

Configuration is read from the environment (SERVER_*, DB_*, SESSION_*, ...).

Examples:
  citygate serve                 # run the HTTP server
  citygate migrate               # apply the Postgres schema
  citygate bootstrap             # create the initial superuser`,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newMigrateCommand())
	root.AddCommand(newBootstrapCommand())
	return root
}
