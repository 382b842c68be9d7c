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

package main

import (
	"fmt"
	"log/slog"

	"github.com/opentrusty/citygate/internal/app"
	"github.com/opentrusty/citygate/internal/config"
	"github.com/opentrusty/citygate/internal/observability/logger"
	"github.com/opentrusty/citygate/internal/store/postgres"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded Postgres schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.StoreBackend != config.StorePostgres {
				return fmt.Errorf("migrate needs STORE_BACKEND=postgres, got %q", cfg.StoreBackend)
			}

			db, err := postgres.New(cmd.Context(), app.PostgresConfig(cfg))
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			applied, err := db.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range applied {
				slog.Info("migration applied", logger.Component("migrate"), logger.String("file", name))
			}
			return nil
		},
	}
}

func newBootstrapCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the superuser named by BOOTSTRAP_EMAIL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.StoreBackend == config.StoreMemory {
				return fmt.Errorf("bootstrap against the memory store has no lasting effect; serve bootstraps it on start")
			}
			if cfg.Bootstrap.Email == "" {
				return fmt.Errorf("BOOTSTRAP_EMAIL and BOOTSTRAP_PASSWORD are required")
			}

			repos, err := app.OpenRepositories(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer repos.Close()

			a, err := app.New(cfg, repos, nil)
			if err != nil {
				return err
			}
			created, err := a.Bootstrap.Bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			slog.Info("bootstrap finished", logger.Component("bootstrap"), logger.Email(cfg.Bootstrap.Email),
				slog.Bool("created", created))
			return nil
		},
	}
}
