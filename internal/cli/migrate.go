/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomoncle/bunrepo/database"
)

// MigrateResult is printed by the migrate command.
type MigrateResult struct {
	Context    string               `json:"context"`
	Applied    []database.Migration `json:"applied"`
	DurationMs int64                `json:"duration_ms"`
}

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations",
		Long: `Connect to the configured database, create the migration tracking
table and the tables of registered models, then apply pending steps.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, cmd)
		},
	}
}

func runMigrate(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := connect(opts)
	if err != nil {
		return err
	}
	defer func() { _ = database.CloseDB() }()

	ctx := cmd.Context()
	start := time.Now()
	manager := database.GetDatabaseManager()
	if err := manager.RunMigrations(ctx); err != nil {
		return err
	}
	applied, err := manager.Migrations().GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	result := MigrateResult{
		Context:    cfg.DataMigrateConfig.ContextName,
		Applied:    applied,
		DurationMs: time.Since(start).Milliseconds(),
	}
	return writeOutput(cmd.OutOrStdout(), opts.Format, result, func(w io.Writer) {
		_, _ = fmt.Fprintf(w, "context %s: %d migration(s) applied\n", result.Context, len(applied))
		for _, m := range applied {
			_, _ = fmt.Fprintf(w, "  %s  %-28s %s\n", m.Version, m.Name, m.AppliedAt.Format(time.RFC3339))
		}
	})
}
