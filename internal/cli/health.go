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

	"github.com/spf13/cobra"

	"github.com/tomoncle/bunrepo/database"
)

type HealthResult struct {
	Health *database.HealthStatus `json:"health"`
	Stats  *database.DBStats      `json:"stats"`
}

func NewHealthCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Print database health and pool statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(rootOpts, cmd)
		},
	}
}

func runHealth(opts *RootOptions, cmd *cobra.Command) error {
	if _, err := connect(opts); err != nil {
		return err
	}
	defer func() { _ = database.CloseDB() }()

	result := HealthResult{
		Health: database.GetHealthStatus(cmd.Context()),
		Stats:  database.GetDatabaseStats(),
	}
	if err := writeOutput(cmd.OutOrStdout(), opts.Format, result, func(w io.Writer) {
		_, _ = fmt.Fprintf(w, "healthy=%t connected=%t response=%s open=%d idle=%d\n",
			result.Health.Healthy, result.Health.Connected, result.Health.ResponseTime,
			result.Stats.OpenConns, result.Stats.Idle)
	}); err != nil {
		return err
	}
	if !result.Health.Healthy {
		return fmt.Errorf("database unhealthy: %s", result.Health.LastError)
	}
	return nil
}
