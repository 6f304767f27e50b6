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
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/tomoncle/bunrepo/database"
	"github.com/tomoncle/bunrepo/utils"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config   string
	Format   string // "json" | "text"
	LogLevel string
}

var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the bunrepo operator CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "bunrepo",
		Short: "Operate bunrepo databases",
		Long:  "Run migrations and inspect the health of a database configured by a bunrepo YAML file.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			// Logs go to stderr so JSON output stays parseable.
			utils.ConfigureOutput(cmd.ErrOrStderr())
			utils.ConfigureLogLevel(opts.LogLevel)
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "database config file (YAML)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "json", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", utils.EnvDefaultString("LOG_LEVEL", "warn"), "log level")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewHealthCommand(opts))
	return cmd
}

// connect loads the config and opens the global database without migrating.
func connect(opts *RootOptions) (*database.Config, error) {
	if opts.Config == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := database.LoadConfig(opts.Config)
	if err != nil {
		return nil, err
	}
	cfg.ConnectionConfig.HealthCheckInterval = 0
	if _, err := database.InitDatabaseWithOptions(cfg, false); err != nil {
		return nil, err
	}
	return cfg, nil
}

func writeOutput(w io.Writer, format string, v interface{}, text func(io.Writer)) error {
	if format == "text" {
		text(w)
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
