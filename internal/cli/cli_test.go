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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contextName string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "db.yaml")
	body := fmt.Sprintf(`
connection_config:
  type: sqlite
  dbname: %s
data_migrate_config:
  context_name: %s
`, filepath.Join(dir, "cli"), contextName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"migrate", "health"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.Equal(t, "json", cmd.PersistentFlags().Lookup("format").DefValue)
}

func TestMigrateCommand(t *testing.T) {
	path := writeConfig(t, t.Name())
	out, err := execute(t, "migrate", "--config", path)
	require.NoError(t, err, out)

	var result MigrateResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, t.Name(), result.Context)
	require.Len(t, result.Applied, 1)
	assert.Equal(t, "create_model_tables", result.Applied[0].Name)

	out, err = execute(t, "migrate", "--config", path, "--format", "text")
	require.NoError(t, err, out)
	assert.Contains(t, out, "1 migration(s) applied")
}

func TestHealthCommand(t *testing.T) {
	out, err := execute(t, "health", "--config", writeConfig(t, t.Name()))
	require.NoError(t, err, out)

	var result HealthResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Health.Healthy)
	assert.True(t, result.Health.Connected)
}

func TestCommandErrors(t *testing.T) {
	_, err := execute(t, "health")
	assert.ErrorContains(t, err, "--config is required")

	_, err = execute(t, "health", "--config", writeConfig(t, t.Name()), "--format", "yaml")
	assert.ErrorContains(t, err, "invalid format")

	_, err = execute(t, "migrate", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
