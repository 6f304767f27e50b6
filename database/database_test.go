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

package database

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type widget struct {
	bun.BaseModel `bun:"table:widgets"`

	ID   int64  `bun:"id,pk,autoincrement"`
	Name string `bun:"name,unique,notnull"`
}

type gadget struct {
	bun.BaseModel `bun:"table:gadgets"`

	ID       int64 `bun:"id,pk,autoincrement"`
	WidgetID int64 `bun:"widget_id"`
}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestIsSqlError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		is   bool
		kind SQLError
	}{
		{"nil", nil, false, UnknownErr},
		{"no rows", fmt.Errorf("load: %w", sql.ErrNoRows), true, NoRowsErr},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, true, DuplicateKeyErr},
		{"mysql unknown code", &mysql.MySQLError{Number: 9999}, true, UnknownErr},
		{"pq unique", &pq.Error{Code: "23505"}, true, DuplicateKeyErr},
		{"pq missing table", &pq.Error{Code: "42P01"}, true, NoTableErr},
		{"sqlite unique", errors.New("constraint failed: UNIQUE constraint failed: widgets.name (2067)"), true, DuplicateKeyErr},
		{"sqlite missing table", errors.New("SQL logic error: no such table: nope (1)"), true, NoTableErr},
		{"index exists", errors.New(`index "idx_a" already exists`), true, ExistIndexErr},
		{"table exists", errors.New(`table "a" already exists`), true, ExistTableErr},
		{"not sql", errors.New("boom"), false, UnknownErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is, kind := IsSqlError(tt.err)
			assert.Equal(t, tt.is, is)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestIsDuplicateKeyWithSQLite(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	_, err := db.NewCreateTable().Model((*widget)(nil)).Exec(ctx)
	require.NoError(t, err)

	_, err = db.NewInsert().Model(&widget{Name: "a"}).Exec(ctx)
	require.NoError(t, err)
	_, err = db.NewInsert().Model(&widget{Name: "a"}).Exec(ctx)
	require.Error(t, err)
	assert.True(t, IsDuplicateKey(err))
	assert.Equal(t, "duplicate_key", DuplicateKeyErr.String())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
connection_config:
  type: postgres
  host: db.internal
  port: 5433
  slow_query_time: 750ms
  enable_metrics: true
data_migrate_config:
  enable_migrate_on_startup: true
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.ConnectionConfig.Type)
	assert.Equal(t, "db.internal", cfg.ConnectionConfig.Host)
	assert.Equal(t, 5433, cfg.ConnectionConfig.Port)
	assert.Equal(t, 750*time.Millisecond, cfg.ConnectionConfig.SlowQueryTime)
	assert.True(t, cfg.ConnectionConfig.EnableMetrics)
	assert.Equal(t, 100, cfg.ConnectionConfig.MaxOpenConns, "defaults survive")
	assert.True(t, cfg.DataMigrateConfig.EnableMigrateOnStartup)
	assert.True(t, cfg.DataMigrateConfig.CreateRegisteredModels)
	assert.Equal(t, DefaultMigrationContext, cfg.DataMigrateConfig.ContextName)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestOverrideFromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "override")
	t.Setenv("DB_PORT", "6000")
	t.Setenv("DB_CONN_MAX_LIFETIME", "60")
	t.Setenv("DB_SLOW_QUERY_TIME", "500ms")
	t.Setenv("DB_ENABLE_QUERY_LOG", "true")

	cfg := DefaultConnectionConfig()
	cfg.Host = "config"
	cfg.Username = "kept"
	overrideFromEnv(cfg)

	assert.Equal(t, "override", cfg.Host)
	assert.Equal(t, 6000, cfg.Port)
	assert.Equal(t, "kept", cfg.Username)
	assert.Equal(t, time.Minute, cfg.ConnMaxLifetime)
	assert.Equal(t, 500*time.Millisecond, cfg.SlowQueryTime)
	assert.True(t, cfg.EnableQueryLog)
}

func TestCreateFromConfigRejectsUnknownType(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConnectionConfig.Type = "oracle"
	_, err := NewDatabaseFactory().CreateFromConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")

	_, err = NewDatabaseFactory().CreateFromConfig(nil)
	assert.Error(t, err)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "file::memory:?cache=shared", sqliteDSN(""))
	assert.Equal(t, "file::memory:?cache=shared", sqliteDSN(":memory:"))
	assert.Equal(t, "app.db", sqliteDSN("app"))
	assert.Equal(t, "data/app.db", sqliteDSN("data/app.db"))
	assert.Equal(t, "file:x?mode=ro", sqliteDSN("file:x?mode=ro"))
}

func TestMetricsHook(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	hook, err := NewMetricsHook(reg, "test")
	require.NoError(t, err)

	db := newTestDB(t)
	db.AddQueryHook(hook)

	_, err = db.NewCreateTable().Model((*widget)(nil)).Exec(ctx)
	require.NoError(t, err)
	_, err = db.NewInsert().Model(&widget{Name: "a"}).Exec(ctx)
	require.NoError(t, err)
	var w widget
	err = db.NewSelect().Model(&w).Where("name = ?", "nobody").Scan(ctx)
	require.ErrorIs(t, err, sql.ErrNoRows)
	_, err = db.ExecContext(ctx, "SELECT * FROM missing_table")
	require.Error(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(hook.queries.WithLabelValues("INSERT")))
	assert.Equal(t, float64(2), testutil.ToFloat64(hook.queries.WithLabelValues("SELECT")))
	assert.Equal(t, float64(1), testutil.ToFloat64(hook.errors.WithLabelValues("SELECT", "no_table")))
	assert.Equal(t, 1, testutil.CollectAndCount(hook.errors), "no rows is not an error")

	again, err := NewMetricsHook(reg, "test")
	require.NoError(t, err, "re-registering reuses collectors")
	assert.Same(t, hook.queries, again.queries)
}

func TestQueryHookEcho(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	db := newTestDB(t)
	db.AddQueryHook(NewQueryHook(&buf, ""))

	_, err := db.NewCreateTable().Model((*widget)(nil)).Exec(ctx)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `CREATE TABLE "widgets"`)

	buf.Reset()
	restore := SilenceQueryEcho()
	_, err = db.NewInsert().Model(&widget{Name: "quiet"}).Exec(ctx)
	require.NoError(t, err)
	restore()
	restore()
	assert.Empty(t, buf.String())
	assert.False(t, echoSilenced())
}

func TestSlowQueryHook(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	db := newTestDB(t)
	db.AddQueryHook(NewSlowQueryHook(-time.Second, NewDefaultLogger(l)))

	_, err := db.ExecContext(ctx, "SELECT 1")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Database slow query detected")
	assert.Contains(t, buf.String(), "slow_threshold")
}

func TestToFields(t *testing.T) {
	f := toFields([]interface{}{"a", 1, "b"})
	assert.Equal(t, 1, f["a"])
	assert.Equal(t, "b", f["!BADKEY"])
	assert.Empty(t, toFields(nil))
}

func TestModelRegistryOrder(t *testing.T) {
	reg := NewModelRegistry()
	reg.Register(NewModelAdapter((*gadget)(nil), 20))
	reg.Register(NewModelAdapter((*widget)(nil), 10))
	reg.Register(NewModelAdapter((*gadget)(nil), 5))
	reg.Register(nil)

	models := reg.Models()
	require.Len(t, models, 2, "same type registers once")
	assert.Equal(t, 5, models[0].Priority())
	assert.IsType(t, (*gadget)(nil), reg.Instances()[0])
	assert.IsType(t, (*widget)(nil), reg.Instances()[1])
}

func TestMigrationGuard(t *testing.T) {
	ctx := context.Background()
	g := &MigrationGuard{}
	var runs atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, g.Do(ctx, func(ctx context.Context) error {
				runs.Add(1)
				time.Sleep(5 * time.Millisecond)
				return nil
			}))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), runs.Load())
	assert.True(t, g.Done())
}

func TestMigrationGuardRetriesAfterFailure(t *testing.T) {
	ctx := context.Background()
	g := &MigrationGuard{}
	boom := errors.New("boom")

	err := g.Do(ctx, func(ctx context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.False(t, g.Done())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = g.Do(cancelled, func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, g.Done())

	require.NoError(t, g.Do(ctx, func(ctx context.Context) error { return nil }))
	assert.True(t, g.Done())
	assert.Same(t, GuardFor(t.Name()), GuardFor(t.Name()))
}

func TestMigrationManager(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	reg := NewModelRegistry()
	reg.Register(NewModelAdapter((*widget)(nil), 1))

	mm := NewMigrationManager(db, nil, WithContextName(t.Name()), WithModelRegistry(reg))
	require.NoError(t, mm.AddMigration(MigrationItem{
		Version: "001",
		Name:    "seed_widget",
		Up: func(ctx context.Context, db bun.IDB) error {
			_, err := db.NewInsert().Model(&widget{Name: "seed"}).Exec(ctx)
			return err
		},
	}))
	assert.Error(t, mm.AddMigration(MigrationItem{Version: "001", Up: func(context.Context, bun.IDB) error { return nil }}))
	assert.Error(t, mm.AddMigration(MigrationItem{Version: "000", Up: func(context.Context, bun.IDB) error { return nil }}))
	assert.Error(t, mm.AddMigration(MigrationItem{Version: "009"}))

	require.NoError(t, mm.RunMigrations(ctx))
	require.NoError(t, mm.RunMigrations(ctx), "applied steps are skipped")

	n, err := db.NewSelect().Model((*widget)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	applied, err := mm.GetAppliedMigrations(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 2)
	assert.Equal(t, "000", applied[0].Version)
	assert.Equal(t, "seed_widget", applied[1].Name)
}

func TestMigrationStepRollsBack(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	reg := NewModelRegistry()
	reg.Register(NewModelAdapter((*widget)(nil), 1))

	mm := NewMigrationManager(db, nil, WithContextName(t.Name()), WithModelRegistry(reg))
	require.NoError(t, mm.AddMigration(MigrationItem{
		Version: "001",
		Name:    "half_done",
		Up: func(ctx context.Context, db bun.IDB) error {
			if _, err := db.NewInsert().Model(&widget{Name: "partial"}).Exec(ctx); err != nil {
				return err
			}
			return errors.New("step failed")
		},
	}))

	err := mm.Migrate(ctx)
	require.Error(t, err)
	assert.False(t, GuardFor(t.Name()).Done())

	n, err := db.NewSelect().Model((*widget)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	applied, err := mm.GetAppliedMigrations(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 1, "only the table step is recorded")
}

type fakeTarget struct {
	name string
	err  error
	runs atomic.Int32
}

func (f *fakeTarget) Name() string { return f.name }

func (f *fakeTarget) Migrate(ctx context.Context) error {
	return GuardFor(f.name).Do(ctx, func(ctx context.Context) error {
		f.runs.Add(1)
		return f.err
	})
}

func TestMigrateAll(t *testing.T) {
	ctx := context.Background()
	a := NewMigrationManager(newTestDB(t), nil, WithContextName(t.Name()+"/a"), WithModelRegistry(NewModelRegistry()))
	b := &fakeTarget{name: t.Name() + "/b"}

	require.NoError(t, MigrateAll(ctx, a, b, nil))
	require.NoError(t, MigrateAll(ctx, a, b))
	assert.Equal(t, int32(1), b.runs.Load(), "once per process and context")
	assert.True(t, GuardFor(a.Name()).Done())

	failing := &fakeTarget{name: t.Name() + "/c", err: errors.New("broken")}
	err := MigrateAll(ctx, failing, &fakeTarget{name: t.Name() + "/d"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), t.Name()+"/c")
	assert.ErrorIs(t, err, failing.err)
}

func TestInitDBWithSQLite(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConnectionConfig.Type = "sqlite"
	cfg.ConnectionConfig.DBName = filepath.Join(t.TempDir(), "app")
	cfg.ConnectionConfig.HealthCheckInterval = 0
	cfg.DataMigrateConfig.EnableMigrateOnStartup = true
	cfg.DataMigrateConfig.ContextName = t.Name()

	db, err := InitDB(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = CloseDB() })
	assert.Same(t, db, GetDB())
	assert.True(t, GuardFor(t.Name()).Done())

	status := GetHealthStatus(context.Background())
	assert.True(t, status.Healthy)
	assert.True(t, status.Connected)
	assert.NotNil(t, GetDatabaseStats())
	require.NoError(t, RunMigrations(context.Background()))

	exists, err := db.NewSelect().Model((*Migration)(nil)).Where("version = ?", "000").Exists(context.Background())
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, CloseDB())
	assert.Nil(t, GetDatabaseManager())
	assert.False(t, GetHealthStatus(context.Background()).Healthy)
	assert.Error(t, RunMigrations(context.Background()))
}
