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
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/uptrace/bun"
)

// DefaultMigrationContext names the migration context used when none is configured.
const DefaultMigrationContext = "default"

const baseTablesVersion = "000"

// MigrationManager applies versioned migration steps to one database and
// records them in a tracking table. A manager is one migration context.
type MigrationManager struct {
	db           *bun.DB
	logger       Logger
	name         string
	createModels bool
	registry     ModelRegistry

	mu         sync.Mutex
	migrations []MigrationItem
}

// Migration is an applied migration record.
type Migration struct {
	bun.BaseModel `bun:"table:schema_migrations,alias:sm"`

	Version     string    `bun:"version,pk"`
	Name        string    `bun:"name,notnull"`
	AppliedAt   time.Time `bun:"applied_at,notnull"`
	Description string    `bun:"description"`
}

// MigrationFunc is a migration step. It receives the transaction the step
// runs in.
type MigrationFunc func(ctx context.Context, db bun.IDB) error

// MigrationItem describes a single migration version.
type MigrationItem struct {
	Version     string
	Name        string
	Description string
	Up          MigrationFunc
}

// MigrationOption configures a MigrationManager.
type MigrationOption func(*MigrationManager)

// WithContextName sets the name the once-only guard is keyed by.
func WithContextName(name string) MigrationOption {
	return func(mm *MigrationManager) {
		if name != "" {
			mm.name = name
		}
	}
}

// WithModelRegistry replaces the default model registry.
func WithModelRegistry(reg ModelRegistry) MigrationOption {
	return func(mm *MigrationManager) {
		if reg != nil {
			mm.registry = reg
		}
	}
}

// WithoutModelTables skips the table creation step for registered models.
func WithoutModelTables() MigrationOption {
	return func(mm *MigrationManager) { mm.createModels = false }
}

// NewMigrationManager returns a manager for db in the default context that
// creates the tables of the default model registry.
func NewMigrationManager(db *bun.DB, logger Logger, opts ...MigrationOption) *MigrationManager {
	if logger == nil {
		logger = GetLogger()
	}
	mm := &MigrationManager{
		db:           db,
		logger:       logger,
		name:         DefaultMigrationContext,
		createModels: true,
		registry:     defaultRegistry,
	}
	for _, opt := range opts {
		opt(mm)
	}
	return mm
}

// Name is the migration context name.
func (mm *MigrationManager) Name() string { return mm.name }

// AddMigration appends a custom step. Versions are applied in ascending
// string order and must be unique.
func (mm *MigrationManager) AddMigration(item MigrationItem) error {
	if item.Version == "" || item.Up == nil {
		return fmt.Errorf("migration needs a version and an Up func")
	}
	if item.Version == baseTablesVersion && mm.createModels {
		return fmt.Errorf("migration version %s is reserved for registered model tables", baseTablesVersion)
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	for _, m := range mm.migrations {
		if m.Version == item.Version {
			return fmt.Errorf("duplicate migration version %s", item.Version)
		}
	}
	mm.migrations = append(mm.migrations, item)
	return nil
}

// Migrate runs the pending migrations of this context at most once per
// process; see MigrationGuard.
func (mm *MigrationManager) Migrate(ctx context.Context) error {
	return GuardFor(mm.name).Do(ctx, mm.RunMigrations)
}

// RunMigrations creates the tracking table if needed and applies every
// pending step in version order, each in its own transaction.
func (mm *MigrationManager) RunMigrations(ctx context.Context) error {
	if mm.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if _, ok := os.LookupEnv("BUNDEBUG_MIGRATION"); !ok {
		restore := SilenceQueryEcho()
		defer restore()
	}

	if err := mm.createMigrationTable(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, migration := range mm.getAllMigrations() {
		if err := mm.runMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", migration.Version, err)
		}
	}
	mm.logger.Info("Database migrations completed!", "context", mm.name)
	return nil
}

func (mm *MigrationManager) createMigrationTable(ctx context.Context) error {
	_, err := mm.db.NewCreateTable().
		Model((*Migration)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

func (mm *MigrationManager) getAllMigrations() []MigrationItem {
	mm.mu.Lock()
	migrations := make([]MigrationItem, 0, len(mm.migrations)+1)
	migrations = append(migrations, mm.migrations...)
	mm.mu.Unlock()

	if mm.createModels {
		migrations = append(migrations, MigrationItem{
			Version:     baseTablesVersion,
			Name:        "create_model_tables",
			Description: "Create tables of registered models",
			Up:          mm.createModelTables,
		})
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations
}

func (mm *MigrationManager) runMigration(ctx context.Context, migration MigrationItem) error {
	exists, err := mm.db.NewSelect().
		Model((*Migration)(nil)).
		Where("version = ?", migration.Version).
		Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		mm.logger.Debug("Migration already applied", "version", migration.Version, "context", mm.name)
		return nil
	}

	err = mm.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := migration.Up(ctx, tx); err != nil {
			return err
		}
		_, err := tx.NewInsert().
			Model(&Migration{
				Version:     migration.Version,
				Name:        migration.Name,
				AppliedAt:   time.Now().UTC(),
				Description: migration.Description,
			}).
			Exec(ctx)
		return err
	})
	if err != nil {
		return err
	}
	mm.logger.Info("Migration executed successfully", "version", migration.Version, "name", migration.Name, "context", mm.name)
	return nil
}

// createModelTables creates every registered model table. Tables that
// already exist are left as they are; schema changes belong to custom steps.
func (mm *MigrationManager) createModelTables(ctx context.Context, db bun.IDB) error {
	for _, model := range mm.registry.Instances() {
		_, err := db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create table %T: %w", model, err)
		}
	}
	return nil
}

// GetAppliedMigrations returns migration records ordered by version.
func (mm *MigrationManager) GetAppliedMigrations(ctx context.Context) ([]Migration, error) {
	migrations := make([]Migration, 0)
	err := mm.db.NewSelect().
		Model(&migrations).
		Order("version ASC").
		Scan(ctx)
	return migrations, err
}
