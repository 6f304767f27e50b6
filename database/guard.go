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
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// MigrationGuard lets a migration run succeed at most once per process.
// The flag is only set after fn returns nil, so a failed run may be retried.
// fn must not call Do on the same guard: the guard is not re-entrant.
type MigrationGuard struct {
	done atomic.Bool
	mu   sync.Mutex
}

// Do runs fn unless a previous call already completed it. Concurrent callers
// wait for the one in progress.
func (g *MigrationGuard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if g.done.Load() {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done.Load() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		return err
	}
	g.done.Store(true)
	return nil
}

// Done reports whether the guarded migration has completed.
func (g *MigrationGuard) Done() bool { return g.done.Load() }

var guards sync.Map // context name -> *MigrationGuard

// GuardFor returns the process-wide guard of a migration context.
func GuardFor(name string) *MigrationGuard {
	g, _ := guards.LoadOrStore(name, &MigrationGuard{})
	return g.(*MigrationGuard)
}

// MigrationTarget is one independently migrated context.
type MigrationTarget interface {
	Name() string
	Migrate(ctx context.Context) error
}

// MigrateAll migrates the targets concurrently and waits for all of them.
// The first error is returned and cancels the context handed to the others;
// contexts that already finished are not rolled back.
func MigrateAll(ctx context.Context, targets ...MigrationTarget) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, target := range targets {
		if target == nil {
			continue
		}
		g.Go(func() error {
			if err := target.Migrate(ctx); err != nil {
				return fmt.Errorf("migration context %s: %w", target.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
