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

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/feature"

	"github.com/tomoncle/bunrepo/database"
	"github.com/tomoncle/bunrepo/query"
	"github.com/tomoncle/bunrepo/types"
)

func (r *baseRepositoryImpl[T]) Upsert(ctx context.Context, entity *T) (*T, error) {
	if entity == nil {
		return nil, types.InvalidArgument("entity must not be nil")
	}
	soft, err := r.softDeletable()
	if err != nil {
		return nil, err
	}
	where, args, isNew, err := r.upsertKey(entity)
	if err != nil {
		return nil, err
	}
	if isNew {
		return r.Add(ctx, entity)
	}

	err = r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := r.loadStoredKey(ctx, tx, entity, where, args, soft)
		if err != nil {
			return err
		}
		if !exists {
			_, err = tx.NewInsert().Model(entity).Exec(ctx)
			return err
		}
		upd := tx.NewUpdate().Model(entity).Where(where, args...)
		if soft {
			upd = upd.WhereAllWithDeleted()
		}
		_, err = upd.Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// loadStoredKey reports whether a row matches where. With a key func the
// match is on the key column, so the stored primary key is copied into
// entity and the returned instance identifies the overwritten row.
func (r *baseRepositoryImpl[T]) loadStoredKey(ctx context.Context, tx bun.Tx, entity *T, where string, args []interface{}, soft bool) (bool, error) {
	if r.opts.keyFunc == nil || r.table == nil || len(r.table.PKs) == 0 {
		sel := tx.NewSelect().Model((*T)(nil)).Where(where, args...)
		if soft {
			sel = sel.WhereAllWithDeleted()
		}
		return sel.Exists(ctx)
	}
	cols := make([]string, len(r.table.PKs))
	for i, pk := range r.table.PKs {
		cols[i] = pk.Name
	}
	sel := tx.NewSelect().Model(entity).Column(cols...).Where(where, args...).Limit(1)
	if soft {
		sel = sel.WhereAllWithDeleted()
	}
	if err := sel.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// upsertKey builds the row match for entity from the configured key func or,
// failing that, from the primary key columns. isNew is set when every
// primary key value is zero, so the row can only be inserted.
func (r *baseRepositoryImpl[T]) upsertKey(entity *T) (where string, args []interface{}, isNew bool, err error) {
	if r.opts.keyFunc != nil {
		key := r.opts.keyFunc(entity)
		if key == nil {
			return "", nil, false, types.InvariantViolation("key func for %T returned nil", entity)
		}
		col := query.ResolveColumn(r.table, r.opts.keyColumn)
		return "? = ?", []interface{}{bun.Ident(col), key}, false, nil
	}
	if r.table == nil || len(r.table.PKs) == 0 {
		return "", nil, false, types.InvariantViolation("cannot determine the key of %T: no primary key and no key func", entity)
	}

	strct := reflect.ValueOf(entity).Elem()
	parts := make([]string, 0, len(r.table.PKs))
	isNew = true
	for _, pk := range r.table.PKs {
		v := pk.Value(strct)
		if !v.IsZero() {
			isNew = false
		}
		parts = append(parts, "? = ?")
		args = append(args, bun.Ident(pk.Name), v.Interface())
	}
	return strings.Join(parts, " AND "), args, isNew, nil
}

func (r *baseRepositoryImpl[T]) UpsertFields(ctx context.Context, fields []string, conflictKeys []string, entities ...*T) error {
	if len(fields) == 0 {
		return types.InvalidArgument("fields cannot be empty")
	}
	if len(entities) == 0 {
		return nil
	}
	if slices.Contains(entities, nil) {
		return types.InvalidArgument("entities must not contain nil")
	}
	rows := slices.Clone(entities)
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = query.ResolveColumn(r.table, f)
	}

	features := r.db.Dialect().Features()
	switch {
	case features.Has(feature.InsertOnConflict):
		return r.upsertOnConflict(ctx, cols, conflictKeys, rows)
	case features.Has(feature.InsertOnDuplicateKey):
		return r.upsertOnDuplicateKey(ctx, cols, rows)
	default:
		return r.upsertFallback(ctx, rows)
	}
}

func (r *baseRepositoryImpl[T]) upsertOnDuplicateKey(ctx context.Context, cols []string, rows []*T) error {
	q := r.db.NewInsert().Model(&rows).On("DUPLICATE KEY UPDATE")
	for _, c := range cols {
		q = q.Set("? = VALUES(?)", bun.Ident(c), bun.Ident(c))
	}
	_, err := q.Exec(ctx)
	return err
}

func (r *baseRepositoryImpl[T]) upsertOnConflict(ctx context.Context, cols []string, conflictKeys []string, rows []*T) error {
	if len(conflictKeys) == 0 {
		if r.table == nil || len(r.table.PKs) == 0 {
			return types.InvariantViolation("no conflict keys given and %T has no primary key", (*T)(nil))
		}
		for _, pk := range r.table.PKs {
			conflictKeys = append(conflictKeys, pk.Name)
		}
	}
	keys := make([]interface{}, len(conflictKeys))
	for i, k := range conflictKeys {
		keys[i] = bun.Ident(query.ResolveColumn(r.table, k))
	}
	q := r.db.NewInsert().Model(&rows).On("CONFLICT (?) DO UPDATE", bun.In(keys))
	for _, c := range cols {
		q = q.Set("? = EXCLUDED.?", bun.Ident(c), bun.Ident(c))
	}
	_, err := q.Exec(ctx)
	return err
}

// upsertFallback inserts row by row and updates by primary key only when the
// insert hit a duplicate key.
func (r *baseRepositoryImpl[T]) upsertFallback(ctx context.Context, rows []*T) error {
	for _, entity := range rows {
		_, err := r.db.NewInsert().Model(entity).Exec(ctx)
		if err == nil {
			continue
		}
		if is, kind := database.IsSqlError(err); !is || kind != database.DuplicateKeyErr {
			return err
		}
		if _, updateErr := r.db.NewUpdate().Model(entity).WherePK().Exec(ctx); updateErr != nil {
			return fmt.Errorf("upsert failed for entity: insert error: %v, update error: %w", err, updateErr)
		}
	}
	return nil
}
