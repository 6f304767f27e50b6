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
	"time"

	"github.com/uptrace/bun"

	"github.com/tomoncle/bunrepo/types"
)

// softDeletable reports whether T is logically deleted. Both halves are
// required: the SoftDeletable methods and a bun soft_delete column.
func (r *baseRepositoryImpl[T]) softDeletable() (bool, error) {
	_, implements := any((*T)(nil)).(types.SoftDeletable)
	tagged := r.table != nil && r.table.SoftDeleteField != nil
	switch {
	case implements && !tagged:
		return false, types.InvariantViolation("%T implements SoftDeletable but has no soft_delete column", (*T)(nil))
	case tagged && !implements:
		return false, types.InvariantViolation("%T has a soft_delete column but does not implement SoftDeletable", (*T)(nil))
	}
	return implements, nil
}

func (r *baseRepositoryImpl[T]) Delete(ctx context.Context, entity *T, force bool) (bool, error) {
	if entity == nil {
		return false, types.InvalidArgument("entity must not be nil")
	}
	soft, err := r.softDeletable()
	if err != nil {
		return false, err
	}
	if !soft || force {
		q := r.db.NewDelete().Model(entity).WherePK()
		if soft {
			q = q.ForceDelete().WhereAllWithDeleted()
		}
		return affected(q.Exec(ctx))
	}

	sd := any(entity).(types.SoftDeletable)
	previous := sd.GetDeletedAt()
	sd.SetDeletedAt(time.Now().UTC())
	if hook, ok := any(entity).(types.SoftDeleteHook); ok {
		if err := hook.OnSoftDelete(ctx); err != nil {
			sd.SetDeletedAt(previous)
			return false, err
		}
	}
	ok, err := affected(r.db.NewUpdate().Model(entity).WherePK().Exec(ctx))
	if err != nil || !ok {
		sd.SetDeletedAt(previous)
	}
	return ok, err
}

func (r *baseRepositoryImpl[T]) DeleteByID(ctx context.Context, id any, force bool) (bool, error) {
	pk, err := r.primaryKey(id)
	if err != nil {
		return false, err
	}
	soft, err := r.softDeletable()
	if err != nil {
		return false, err
	}
	if soft && !force {
		// The hook needs the loaded entity.
		entity, err := r.GetByID(ctx, id)
		if err != nil || entity == nil {
			return false, err
		}
		return r.Delete(ctx, entity, false)
	}
	q := r.db.NewDelete().Model((*T)(nil)).Where("? = ?", bun.Ident(pk.Name), id)
	if soft {
		q = q.ForceDelete().WhereAllWithDeleted()
	}
	return affected(q.Exec(ctx))
}

func (r *baseRepositoryImpl[T]) Restore(ctx context.Context, id any) (bool, error) {
	pk, err := r.primaryKey(id)
	if err != nil {
		return false, err
	}
	soft, err := r.softDeletable()
	if err != nil {
		return false, err
	}
	if !soft {
		return false, types.InvariantViolation("%T is not soft-deletable", (*T)(nil))
	}
	res, err := r.db.NewUpdate().
		Model((*T)(nil)).
		Set("? = NULL", bun.Ident(r.table.SoftDeleteField.Name)).
		Where("? = ?", bun.Ident(pk.Name), id).
		WhereDeleted().
		Exec(ctx)
	return affected(res, err)
}
