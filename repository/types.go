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

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"

	"github.com/tomoncle/bunrepo/query"
	"github.com/tomoncle/bunrepo/types"
)

// CrudRepository defines basic CRUD operations for a generic entity type.
// Point lookups return nil, nil when nothing matches.
type CrudRepository[T any] interface {
	// Add inserts entity and returns it with generated values filled in.
	Add(ctx context.Context, entity *T) (*T, error)

	AddRange(ctx context.Context, entities ...*T) error

	GetByID(ctx context.Context, id any) (*T, error)

	GetAll(ctx context.Context) ([]*T, error)

	List(ctx context.Context, filter *types.QueryFilter) ([]*T, error)

	Query(ctx context.Context, query string, args ...interface{}) ([]*T, error)

	// Update overwrites the stored row with entity, matched by primary key.
	// It reports whether a row was changed.
	Update(ctx context.Context, entity *T) (bool, error)

	// UpdateByID loads the row, applies mutate and saves it. It returns nil
	// when id does not resolve.
	UpdateByID(ctx context.Context, id any, mutate func(entity *T)) (*T, error)

	// Upsert overwrites the row with entity's key, soft-deleted or not, or
	// inserts entity when there is none.
	Upsert(ctx context.Context, entity *T) (*T, error)

	// UpsertFields is a bulk upsert that only overwrites fields when a row
	// with the same conflictKeys exists.
	UpsertFields(ctx context.Context, fields []string, conflictKeys []string, entities ...*T) error

	// Delete soft deletes entity when its type supports it and force is
	// false, otherwise the row is removed. It reports whether a row changed.
	Delete(ctx context.Context, entity *T, force bool) (bool, error)

	DeleteByID(ctx context.Context, id any, force bool) (bool, error)

	// Restore clears the deletion timestamp of a soft-deleted row. It
	// reports false when the row was not deleted.
	Restore(ctx context.Context, id any) (bool, error)
}

// QueryRepository starts query chains over T.
type QueryRepository[T any] interface {
	AsQuery() query.Filterable[T]
	Where(predicate query.Expr) query.Filterable[T]
	WhereFullText(text string, fields ...string) query.Filterable[T]
	WhereFreeText(text string, fields ...string) query.Filterable[T]
	Include(relation string) query.Includable[T]
	OrderBy(field string) query.Ordered[T]
	OrderByDescending(field string) query.Ordered[T]
	Extension(property string) query.Filterable[T]
	Select(columns ...string) query.Filterable[T]
}

// TransactionRepository binds the repository to a transaction.
type TransactionRepository[T any] interface {
	WithTx(tx bun.Tx) Repository[T]

	// RunInTx calls fn with a repository bound to a new transaction, which
	// is committed when fn returns nil and rolled back otherwise.
	RunInTx(ctx context.Context, fn func(ctx context.Context, repo Repository[T]) error) error
}

// PageQueryRepository defines pagination functionality for listing entities.
type PageQueryRepository[T any] interface {
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)
}

// Repository combines CRUD, querying, pagination and transactional
// operations and exposes Bun query builders for advanced use cases.
type Repository[T any] interface {
	CrudRepository[T]
	QueryRepository[T]
	PageQueryRepository[T]
	TransactionRepository[T]
	DB() bun.IDB
	Dialect() schema.Dialect
	NewSelect() *bun.SelectQuery
	NewInsert() *bun.InsertQuery
	NewUpdate() *bun.UpdateQuery
	NewDelete() *bun.DeleteQuery
}
