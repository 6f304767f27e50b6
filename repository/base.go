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
	"reflect"
	"slices"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"

	"github.com/tomoncle/bunrepo/dto"
	"github.com/tomoncle/bunrepo/extension"
	"github.com/tomoncle/bunrepo/query"
	"github.com/tomoncle/bunrepo/types"
)

type options[T any] struct {
	keyColumn string
	keyFunc   func(entity *T) any
	resolver  *extension.Resolver
}

// Option configures a repository.
type Option[T any] func(*options[T])

// WithKeyFunc makes Upsert identify rows by column, reading the entity's
// value with fn, instead of by the primary key.
func WithKeyFunc[T any](column string, fn func(entity *T) any) Option[T] {
	return func(o *options[T]) {
		o.keyColumn = column
		o.keyFunc = fn
	}
}

// WithResolver sets the extension resolver handed to every query chain.
func WithResolver[T any](r *extension.Resolver) Option[T] {
	return func(o *options[T]) { o.resolver = r }
}

type baseRepositoryImpl[T any] struct {
	db    bun.IDB
	table *schema.Table
	opts  options[T]
}

// NewRepository returns a generic repository backed by db, which may be a
// *bun.DB or a bun.Tx. The repository holds no per-call state and is safe
// for concurrent use.
func NewRepository[T any](db bun.IDB, opts ...Option[T]) Repository[T] {
	r := &baseRepositoryImpl[T]{
		db:    db,
		table: db.Dialect().Tables().Get(reflect.TypeOf((*T)(nil)).Elem()),
	}
	for _, opt := range opts {
		opt(&r.opts)
	}
	return r
}

func (r *baseRepositoryImpl[T]) DB() bun.IDB { return r.db }

func (r *baseRepositoryImpl[T]) Dialect() schema.Dialect { return r.db.Dialect() }

func (r *baseRepositoryImpl[T]) NewSelect() *bun.SelectQuery { return r.db.NewSelect() }

func (r *baseRepositoryImpl[T]) NewInsert() *bun.InsertQuery { return r.db.NewInsert() }

func (r *baseRepositoryImpl[T]) NewUpdate() *bun.UpdateQuery { return r.db.NewUpdate() }

func (r *baseRepositoryImpl[T]) NewDelete() *bun.DeleteQuery { return r.db.NewDelete() }

func (r *baseRepositoryImpl[T]) WithTx(tx bun.Tx) Repository[T] {
	c := *r
	c.db = tx
	return &c
}

func (r *baseRepositoryImpl[T]) RunInTx(ctx context.Context, fn func(ctx context.Context, repo Repository[T]) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, r.WithTx(tx))
	})
}

func (r *baseRepositoryImpl[T]) AsQuery() query.Filterable[T] {
	return query.New[T](r.db, query.WithResolver(r.opts.resolver))
}

func (r *baseRepositoryImpl[T]) Where(predicate query.Expr) query.Filterable[T] {
	return r.AsQuery().Where(predicate)
}

func (r *baseRepositoryImpl[T]) WhereFullText(text string, fields ...string) query.Filterable[T] {
	return r.AsQuery().WhereFullText(text, fields...)
}

func (r *baseRepositoryImpl[T]) WhereFreeText(text string, fields ...string) query.Filterable[T] {
	return r.AsQuery().WhereFreeText(text, fields...)
}

func (r *baseRepositoryImpl[T]) Include(relation string) query.Includable[T] {
	return r.AsQuery().Include(relation)
}

func (r *baseRepositoryImpl[T]) OrderBy(field string) query.Ordered[T] {
	return r.AsQuery().OrderBy(field)
}

func (r *baseRepositoryImpl[T]) OrderByDescending(field string) query.Ordered[T] {
	return r.AsQuery().OrderByDescending(field)
}

func (r *baseRepositoryImpl[T]) Extension(property string) query.Filterable[T] {
	return r.AsQuery().Extension(property)
}

func (r *baseRepositoryImpl[T]) Select(columns ...string) query.Filterable[T] {
	return r.AsQuery().Select(columns...)
}

func (r *baseRepositoryImpl[T]) Add(ctx context.Context, entity *T) (*T, error) {
	if entity == nil {
		return nil, types.InvalidArgument("entity must not be nil")
	}
	if _, err := r.db.NewInsert().Model(entity).Exec(ctx); err != nil {
		return nil, err
	}
	return entity, nil
}

func (r *baseRepositoryImpl[T]) AddRange(ctx context.Context, entities ...*T) error {
	if len(entities) == 0 {
		return nil
	}
	if slices.Contains(entities, nil) {
		return types.InvalidArgument("entities must not contain nil")
	}
	rows := slices.Clone(entities)
	_, err := r.db.NewInsert().Model(&rows).Exec(ctx)
	return err
}

func (r *baseRepositoryImpl[T]) GetByID(ctx context.Context, id any) (*T, error) {
	pk, err := r.primaryKey(id)
	if err != nil {
		return nil, err
	}
	return r.AsQuery().Where(query.Eq(pk.Name, id)).Get(ctx)
}

func (r *baseRepositoryImpl[T]) GetAll(ctx context.Context) ([]*T, error) {
	return r.AsQuery().GetList(ctx)
}

func (r *baseRepositoryImpl[T]) List(ctx context.Context, filter *types.QueryFilter) ([]*T, error) {
	q := r.AsQuery()
	if f := query.FromFilter(filter); f != nil {
		q = q.Where(f)
	}
	return q.GetList(ctx)
}

func (r *baseRepositoryImpl[T]) Query(ctx context.Context, where string, args ...interface{}) ([]*T, error) {
	return r.AsQuery().Where(query.RawSQL(where, args...)).GetList(ctx)
}

func (r *baseRepositoryImpl[T]) Page(ctx context.Context, pageRequest *types.PageRequest) (*types.Pagination[T], error) {
	if pageRequest == nil {
		pageRequest = types.NewDefaultPageRequest(1, 10)
	}
	q := r.AsQuery()
	if f := query.FromFilter(pageRequest.GetFilter()); f != nil {
		q = q.Where(f)
	}
	pagination := types.NewDefaultPagination[T](pageRequest.GetPage(), pageRequest.GetPageSize())
	total, err := q.Count(ctx)
	if err != nil || total == 0 {
		return pagination, err
	}

	var page query.Executable[T]
	if clauses := pageRequest.GetOrderClauses(); len(clauses) > 0 {
		ordered := orderBy(q, clauses[0])
		for _, c := range clauses[1:] {
			if c.Descending {
				ordered = ordered.ThenByDescending(c.Field)
			} else {
				ordered = ordered.ThenBy(c.Field)
			}
		}
		page = ordered.Skip(pageRequest.GetOffset()).Take(pageRequest.GetPageSize())
	} else {
		page = q.Skip(pageRequest.GetOffset()).Take(pageRequest.GetPageSize())
	}
	items, err := page.GetList(ctx)
	if err != nil {
		return nil, err
	}
	pagination.Total = total
	pagination.Items = items
	return pagination, nil
}

func orderBy[T any](q query.Filterable[T], c types.OrderClause) query.Ordered[T] {
	if c.Descending {
		return q.OrderByDescending(c.Field)
	}
	return q.OrderBy(c.Field)
}

func (r *baseRepositoryImpl[T]) Update(ctx context.Context, entity *T) (bool, error) {
	if entity == nil {
		return false, types.InvalidArgument("entity must not be nil")
	}
	res, err := r.db.NewUpdate().Model(entity).WherePK().Exec(ctx)
	return affected(res, err)
}

func (r *baseRepositoryImpl[T]) UpdateByID(ctx context.Context, id any, mutate func(entity *T)) (*T, error) {
	if mutate == nil {
		return nil, types.InvalidArgument("mutate function must not be nil")
	}
	entity, err := r.GetByID(ctx, id)
	if err != nil || entity == nil {
		return nil, err
	}
	mutate(entity)
	if _, err := r.Update(ctx, entity); err != nil {
		return nil, err
	}
	return entity, nil
}

// GetByIDAs loads the entity with id and maps it through m. A missing
// entity maps to nil.
func GetByIDAs[T, D any](ctx context.Context, repo Repository[T], id any, m dto.Mapper[T, D]) (*D, error) {
	entity, err := repo.GetByID(ctx, id)
	if err != nil || entity == nil {
		return nil, err
	}
	return m.Map(ctx, entity)
}

func (r *baseRepositoryImpl[T]) primaryKey(id any) (*schema.Field, error) {
	if id == nil {
		return nil, types.InvalidArgument("id must not be nil")
	}
	if r.table == nil || len(r.table.PKs) != 1 {
		return nil, types.InvariantViolation("%T needs exactly one primary key column for id lookups", (*T)(nil))
	}
	return r.table.PKs[0], nil
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
