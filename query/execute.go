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

package query

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"

	"github.com/tomoncle/bunrepo/types"
)

func (b *builder[T]) translator(qualify bool) translator {
	return translator{table: b.table, dialect: b.db.Dialect().Name(), qualify: qualify}
}

// filtered applies the base filter and then the full-text predicates.
func (b *builder[T]) filtered(db bun.IDB, model interface{}) *bun.SelectQuery {
	q := db.NewSelect().Model(model)
	tr := b.translator(true)
	if b.state.filter != nil {
		where, args := tr.expr(b.state.filter)
		q = q.Where(where, args...)
	}
	for _, ts := range b.state.texts {
		where, args := tr.textSearch(ts)
		q = q.Where(where, args...)
	}
	return q
}

// shaped applies everything after the filter in build order: includes,
// ordering, projection, skip and take.
func (b *builder[T]) shaped(q *bun.SelectQuery, includes bool) *bun.SelectQuery {
	if includes {
		for _, spec := range b.state.includes {
			q = applyInclude(q, spec)
		}
	}
	q = b.ordered(q)
	if len(b.state.projection) > 0 {
		cols := make([]string, len(b.state.projection))
		for i, c := range b.state.projection {
			cols[i] = ResolveColumn(b.table, c)
		}
		q = q.Column(cols...)
	}
	if n, ok := b.state.Skip(); ok {
		q = q.Offset(n)
	}
	if n, ok := b.state.Take(); ok {
		q = q.Limit(n)
	}
	return q
}

func applyInclude(q *bun.SelectQuery, spec IncludeSpec) *bun.SelectQuery {
	q = q.Relation(spec.Path)
	for _, child := range spec.Children {
		q = applyInclude(q, child)
	}
	return q
}

// joined applies only the to-one includes, which bun renders as joins, so a
// filter may reference their aliases. Collections are loaded by separate
// queries after the fetch and never join.
func (b *builder[T]) joined(q *bun.SelectQuery) *bun.SelectQuery {
	for _, spec := range b.state.includes {
		q = applyJoins(q, spec)
	}
	return q
}

func applyJoins(q *bun.SelectQuery, spec IncludeSpec) *bun.SelectQuery {
	if spec.TargetType == nil || spec.Collection {
		return q
	}
	q = q.Relation(spec.Path)
	for _, child := range spec.Children {
		q = applyJoins(q, child)
	}
	return q
}

func (b *builder[T]) hasJoins() bool {
	for _, spec := range b.state.includes {
		if spec.TargetType != nil && !spec.Collection {
			return true
		}
	}
	return false
}

func (b *builder[T]) ordered(q *bun.SelectQuery) *bun.SelectQuery {
	for _, o := range b.state.orderings {
		dir := "ASC"
		if o.Descending {
			dir = "DESC"
		}
		col, args := b.translator(true).column(o.Field)
		q = q.OrderExpr(col+" "+dir, args...)
	}
	return q
}

func (b *builder[T]) Get(ctx context.Context) (*T, error) {
	return b.first(ctx, false)
}

func (b *builder[T]) GetFirst(ctx context.Context) (*T, error) {
	return b.first(ctx, true)
}

func (b *builder[T]) first(ctx context.Context, pkOrder bool) (*T, error) {
	if err := b.state.err; err != nil {
		return nil, err
	}
	entity := new(T)
	q := b.shaped(b.filtered(b.db, entity), true)
	if pkOrder && len(b.state.orderings) == 0 && b.table != nil {
		for _, pk := range b.table.PKs {
			q = q.OrderExpr("?TableAlias.? ASC", bun.Ident(pk.Name))
		}
	}
	if err := q.Limit(1).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := b.extend(ctx, entity); err != nil {
		return nil, err
	}
	return entity, nil
}

func (b *builder[T]) GetList(ctx context.Context) ([]*T, error) {
	if err := b.state.err; err != nil {
		return nil, err
	}
	var rows []*T
	if err := b.shaped(b.filtered(b.db, &rows), true).Scan(ctx); err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []*T{}
	}
	if err := b.extend(ctx, rows...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (b *builder[T]) SelectInto(ctx context.Context, dest interface{}) error {
	if err := b.state.err; err != nil {
		return err
	}
	if dest == nil {
		return types.InvalidArgument("select destination must not be nil")
	}
	return b.shaped(b.filtered(b.db, (*T)(nil)), false).Scan(ctx, dest)
}

func (b *builder[T]) Any(ctx context.Context) (bool, error) {
	if err := b.state.err; err != nil {
		return false, err
	}
	return b.joined(b.filtered(b.db, new(T))).Exists(ctx)
}

func (b *builder[T]) Count(ctx context.Context) (int, error) {
	if err := b.state.err; err != nil {
		return 0, err
	}
	return b.joined(b.filtered(b.db, new(T))).Count(ctx)
}

func (b *builder[T]) UpdateRange(ctx context.Context, mutate func(entity *T)) (int, error) {
	if err := b.state.err; err != nil {
		return 0, err
	}
	if mutate == nil {
		return 0, types.InvalidArgument("mutate function must not be nil")
	}
	var affected int
	err := b.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var rows []*T
		if err := b.joined(b.filtered(tx, &rows)).Scan(ctx); err != nil {
			return err
		}
		for _, entity := range rows {
			mutate(entity)
			res, err := tx.NewUpdate().Model(entity).WherePK().Exec(ctx)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			affected += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	log.Debugf("update range on %T affected %d rows", (*T)(nil), affected)
	return affected, nil
}

func (b *builder[T]) DeleteRange(ctx context.Context, force bool) (int, error) {
	if err := b.state.err; err != nil {
		return 0, err
	}
	var (
		n   int64
		err error
	)
	if b.hasJoins() {
		n, err = b.deleteJoined(ctx, force)
	} else {
		n, err = b.deleteSet(ctx, force)
	}
	if err != nil {
		return 0, err
	}
	log.Debugf("delete range on %T affected %d rows (force=%v)", (*T)(nil), n, force)
	return int(n), nil
}

func (b *builder[T]) softDelete() bool {
	return b.table != nil && b.table.SoftDeleteField != nil
}

// deleteSet is one DELETE (or soft-delete UPDATE) over the filter.
func (b *builder[T]) deleteSet(ctx context.Context, force bool) (int64, error) {
	q := b.db.NewDelete().Model(new(T))
	tr := b.translator(false)
	filtered := false
	if b.state.filter != nil {
		where, args := tr.expr(b.state.filter)
		q = q.Where(where, args...)
		filtered = true
	}
	for _, ts := range b.state.texts {
		where, args := tr.textSearch(ts)
		q = q.Where(where, args...)
		filtered = true
	}
	if !filtered {
		q = q.Where("1 = 1")
	}
	if force && b.softDelete() {
		q = q.ForceDelete().WhereAllWithDeleted()
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// deleteJoined selects the matching rows through the joins, then deletes
// them by primary key in the same transaction. DELETE has no portable join
// syntax.
func (b *builder[T]) deleteJoined(ctx context.Context, force bool) (int64, error) {
	var n int64
	err := b.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var rows []*T
		sel := b.joined(b.filtered(tx, &rows))
		if force && b.softDelete() {
			sel = sel.WhereAllWithDeleted()
		}
		if err := sel.Scan(ctx); err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		q := tx.NewDelete().Model(&rows).WherePK()
		if force && b.softDelete() {
			q = q.ForceDelete()
		}
		res, err := q.Exec(ctx)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// extend fills the chain's extension properties on each record, one record
// at a time.
func (b *builder[T]) extend(ctx context.Context, records ...*T) error {
	if len(b.state.extensions) == 0 || len(records) == 0 {
		return nil
	}
	if b.resolver == nil {
		log.Debugf("no extension resolver configured, leaving %v unset", b.state.extensions)
		return nil
	}
	for _, r := range records {
		if err := b.resolver.Resolve(ctx, r, b.state.extensions...); err != nil {
			return err
		}
	}
	return nil
}
