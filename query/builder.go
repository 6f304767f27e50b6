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
	"reflect"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"

	"github.com/tomoncle/bunrepo/extension"
	"github.com/tomoncle/bunrepo/utils"
)

var log = utils.NewLogger("QUERY")

type options struct {
	resolver *extension.Resolver
}

// Option configures a query chain.
type Option func(*options)

// WithResolver sets the resolver used for Extension properties. Without one,
// extension properties are left unset.
func WithResolver(r *extension.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// builder implements every stage. Transitions copy the builder and replace
// its State, so a chain prefix can be reused freely.
type builder[T any] struct {
	db       bun.IDB
	table    *schema.Table
	resolver *extension.Resolver
	state    State
}

// New starts a query chain over T on db, which may be a *bun.DB or a bun.Tx.
func New[T any](db bun.IDB, opts ...Option) Filterable[T] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	return &builder[T]{
		db:       db,
		table:    db.Dialect().Tables().Get(reflect.TypeOf((*T)(nil)).Elem()),
		resolver: o.resolver,
	}
}

// Failed returns a chain without a database whose terminal calls all
// return err. It stands in for New when no database is available.
func Failed[T any](err error) Filterable[T] {
	return &builder[T]{state: State{}.WithErr(err)}
}

func (b *builder[T]) with(s State) *builder[T] {
	c := *b
	c.state = s
	return &c
}

func (b *builder[T]) State() State {
	return b.state
}

func (b *builder[T]) Where(predicate Expr) Filterable[T] {
	return b.with(b.state.Where(predicate))
}

func (b *builder[T]) WhereFullText(text string, fields ...string) Filterable[T] {
	return b.with(b.state.WhereText(TextSearch{Fields: fields, Text: text, Mode: TextPhrase}))
}

func (b *builder[T]) WhereFreeText(text string, fields ...string) Filterable[T] {
	return b.with(b.state.WhereText(TextSearch{Fields: fields, Text: text, Mode: TextFree}))
}

func (b *builder[T]) Include(relation string) Includable[T] {
	return b.with(b.state.Include(describeRelation(b.table, relation)))
}

func (b *builder[T]) ThenInclude(relation string) Includable[T] {
	var declaring *schema.Table
	if len(b.state.cursor) > 0 {
		if parent := b.state.IncludeAt(b.state.cursor); parent.TargetType != nil {
			declaring = b.db.Dialect().Tables().Get(parent.TargetType)
		}
	}
	return b.with(b.state.ThenInclude(describeRelation(declaring, relation)))
}

func (b *builder[T]) OrderBy(field string) Ordered[T] {
	return b.with(b.state.OrderBy(field, false))
}

func (b *builder[T]) OrderByDescending(field string) Ordered[T] {
	return b.with(b.state.OrderBy(field, true))
}

func (b *builder[T]) ThenBy(field string) Ordered[T] {
	return b.with(b.state.OrderBy(field, false))
}

func (b *builder[T]) ThenByDescending(field string) Ordered[T] {
	return b.with(b.state.OrderBy(field, true))
}

func (b *builder[T]) Select(columns ...string) Filterable[T] {
	return b.with(b.state.Select(columns...))
}

func (b *builder[T]) Extension(property string) Filterable[T] {
	return b.with(b.state.Extension(property))
}

func (b *builder[T]) Skip(n int) Skipped[T] {
	return b.with(b.state.WithSkip(n))
}

func (b *builder[T]) Take(n int) Executable[T] {
	return b.with(b.state.WithTake(n))
}

// describeRelation fills in what bun knows about a relation. Unknown names
// are kept as given; bun rejects them when the query runs.
func describeRelation(declaring *schema.Table, name string) IncludeSpec {
	spec := IncludeSpec{Name: name}
	if declaring == nil {
		return spec
	}
	spec.DeclaringType = declaring.Type
	if rel, ok := declaring.Relations[name]; ok && rel.JoinTable != nil {
		spec.TargetType = rel.JoinTable.Type
		spec.Collection = rel.Type == schema.HasManyRelation || rel.Type == schema.ManyToManyRelation
	}
	return spec
}
