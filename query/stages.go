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

import "context"

// Executable is the terminal stage. Every method consumes the accumulated
// state; validation errors recorded along the chain are returned before any
// database round trip.
type Executable[T any] interface {
	// Get returns a matching record, or nil when nothing matches.
	Get(ctx context.Context) (*T, error)

	// GetFirst returns the first record under the chain's ordering (primary
	// key order when none was given), or nil when nothing matches.
	GetFirst(ctx context.Context) (*T, error)

	// GetList returns every match. Zero matches yield an empty, non-nil slice.
	GetList(ctx context.Context) ([]*T, error)

	// SelectInto scans the projected columns into dest, which should be a
	// pointer to a slice. Includes and extensions are not applied.
	SelectInto(ctx context.Context, dest interface{}) error

	// Any reports whether the filter matches at least one row.
	Any(ctx context.Context) (bool, error)

	// Count returns the number of rows matching the filter. Includes,
	// ordering and pagination are ignored.
	Count(ctx context.Context) (int, error)

	// UpdateRange loads every match of the filter, applies mutate to each and
	// saves them in one transaction. It returns the number of rows updated.
	UpdateRange(ctx context.Context, mutate func(entity *T)) (int, error)

	// DeleteRange deletes every match of the filter in one statement. For
	// soft-deletable types the rows are soft deleted unless force is set.
	DeleteRange(ctx context.Context, force bool) (int, error)

	// State exposes the accumulated query state.
	State() State
}

// Filterable is the initial stage.
type Filterable[T any] interface {
	Executable[T]

	Where(predicate Expr) Filterable[T]

	// WhereFullText matches rows where text appears as a phrase in any of
	// fields.
	WhereFullText(text string, fields ...string) Filterable[T]

	// WhereFreeText matches rows containing natural-language forms of the
	// words of text in any of fields.
	WhereFreeText(text string, fields ...string) Filterable[T]

	// Include eager loads the named bun relation.
	Include(relation string) Includable[T]

	OrderBy(field string) Ordered[T]
	OrderByDescending(field string) Ordered[T]

	// Select restricts the loaded columns.
	Select(columns ...string) Filterable[T]

	// Extension marks a property to be filled by a registered loader after
	// the fetch.
	Extension(property string) Filterable[T]

	Skip(n int) Skipped[T]
	Take(n int) Executable[T]
}

// Includable follows Include. ThenInclude nests under the include last added.
type Includable[T any] interface {
	Filterable[T]

	ThenInclude(relation string) Includable[T]
}

// Ordered follows OrderBy. It has no OrderBy of its own: secondary keys go
// through ThenBy, so a second primary ordering does not compile.
type Ordered[T any] interface {
	Executable[T]

	ThenBy(field string) Ordered[T]
	ThenByDescending(field string) Ordered[T]

	Skip(n int) Skipped[T]
	Take(n int) Executable[T]
}

// Skipped only allows Take.
type Skipped[T any] interface {
	Take(n int) Executable[T]
}
