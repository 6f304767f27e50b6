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
	"slices"

	"github.com/tomoncle/bunrepo/types"
)

// IncludeSpec is one eager-loading directive. Path is the dotted bun
// relation path from the root entity, e.g. "Posts.Comments".
type IncludeSpec struct {
	Name          string
	Path          string
	DeclaringType reflect.Type
	TargetType    reflect.Type
	Collection    bool
	Children      []IncludeSpec
}

// OrderingSpec is one ORDER BY key. The first ordering of a chain is the
// primary one, every later one is secondary.
type OrderingSpec struct {
	Field      string
	Descending bool
	Primary    bool
}

// State is the immutable accumulation of a query chain. Every method returns
// a new State and never touches the receiver's slices.
type State struct {
	filter     Expr
	texts      []TextSearch
	includes   []IncludeSpec
	cursor     []int
	orderings  []OrderingSpec
	projection []string
	extensions []string
	skip       *int
	take       *int
	err        error
}

func (s State) Filter() Expr               { return s.filter }
func (s State) TextSearches() []TextSearch { return slices.Clone(s.texts) }
func (s State) Includes() []IncludeSpec    { return cloneIncludes(s.includes) }
func (s State) Orderings() []OrderingSpec  { return slices.Clone(s.orderings) }
func (s State) Projection() []string       { return slices.Clone(s.projection) }
func (s State) Extensions() []string       { return slices.Clone(s.extensions) }
func (s State) Err() error                 { return s.err }

// Skip returns the skip count and whether one was set.
func (s State) Skip() (int, bool) {
	if s.skip == nil {
		return 0, false
	}
	return *s.skip, true
}

// Take returns the take count and whether one was set.
func (s State) Take() (int, bool) {
	if s.take == nil {
		return 0, false
	}
	return *s.take, true
}

// WithErr records the first validation failure of the chain; later ones are
// ignored so the caller sees the earliest mistake.
func (s State) WithErr(err error) State {
	if s.err != nil || err == nil {
		return s
	}
	s.err = err
	return s
}

// Where ANDs e into the combined filter.
func (s State) Where(e Expr) State {
	if err := Validate(e); err != nil {
		return s.WithErr(err)
	}
	if ts, ok := e.(TextSearch); ok {
		return s.WhereText(ts)
	}
	s.filter = And(s.filter, e)
	return s
}

// WhereText appends a full-text predicate; these are applied after the
// base filter.
func (s State) WhereText(ts TextSearch) State {
	if err := Validate(ts); err != nil {
		return s.WithErr(err)
	}
	ts.Fields = slices.Clone(ts.Fields)
	s.texts = append(slices.Clip(s.texts), ts)
	return s
}

// Include appends a top-level include and moves the cursor onto it.
func (s State) Include(spec IncludeSpec) State {
	if spec.Name == "" {
		return s.WithErr(types.InvalidArgument("include name must not be empty"))
	}
	if spec.Path == "" {
		spec.Path = spec.Name
	}
	spec.Children = cloneIncludes(spec.Children)
	s.includes = append(cloneIncludes(s.includes), spec)
	s.cursor = []int{len(s.includes) - 1}
	return s
}

// ThenInclude nests spec under the include the cursor points at and moves
// the cursor one level deeper.
func (s State) ThenInclude(spec IncludeSpec) State {
	if len(s.cursor) == 0 {
		return s.WithErr(types.InvalidArgument("ThenInclude requires a preceding Include"))
	}
	if spec.Name == "" {
		return s.WithErr(types.InvalidArgument("include name must not be empty"))
	}
	parent := s.IncludeAt(s.cursor)
	if spec.Path == "" {
		spec.Path = parent.Path + "." + spec.Name
	}
	var idx int
	s.includes, idx = appendChild(s.includes, s.cursor, spec)
	cursor := make([]int, len(s.cursor)+1)
	copy(cursor, s.cursor)
	cursor[len(cursor)-1] = idx
	s.cursor = cursor
	return s
}

// IncludeAt returns the include found by following path through the tree.
func (s State) IncludeAt(path []int) IncludeSpec {
	specs := s.includes
	var cur IncludeSpec
	for _, i := range path {
		cur = specs[i]
		specs = cur.Children
	}
	return cur
}

// OrderBy appends an ordering. The first one becomes primary.
func (s State) OrderBy(field string, descending bool) State {
	if field == "" {
		return s.WithErr(types.InvalidArgument("ordering field must not be empty"))
	}
	o := OrderingSpec{Field: field, Descending: descending, Primary: len(s.orderings) == 0}
	s.orderings = append(slices.Clip(s.orderings), o)
	return s
}

// Select replaces the projection.
func (s State) Select(columns ...string) State {
	if len(columns) == 0 {
		return s.WithErr(types.InvalidArgument("select needs at least one column"))
	}
	for _, c := range columns {
		if c == "" {
			return s.WithErr(types.InvalidArgument("select column must not be empty"))
		}
	}
	s.projection = slices.Clone(columns)
	return s
}

// Extension adds an extension property. Repeated names are kept once.
func (s State) Extension(property string) State {
	if property == "" {
		return s.WithErr(types.InvalidArgument("extension property must not be empty"))
	}
	if slices.Contains(s.extensions, property) {
		return s
	}
	s.extensions = append(slices.Clip(s.extensions), property)
	return s
}

func (s State) WithSkip(n int) State {
	if n < 0 {
		return s.WithErr(types.InvalidArgument("skip count must be >= 0, got %d", n))
	}
	s.skip = &n
	return s
}

func (s State) WithTake(n int) State {
	if n <= 0 {
		return s.WithErr(types.InvalidArgument("take count must be > 0, got %d", n))
	}
	s.take = &n
	return s
}

// appendChild copies every node along path and appends child to the last
// one, returning the new tree and the child's index.
func appendChild(specs []IncludeSpec, path []int, child IncludeSpec) ([]IncludeSpec, int) {
	out := slices.Clone(specs)
	node := out[path[0]]
	var idx int
	if len(path) == 1 {
		node.Children = append(slices.Clip(node.Children), child)
		idx = len(node.Children) - 1
	} else {
		node.Children, idx = appendChild(node.Children, path[1:], child)
	}
	out[path[0]] = node
	return out, idx
}

func cloneIncludes(specs []IncludeSpec) []IncludeSpec {
	if specs == nil {
		return nil
	}
	out := make([]IncludeSpec, len(specs))
	for i, s := range specs {
		s.Children = cloneIncludes(s.Children)
		out[i] = s
	}
	return out
}
