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
	"strings"

	"github.com/tomoncle/bunrepo/types"
)

// Expr is a filter predicate. The set of implementations is closed; the
// translator in this package turns it into a bun WHERE fragment.
type Expr interface {
	exprNode()
}

// Operator is a binary comparison operator.
type Operator string

const (
	OpEq  Operator = "="
	OpNe  Operator = "<>"
	OpGt  Operator = ">"
	OpGte Operator = ">="
	OpLt  Operator = "<"
	OpLte Operator = "<="
)

// Comparison compares a field with a value.
type Comparison struct {
	Field string
	Op    Operator
	Value interface{}
}

// InList matches fields whose value is (or, when Negate, is not) in Values.
type InList struct {
	Field  string
	Values []interface{}
	Negate bool
}

// NullCheck matches NULL fields, or non-NULL fields when Negate is set.
type NullCheck struct {
	Field  string
	Negate bool
}

type PatternKind int

const (
	PatternContains PatternKind = iota
	PatternPrefix
	PatternSuffix
)

// Pattern is a case-insensitive LIKE match.
type Pattern struct {
	Field string
	Text  string
	Kind  PatternKind
}

type Conjunction struct {
	Terms []Expr
}

type Disjunction struct {
	Terms []Expr
}

type Negation struct {
	Term Expr
}

// TextMode selects the full-text operator.
type TextMode int

const (
	// TextPhrase requires the text to appear as a phrase.
	TextPhrase TextMode = iota
	// TextFree matches natural-language forms of any of the words.
	TextFree
)

// TextSearch is a full-text predicate over one or more fields.
type TextSearch struct {
	Fields []string
	Text   string
	Mode   TextMode
}

// Raw is an escape hatch for hand written SQL with bun placeholders.
type Raw struct {
	SQL  string
	Args []interface{}
}

func (Comparison) exprNode()  {}
func (InList) exprNode()      {}
func (NullCheck) exprNode()   {}
func (Pattern) exprNode()     {}
func (Conjunction) exprNode() {}
func (Disjunction) exprNode() {}
func (Negation) exprNode()    {}
func (TextSearch) exprNode()  {}
func (Raw) exprNode()         {}

// Eq matches field = value. A nil value or nil pointer becomes an IS NULL
// check.
func Eq(field string, value interface{}) Expr {
	if isNil(value) {
		return NullCheck{Field: field}
	}
	return Comparison{Field: field, Op: OpEq, Value: value}
}

// Ne matches field <> value. A nil value or nil pointer becomes an IS NOT
// NULL check.
func Ne(field string, value interface{}) Expr {
	if isNil(value) {
		return NullCheck{Field: field, Negate: true}
	}
	return Comparison{Field: field, Op: OpNe, Value: value}
}

func Gt(field string, value interface{}) Expr {
	return Comparison{Field: field, Op: OpGt, Value: value}
}

func Gte(field string, value interface{}) Expr {
	return Comparison{Field: field, Op: OpGte, Value: value}
}

func Lt(field string, value interface{}) Expr {
	return Comparison{Field: field, Op: OpLt, Value: value}
}

func Lte(field string, value interface{}) Expr {
	return Comparison{Field: field, Op: OpLte, Value: value}
}

func In(field string, values ...interface{}) Expr {
	return InList{Field: field, Values: values}
}

func NotIn(field string, values ...interface{}) Expr {
	return InList{Field: field, Values: values, Negate: true}
}

func IsNull(field string) Expr {
	return NullCheck{Field: field}
}

func NotNull(field string) Expr {
	return NullCheck{Field: field, Negate: true}
}

func Contains(field, text string) Expr {
	return Pattern{Field: field, Text: text, Kind: PatternContains}
}

func StartsWith(field, text string) Expr {
	return Pattern{Field: field, Text: text, Kind: PatternPrefix}
}

func EndsWith(field, text string) Expr {
	return Pattern{Field: field, Text: text, Kind: PatternSuffix}
}

// And joins terms into one flat conjunction. Nil terms are dropped; a single
// remaining term is returned as is and no terms at all yield nil.
func And(terms ...Expr) Expr {
	flat := make([]Expr, 0, len(terms))
	for _, t := range terms {
		switch v := t.(type) {
		case nil:
		case Conjunction:
			flat = append(flat, v.Terms...)
		default:
			flat = append(flat, v)
		}
	}
	switch len(flat) {
	case 0:
		return nil
	case 1:
		return flat[0]
	}
	return Conjunction{Terms: flat}
}

// Or joins terms into one flat disjunction, with the same nil handling as And.
func Or(terms ...Expr) Expr {
	flat := make([]Expr, 0, len(terms))
	for _, t := range terms {
		switch v := t.(type) {
		case nil:
		case Disjunction:
			flat = append(flat, v.Terms...)
		default:
			flat = append(flat, v)
		}
	}
	switch len(flat) {
	case 0:
		return nil
	case 1:
		return flat[0]
	}
	return Disjunction{Terms: flat}
}

func Not(term Expr) Expr {
	if n, ok := term.(Negation); ok {
		return n.Term
	}
	return Negation{Term: term}
}

// RawSQL wraps a hand written fragment, e.g. RawSQL("? > ?", bun.Ident("n"), 3).
func RawSQL(sql string, args ...interface{}) Expr {
	return Raw{SQL: sql, Args: args}
}

// FromFilter converts the schema/args filter used by PageRequest.
func FromFilter(f *types.QueryFilter) Expr {
	if f == nil || strings.TrimSpace(f.Schema) == "" {
		return nil
	}
	return Raw{SQL: f.Schema, Args: f.Args}
}

// Validate reports the first malformed node of e.
func Validate(e Expr) error {
	switch v := e.(type) {
	case nil:
		return types.InvalidArgument("predicate must not be nil")
	case Comparison:
		if strings.TrimSpace(v.Field) == "" {
			return types.InvalidArgument("comparison field must not be empty")
		}
		switch v.Op {
		case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		default:
			return types.InvalidArgument("unknown operator %q", v.Op)
		}
		// col > NULL is never true. Eq and Ne turn nil into IS [NOT] NULL.
		if isNil(v.Value) {
			return types.InvalidArgument("%s comparison on %q needs a non-nil value", v.Op, v.Field)
		}
	case InList:
		if strings.TrimSpace(v.Field) == "" {
			return types.InvalidArgument("in-list field must not be empty")
		}
	case NullCheck:
		if strings.TrimSpace(v.Field) == "" {
			return types.InvalidArgument("null check field must not be empty")
		}
	case Pattern:
		if strings.TrimSpace(v.Field) == "" {
			return types.InvalidArgument("pattern field must not be empty")
		}
	case Conjunction:
		return validateTerms(v.Terms)
	case Disjunction:
		return validateTerms(v.Terms)
	case Negation:
		return Validate(v.Term)
	case TextSearch:
		if len(v.Fields) == 0 {
			return types.InvalidArgument("full-text search needs at least one field")
		}
		for _, f := range v.Fields {
			if strings.TrimSpace(f) == "" {
				return types.InvalidArgument("full-text field must not be empty")
			}
		}
		if strings.TrimSpace(v.Text) == "" {
			return types.InvalidArgument("full-text search text must not be empty")
		}
	case Raw:
		if strings.TrimSpace(v.SQL) == "" {
			return types.InvalidArgument("raw predicate must not be empty")
		}
	default:
		return types.InvalidArgument("unsupported predicate %T", e)
	}
	return nil
}

func isNil(value interface{}) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

func validateTerms(terms []Expr) error {
	if len(terms) == 0 {
		return types.InvalidArgument("boolean group must have terms")
	}
	for _, t := range terms {
		if err := Validate(t); err != nil {
			return err
		}
	}
	return nil
}
