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
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/schema"
)

// likeEscape is used instead of a backslash because MySQL treats the
// backslash inside string literals as an escape of its own.
const likeEscape = "!"

// translator renders Expr trees as bun WHERE fragments. With qualify set,
// columns are prefixed with ?TableAlias so joined relations cannot make them
// ambiguous; UPDATE/DELETE statements use bare column names.
type translator struct {
	table   *schema.Table
	dialect dialect.Name
	qualify bool
}

// Translate renders e against table for the given dialect. It is exported
// for callers that want to feed a predicate into a hand built bun query.
func Translate(table *schema.Table, name dialect.Name, e Expr) (string, []interface{}) {
	return translator{table: table, dialect: name}.expr(e)
}

// ResolveColumn maps a field reference to its column name: a bun column
// name is kept, a Go field name is translated, anything else is returned
// verbatim.
func ResolveColumn(table *schema.Table, field string) string {
	if table == nil || strings.Contains(field, ".") {
		return field
	}
	if _, ok := table.FieldMap[field]; ok {
		return field
	}
	for _, f := range table.Fields {
		if f.GoName == field {
			return f.Name
		}
	}
	return field
}

func (t translator) column(field string) (string, []interface{}) {
	col := ResolveColumn(t.table, field)
	if t.qualify && !strings.Contains(col, ".") {
		return "?TableAlias.?", []interface{}{bun.Ident(col)}
	}
	return "?", []interface{}{bun.Ident(col)}
}

func (t translator) expr(e Expr) (string, []interface{}) {
	switch v := e.(type) {
	case Comparison:
		col, args := t.column(v.Field)
		return col + " " + string(v.Op) + " ?", append(args, v.Value)
	case InList:
		if len(v.Values) == 0 {
			if v.Negate {
				return "1 = 1", nil
			}
			return "1 = 0", nil
		}
		col, args := t.column(v.Field)
		op := " IN (?)"
		if v.Negate {
			op = " NOT IN (?)"
		}
		return col + op, append(args, bun.In(v.Values))
	case NullCheck:
		col, args := t.column(v.Field)
		if v.Negate {
			return col + " IS NOT NULL", args
		}
		return col + " IS NULL", args
	case Pattern:
		col, args := t.column(v.Field)
		return "LOWER(" + col + ") LIKE ? ESCAPE '" + likeEscape + "'", append(args, likePattern(v.Text, v.Kind))
	case Conjunction:
		return t.group(v.Terms, " AND ")
	case Disjunction:
		return t.group(v.Terms, " OR ")
	case Negation:
		sql, args := t.expr(v.Term)
		return "NOT (" + sql + ")", args
	case TextSearch:
		return t.textSearch(v)
	case Raw:
		return v.SQL, v.Args
	default:
		// Unreachable once Validate has accepted the tree.
		return "1 = 0", nil
	}
}

func (t translator) group(terms []Expr, sep string) (string, []interface{}) {
	parts := make([]string, 0, len(terms))
	var args []interface{}
	for _, term := range terms {
		sql, a := t.expr(term)
		parts = append(parts, "("+sql+")")
		args = append(args, a...)
	}
	return strings.Join(parts, sep), args
}

// textSearch picks the dialect's full-text operator. Dialects without one
// get a case-insensitive substring match: the phrase must occur in one of
// the fields, or for free text any single word must.
func (t translator) textSearch(ts TextSearch) (string, []interface{}) {
	switch t.dialect {
	case dialect.PG:
		cols, args := t.columnList(ts.Fields)
		fn := "phraseto_tsquery"
		if ts.Mode == TextFree {
			fn = "plainto_tsquery"
		}
		return "to_tsvector(concat_ws(' ', " + cols + ")) @@ " + fn + "(?)", append(args, ts.Text)
	case dialect.MySQL:
		cols, args := t.columnList(ts.Fields)
		if ts.Mode == TextFree {
			return "MATCH(" + cols + ") AGAINST (? IN NATURAL LANGUAGE MODE)", append(args, ts.Text)
		}
		phrase := `"` + strings.ReplaceAll(ts.Text, `"`, "") + `"`
		return "MATCH(" + cols + ") AGAINST (? IN BOOLEAN MODE)", append(args, phrase)
	default:
		words := []string{ts.Text}
		if ts.Mode == TextFree {
			words = strings.Fields(ts.Text)
		}
		var terms []Expr
		for _, f := range ts.Fields {
			for _, w := range words {
				terms = append(terms, Contains(f, w))
			}
		}
		return t.expr(Or(terms...))
	}
}

func (t translator) columnList(fields []string) (string, []interface{}) {
	parts := make([]string, 0, len(fields))
	var args []interface{}
	for _, f := range fields {
		col, a := t.column(f)
		parts = append(parts, col)
		args = append(args, a...)
	}
	return strings.Join(parts, ", "), args
}

func likePattern(text string, kind PatternKind) string {
	r := strings.NewReplacer(likeEscape, likeEscape+likeEscape, "%", likeEscape+"%", "_", likeEscape+"_")
	escaped := strings.ToLower(r.Replace(text))
	switch kind {
	case PatternPrefix:
		return escaped + "%"
	case PatternSuffix:
		return "%" + escaped
	default:
		return "%" + escaped + "%"
	}
}
