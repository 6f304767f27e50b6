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

/*
Package query is a staged, immutable query builder on top of bun.

A chain starts at Filterable and the stage interfaces decide which calls are
legal next:

	posts, err := query.New[Post](db).
		Where(query.Gt("created_at", cutoff)).
		Include("Author").
		OrderByDescending("created_at").
		ThenBy("id").
		Skip(20).
		Take(10).
		GetList(ctx)

Every call returns a new builder, so a prefix can be shared:

	recent := query.New[Post](db).Where(query.Gt("created_at", cutoff))
	n, _ := recent.Count(ctx)
	first, _ := recent.GetFirst(ctx)

Argument errors (an empty field, a negative skip, ...) are kept in the chain
and returned by the terminal call before any SQL is sent.

The build order is fixed: base filter, full-text predicates, includes
(depth first), ordering, projection, skip, take.

A filter may reference a to-one include (belongs-to, has-one) by its bun
alias, for example Eq("author.name", "ada") after Include("Author"). Every
terminal joins those includes, Count and DeleteRange included. Has-many
includes are loaded by separate queries and cannot be filtered on.
*/
package query
