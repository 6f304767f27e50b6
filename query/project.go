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

	"github.com/tomoncle/bunrepo/dto"
)

// SelectAs runs e as a projection and scans the rows into R, whose fields
// are matched to columns by their bun names. The result is never nil.
func SelectAs[R, T any](ctx context.Context, e Executable[T]) ([]R, error) {
	var out []R
	if err := e.SelectInto(ctx, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []R{}
	}
	return out, nil
}

// GetListAs runs e and maps every record through m.
func GetListAs[T, D any](ctx context.Context, e Executable[T], m dto.Mapper[T, D]) ([]*D, error) {
	rows, err := e.GetList(ctx)
	if err != nil {
		return nil, err
	}
	return dto.MapList(ctx, m, rows)
}
