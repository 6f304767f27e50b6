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

package extension

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Memoized keeps the most recent loader results in process. Misses are
// remembered too. Errors are never cached.
type Memoized[V any] struct {
	cache *lru.Cache[string, *V]
	next  LoaderFunc[V]
}

func NewMemoized[V any](size int, next LoaderFunc[V]) (*Memoized[V], error) {
	cache, err := lru.New[string, *V](size)
	if err != nil {
		return nil, err
	}
	return &Memoized[V]{cache: cache, next: next}, nil
}

// Get has the LoaderFunc signature, so m.Get can be registered directly.
func (m *Memoized[V]) Get(ctx context.Context, key interface{}) (*V, error) {
	k := fmt.Sprint(key)
	if v, ok := m.cache.Get(k); ok {
		return v, nil
	}
	v, err := m.next(ctx, key)
	if err != nil {
		return nil, err
	}
	m.cache.Add(k, v)
	return v, nil
}

func (m *Memoized[V]) Purge() {
	m.cache.Purge()
}

func (m *Memoized[V]) Len() int {
	return m.cache.Len()
}
