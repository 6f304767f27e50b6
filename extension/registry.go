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

// Package extension fills entity properties from sources outside the
// database once a query has returned.
package extension

import (
	"context"
	"reflect"
	"sync"
)

// Loader produces the value of an extension property from its correlation
// key. found is false when the source has nothing for the key.
type Loader interface {
	ValueType() reflect.Type
	Load(ctx context.Context, key interface{}) (value interface{}, found bool, err error)
}

// LoaderFunc is a typed Loader. A nil result means not found.
type LoaderFunc[V any] func(ctx context.Context, key interface{}) (*V, error)

func (f LoaderFunc[V]) ValueType() reflect.Type {
	return reflect.TypeOf((*V)(nil)).Elem()
}

func (f LoaderFunc[V]) Load(ctx context.Context, key interface{}) (interface{}, bool, error) {
	v, err := f(ctx, key)
	if err != nil || v == nil {
		return nil, false, err
	}
	return v, true, nil
}

// Registry maps value types to loaders. It is safe for concurrent use;
// registration normally happens once at startup.
type Registry struct {
	mu      sync.RWMutex
	byType  map[reflect.Type]Loader
	ordered []Loader
}

func NewRegistry() *Registry {
	return &Registry{byType: map[reflect.Type]Loader{}}
}

// Register binds f to V, replacing any earlier loader for V.
func Register[V any](r *Registry, f LoaderFunc[V]) {
	r.RegisterLoader(f)
}

// RegisterLoader binds l to its value type.
func (r *Registry) RegisterLoader(l Loader) {
	t := l.ValueType()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byType[t]; !ok {
		r.ordered = append(r.ordered, l)
	} else {
		for i, o := range r.ordered {
			if o.ValueType() == t {
				r.ordered[i] = l
			}
		}
	}
	r.byType[t] = l
}

// Lookup finds the loader for a property of type t. The exact registration
// for t (pointer stripped) wins; otherwise the first loader, in registration
// order, whose value or pointer to value is assignable to t.
func (r *Registry) Lookup(t reflect.Type) (Loader, bool) {
	base := t
	if base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if l, ok := r.byType[base]; ok {
		return l, true
	}
	for _, l := range r.ordered {
		vt := l.ValueType()
		if vt.AssignableTo(t) || reflect.PointerTo(vt).AssignableTo(t) {
			return l, true
		}
	}
	return nil, false
}

// Len reports the number of registered value types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byType)
}
