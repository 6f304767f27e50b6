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

// Package dto maps entities onto the shapes handed to callers.
package dto

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// ErrIncompatible is returned by PassThrough when the destination type cannot
// hold the source record as is.
var ErrIncompatible = errors.New("dto: incompatible types")

// Mapper turns a source record into a destination shape.
type Mapper[S, D any] interface {
	Map(ctx context.Context, src *S) (*D, error)
}

// MapperFunc adapts a function to Mapper.
type MapperFunc[S, D any] func(ctx context.Context, src *S) (*D, error)

func (f MapperFunc[S, D]) Map(ctx context.Context, src *S) (*D, error) {
	return f(ctx, src)
}

// MapList maps every element of src in order. Nil elements map to nil and
// the result is never nil.
func MapList[S, D any](ctx context.Context, m Mapper[S, D], src []*S) ([]*D, error) {
	out := make([]*D, 0, len(src))
	for _, s := range src {
		if s == nil {
			out = append(out, nil)
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, err := m.Map(ctx, s)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// PassThrough hands the source through unchanged. It only succeeds when *S
// is assignable to *D, or when a value of S is assignable to D.
type PassThrough[S, D any] struct{}

func (PassThrough[S, D]) Map(_ context.Context, src *S) (*D, error) {
	if src == nil {
		return nil, nil
	}
	if d, ok := any(src).(*D); ok {
		return d, nil
	}
	sv := reflect.ValueOf(src).Elem()
	dt := reflect.TypeOf((*D)(nil)).Elem()
	if sv.Type().AssignableTo(dt) {
		d := new(D)
		reflect.ValueOf(d).Elem().Set(sv)
		return d, nil
	}
	return nil, fmt.Errorf("%w: %s is not assignable to %s", ErrIncompatible, sv.Type(), dt)
}
