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
	"reflect"

	"github.com/tomoncle/bunrepo/types"
	"github.com/tomoncle/bunrepo/utils"
)

var log = utils.NewLogger("EXTENSION")

// Resolver fills extension properties from a Registry.
type Resolver struct {
	registry *Registry
}

func NewResolver(registry *Registry) *Resolver {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Resolver{registry: registry}
}

func (r *Resolver) Registry() *Registry {
	return r.registry
}

// Resolve fills properties on record, a pointer to a struct, in the given
// order. A property is left alone when it is already set, when its
// correlation key (<Name>ID or <Name>Id) is zero, when no loader is
// registered for its type or when the loader finds nothing.
func (r *Resolver) Resolve(ctx context.Context, record interface{}, properties ...string) error {
	rv := reflect.ValueOf(record)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return types.InvalidArgument("extension target must be a non-nil struct pointer, got %T", record)
	}
	sv := rv.Elem()
	for _, name := range properties {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.resolveOne(ctx, sv, name); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) resolveOne(ctx context.Context, sv reflect.Value, name string) error {
	prop := sv.FieldByName(name)
	if !prop.IsValid() || !prop.CanSet() {
		return types.InvalidArgument("%s has no settable property %q", sv.Type(), name)
	}
	if !prop.IsZero() {
		return nil
	}
	key, ok := correlationKey(sv, name)
	if !ok {
		return types.InvalidArgument("%s has no correlation key %sID for property %q", sv.Type(), name, name)
	}
	if !key.IsValid() {
		return nil
	}

	loader, ok := r.registry.Lookup(prop.Type())
	if !ok {
		log.Debugf("no loader for %s.%s (%s)", sv.Type(), name, prop.Type())
		return nil
	}
	value, found, err := loader.Load(ctx, key.Interface())
	if err != nil {
		return err
	}
	if !found || value == nil {
		return nil
	}
	return assign(prop, reflect.ValueOf(value), sv.Type(), name)
}

// correlationKey returns the key field's value, or an invalid Value when the
// key is zero. ok is false when the struct has no key field at all.
func correlationKey(sv reflect.Value, name string) (reflect.Value, bool) {
	key := sv.FieldByName(name + "ID")
	if !key.IsValid() {
		key = sv.FieldByName(name + "Id")
	}
	if !key.IsValid() {
		return reflect.Value{}, false
	}
	if key.Kind() == reflect.Pointer {
		if key.IsNil() {
			return reflect.Value{}, true
		}
		key = key.Elem()
	}
	if key.IsZero() {
		return reflect.Value{}, true
	}
	return key, true
}

func assign(prop, value reflect.Value, owner reflect.Type, name string) error {
	switch {
	case value.Type().AssignableTo(prop.Type()):
		prop.Set(value)
	case value.Kind() == reflect.Pointer && value.Elem().Type().AssignableTo(prop.Type()):
		prop.Set(value.Elem())
	case prop.Kind() == reflect.Pointer && value.Type().AssignableTo(prop.Type().Elem()):
		p := reflect.New(prop.Type().Elem())
		p.Elem().Set(value)
		prop.Set(p)
	default:
		return types.InvariantViolation("loader for %s.%s returned %s, want %s", owner, name, value.Type(), prop.Type())
	}
	return nil
}
