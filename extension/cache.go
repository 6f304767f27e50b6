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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultCacheTTL = 5 * time.Minute

// Cached is a Redis read-through cache in front of a loader. Values are
// stored as JSON under prefix+key; a miss of the underlying loader is
// cached as JSON null so repeated lookups of absent keys stay off the source.
// Redis failures are logged and fall through to the loader.
type Cached[V any] struct {
	client redis.Cmdable
	next   LoaderFunc[V]
	prefix string
	ttl    time.Duration
}

type CacheOption func(*cacheOptions)

type cacheOptions struct {
	prefix string
	ttl    time.Duration
}

func WithKeyPrefix(prefix string) CacheOption {
	return func(o *cacheOptions) { o.prefix = prefix }
}

func WithTTL(ttl time.Duration) CacheOption {
	return func(o *cacheOptions) { o.ttl = ttl }
}

func NewCached[V any](client redis.Cmdable, next LoaderFunc[V], opts ...CacheOption) *Cached[V] {
	o := cacheOptions{ttl: defaultCacheTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.prefix == "" {
		o.prefix = fmt.Sprintf("ext:%s:", LoaderFunc[V](nil).ValueType())
	}
	return &Cached[V]{client: client, next: next, prefix: o.prefix, ttl: o.ttl}
}

// Key returns the Redis key used for key.
func (c *Cached[V]) Key(key interface{}) string {
	return c.prefix + fmt.Sprint(key)
}

// Get has the LoaderFunc signature, so c.Get can be registered directly.
func (c *Cached[V]) Get(ctx context.Context, key interface{}) (*V, error) {
	k := c.Key(key)
	raw, err := c.client.Get(ctx, k).Bytes()
	switch {
	case err == nil:
		var v *V
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
		log.Warnf("dropping undecodable cache entry %s", k)
	case errors.Is(err, redis.Nil):
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		log.Warnf("redis get %s failed: %v", k, err)
	}

	v, err := c.next(ctx, key)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if err := c.client.Set(ctx, k, payload, c.ttl).Err(); err != nil {
		log.Warnf("redis set %s failed: %v", k, err)
	}
	return v, nil
}

// Invalidate drops the cached entry for key.
func (c *Cached[V]) Invalidate(ctx context.Context, key interface{}) error {
	return c.client.Del(ctx, c.Key(key)).Err()
}
