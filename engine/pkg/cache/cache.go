// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
	"github.com/pingcap/modelflow/engine/pkg/tenant"
	"github.com/pingcap/modelflow/pkg/errors"
)

// Key identifies a cached value. Build it with NewKey so that values of
// different teams never collide.
type Key uint64

// NewKey hashes the team id and parts into a Key.
func NewKey(teamID tenant.TeamID, parts ...string) Key {
	d := xxhash.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(teamID))
	_, _ = d.Write(buf[:])
	for _, p := range parts {
		// a separator keeps ("ab", "c") and ("a", "bc") apart
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(p)
	}
	return Key(d.Sum64())
}

// Loader computes a missing value.
type Loader[V any] func(ctx context.Context) (V, error)

// Cache is a TTL cache with explicit keys. It is injected into its users,
// there is no package level instance.
type Cache[V any] struct {
	inner *ttlcache.Cache[Key, V]
}

// New creates a cache whose entries expire ttl after they are set. A zero
// capacity means unbounded.
func New[V any](ttl time.Duration, capacity uint64) *Cache[V] {
	opts := []ttlcache.Option[Key, V]{
		ttlcache.WithTTL[Key, V](ttl),
		ttlcache.WithDisableTouchOnHit[Key, V](),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[Key, V](capacity))
	}
	return &Cache[V]{inner: ttlcache.New[Key, V](opts...)}
}

// Start runs the expiration loop in a goroutine until Stop is called.
func (c *Cache[V]) Start() {
	go c.inner.Start()
}

// Stop stops the expiration loop.
func (c *Cache[V]) Stop() {
	c.inner.Stop()
}

// Get returns the value of key if it's present and not expired.
func (c *Cache[V]) Get(key Key) (V, bool) {
	item := c.inner.Get(key)
	if item == nil || item.IsExpired() {
		var zero V
		return zero, false
	}
	return item.Value(), true
}

// Set stores value under key with the default ttl.
func (c *Cache[V]) Set(key Key, value V) {
	c.inner.Set(key, value, ttlcache.DefaultTTL)
}

// Delete removes key.
func (c *Cache[V]) Delete(key Key) {
	c.inner.Delete(key)
}

// Len returns the number of entries, expired entries not yet evicted
// included.
func (c *Cache[V]) Len() int {
	return c.inner.Len()
}

// GetOrLoad returns the cached value of key, or calls load and caches its
// result. Errors are not cached.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key Key, load Loader[V]) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load(ctx)
	if err != nil {
		return v, errors.Trace(err)
	}
	c.Set(key, v)
	return v, nil
}
