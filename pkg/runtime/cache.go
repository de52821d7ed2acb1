// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package runtime

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is the generic per_runtime<T> equivalent (spec.md §4.9): a
// type-erased, runtime-keyed store. Internally it is backed by one
// go-cache instance per distinct runtime (rather than a single map keyed
// by runtime pointer, which Go cannot express with per_runtime's C++
// reinterpret_cast key-deleter trick). A Cache that ever touched a
// Runtime registers a deleter on it so that Runtime.Close forgets that
// Cache's entries for it. Cache has no Close of its own; its deleters
// stay registered on each Runtime until that Runtime closes.
//
// Entries stored with Set never expire; entries stored with SetWithTTL
// are no longer returned once their ttl has passed. No background janitor
// runs (storeFor creates each go-cache with a zero cleanup interval).
type Cache[T any] struct {
	mu    sync.Mutex
	byRte map[*Runtime]*gocache.Cache
}

// NewCache creates an empty per-runtime cache.
func NewCache[T any]() *Cache[T] {
	return &Cache[T]{byRte: make(map[*Runtime]*gocache.Cache)}
}

func (c *Cache[T]) storeFor(rte *Runtime) *gocache.Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	gc, ok := c.byRte[rte]
	if !ok {
		gc = gocache.New(gocache.NoExpiration, 0)
		c.byRte[rte] = gc
		rte.registerKeyDeleter(c, func(key interface{}) {
			c.forget(key.(*Runtime))
		})
	}
	return gc
}

func (c *Cache[T]) forget(rte *Runtime) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byRte, rte)
}

// Get returns the value stored for rte under key, if any.
func (c *Cache[T]) Get(rte *Runtime, key string) (T, bool) {
	var zero T
	gc := c.storeFor(rte)
	v, ok := gc.Get(key)
	if !ok {
		return zero, false
	}
	return v.(T), true
}

// Set stores value for rte under key with no expiration.
func (c *Cache[T]) Set(rte *Runtime, key string, value T) {
	gc := c.storeFor(rte)
	gc.Set(key, value, gocache.NoExpiration)
}

// SetWithTTL stores value for rte under key, expiring after ttl -- used
// by commands whose cached handle (e.g. a background compile-in-progress
// marker) should not outlive a bounded window even absent an explicit
// teardown.
func (c *Cache[T]) SetWithTTL(rte *Runtime, key string, value T, ttl time.Duration) {
	gc := c.storeFor(rte)
	gc.Set(key, value, ttl)
}

// Delete removes rte's entry for key.
func (c *Cache[T]) Delete(rte *Runtime, key string) {
	gc := c.storeFor(rte)
	gc.Delete(key)
}

// Forget drops every key cached for rte, without waiting for
// Runtime.Close. Rarely needed directly; Runtime.Close calls this
// indirectly via the key-deleter registered in storeFor.
func (c *Cache[T]) Forget(rte *Runtime) {
	c.forget(rte)
}
