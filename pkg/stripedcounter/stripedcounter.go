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

// Package stripedcounter implements a cache-line-padded, striped atomic
// counter used on the hottest accounting paths in the transport engine:
// per-packet PSN bookkeeping (pkg/psn's Table packet count), updated
// concurrently from reader goroutines at line rate where a single shared atomic or a mutex would
// become the bottleneck.
package stripedcounter

import (
	"sync/atomic"
)

// padSize pads a stripe out to a full cache line so that two goroutines
// updating adjacent stripes never false-share a line.
const padSize = 64 - 8

type stripe struct {
	val atomic.Int64
	_   [padSize]byte
}

// Counter is a striped, lock-free accumulator. The zero value is not
// usable; construct with New.
type Counter struct {
	stripes []stripe
	mask    uint64
	chooser atomic.Uint64
}

// New returns a Counter with n stripes, rounded up to the next power of
// two and clamped to [4, 64]. More stripes reduce contention under
// heavier concurrent write load at the cost of a slower Sum.
func New(n int) *Counter {
	s := nextPow2(clamp(n, 4, 64))
	return &Counter{stripes: make([]stripe, s), mask: uint64(s - 1)}
}

// Add adds delta to one stripe, chosen round-robin across callers via an
// atomic chooser increment. Safe for concurrent use by any number of
// goroutines.
func (c *Counter) Add(delta int64) {
	idx := c.chooser.Add(1) & c.mask
	c.stripes[idx].val.Add(delta)
}

// AddStripe adds delta to a caller-chosen stripe directly, for callers
// that want to pin a goroutine (or a connection, or a PSN sender slot)
// to a fixed stripe to avoid even the chooser increment on the hot path.
func (c *Counter) AddStripe(stripeIdx int, delta int64) {
	c.stripes[uint64(stripeIdx)&c.mask].val.Add(delta)
}

// NumStripes returns the stripe count, useful for callers that want to
// pick a stable stripe index per goroutine with AddStripe.
func (c *Counter) NumStripes() int { return len(c.stripes) }

// Sum returns the exact current total. It is not atomic as a whole (a
// concurrent Add may land before or after any individual stripe read)
// but is exact once no further Adds occur, and is the standard way to
// sample a monotonic counter for reporting.
func (c *Counter) Sum() int64 {
	var sum int64
	for i := range c.stripes {
		sum += c.stripes[i].val.Load()
	}
	return sum
}

// Reset zeroes every stripe. Callers must ensure no concurrent Add is in
// flight, or the reset total is only approximately zero.
func (c *Counter) Reset() {
	for i := range c.stripes {
		c.stripes[i].val.Store(0)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func nextPow2(v int) int {
	if v <= 1 {
		return 1
	}
	n := 1
	for n < v {
		n <<= 1
	}
	return n
}
