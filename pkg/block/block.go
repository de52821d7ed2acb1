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

// Package block implements the reference-counted, zero-copy buffer that
// circulates through a processing chain, and the pool(s) it is drawn from.
//
// A Block is a {data, refcount} pair. Copying a Block (Retain) bumps the
// shared counter; Release decrements it, returning the backing storage to
// its pool when the count reaches zero. Sub carves an aliasing sub-range
// out of the same backing array without copying bytes.
package block

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrOutOfRange is returned by Sub when the requested region does not fit
// within the block.
var ErrOutOfRange = errors.New("block: sub-range out of bounds")

// trailingPad is the number of bytes over-allocated at the tail of every
// pool slot. External SSE dechannelizer code reads up to this many bytes
// past the logical end of the last block in a transfer; the pool must keep
// those bytes addressable and must never resize a slot to less than
// blockSize+trailingPad.
const trailingPad = 16

var emptyCounter int32 = 1 // always considered "referenced"; Release on it is a no-op

// Block is a slice of memory owned (ultimately) by a Pool, plus the shared
// refcount for that slot. The empty block (Empty()) has nil data, Len 0,
// and points at the static dummy counter; the zero Block is also empty
// (with a nil counter). Release is safe on either, since neither has a
// pool.
type Block struct {
	data []byte   // full slice, len == requested length
	ref  *int32   // shared with all Blocks referring to the same slot
	pool *Pool    // owning pool, nil for blocks that do not own pool storage
	slot int      // index into pool's counters, -1 if pool == nil
}

// Empty returns the zero-value block.
func Empty() Block {
	return Block{ref: &emptyCounter, slot: -1}
}

// IsEmpty reports whether b is the empty block (no backing storage).
func (b Block) IsEmpty() bool {
	return b.data == nil && len(b.data) == 0 && b.pool == nil
}

// Len returns the number of usable bytes.
func (b Block) Len() int { return len(b.data) }

// Bytes returns the block's backing bytes. Callers must not retain the
// slice beyond the Block's lifetime (i.e. past a Release), since the
// storage may be recycled by the pool once the refcount reaches zero.
func (b Block) Bytes() []byte { return b.data }

// Retain bumps the shared refcount and returns a new Block value that
// refers to the same storage. The returned Block must be Released
// independently of b.
func (b Block) Retain() Block {
	if b.pool != nil {
		atomic.AddInt32(b.ref, 1)
	}
	return b
}

// Release decrements the shared refcount. When it reaches zero and the
// block owns pool storage, the slot is returned to the pool for reuse.
// Releasing the empty block, or a block whose storage is not pool-owned,
// is a no-op on the counter (but always safe to call).
func (b Block) Release() {
	if b.pool == nil {
		return
	}
	if atomic.AddInt32(b.ref, -1) == 0 {
		b.pool.free(b.slot)
	}
}

// Sub returns a new Block aliasing b.data[offset:offset+length], bumping
// the shared refcount. It fails if the requested region does not fit
// within b.
func (b Block) Sub(offset, length int) (Block, error) {
	if offset < 0 || length < 0 || offset+length > len(b.data) {
		return Block{}, ErrOutOfRange
	}
	if b.pool != nil {
		atomic.AddInt32(b.ref, 1)
	}
	return Block{
		data: b.data[offset : offset+length : offset+length],
		ref:  b.ref,
		pool: b.pool,
		slot: b.slot,
	}, nil
}

// Pool is a fixed-count, fixed-size arena of blocks plus a parallel array
// of atomic "in use" counters. Get() performs a round-robin scan for a
// free slot; on exhaustion it returns the empty Block (callers needing
// growth use a BlockPool instead of a bare Pool).
type Pool struct {
	arena     []byte
	counters  []int32
	blockSize int
	nextAlloc int32
	log       *logrus.Logger
}

// NewPool allocates n blocks of blockSize bytes each (plus the mandatory
// 16-byte SSE overallocation per slot) and n zeroed atomic counters.
func NewPool(blockSize, n int, log *logrus.Logger) *Pool {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pool{
		arena:     make([]byte, n*(blockSize+trailingPad)),
		counters:  make([]int32, n),
		blockSize: blockSize,
		log:       log,
	}
}

// Cap returns the number of slots in the pool.
func (p *Pool) Cap() int { return len(p.counters) }

// BlockSize returns the logical (non-padded) size of each slot.
func (p *Pool) BlockSize() int { return p.blockSize }

// Get walks the counters round-robin starting at nextAlloc, doing an
// atomic compare-and-swap 0->1 on each; on success it returns a Block
// pointing at that slot. After one full lap with no free slot it returns
// the empty Block.
func (p *Pool) Get() Block {
	n := int32(len(p.counters))
	if n == 0 {
		return Empty()
	}
	start := atomic.LoadInt32(&p.nextAlloc)
	for i := int32(0); i < n; i++ {
		idx := (start + i) % n
		if atomic.CompareAndSwapInt32(&p.counters[idx], 0, 1) {
			atomic.StoreInt32(&p.nextAlloc, (idx+1)%n)
			lo := int(idx) * (p.blockSize + trailingPad)
			// data is sliced to blockSize; cap extends over the trailing pad
			// so an external reader can safely read up to 16 bytes past len().
			full := p.arena[lo : lo+p.blockSize+trailingPad]
			return Block{
				data: full[:p.blockSize:len(full)],
				ref:  &p.counters[idx],
				pool: p,
				slot: int(idx),
			}
		}
	}
	return Empty()
}

func (p *Pool) free(slot int) {
	atomic.StoreInt32(&p.counters[slot], 0)
}

// Close waits up to timeout for all outstanding counters to reach zero,
// logging (but not blocking indefinitely on) any that remain referenced.
// The Go garbage collector reclaims the arena once nothing (including a
// Block the caller forgot to Release) refers to it, so there is no
// explicit free() here -- Close's job is purely the diagnostic wait.
func (p *Pool) Close(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if p.outstanding() == 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if n := p.outstanding(); n > 0 {
		p.log.WithField("outstanding", n).Warn("block: pool destroyed with outstanding references")
	}
}

func (p *Pool) outstanding() int {
	n := 0
	for i := range p.counters {
		if atomic.LoadInt32(&p.counters[i]) != 0 {
			n++
		}
	}
	return n
}
