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

// Package streamstor implements the disk2net/disk2file "streamstor
// reader" (spec.md §4.5: "Issues XLRRead calls on the StreamStor SDK
// handle over a [start, end) play-pointer range."). The Conduant
// StreamStor card's register-level protocol and vendor SDK are
// explicitly out of scope (spec.md §1 Non-goals: "hardware register
// descriptions for the Conduant StreamStor card"); only the interface
// the core consumes from it is specified here, as Device. A real
// deployment supplies a Device backed by cgo bindings to the vendor
// XLR* calls; this package never fabricates that binding.
package streamstor

import (
	"fmt"
	"sync"

	"jive5ab/pkg/block"
	"jive5ab/pkg/chain"
	"jive5ab/pkg/queue"
)

// Device is the minimal XLR surface the core consumes: reading a byte
// range out of the disk pack's play pointer space, and closing the
// handle. Everything else about the card is the vendor SDK's concern.
type Device interface {
	// XLRRead fills buf with the bytes in [offset, offset+len(buf)) of
	// the disk pack's address space, returning the number of bytes
	// actually read.
	XLRRead(offset int64, buf []byte) (int, error)
	Close() error
}

// xlrMutex serializes every XLRRead issued against any Device, matching
// spec.md §5's "all XLR calls on that handle must be serialized by a
// process-global XLR mutex (do_xlr_lock/do_xlr_unlock)".
var xlrMutex sync.Mutex

// Reader issues XLRRead calls over [start, end) in readSize chunks,
// pushing one block per call.
func Reader(dev Device, pool *block.Pool, start, end int64, readSize int) chain.ProducerFunc {
	return func(outQ *queue.Queue[block.Block], s *chain.Sync) error {
		if end < start {
			return fmt.Errorf("streamstor: end %d precedes start %d", end, start)
		}
		for offset := start; offset < end; {
			if s.Cancelled() {
				return nil
			}
			n := readSize
			if remaining := end - offset; int64(n) > remaining {
				n = int(remaining)
			}
			b := pool.Get()
			if b.IsEmpty() {
				return errPoolExhausted
			}

			xlrMutex.Lock()
			got, err := dev.XLRRead(offset, b.Bytes()[:n])
			xlrMutex.Unlock()
			if err != nil {
				b.Release()
				return fmt.Errorf("streamstor: XLRRead at offset %d: %w", offset, err)
			}
			sub, serr := b.Sub(0, got)
			b.Release()
			if serr != nil {
				return serr
			}
			if !outQ.Push(sub) {
				sub.Release()
				return nil
			}
			offset += int64(got)
			if got == 0 {
				return fmt.Errorf("streamstor: XLRRead returned 0 bytes at offset %d without error", offset)
			}
		}
		return nil
	}
}

type poolExhaustedError struct{}

func (poolExhaustedError) Error() string { return "streamstor: block pool exhausted" }

var errPoolExhausted = poolExhaustedError{}
