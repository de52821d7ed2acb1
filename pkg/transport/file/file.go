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

// Package file implements the plain regular-file reader/writer chain
// steps (spec.md §4.5: "file reader / file writer. Straightforward
// read/write loops using blocking I/O; close_filedescriptor is the
// cancel_fn.").
package file

import (
	"io"
	"os"

	"jive5ab/pkg/block"
	"jive5ab/pkg/chain"
	"jive5ab/pkg/queue"
)

// Reader reads readSize chunks from f into pool-backed blocks until EOF
// or error, pushing each to outQ. Register f.Close as the step's
// cancel_fn so a blocked read unblocks promptly on Stop.
func Reader(f *os.File, pool *block.Pool, readSize int) chain.ProducerFunc {
	return func(outQ *queue.Queue[block.Block], s *chain.Sync) error {
		for {
			if s.Cancelled() {
				return nil
			}
			b := pool.Get()
			if b.IsEmpty() {
				return errPoolExhausted
			}
			n, err := io.ReadFull(f, b.Bytes()[:readSize])
			if n > 0 {
				sub, serr := b.Sub(0, n)
				if serr != nil {
					b.Release()
					return serr
				}
				b.Release()
				if !outQ.Push(sub) {
					sub.Release()
					return nil
				}
			} else {
				b.Release()
			}
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			if err != nil {
				return err
			}
		}
	}
}

// Writer writes every block it receives from inQ to f in order.
func Writer(f *os.File) chain.ConsumerFunc {
	return func(inQ *queue.Queue[block.Block], s *chain.Sync) error {
		for {
			b, ok := inQ.Pop()
			if !ok {
				return nil
			}
			_, err := f.Write(b.Bytes())
			b.Release()
			if err != nil {
				return err
			}
		}
	}
}

type poolExhaustedError struct{}

func (poolExhaustedError) Error() string { return "file: block pool exhausted" }

var errPoolExhausted = poolExhaustedError{}
