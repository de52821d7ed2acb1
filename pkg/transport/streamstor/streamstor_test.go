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

package streamstor

import (
	"bytes"
	"testing"

	"jive5ab/pkg/block"
	"jive5ab/pkg/chain"
	"jive5ab/pkg/jlog"
	"jive5ab/pkg/queue"
)

// memDevice is an in-memory Device test double standing in for a real
// vendor SDK handle; it is not, and does not pretend to be, a
// reimplementation of the StreamStor wire protocol.
type memDevice struct {
	data   []byte
	closed bool
}

func (m *memDevice) XLRRead(offset int64, buf []byte) (int, error) {
	if offset >= int64(len(m.data)) {
		return 0, nil
	}
	n := copy(buf, m.data[offset:])
	return n, nil
}

func (m *memDevice) Close() error {
	m.closed = true
	return nil
}

func TestStreamstorReaderReadsExactRange(t *testing.T) {
	data := bytes.Repeat([]byte("playpointer"), 1000)
	dev := &memDevice{data: data}
	pool := block.NewPool(128, 8, jlog.Discard())

	var got bytes.Buffer
	c := chain.New(jlog.Discard())
	c.AddProducer(Reader(dev, pool, 0, int64(len(data)), 128), 4, nil)
	c.AddConsumer(func(inQ *queue.Queue[block.Block], s *chain.Sync) error {
		for {
			b, ok := inQ.Pop()
			if !ok {
				return nil
			}
			got.Write(b.Bytes())
			b.Release()
		}
	}, nil)
	c.Run()
	c.Wait()
	if err := c.Err(); err != nil {
		t.Fatalf("unexpected chain error: %v", err)
	}
	if !bytes.Equal(got.Bytes(), data) {
		t.Fatalf("range read mismatch: got %d bytes, want %d", got.Len(), len(data))
	}
}

func TestStreamstorReaderHonorsSubrange(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 10000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	dev := &memDevice{data: data}
	pool := block.NewPool(64, 8, jlog.Discard())

	start, end := int64(1000), int64(1500)
	var got bytes.Buffer
	c := chain.New(jlog.Discard())
	c.AddProducer(Reader(dev, pool, start, end, 64), 4, nil)
	c.AddConsumer(func(inQ *queue.Queue[block.Block], s *chain.Sync) error {
		for {
			b, ok := inQ.Pop()
			if !ok {
				return nil
			}
			got.Write(b.Bytes())
			b.Release()
		}
	}, nil)
	c.Run()
	c.Wait()
	if err := c.Err(); err != nil {
		t.Fatalf("unexpected chain error: %v", err)
	}
	if !bytes.Equal(got.Bytes(), data[start:end]) {
		t.Fatalf("subrange mismatch: got %d bytes, want %d", got.Len(), end-start)
	}
}
