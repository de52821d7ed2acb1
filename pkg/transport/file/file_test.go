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

package file

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"jive5ab/pkg/block"
	"jive5ab/pkg/chain"
	"jive5ab/pkg/jlog"
	"jive5ab/pkg/queue"
)

func writeTempFile(t *testing.T, dir string, data []byte) *os.File {
	t.Helper()
	p := filepath.Join(dir, "src.bin")
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	f, err := os.Open(p)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return f
}

func TestFileReaderWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	data := bytes.Repeat([]byte("vlbi-data-"), 500) // not a multiple of readSize
	src := writeTempFile(t, dir, data)
	defer src.Close()

	dstPath := filepath.Join(dir, "dst.bin")
	dst, err := os.Create(dstPath)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer dst.Close()

	pool := block.NewPool(1024, 8, jlog.Discard())
	c := chain.New(jlog.Discard())
	c.AddProducer(Reader(src, pool, 1024), 4, nil)
	c.AddConsumer(Writer(dst), nil)
	c.Run()
	c.Wait()
	if err := c.Err(); err != nil {
		t.Fatalf("unexpected chain error: %v", err)
	}

	got, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch: wrote %d bytes, read back %d bytes", len(data), len(got))
	}
}

func TestFileReaderStopsAtEOF(t *testing.T) {
	dir := t.TempDir()
	src := writeTempFile(t, dir, []byte("short"))
	defer src.Close()

	pool := block.NewPool(64, 4, jlog.Discard())
	var blocks int
	c := chain.New(jlog.Discard())
	c.AddProducer(Reader(src, pool, 64), 4, nil)
	c.AddConsumer(func(inQ *queue.Queue[block.Block], s *chain.Sync) error {
		for {
			b, ok := inQ.Pop()
			if !ok {
				return nil
			}
			blocks++
			b.Release()
		}
	}, nil)
	c.Run()
	c.Wait()
	if err := c.Err(); err != nil {
		t.Fatalf("unexpected chain error: %v", err)
	}
	if blocks != 1 {
		t.Fatalf("expected exactly 1 short final block, got %d", blocks)
	}
}

// TestPoolExhaustionSurfacesAsChainError pins a single block in an
// unreleasing consumer while the reader still has more data to pull,
// forcing the next pool.Get() in Reader to fail.
func TestPoolExhaustionSurfacesAsChainError(t *testing.T) {
	dir := t.TempDir()
	data := bytes.Repeat([]byte("x"), 256)
	src := writeTempFile(t, dir, data)
	defer src.Close()

	pool := block.NewPool(64, 1, jlog.Discard())
	c := chain.New(jlog.Discard())
	c.AddProducer(Reader(src, pool, 64), 4, nil)
	c.AddConsumer(func(inQ *queue.Queue[block.Block], s *chain.Sync) error {
		// Deliberately never releases the first block, holding the
		// pool's only slot until the producer starves and aborts the
		// chain, which disables inQ and unblocks the loop below.
		held := false
		for {
			b, ok := inQ.Pop()
			if !ok {
				return nil
			}
			if !held {
				held = true
				continue
			}
			b.Release()
		}
	}, nil)
	c.Run()
	c.Wait()
	if c.Err() == nil {
		t.Fatal("expected chain error from pool exhaustion")
	}
}
