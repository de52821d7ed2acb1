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

// Package vbs implements the FlexBuff/Mark6 "scan across mount points"
// reader and writer (spec.md §4.5: "vbs reader (FlexBuff/Mark6). Opens a
// scan across mount-points; the libvbs-style fd supports read/lseek.").
// A recording is stored as chunk files
// "<mountpoint>/<recording>/<recording>.<chunk index>" scattered across
// every mount point in pkg/mountpoints.Info; this package presents that
// scatter as one ordered byte stream read chunk by chunk, and as a
// round-robin chunk writer on the way in, grounded on spec.md §4.8's
// on-disk layout description.
package vbs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"jive5ab/pkg/block"
	"jive5ab/pkg/chain"
	"jive5ab/pkg/mountpoints"
	"jive5ab/pkg/queue"
)

var chunkSuffix = regexp.MustCompile(`\.([0-9]+)$`)

// chunkFile is one on-disk chunk of a scan, resolved by ScanFiles.
type chunkFile struct {
	path  string
	index int
}

// ScanFiles returns the chunk files belonging to recording, scattered
// across info.Mountpoints(), sorted by chunk index (the order a vbs fd
// presents them in, regardless of which physical disk each chunk lives
// on).
func ScanFiles(info *mountpoints.Info, recording string) ([]string, error) {
	var chunks []chunkFile
	for _, mp := range info.Mountpoints() {
		dir := filepath.Join(mp, recording)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		prefix := recording + "."
		for _, e := range entries {
			if e.IsDir() || len(e.Name()) <= len(prefix) || e.Name()[:len(prefix)] != prefix {
				continue
			}
			m := chunkSuffix.FindStringSubmatch(e.Name())
			if m == nil {
				continue
			}
			idx, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			chunks = append(chunks, chunkFile{path: filepath.Join(dir, e.Name()), index: idx})
		}
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("vbs: no chunks found for recording %q under any mountpoint", recording)
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].index < chunks[j].index })
	paths := make([]string, len(chunks))
	for i, c := range chunks {
		paths[i] = c.path
	}
	return paths, nil
}

// Reader reads every chunk of recording in index order, presenting them
// as one continuous stream of readSize blocks, the way a vbs fd's
// read/lseek pair presents a scan as a single logical file.
func Reader(info *mountpoints.Info, recording string, pool *block.Pool, readSize int) chain.ProducerFunc {
	return func(outQ *queue.Queue[block.Block], s *chain.Sync) error {
		paths, err := ScanFiles(info, recording)
		if err != nil {
			return err
		}
		for _, p := range paths {
			if s.Cancelled() {
				return nil
			}
			if err := readChunk(p, pool, readSize, outQ, s); err != nil {
				return err
			}
		}
		return nil
	}
}

func readChunk(path string, pool *block.Pool, readSize int, outQ *queue.Queue[block.Block], s *chain.Sync) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
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
			b.Release()
			if serr != nil {
				return serr
			}
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

// Writer writes incoming blocks into a new chunk file per block,
// rotating across info.Mountpoints() round-robin, so a recording
// scatters evenly across every available disk the way a real FlexBuff
// write does.
func Writer(info *mountpoints.Info, recording string) chain.ConsumerFunc {
	return func(inQ *queue.Queue[block.Block], s *chain.Sync) error {
		mps := info.Mountpoints()
		if len(mps) == 0 {
			return fmt.Errorf("vbs: no mountpoints available to write recording %q", recording)
		}
		idx := 0
		mpIdx := 0
		for {
			b, ok := inQ.Pop()
			if !ok {
				return nil
			}
			mp := mps[mpIdx%len(mps)]
			mpIdx++
			dir := filepath.Join(mp, recording)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				b.Release()
				return err
			}
			path := filepath.Join(dir, fmt.Sprintf("%s.%06d", recording, idx))
			idx++
			if err := os.WriteFile(path, b.Bytes(), 0o644); err != nil {
				b.Release()
				return err
			}
			b.Release()
		}
	}
}

type poolExhaustedError struct{}

func (poolExhaustedError) Error() string { return "vbs: block pool exhausted" }

var errPoolExhausted = poolExhaustedError{}
