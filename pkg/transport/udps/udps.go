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

// Package udps implements the UDP-with-sequence-numbers reader: a
// three-stage sub-chain (bottom-half recvfrom/seqnr-parse, middle
// reordering-window stage, top-half forwarder) run as a single producer
// step of the caller's outer chain, grounded on
// _examples/original_source/src/threadfns/udpsreader.h's udpsreader()
// building a local chain and waiting on it.
package udps

import (
	"encoding/binary"
	"errors"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"jive5ab/pkg/block"
	"jive5ab/pkg/chain"
	"jive5ab/pkg/psn"
	"jive5ab/pkg/queue"
)

// SeqnrLen is the width of the sequence number prepended to every
// datagram payload (spec.md §4.5: "8-byte big-endian sequence number").
const SeqnrLen = 8

// seqnrLen is kept as the unexported name used throughout this file.
const seqnrLen = SeqnrLen

// Config parameterizes a udps reader sub-chain.
type Config struct {
	Conn      *net.UDPConn
	Pool      *block.Pool // sized seqnrLen+ReadSize, for raw incoming datagrams
	ZeroPool  *block.Pool // sized WriteSize, for zero-filled gap blocks; only used when ReadSize != WriteSize
	ReadSize  int         // payload bytes per datagram as received
	WriteSize int         // payload bytes per block as stored downstream
	Window    int         // reordering window width, in packets
	AckPeriod func() int  // re-read between packets so changes take effect immediately
	Table     *psn.Table
	Log       *logrus.Logger
}

// Build returns a chain.ProducerFunc that, when run, spins up the
// bottom-half/middle/top-half sub-chain, forwards every block it
// produces into outQ, and returns once the sub-chain (and hence the
// socket) is done or the outer Sync is cancelled.
func Build(cfg Config) chain.ProducerFunc {
	return func(outQ *queue.Queue[block.Block], s *chain.Sync) error {
		sub := chain.New(cfg.Log)
		sub.AddProducer(bottomHalf(cfg), 4, nil)
		if cfg.ReadSize == cfg.WriteSize {
			sub.AddFilter(middleNonZeroeing(cfg), 4, nil)
		} else {
			sub.AddFilter(middleZeroeing(cfg), 4, nil)
		}
		sub.AddConsumer(func(inQ *queue.Queue[block.Block], _ *chain.Sync) error {
			for {
				b, ok := inQ.Pop()
				if !ok {
					return nil
				}
				if !outQ.Push(b) {
					b.Release()
					return nil
				}
			}
		}, nil)

		watchDone := make(chan struct{})
		go func() {
			ticker := time.NewTicker(10 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-watchDone:
					return
				case <-ticker.C:
					if s.Cancelled() {
						cfg.Conn.Close()
						sub.Stop()
						return
					}
				}
			}
		}()

		sub.Run()
		sub.Wait()
		close(watchDone)
		return sub.Err()
	}
}

// bottomHalf does the recvfrom loop: one raw (header+payload) block per
// datagram, per-sender PSN accounting, and ACK-back emission.
func bottomHalf(cfg Config) chain.ProducerFunc {
	return func(outQ *queue.Queue[block.Block], s *chain.Sync) error {
		raw := seqnrLen + cfg.ReadSize
		for {
			if s.Cancelled() {
				return nil
			}
			b := cfg.Pool.Get()
			if b.IsEmpty() {
				return errPoolExhausted
			}
			n, sender, err := cfg.Conn.ReadFromUDP(b.Bytes()[:raw])
			if err != nil {
				b.Release()
				if s.Cancelled() || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return err
			}
			if n < seqnrLen {
				b.Release()
				continue
			}
			seqnr := binary.BigEndian.Uint64(b.Bytes()[:seqnrLen])

			ackPeriod := 100
			if cfg.AckPeriod != nil {
				ackPeriod = cfg.AckPeriod()
			}
			if cfg.Table != nil {
				st := cfg.Table.Get(sender, seqnr)
				ack := st.HandleSeqnr(seqnr, ackPeriod)
				if ack.Send {
					if _, werr := cfg.Conn.WriteToUDP([]byte(ack.Token), sender); werr != nil && cfg.Log != nil {
						cfg.Log.WithError(werr).Warn("udps: ack-back send failed")
					}
				}
			}

			sub, serr := b.Sub(0, n)
			b.Release()
			if serr != nil {
				return serr
			}
			if !outQ.Push(sub) {
				sub.Release()
				return nil
			}
		}
	}
}

// reorderWindow holds the middle stage's sliding-window state: blocks
// that arrived out of order are parked here until the window reaches
// their sequence number or they age out.
type reorderWindow struct {
	cfg     Config
	cursor  uint64
	started bool
	slots   map[uint64]block.Block
}

func newReorderWindow(cfg Config) *reorderWindow {
	w := cfg.Window
	if w <= 0 {
		w = 16
	}
	cfg.Window = w
	return &reorderWindow{cfg: cfg, slots: make(map[uint64]block.Block)}
}

// admit folds in one arrival (already stripped of its seqnr header) and
// drains every slot that has become contiguous with the cursor, pushing
// them to outQ in order. Arrivals older than the cursor are dropped;
// arrivals far enough ahead force the window to advance, flushing
// whatever sits between the old and new cursor (zero-filled when
// zeroFill is non-nil, skipped otherwise).
func (w *reorderWindow) admit(seqnr uint64, payload block.Block, outQ *queue.Queue[block.Block], zeroFill func() block.Block) bool {
	if !w.started {
		w.cursor = seqnr
		w.started = true
	}
	if seqnr < w.cursor {
		payload.Release()
		return true
	}
	if seqnr-w.cursor >= uint64(w.cfg.Window) {
		newCursor := seqnr - uint64(w.cfg.Window) + 1
		for w.cursor < newCursor {
			if !w.flushOne(outQ, zeroFill) {
				return false
			}
		}
	}
	w.slots[seqnr] = payload
	for {
		s, ok := w.slots[w.cursor]
		if !ok {
			break
		}
		delete(w.slots, w.cursor)
		if !outQ.Push(s) {
			s.Release()
			return false
		}
		w.cursor++
	}
	return true
}

// flushOne pushes (or drops) the slot at the current cursor and
// advances it by one, used both when the window is forced forward by a
// far-ahead arrival and when draining remaining state at EOF.
func (w *reorderWindow) flushOne(outQ *queue.Queue[block.Block], zeroFill func() block.Block) bool {
	if s, ok := w.slots[w.cursor]; ok {
		delete(w.slots, w.cursor)
		w.cursor++
		return outQ.Push(s)
	}
	w.cursor++
	if zeroFill == nil {
		return true
	}
	z := zeroFill()
	if z.IsEmpty() {
		return true
	}
	return outQ.Push(z)
}

// drain flushes every remaining buffered slot in sequence order at EOF.
func (w *reorderWindow) drain(outQ *queue.Queue[block.Block], zeroFill func() block.Block) {
	if len(w.slots) == 0 {
		return
	}
	last := w.cursor
	for seq := range w.slots {
		if seq+1 > last {
			last = seq + 1
		}
	}
	for w.cursor < last {
		if !w.flushOne(outQ, zeroFill) {
			return
		}
	}
}

// middleNonZeroeing is used when read_size==write_size: no decompression
// downstream, so gaps are simply skipped rather than materialized as
// zero blocks.
func middleNonZeroeing(cfg Config) chain.FilterFunc {
	return func(inQ, outQ *queue.Queue[block.Block], s *chain.Sync) error {
		w := newReorderWindow(cfg)
		for {
			b, ok := inQ.Pop()
			if !ok {
				w.drain(outQ, nil)
				return nil
			}
			seqnr, payload, err := splitHeader(b)
			if err != nil {
				return err
			}
			if !w.admit(seqnr, payload, outQ, nil) {
				return nil
			}
		}
	}
}

// middleZeroeing is used when read_size!=write_size: missing packets
// are replaced with zero-filled blocks so a downstream decompressor
// never sees stale pool memory where data was lost.
func middleZeroeing(cfg Config) chain.FilterFunc {
	return func(inQ, outQ *queue.Queue[block.Block], s *chain.Sync) error {
		w := newReorderWindow(cfg)
		zeroFill := func() block.Block {
			if cfg.ZeroPool == nil {
				return block.Empty()
			}
			zb := cfg.ZeroPool.Get()
			if zb.IsEmpty() {
				return zb
			}
			for i := range zb.Bytes() {
				zb.Bytes()[i] = 0
			}
			return zb
		}
		for {
			b, ok := inQ.Pop()
			if !ok {
				w.drain(outQ, zeroFill)
				return nil
			}
			seqnr, payload, err := splitHeader(b)
			if err != nil {
				return err
			}
			if !w.admit(seqnr, payload, outQ, zeroFill) {
				return nil
			}
		}
	}
}

func splitHeader(b block.Block) (uint64, block.Block, error) {
	seqnr := binary.BigEndian.Uint64(b.Bytes()[:seqnrLen])
	payload, err := b.Sub(seqnrLen, b.Len()-seqnrLen)
	b.Release()
	if err != nil {
		return 0, block.Block{}, err
	}
	return seqnr, payload, nil
}

type poolExhaustedError struct{}

func (poolExhaustedError) Error() string { return "udps: block pool exhausted" }

var errPoolExhausted = poolExhaustedError{}
