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

// Package psn tracks per-sender packet sequence number (PSN) statistics
// for the udps reader: packet/loss/reordering counts and the rotating
// ACK-back token protocol, grounded on
// _examples/original_source/src/threadfns/per_sender.cc and the 16-entry
// ring buffer of _examples/original_source/evlbi5a/circular_buffer.cc.
package psn

import (
	"net"

	"jive5ab/pkg/stripedcounter"
)

// ringSize matches the original's psn(16) ring of recently-seen sequence
// numbers, used to approximate RFC 4737 reordering extent without a full
// linear search over every packet ever seen.
const ringSize = 16

// ackTokens is the rotating set of opaque tokens sent back to a sender
// as flow-control acknowledgements, mirroring the original's rotating
// scrambled-word table (the exact words are cosmetic; what matters is
// that the sender can tell consecutive ACKs apart).
var ackTokens = [...]string{
	"ack0", "ack1", "ack2", "ack3", "ack4", "ack5", "ack6",
}

// ring is a fixed-capacity FIFO of the most recently pushed sequence
// numbers, oldest evicted first once full.
type ring struct {
	buf   [ringSize]uint64
	count int
	head  int // index of the oldest element
}

func (r *ring) push(v uint64) {
	if r.count < ringSize {
		r.buf[(r.head+r.count)%ringSize] = v
		r.count++
		return
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % ringSize
}

func (r *ring) size() int { return r.count }

func (r *ring) at(i int) uint64 {
	return r.buf[(r.head+i)%ringSize]
}

// Stats is one sender's accounting state, keyed by source address in
// Table. It is not safe for concurrent use, and Table adds no locking:
// callers must serialize access themselves.
type Stats struct {
	Sender *net.UDPAddr

	ExpectSeqnr uint64
	MinSeq      uint64
	MaxSeq      uint64
	LossCount   uint64
	PacketCount uint64
	OutOfOrder  uint64
	OOOSum      uint64

	seen ring

	ackIdx      int
	ackDue      int
	lastAckPeriod int
}

// NewStats initializes per-sender state seeded with the first observed
// sequence number, matching per_sender_type's sockaddr_in constructor.
func NewStats(sender *net.UDPAddr, firstSeqnr uint64) *Stats {
	return &Stats{
		Sender:      sender,
		ExpectSeqnr: firstSeqnr,
		MinSeq:      firstSeqnr,
		MaxSeq:      firstSeqnr,
	}
}

// AckDecision tells the caller whether to send an ACK-back token this
// call, and if so which one.
type AckDecision struct {
	Send  bool
	Token string
}

// HandleSeqnr folds in one received sequence number and decides whether
// an ACK-back is due this packet, per per_sender_type::handle_seqnr.
// ackPeriod is the number of packets between ACKs; a change in
// ackPeriod since the previous call forces an immediate ACK and resets
// the cadence, matching the original's "someone set a different
// acknowledgement period" branch.
func (s *Stats) HandleSeqnr(seqnr uint64, ackPeriod int) AckDecision {
	s.PacketCount++
	if seqnr > s.MaxSeq {
		s.MaxSeq = seqnr
	} else if seqnr < s.MinSeq {
		s.MinSeq = seqnr
	}
	s.LossCount = s.MaxSeq - s.MinSeq + 1 - s.PacketCount

	if s.MaxSeq != s.MinSeq {
		s.seen.push(seqnr)

		if seqnr >= s.ExpectSeqnr {
			s.ExpectSeqnr = seqnr + 1
		} else {
			s.OutOfOrder++
			n := s.seen.size()
			j := 0
			for j < n && s.seen.at(j) < seqnr {
				j++
			}
			s.OOOSum += uint64(n - j)
		}
	}

	if ackPeriod != s.lastAckPeriod {
		s.ackDue = 0
		s.lastAckPeriod = ackPeriod
	}

	s.ackDue--
	if s.ackDue > 0 {
		return AckDecision{}
	}

	tok := ackTokens[s.ackIdx]
	if tok == "" {
		s.ackIdx = 0
		tok = ackTokens[0]
	}
	s.ackDue = ackPeriod
	s.ackIdx++
	if s.ackIdx >= len(ackTokens) {
		s.ackIdx = 0
	}
	return AckDecision{Send: true, Token: tok}
}

// senderKey is a comparable stand-in for net.UDPAddr, since net.UDPAddr
// itself is not guaranteed comparable once ipv4-in-ipv6 forms are mixed.
type senderKey struct {
	ip   string
	port int
}

func keyOf(a *net.UDPAddr) senderKey {
	return senderKey{ip: a.IP.String(), port: a.Port}
}

// Table tracks Stats per distinct sender address, as a udps reader must
// when multiple antennas multiplex onto one receiving port.
type Table struct {
	bySender map[senderKey]*Stats
	packets  *stripedcounter.Counter
}

// NewTable creates an empty per-sender table. packets, if non-nil, is
// incremented once per packet across all senders -- a cheap aggregate
// packet counter that does not require locking Table itself.
func NewTable(packets *stripedcounter.Counter) *Table {
	return &Table{bySender: make(map[senderKey]*Stats), packets: packets}
}

// Get returns the Stats for sender, creating it (seeded with seqnr) on
// first sight.
func (t *Table) Get(sender *net.UDPAddr, seqnr uint64) *Stats {
	k := keyOf(sender)
	st, ok := t.bySender[k]
	if !ok {
		st = NewStats(sender, seqnr)
		t.bySender[k] = st
	}
	if t.packets != nil {
		t.packets.Add(1)
	}
	return st
}

// Len returns the number of distinct senders seen.
func (t *Table) Len() int { return len(t.bySender) }

// Senders returns a snapshot of all tracked Stats, for status reporting.
func (t *Table) Senders() []*Stats {
	out := make([]*Stats, 0, len(t.bySender))
	for _, st := range t.bySender {
		out = append(out, st)
	}
	return out
}
