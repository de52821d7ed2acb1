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

package udt

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"jive5ab/pkg/block"
	"jive5ab/pkg/chain"
	"jive5ab/pkg/jlog"
	"jive5ab/pkg/queue"
)

func TestCongestionControllerBacksOffOnStuckAck(t *testing.T) {
	cc := NewCongestionController(10*time.Millisecond, time.Millisecond, 100*time.Millisecond)
	start := cc.IPD()
	cc.OnAck("tok0")
	cc.OnAck("tok0")
	if got := cc.IPD(); got <= start {
		t.Fatalf("expected ipd to increase on repeated token, start=%v got=%v", start, got)
	}
}

func TestCongestionControllerSpeedsUpOnFreshAck(t *testing.T) {
	cc := NewCongestionController(50*time.Millisecond, time.Millisecond, 100*time.Millisecond)
	start := cc.IPD()
	cc.OnAck("tok0")
	cc.OnAck("tok1")
	if got := cc.IPD(); got >= start {
		t.Fatalf("expected ipd to decrease on fresh tokens, start=%v got=%v", start, got)
	}
}

func TestCongestionControllerClampsToFloorAndCeiling(t *testing.T) {
	cc := NewCongestionController(5*time.Millisecond, 5*time.Millisecond, 6*time.Millisecond)
	for i := 0; i < 50; i++ {
		cc.OnAck("fresh")
		cc.OnAck("fresh")
	}
	if got := cc.IPD(); got < 5*time.Millisecond || got > 6*time.Millisecond {
		t.Fatalf("expected ipd clamped within [5ms,6ms], got %v", got)
	}
}

func TestWriterSendsSequencedDatagrams(t *testing.T) {
	server, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer server.Close()
	client, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer client.Close()

	cc := NewCongestionController(0, 0, time.Millisecond)
	raddr := server.LocalAddr().(*net.UDPAddr)

	pool := block.NewPool(32, 4, jlog.Discard())
	c := chain.New(jlog.Discard())
	c.AddProducer(func(outQ *queue.Queue[block.Block], s *chain.Sync) error {
		for i := 0; i < 3; i++ {
			b := pool.Get()
			copy(b.Bytes(), []byte("payload-data-here-padded-32b!!!"))
			if !outQ.Push(b) {
				b.Release()
				return nil
			}
		}
		return nil
	}, 4, nil)
	c.AddConsumer(Writer(client, raddr, cc), nil)
	c.Run()
	c.Wait()
	if err := c.Err(); err != nil {
		t.Fatalf("unexpected chain error: %v", err)
	}

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	for i := uint64(0); i < 3; i++ {
		n, _, err := server.ReadFromUDP(buf)
		if err != nil {
			t.Fatalf("ReadFromUDP: %v", err)
		}
		if n < seqnrLen {
			t.Fatalf("datagram %d too short: %d bytes", i, n)
		}
		got := binary.BigEndian.Uint64(buf[:seqnrLen])
		if got != i {
			t.Fatalf("datagram %d: expected seqnr %d, got %d", i, i, got)
		}
	}
}
