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

package udps

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"jive5ab/pkg/block"
	"jive5ab/pkg/chain"
	"jive5ab/pkg/jlog"
	"jive5ab/pkg/psn"
	"jive5ab/pkg/queue"
)

func udpsPair(t *testing.T) (*net.UDPConn, *net.UDPConn) {
	t.Helper()
	server, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP server: %v", err)
	}
	client, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP client: %v", err)
	}
	return server, client
}

func datagram(seqnr uint64, payloadSize int) []byte {
	buf := make([]byte, seqnrLen+payloadSize)
	binary.BigEndian.PutUint64(buf[:seqnrLen], seqnr)
	for i := seqnrLen; i < len(buf); i++ {
		buf[i] = byte(seqnr)
	}
	return buf
}

// TestUDPSNoLoss is scenario S1: monotone sequence numbers, no drops,
// expect pktcnt == N, loscnt == 0, ooocnt == 0, and every payload
// forwarded in order.
func TestUDPSNoLoss(t *testing.T) {
	server, client := udpsPair(t)
	defer client.Close()

	const n = 200
	const payloadSize = 256
	pool := block.NewPool(seqnrLen+payloadSize, 32, jlog.Discard())
	table := psn.NewTable(nil)

	var forwarded int
	var lastSeen int64 = -1
	outOfOrder := false
	done := make(chan struct{})

	prod := Build(Config{
		Conn:      server,
		Pool:      pool,
		ReadSize:  payloadSize,
		WriteSize: payloadSize,
		Window:    16,
		AckPeriod: func() int { return 1000 },
		Table:     table,
		Log:       jlog.Discard(),
	})

	c := chain.New(jlog.Discard())
	c.AddProducer(prod, 4, nil)
	c.AddConsumer(func(inQ *queue.Queue[block.Block], s *chain.Sync) error {
		for {
			b, ok := inQ.Pop()
			if !ok {
				close(done)
				return nil
			}
			seq := int64(b.Bytes()[0])
			if seq < lastSeen {
				outOfOrder = true
			}
			lastSeen = seq
			forwarded++
			b.Release()
			if forwarded == n {
				server.Close()
			}
		}
	}, nil)
	c.Run()

	raddr := server.LocalAddr().(*net.UDPAddr)
	for i := uint64(0); i < n; i++ {
		client.WriteToUDP(datagram(i, payloadSize), raddr)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for udps reader to finish")
	}
	c.Wait()

	if forwarded != n {
		t.Fatalf("expected %d blocks forwarded, got %d", n, forwarded)
	}
	if outOfOrder {
		t.Fatal("expected strictly non-decreasing payload sequence")
	}

	senders := table.Senders()
	if len(senders) != 1 {
		t.Fatalf("expected 1 tracked sender, got %d", len(senders))
	}
	st := senders[0]
	if st.PacketCount != n {
		t.Fatalf("pktcnt: want %d, got %d", n, st.PacketCount)
	}
	if st.LossCount != 0 {
		t.Fatalf("loscnt: want 0, got %d", st.LossCount)
	}
	if st.OutOfOrder != 0 {
		t.Fatalf("ooocnt: want 0, got %d", st.OutOfOrder)
	}
}

// TestUDPSLossAccounting is scenario S2: datagrams with seqnr in a drop
// set are never sent; expect pktcnt = N-len(drop), loscnt = len(drop),
// maxseq-minseq+1 = N.
func TestUDPSLossAccounting(t *testing.T) {
	server, client := udpsPair(t)
	defer client.Close()

	const n = 300
	const payloadSize = 128
	drop := map[uint64]bool{50: true, 100: true, 200: true}
	pool := block.NewPool(seqnrLen+payloadSize, 32, jlog.Discard())
	table := psn.NewTable(nil)

	var forwarded int
	done := make(chan struct{})

	prod := Build(Config{
		Conn:      server,
		Pool:      pool,
		ReadSize:  payloadSize,
		WriteSize: payloadSize,
		Window:    16,
		AckPeriod: func() int { return 1000 },
		Table:     table,
		Log:       jlog.Discard(),
	})

	c := chain.New(jlog.Discard())
	c.AddProducer(prod, 4, nil)
	c.AddConsumer(func(inQ *queue.Queue[block.Block], s *chain.Sync) error {
		for {
			b, ok := inQ.Pop()
			if !ok {
				close(done)
				return nil
			}
			forwarded++
			b.Release()
			if forwarded == n-len(drop) {
				server.Close()
			}
		}
	}, nil)
	c.Run()

	raddr := server.LocalAddr().(*net.UDPAddr)
	for i := uint64(0); i < n; i++ {
		if drop[i] {
			continue
		}
		client.WriteToUDP(datagram(i, payloadSize), raddr)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for udps reader to finish")
	}
	c.Wait()

	senders := table.Senders()
	if len(senders) != 1 {
		t.Fatalf("expected 1 tracked sender, got %d", len(senders))
	}
	st := senders[0]
	want := uint64(n - len(drop))
	if st.PacketCount != want {
		t.Fatalf("pktcnt: want %d, got %d", want, st.PacketCount)
	}
	if st.LossCount != uint64(len(drop)) {
		t.Fatalf("loscnt: want %d, got %d", len(drop), st.LossCount)
	}
	if st.MaxSeq-st.MinSeq+1 != n {
		t.Fatalf("maxseq-minseq+1: want %d, got %d", n, st.MaxSeq-st.MinSeq+1)
	}
}
