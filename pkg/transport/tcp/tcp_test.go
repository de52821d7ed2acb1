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

package tcp

import (
	"bytes"
	"net"
	"testing"

	"jive5ab/pkg/block"
	"jive5ab/pkg/chain"
	"jive5ab/pkg/jlog"
	"jive5ab/pkg/netparms"
	"jive5ab/pkg/queue"
)

func loopback(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	var server net.Conn
	accepted := make(chan struct{})
	go func() {
		server, _ = ln.Accept()
		close(accepted)
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	<-accepted
	return client, server
}

func TestTCPReaderWriterRoundTrip(t *testing.T) {
	client, server := loopback(t)
	defer client.Close()
	defer server.Close()

	const writeSize = 128
	payload := bytes.Repeat([]byte("a"), writeSize*10)

	pool := block.NewPool(writeSize, 8, jlog.Discard())
	var received bytes.Buffer
	done := make(chan struct{})

	rc := chain.New(jlog.Discard())
	rc.AddProducer(Reader(server, pool, writeSize, writeSize), 4, nil)
	rc.AddConsumer(func(inQ *queue.Queue[block.Block], s *chain.Sync) error {
		for {
			b, ok := inQ.Pop()
			if !ok {
				close(done)
				return nil
			}
			received.Write(b.Bytes())
			b.Release()
		}
	}, nil)
	rc.Run()

	go func() {
		client.Write(payload)
		client.Close()
	}()

	<-done
	rc.Wait()
	if err := rc.Err(); err != nil {
		t.Fatalf("unexpected chain error: %v", err)
	}
	if !bytes.Equal(received.Bytes(), payload) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", received.Len(), len(payload))
	}
}

func TestListenDialAcceptAppliesSockbuf(t *testing.T) {
	np := netparms.New()
	np.RcvBufSize = 1 << 18
	np.SndBufSize = 1 << 18

	ln, err := Listen("127.0.0.1:0", np)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := Accept(ln, np)
		if err != nil {
			return
		}
		accepted <- conn
	}()

	client, err := Dial(ln.Addr().String(), np)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	server := <-accepted
	defer server.Close()
}

func TestTCPReaderZeroesTailWhenReadExceedsWrite(t *testing.T) {
	client, server := loopback(t)
	defer client.Close()
	defer server.Close()

	const writeSize = 16
	const readSize = 32
	payload := bytes.Repeat([]byte{0xff}, writeSize)

	pool := block.NewPool(readSize, 4, jlog.Discard())
	gotBlock := make(chan block.Block, 1)

	rc := chain.New(jlog.Discard())
	rc.AddProducer(Reader(server, pool, readSize, writeSize), 4, nil)
	rc.AddConsumer(func(inQ *queue.Queue[block.Block], s *chain.Sync) error {
		b, ok := inQ.Pop()
		if ok {
			gotBlock <- b
		}
		for {
			b, ok := inQ.Pop()
			if !ok {
				return nil
			}
			b.Release()
		}
	}, nil)
	rc.Run()

	go func() {
		client.Write(payload)
	}()

	b := <-gotBlock
	defer b.Release()
	data := b.Bytes()
	if len(data) != readSize {
		t.Fatalf("expected block of length %d, got %d", readSize, len(data))
	}
	for i := 0; i < writeSize; i++ {
		if data[i] != 0xff {
			t.Fatalf("byte %d: expected payload content 0xff, got %#x", i, data[i])
		}
	}
	for i := writeSize; i < readSize; i++ {
		if data[i] != 0 {
			t.Fatalf("byte %d: expected zero-filled tail, got %#x", i, data[i])
		}
	}

	client.Close()
	server.Close()
	rc.Wait()
}
