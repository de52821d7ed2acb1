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

// Package tcp implements the stream-socket reader/writer chain steps
// (spec.md §4.5's "TCP (stream) reader"). rtcp (reversed client/server
// roles) and unix-domain streams reuse these steps against a net.Conn
// obtained by a different dialer/listener -- the step functions only
// need io.Reader/io.Writer plus Close for cancellation.
package tcp

import (
	"io"
	"net"

	"jive5ab/pkg/block"
	"jive5ab/pkg/chain"
	"jive5ab/pkg/netparms"
	"jive5ab/pkg/queue"
	"jive5ab/pkg/transport/sockopt"
)

// Listen opens a TCP listener at addr. Socket buffer sizes are applied
// per accepted connection by Accept, since a listening socket's SO_RCVBUF/
// SO_SNDBUF are not inherited by the connections it accepts.
func Listen(addr string, np *netparms.NetParms) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// Accept wraps ln.Accept, applying np's socket buffer sizes to the
// accepted connection before returning it.
func Accept(ln net.Listener, np *netparms.NetParms) (net.Conn, error) {
	conn, err := ln.Accept()
	if err != nil {
		return nil, err
	}
	sockopt.Apply(conn, np.RcvBufSize, np.SndBufSize)
	return conn, nil
}

// Dial connects to addr over TCP and applies np's socket buffer sizes to
// the resulting connection.
func Dial(addr string, np *netparms.NetParms) (net.Conn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	sockopt.Apply(conn, np.RcvBufSize, np.SndBufSize)
	return conn, nil
}

// Reader reads writeSize bytes per iteration (the sender's write_size
// equals the receiver's read_size once the constraint solver has agreed
// the pair across both ends) with the stream-socket equivalent of
// MSG_WAITALL (io.ReadFull), and pushes one block per read. When
// readSize > writeSize (the receiver-side decompression case) the tail
// of each slot beyond writeSize is left zeroed so a decompressor sees
// blanked bit positions rather than stale pool memory.
func Reader(conn net.Conn, pool *block.Pool, readSize, writeSize int) chain.ProducerFunc {
	return func(outQ *queue.Queue[block.Block], s *chain.Sync) error {
		for {
			if s.Cancelled() {
				return nil
			}
			b := pool.Get()
			if b.IsEmpty() {
				return errPoolExhausted
			}
			buf := b.Bytes()
			for i := range buf {
				buf[i] = 0
			}
			_, err := io.ReadFull(conn, buf[:writeSize])
			if err != nil {
				b.Release()
				if err == io.EOF || err == io.ErrUnexpectedEOF {
					return nil
				}
				return err
			}
			sub, serr := b.Sub(0, readSize)
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

// Writer writes every block it receives from inQ to conn, in order.
func Writer(conn net.Conn) chain.ConsumerFunc {
	return func(inQ *queue.Queue[block.Block], s *chain.Sync) error {
		for {
			b, ok := inQ.Pop()
			if !ok {
				return nil
			}
			_, err := conn.Write(b.Bytes())
			b.Release()
			if err != nil {
				return err
			}
		}
	}
}

type poolExhaustedError struct{}

func (poolExhaustedError) Error() string { return "tcp: block pool exhausted" }

var errPoolExhausted = poolExhaustedError{}
