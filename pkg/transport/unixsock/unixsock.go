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

// Package unixsock implements the UNIX domain stream socket reader and
// writer (spec.md §4.5's "unix" protocol), for local-host transfers
// where the TCP/IP stack would be pure overhead. The wire discipline is
// byte-stream full-read semantics identical to pkg/transport/tcp, so the
// step functions are thin wrappers around it rather than a parallel
// implementation.
package unixsock

import (
	"net"
	"os"

	"jive5ab/pkg/block"
	"jive5ab/pkg/chain"
	"jive5ab/pkg/netparms"
	"jive5ab/pkg/transport/sockopt"
	"jive5ab/pkg/transport/tcp"
)

// Listen opens a UNIX domain stream socket listener at path, removing
// any stale socket file left behind by a prior crashed process first.
func Listen(path string) (net.Listener, error) {
	if fi, err := os.Stat(path); err == nil && fi.Mode()&os.ModeSocket != 0 {
		os.Remove(path)
	}
	return net.Listen("unix", path)
}

// Accept wraps ln.Accept, applying np's socket buffer sizes to the
// accepted connection. The kernel generally ignores SO_RCVBUF/SO_SNDBUF
// on AF_UNIX sockets, but applying it is harmless and keeps this path
// consistent with tcp.Accept.
func Accept(ln net.Listener, np *netparms.NetParms) (net.Conn, error) {
	conn, err := ln.Accept()
	if err != nil {
		return nil, err
	}
	sockopt.Apply(conn, np.RcvBufSize, np.SndBufSize)
	return conn, nil
}

// Dial connects to a UNIX domain stream socket at path and applies np's
// socket buffer sizes to the resulting connection.
func Dial(path string, np *netparms.NetParms) (net.Conn, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, err
	}
	sockopt.Apply(conn, np.RcvBufSize, np.SndBufSize)
	return conn, nil
}

// Reader reads writeSize-byte chunks from conn with full-read semantics,
// pushing one block per chunk.
func Reader(conn net.Conn, pool *block.Pool, readSize, writeSize int) chain.ProducerFunc {
	return tcp.Reader(conn, pool, readSize, writeSize)
}

// Writer writes every block it receives from inQ to conn.
func Writer(conn net.Conn) chain.ConsumerFunc {
	return tcp.Writer(conn)
}
