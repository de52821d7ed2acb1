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

// Package udp implements the plain (no sequence number) UDP reader and
// writer (spec.md §4.5's "raw UDP"). One datagram in, one block out; no
// per-sender accounting, no reordering, no ACK-back -- that is udps's
// job (pkg/transport/udps).
package udp

import (
	"errors"
	"net"

	"jive5ab/pkg/block"
	"jive5ab/pkg/chain"
	"jive5ab/pkg/netparms"
	"jive5ab/pkg/queue"
	"jive5ab/pkg/transport/sockopt"
)

// ListenUDP opens a UDP socket at addr and applies np's socket buffer
// sizes to it.
func ListenUDP(addr string, np *netparms.NetParms) (*net.UDPConn, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	sockopt.Apply(conn, np.RcvBufSize, np.SndBufSize)
	return conn, nil
}

// DialUDP opens a UDP socket connected to raddr and applies np's socket
// buffer sizes to it.
func DialUDP(raddr string, np *netparms.NetParms) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", raddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	sockopt.Apply(conn, np.RcvBufSize, np.SndBufSize)
	return conn, nil
}

// Reader receives datagrams on conn and pushes one block per datagram,
// truncated to the number of bytes actually received. readSize bounds
// the per-datagram receive buffer (normally MTU minus headers).
func Reader(conn *net.UDPConn, pool *block.Pool, readSize int) chain.ProducerFunc {
	return func(outQ *queue.Queue[block.Block], s *chain.Sync) error {
		for {
			if s.Cancelled() {
				return nil
			}
			b := pool.Get()
			if b.IsEmpty() {
				return errPoolExhausted
			}
			n, _, err := conn.ReadFromUDP(b.Bytes()[:readSize])
			if err != nil {
				b.Release()
				if s.Cancelled() || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return err
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

// Writer sends every block it receives as one datagram to raddr.
func Writer(conn *net.UDPConn, raddr *net.UDPAddr) chain.ConsumerFunc {
	return func(inQ *queue.Queue[block.Block], s *chain.Sync) error {
		for {
			b, ok := inQ.Pop()
			if !ok {
				return nil
			}
			_, err := conn.WriteToUDP(b.Bytes(), raddr)
			b.Release()
			if err != nil {
				return err
			}
		}
	}
}

type poolExhaustedError struct{}

func (poolExhaustedError) Error() string { return "udp: block pool exhausted" }

var errPoolExhausted = poolExhaustedError{}
