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

// Package sockopt applies netparms's socket buffer sizes to a live
// connection. The standard library's net package exposes SetReadBuffer/
// SetWriteBuffer on *net.TCPConn and *net.UDPConn directly, but offers
// no way to read back what the kernel actually granted (it may clamp to
// net.core.{r,w}mem_max); getting the raw fd to ask via getsockopt
// reuses the same netfd.GetFdFromConn call pkg/telemetry's ConnTracker
// uses for socket introspection.
package sockopt

import (
	"net"

	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"
)

// Apply requests rcvbuf/sndbuf (in bytes) on conn via setsockopt,
// ignoring zero values. Errors are non-fatal: a clamped or rejected
// buffer size should not abort a transfer, only bound its performance.
func Apply(conn net.Conn, rcvbuf, sndbuf int) {
	fd := netfd.GetFdFromConn(conn)
	if fd < 0 {
		return
	}
	if rcvbuf > 0 {
		unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, rcvbuf)
	}
	if sndbuf > 0 {
		unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, sndbuf)
	}
}

// Get returns the kernel-granted SO_RCVBUF and SO_SNDBUF for conn.
func Get(conn net.Conn) (rcvbuf, sndbuf int, err error) {
	fd := netfd.GetFdFromConn(conn)
	if fd < 0 {
		return 0, 0, unix.EBADF
	}
	rcvbuf, err = unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF)
	if err != nil {
		return 0, 0, err
	}
	sndbuf, err = unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF)
	return rcvbuf, sndbuf, err
}
