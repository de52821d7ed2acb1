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

// Package constraint implements the compatible read-size / write-size /
// blocksize / MTU / payload solver described in spec.md §4.4: given a
// netparms and a data format (plus an optional compression ratio), it
// computes a consistent set of I/O sizes for a transfer, or reports that
// no integer solution exists.
package constraint

import (
	"errors"
	"fmt"

	"jive5ab/pkg/netparms"
)

// ErrNoSolution is returned when no integer combination of sizes
// satisfies the constraints (spec.md §4.4, §9 open question: ambiguous
// combinations fail rather than guess).
var ErrNoSolution = errors.New("constraint: no integer solution")

// udpsSeqnrOverhead is the 8-byte sequence number udps prepends to every
// datagram payload (spec.md §4.4).
const udpsSeqnrOverhead = 8

// Approximate IPv4+transport header sizes used to compute the usable
// datagram payload from the link MTU (spec.md §4.4: "MTU - IP_hdr -
// transport_hdr - protocol_internal_hdr").
const (
	ipHeaderBytes  = 20
	udpHeaderBytes = 8
	tcpHeaderBytes = 20
)

// HeaderSearch describes a data format: fixed per-frame layout plus bit
// rate, used by the solver to size I/O against blocksize/framesize.
type HeaderSearch struct {
	NTrack        int
	FrameSize     int // bytes per frame, 0 if the format has no fixed frame
	PayloadSize   int // bytes of payload per frame (<=FrameSize), 0 if N/A
	TrackBitRate  int64
	FormatID      string
}

// Compression optionally shrinks each read_size chunk to write_size
// bytes before it is handed to the consumer/network.
type Compression struct {
	Enabled bool
	// Ratio is write_size/read_size, e.g. 0.5 for 2:1 compression.
	// Must be in (0, 1] when Enabled.
	Ratio float64
}

// Sizes is the constraint-solver output (spec.md §3).
type Sizes struct {
	ReadSize    int
	WriteSize   int
	BlockSize   int
	FrameSize   int
	PayloadSize int
	NMTU        int
}

// Solve computes a compatible (read_size, write_size, blocksize,
// framesize, payloadsize, n_mtu) tuple per spec.md §4.4's rules, or
// returns ErrNoSolution.
//
// allowVariableBlockSize relaxes the "blocksize %% write_size == 0"
// requirement (spec.md: "the framer may relax this with 'variable block
// size' mode").
func Solve(np *netparms.NetParms, hs HeaderSearch, comp Compression, allowVariableBlockSize bool) (Sizes, error) {
	if np == nil {
		return Sizes{}, fmt.Errorf("constraint: nil netparms")
	}

	datagramPayload, nmtu, err := datagramCapacity(np)
	if err != nil {
		return Sizes{}, err
	}

	var writeSize int
	switch np.Protocol {
	case netparms.ProtoUDP, netparms.ProtoUDPS, netparms.ProtoPUDP, netparms.ProtoUDT:
		writeSize = datagramPayload
	case netparms.ProtoTCP, netparms.ProtoRTCP, netparms.ProtoUnix:
		// Stream protocols are not datagram-bounded; the write_size is
		// driven by the data format's frame size when one exists,
		// otherwise by the configured blocksize (net2file-style
		// transfers with no data format, per spec.md §4.4's fallback
		// clause).
		if hs.FrameSize > 0 {
			writeSize = hs.FrameSize
		} else {
			writeSize = np.BlockSize
		}
	default:
		return Sizes{}, fmt.Errorf("constraint: unhandled protocol %q", np.Protocol)
	}
	if writeSize <= 0 {
		return Sizes{}, ErrNoSolution
	}

	readSize := writeSize
	if comp.Enabled {
		if comp.Ratio <= 0 || comp.Ratio > 1 {
			return Sizes{}, fmt.Errorf("constraint: invalid compression ratio %v", comp.Ratio)
		}
		// read_size > write_size: a compression step shrinks a
		// read_size chunk down to write_size bytes.
		readSize = int(float64(writeSize) / comp.Ratio)
		if readSize <= 0 {
			return Sizes{}, ErrNoSolution
		}
	}

	// Degenerate case covered by spec.md §4.4: "If ntrack * trackbitrate
	// is zero (mode not set), the solver may still produce sizes for
	// transfers that do not require a data format, using fallback
	// defaults." We've already done that above by falling back to
	// np.BlockSize. Below we still have to round the user blocksize to a
	// multiple of both read_size and write_size (or relax if allowed).
	blockSize, err := roundBlockSize(np.BlockSize, np.NBlock, readSize, writeSize, allowVariableBlockSize)
	if err != nil {
		return Sizes{}, err
	}

	return Sizes{
		ReadSize:    readSize,
		WriteSize:   writeSize,
		BlockSize:   blockSize,
		FrameSize:   hs.FrameSize,
		PayloadSize: hs.PayloadSize,
		NMTU:        nmtu,
	}, nil
}

// datagramCapacity computes the usable per-datagram payload for UDP-
// family protocols: MTU - IP header - UDP header - protocol-internal
// header (8 bytes for udps' sequence number), truncated to a multiple of
// 8, per spec.md §4.4. For stream protocols it still returns a notional
// per-datagram capacity (unused by the caller) so the function has one
// code path.
func datagramCapacity(np *netparms.NetParms) (payload int, nmtu int, err error) {
	nmtu = 1
	overhead := ipHeaderBytes + udpHeaderBytes
	switch np.Protocol {
	case netparms.ProtoUDPS:
		overhead += udpsSeqnrOverhead
	case netparms.ProtoTCP, netparms.ProtoRTCP, netparms.ProtoUnix:
		overhead = ipHeaderBytes + tcpHeaderBytes
	}
	raw := np.MTU*nmtu - overhead
	if raw <= 0 {
		return 0, nmtu, ErrNoSolution
	}
	payload = (raw / 8) * 8
	if payload <= 0 {
		return 0, nmtu, ErrNoSolution
	}
	return payload, nmtu, nil
}

// roundBlockSize rounds requested up to the nearest multiple of
// lcmOf(readSize, writeSize) scaled by at least nblock units, per
// spec.md §4.4 ("blocksize = nblock-multiple x write_size, rounded up
// from the user-requested blocksize, and must be an integral multiple of
// both read_size and write_size").
func roundBlockSize(requested, nblock, readSize, writeSize int, allowVariable bool) (int, error) {
	if allowVariable {
		// Variable block size mode: the framer relaxes the
		// divisibility requirement; we still never go below one
		// write_size unit.
		if requested < writeSize {
			return writeSize, nil
		}
		return requested, nil
	}

	unit := lcm(readSize, writeSize)
	if unit <= 0 {
		return 0, ErrNoSolution
	}
	if nblock < 1 {
		nblock = 1
	}
	minSize := unit * nblock
	if requested <= 0 {
		return minSize, nil
	}
	// Round requested up to the next multiple of unit.
	n := (requested + unit - 1) / unit
	size := n * unit
	if size < minSize {
		size = minSize
	}
	if size%readSize != 0 || size%writeSize != 0 {
		return 0, ErrNoSolution
	}
	return size, nil
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	g := gcd(a, b)
	if g == 0 {
		return 0
	}
	return a / g * b
}
