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

// Package netparms holds the network-related parameters a transfer is
// configured with (protocol, MTU, blocksize, socket buffers, IPD,
// ackPeriod) plus the ordered host/port/suffix endpoint list (HPS),
// grounded on the jive5ab netparms_type / hps struct
// (_examples/original_source/evlbi5a/netparms.h).
package netparms

import "fmt"

// Defaults mirror spec.md §6 exactly.
const (
	DefaultMTU         = 1500
	DefaultNBlock      = 8
	DefaultBlockSize   = 128 * 1024
	DefaultSockbuf     = 4 * 1024 * 1024
	DefaultPort        = 2630
	DefaultAckPeriod   = 100
	DefaultIPDNanosec  = 0
	defaultProtocol    = "tcp"
	minMTU             = 68 // smallest useful IPv4 MTU
)

// Protocol is one of the wire protocols spec.md §6 enumerates.
type Protocol string

const (
	ProtoTCP   Protocol = "tcp"
	ProtoRTCP  Protocol = "rtcp"
	ProtoUDP   Protocol = "udp"
	ProtoUDPS  Protocol = "udps"
	ProtoPUDP  Protocol = "pudp"
	ProtoUDT   Protocol = "udt"
	ProtoUnix  Protocol = "unix"
)

// validProtocols is used by set_protocol-equivalent validation.
var validProtocols = map[Protocol]bool{
	ProtoTCP: true, ProtoRTCP: true, ProtoUDP: true, ProtoUDPS: true,
	ProtoPUDP: true, ProtoUDT: true, ProtoUnix: true,
}

// HPS is one network endpoint entry: host, port, and an optional suffix
// appended to recording chunk names produced by streams received on that
// endpoint.
type HPS struct {
	Host   string
	Port   int
	Suffix string
}

func (h HPS) String() string {
	var s string
	if h.Host == "" {
		s = fmt.Sprintf("%d", h.Port)
	} else {
		s = fmt.Sprintf("%s@%d", h.Host, h.Port)
	}
	if h.Suffix != "" {
		s += "=" + h.Suffix
	}
	return s
}

// NetParms collects the network-related parameters of a transfer.
type NetParms struct {
	RcvBufSize       int
	SndBufSize       int
	Protocol         Protocol
	MTU              int
	BlockSize        int
	NBlock           int
	InterPacketDelay int // nanoseconds; 0 = no shaping
	TheoreticalIPD   int // nanoseconds; solver-computed baseline pacing
	AckPeriod        int // packets between ACK-back tokens (udps)
	Endpoints        []HPS
	rotateIdx        int
}

// New returns a NetParms with every field set to its spec.md §6 default.
func New() *NetParms {
	return &NetParms{
		RcvBufSize: DefaultSockbuf,
		SndBufSize: DefaultSockbuf,
		Protocol:   defaultProtocol,
		MTU:        DefaultMTU,
		BlockSize:  DefaultBlockSize,
		NBlock:     DefaultNBlock,
		AckPeriod:  DefaultAckPeriod,
	}
}

// SetProtocol validates and sets the protocol; an empty string resets to
// the default ("tcp").
func (n *NetParms) SetProtocol(p string) error {
	if p == "" {
		n.Protocol = defaultProtocol
		return nil
	}
	proto := Protocol(p)
	if !validProtocols[proto] {
		return fmt.Errorf("netparms: unknown protocol %q", p)
	}
	n.Protocol = proto
	return nil
}

// SetMTU sets the MTU; 0 resets to the default.
func (n *NetParms) SetMTU(mtu int) error {
	if mtu == 0 {
		n.MTU = DefaultMTU
		return nil
	}
	if mtu < minMTU {
		return fmt.Errorf("netparms: mtu %d below minimum %d", mtu, minMTU)
	}
	n.MTU = mtu
	return nil
}

// SetBlockSize sets the producer allocation unit; 0 resets to the default.
func (n *NetParms) SetBlockSize(bs int) error {
	if bs == 0 {
		n.BlockSize = DefaultBlockSize
		return nil
	}
	if bs <= 0 {
		return fmt.Errorf("netparms: invalid blocksize %d", bs)
	}
	n.BlockSize = bs
	return nil
}

// SetPort sets the default listen/connect port for endpoints that don't
// specify one explicitly; 0 resets to the default and the range
// [0,65535] is enforced as spec.md §3 requires.
func (n *NetParms) SetPort(port int) error {
	if port == 0 {
		port = DefaultPort
	}
	if port < 0 || port > 65535 {
		return fmt.Errorf("netparms: port %d out of range", port)
	}
	if len(n.Endpoints) == 0 {
		n.Endpoints = []HPS{{Port: port}}
	} else {
		n.Endpoints[0].Port = port
	}
	return nil
}

// SetAckPeriod sets the udps ACK-back cadence (packets); 0 resets to the
// default.
func (n *NetParms) SetAckPeriod(p int) error {
	if p == 0 {
		n.AckPeriod = DefaultAckPeriod
		return nil
	}
	if p < 0 {
		return fmt.Errorf("netparms: negative ack period %d", p)
	}
	n.AckPeriod = p
	return nil
}

// SetInterPacketDelay sets the sender pacing delay in nanoseconds.
func (n *NetParms) SetInterPacketDelay(ns int) {
	n.InterPacketDelay = ns
}

// Rotate cyclically advances the HPS list, returning the endpoint that
// was at the front before rotation. Used by the multifd reader to pop
// the next endpoint to bind.
func (n *NetParms) Rotate() (HPS, bool) {
	if len(n.Endpoints) == 0 {
		return HPS{}, false
	}
	idx := n.rotateIdx % len(n.Endpoints)
	h := n.Endpoints[idx]
	n.rotateIdx++
	return h, true
}

// String renders the HPS list the way net_port? replies it (S5): each
// entry as a bare port or as host@port, followed by "=suffix" when it has
// one, joined by " : ".
func (n *NetParms) String() string {
	s := ""
	for i, h := range n.Endpoints {
		if i > 0 {
			s += " : "
		}
		s += h.String()
	}
	return s
}
