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

package telemetry

import (
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"

	"jive5ab/pkg/transport/sockopt"
)

// ConnTracker exports the kernel socket buffer sizes of every tracked
// connection as gauges, so sndbuf/rcvbuf actually negotiated by the OS
// (which may differ from netparms's requested size once clamped by
// net.core.{r,w}mem_max) is observable, via pkg/transport/sockopt.
type ConnTracker struct {
	mu    sync.Mutex
	conns map[string]net.Conn

	rcvbuf *prometheus.GaugeVec
	sndbuf *prometheus.GaugeVec
}

// NewConnTracker registers its gauges against m's registry.
func NewConnTracker(m *Metrics) *ConnTracker {
	t := &ConnTracker{
		conns: make(map[string]net.Conn),
		rcvbuf: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "jive5ab_socket_rcvbuf_bytes",
			Help: "Kernel-reported SO_RCVBUF of a tracked connection.",
		}, []string{"conn_id", "remote"}),
		sndbuf: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "jive5ab_socket_sndbuf_bytes",
			Help: "Kernel-reported SO_SNDBUF of a tracked connection.",
		}, []string{"conn_id", "remote"}),
	}
	m.registry.MustRegister(t.rcvbuf, t.sndbuf)
	return t
}

// Track starts observing conn, returning a compact id for later Untrack
// calls and log correlation.
func (t *ConnTracker) Track(conn net.Conn) string {
	id := xid.New().String()
	t.mu.Lock()
	t.conns[id] = conn
	t.mu.Unlock()
	t.refresh(id, conn)
	return id
}

// Untrack stops observing the connection registered under id and zeroes
// its gauges.
func (t *ConnTracker) Untrack(id string) {
	t.mu.Lock()
	conn, ok := t.conns[id]
	delete(t.conns, id)
	t.mu.Unlock()
	if !ok {
		return
	}
	remote := conn.RemoteAddr().String()
	t.rcvbuf.DeleteLabelValues(id, remote)
	t.sndbuf.DeleteLabelValues(id, remote)
}

// Refresh re-reads socket buffer sizes for every tracked connection;
// call it periodically (buffer sizes do not change often, so a slow
// poll is sufficient).
func (t *ConnTracker) Refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, conn := range t.conns {
		t.refresh(id, conn)
	}
}

func (t *ConnTracker) refresh(id string, conn net.Conn) {
	rb, sb, err := sockopt.Get(conn)
	if err != nil {
		return
	}
	remote := conn.RemoteAddr().String()
	t.rcvbuf.WithLabelValues(id, remote).Set(float64(rb))
	t.sndbuf.WithLabelValues(id, remote).Set(float64(sb))
}
