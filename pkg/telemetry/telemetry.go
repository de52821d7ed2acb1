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

// Package telemetry exposes the transport engine's Prometheus metrics --
// throughput, packet loss/reorder counts, and active-transfer gauges --
// and a /metrics HTTP endpoint. Not part of spec.md's core module list,
// but carried as ambient observability infrastructure the way the
// teacher repo's telemetry/churn package does for rate-limit KPIs.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics bundles every counter/gauge the transport engine publishes.
// All are registered against a private registry so import side effects
// never collide with a host process's default Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	BytesTransferred   *prometheus.CounterVec
	PacketsReceived    *prometheus.CounterVec
	PacketsLost        *prometheus.CounterVec
	PacketsReordered   *prometheus.CounterVec
	ActiveTransfers    prometheus.Gauge
	TransferDuration   *prometheus.HistogramVec
	ChainStepErrors    *prometheus.CounterVec
}

// NewMetrics constructs and registers the metric set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		BytesTransferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jive5ab_bytes_transferred_total",
			Help: "Total bytes moved through a processing chain, by transfer mode.",
		}, []string{"mode"}),
		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jive5ab_packets_received_total",
			Help: "Total udps/udp datagrams received, by sender.",
		}, []string{"sender"}),
		PacketsLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jive5ab_packets_lost_total",
			Help: "Cumulative udps loss count (maxseq-minseq+1-pktcnt), by sender.",
		}, []string{"sender"}),
		PacketsReordered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jive5ab_packets_reordered_total",
			Help: "Cumulative udps reordering event count, by sender.",
		}, []string{"sender"}),
		ActiveTransfers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jive5ab_active_transfers",
			Help: "Number of runtimes currently in a non-no_transfer mode.",
		}),
		TransferDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jive5ab_transfer_duration_seconds",
			Help:    "Wall-clock duration of a completed transfer, by transfer mode.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"mode"}),
		ChainStepErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jive5ab_chain_step_errors_total",
			Help: "Chain step functions that exited with a non-nil error, by step kind.",
		}, []string{"step"}),
	}
	reg.MustRegister(
		m.BytesTransferred, m.PacketsReceived, m.PacketsLost, m.PacketsReordered,
		m.ActiveTransfers, m.TransferDuration, m.ChainStepErrors,
	)
	return m
}

// Registry returns the private registry metrics are collected in, for
// callers that want to mount /metrics on an existing mux rather than via
// NewServer, or for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Server serves /metrics on a dedicated listener, with the
// graceful-shutdown discipline used elsewhere in this codebase's HTTP
// servers.
type Server struct {
	httpServer *http.Server
	log        *logrus.Logger
}

// NewServer builds (but does not start) a metrics HTTP server bound to
// addr.
func NewServer(addr string, m *Metrics, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Serve starts the listener in the background. ListenAndServe errors
// other than http.ErrServerClosed are logged, not fatal -- metrics are
// an observability aid, never a reason to take the transport engine
// down.
func (s *Server) Serve() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("telemetry: metrics server exited")
		}
	}()
}

// Shutdown gracefully stops the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
