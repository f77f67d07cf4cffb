/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package metrics exposes the process's Prometheus collectors directly via
// github.com/prometheus/client_golang, the way the retrieval pack's own
// exporter (runZeroInc-sockstats/pkg/exporter) instruments live
// connections — a registry of counters/gauges read by the status server's
// /metrics endpoint rather than pushed anywhere.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every collector netbridge records against. A nil
// *Registry is valid and every method becomes a no-op, so callers that
// build one only when --status-addr is set don't need a separate guard at
// every call site.
type Registry struct {
	reg *prometheus.Registry

	BytesTransferred *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge
	ConnectionsTotal *prometheus.CounterVec
	ScanPortsOpen    prometheus.Counter
	ScanPortsTotal   prometheus.Counter
}

// New builds a fresh registry. Pass the result's Gatherer() to
// promhttp.HandlerFor when wiring the status server's /metrics route.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		BytesTransferred: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netbridge",
			Name:      "bytes_transferred_total",
			Help:      "Total bytes moved by the transfer engine, by direction.",
		}, []string{"direction"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "netbridge",
			Name:      "active_sessions",
			Help:      "Number of currently active sessions (broker peers or pumped connections).",
		}),
		ConnectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netbridge",
			Name:      "connections_total",
			Help:      "Accepted connections, partitioned by acl outcome.",
		}, []string{"decision"}),
		ScanPortsOpen: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "netbridge",
			Name:      "scan_ports_open_total",
			Help:      "Ports the scanner has found open, cumulative across scans.",
		}),
		ScanPortsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "netbridge",
			Name:      "scan_ports_probed_total",
			Help:      "Ports the scanner has probed, cumulative across scans.",
		}),
	}
}

// Gatherer exposes the underlying registry for promhttp.HandlerFor.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

func (r *Registry) AddBytes(direction string, n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.BytesTransferred.WithLabelValues(direction).Add(float64(n))
}

func (r *Registry) SessionOpened() {
	if r == nil {
		return
	}
	r.ActiveSessions.Inc()
}

func (r *Registry) SessionClosed() {
	if r == nil {
		return
	}
	r.ActiveSessions.Dec()
}

func (r *Registry) ConnectionDecided(decision string) {
	if r == nil {
		return
	}
	r.ConnectionsTotal.WithLabelValues(decision).Inc()
}

func (r *Registry) ScanResult(open bool) {
	if r == nil {
		return
	}
	r.ScanPortsTotal.Inc()
	if open {
		r.ScanPortsOpen.Inc()
	}
}
