/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
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

// Package metrics exposes the Prometheus collectors each worker updates
// from inside its own event loop tick. Every collector carries a "worker"
// label so per-worker imbalance (one reactor starved while another idles)
// shows up directly in the exported series instead of being averaged away.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the metrics one worker reactor updates per tick.
type Collector struct {
	Connections   *prometheus.GaugeVec
	FanoutLatency *prometheus.HistogramVec
	BatchSize     *prometheus.HistogramVec
	BusReconnects prometheus.Counter
	TickDuration  *prometheus.HistogramVec
	DroppedAtCap  *prometheus.CounterVec
}

// NewCollector builds a Collector registered against reg. reg is normally a
// dedicated *prometheus.Registry (not the global DefaultRegisterer), so a
// worker that panics and restarts does not hit a "duplicate metrics
// collector registration attempted" error on re-registration.
func NewCollector(reg *prometheus.Registry) (*Collector, error) {
	c := &Collector{
		Connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "zproxy",
			Name:      "connections_open",
			Help:      "Number of client connections currently held open by a worker.",
		}, []string{"worker", "mode"}),
		FanoutLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "zproxy",
			Name:      "fanout_latency_seconds",
			Help:      "Time from bus message receipt to the response being queued on its owning connection.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"worker"}),
		BatchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "zproxy",
			Name:      "batch_size",
			Help:      "Number of session ids grouped into a single keep-alive or cancel batch.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 450},
		}, []string{"worker", "kind"}),
		BusReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zproxy",
			Name:      "bus_reconnects_total",
			Help:      "Number of times the shared bus connection has reconnected.",
		}),
		TickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "zproxy",
			Name:      "loop_tick_seconds",
			Help:      "Wall time spent inside a single event loop tick.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
		}, []string{"worker"}),
		DroppedAtCap: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zproxy",
			Name:      "accept_dropped_total",
			Help:      "Connections refused because a listener or worker was at capacity.",
		}, []string{"worker", "mode"}),
	}

	for _, coll := range []prometheus.Collector{
		c.Connections, c.FanoutLatency, c.BatchSize, c.BusReconnects, c.TickDuration, c.DroppedAtCap,
	} {
		if err := reg.Register(coll); err != nil {
			return nil, ErrorRegister.Error(err)
		}
	}

	return c, nil
}

// Handler returns the HTTP handler to mount for Prometheus scraping.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
