// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

package casc

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsNamespace prefixes every collector name.
const metricsNamespace = "casc"

// Metrics holds Prometheus collectors for sources, hosts and the build cache.
// A nil *Metrics records nothing.
type Metrics struct {
	fileFetches  *prometheus.CounterVec
	hostFailures *prometheus.CounterVec
	pingLatency  *prometheus.HistogramVec
	cacheLookups *prometheus.CounterVec
	bytesFetched *prometheus.CounterVec
}

// NewMetrics creates collectors and registers them with reg.
// A nil reg leaves them unregistered, which is useful in tests.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		fileFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "source",
			Name:      "file_fetches_total",
			Help:      "File retrievals by source kind and outcome",
		}, []string{"source", "outcome"}),
		hostFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cdn",
			Name:      "host_failures_total",
			Help:      "CDN hosts marked as failed",
		}, []string{"host"}),
		pingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "cdn",
			Name:      "ping_seconds",
			Help:      "CDN host ping latency",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"host"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Build cache lookups by result",
		}, []string{"result"}),
		bytesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "source",
			Name:      "bytes_read_total",
			Help:      "Encoded bytes read from archives or CDN",
		}, []string{"source"}),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{m.fileFetches, m.hostFailures, m.pingLatency, m.cacheLookups, m.bytesFetched} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	return m, nil
}

// fileFetched records one file retrieval outcome.
func (m *Metrics) fileFetched(source string, err error) {
	if m == nil {
		return
	}

	m.fileFetches.WithLabelValues(source, outcomeLabel(err)).Inc()
}

// hostFailed records a host marked as failed.
func (m *Metrics) hostFailed(host string) {
	if m == nil {
		return
	}

	m.hostFailures.WithLabelValues(host).Inc()
}

// pinged records a successful ping.
func (m *Metrics) pinged(host string, d time.Duration) {
	if m == nil {
		return
	}

	m.pingLatency.WithLabelValues(host).Observe(d.Seconds())
}

// cacheLookup records a build cache hit or miss.
func (m *Metrics) cacheLookup(hit bool) {
	if m == nil {
		return
	}

	result := "miss"
	if hit {
		result = "hit"
	}

	m.cacheLookups.WithLabelValues(result).Inc()
}

// bytesRead records encoded bytes read from a source.
func (m *Metrics) bytesRead(source string, n int) {
	if m == nil || n <= 0 {
		return
	}

	m.bytesFetched.WithLabelValues(source).Add(float64(n))
}

// outcomeLabel maps an error to its category label.
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrResolution):
		return "resolution"
	case errors.Is(err, ErrIntegrity):
		return "integrity"
	case errors.Is(err, ErrDecryption):
		return "decryption"
	case errors.Is(err, ErrFormat):
		return "format"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "error"
	}
}
