// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes Prometheus instrumentation for gemgram.
//
// All Recorder methods are nil-safe so callers can hold a nil *Recorder
// when metrics are disabled and skip the conditional at every call site.
package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// =============================================================================
// RECORDER
// =============================================================================

// Recorder holds the gemgram metric instruments.
type Recorder struct {
	registry *prom.Registry

	messages         *prom.CounterVec
	chunks           *prom.CounterVec
	demotions        prom.Counter
	oversized        prom.Counter
	providerErrors   *prom.CounterVec
	renderDuration   prom.Histogram
	generateDuration prom.Histogram
}

// NewRecorder constructs and registers the gemgram metrics on reg.
// A nil reg gets a fresh private registry.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{registry: reg}

	r.messages = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "gemgram",
		Name:      "messages_total",
		Help:      "Inbound updates handled, by kind",
	}, []string{"kind"})
	r.chunks = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "gemgram",
		Name:      "chunks_sent_total",
		Help:      "Outbound message chunks, by parse mode",
	}, []string{"mode"})
	r.demotions = prom.NewCounter(prom.CounterOpts{
		Namespace: "gemgram",
		Name:      "chunk_demotions_total",
		Help:      "Chunks that failed markup validation and were sent as plain text",
	})
	r.oversized = prom.NewCounter(prom.CounterOpts{
		Namespace: "gemgram",
		Name:      "oversized_chunks_total",
		Help:      "Atomic units larger than the message limit emitted as-is",
	})
	r.providerErrors = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "gemgram",
		Name:      "provider_errors_total",
		Help:      "Gemini API failures, by category",
	}, []string{"category"})
	r.renderDuration = prom.NewHistogram(prom.HistogramOpts{
		Namespace: "gemgram",
		Name:      "render_duration_seconds",
		Help:      "Time spent rendering a reply into chunks",
		Buckets:   prom.DefBuckets,
	})
	r.generateDuration = prom.NewHistogram(prom.HistogramOpts{
		Namespace: "gemgram",
		Name:      "generate_duration_seconds",
		Help:      "Time spent waiting on the Gemini API",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	reg.MustRegister(
		r.messages, r.chunks, r.demotions, r.oversized,
		r.providerErrors, r.renderDuration, r.generateDuration,
	)
	return r
}

func (r *Recorder) IncMessage(kind string) {
	if r == nil {
		return
	}
	r.messages.WithLabelValues(kind).Inc()
}

func (r *Recorder) IncChunk(mode string) {
	if r == nil {
		return
	}
	r.chunks.WithLabelValues(mode).Inc()
}

func (r *Recorder) IncDemotion() {
	if r == nil {
		return
	}
	r.demotions.Inc()
}

func (r *Recorder) IncOversized() {
	if r == nil {
		return
	}
	r.oversized.Inc()
}

func (r *Recorder) IncProviderError(category string) {
	if r == nil {
		return
	}
	r.providerErrors.WithLabelValues(category).Inc()
}

func (r *Recorder) ObserveRenderDuration(d time.Duration) {
	if r == nil {
		return
	}
	r.renderDuration.Observe(d.Seconds())
}

func (r *Recorder) ObserveGenerateDuration(d time.Duration) {
	if r == nil {
		return
	}
	r.generateDuration.Observe(d.Seconds())
}

// =============================================================================
// HTTP ENDPOINT
// =============================================================================

// Handler returns the /metrics handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve runs a metrics HTTP server on addr until the server fails.
// Intended to be started in its own goroutine.
func (r *Recorder) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	return http.ListenAndServe(addr, mux)
}
