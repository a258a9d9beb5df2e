// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coauthor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metrics
// =============================================================================

// Metrics collects coordinator-level counters. A nil *Metrics is valid
// and records nothing, so callers embedding the coordinator in tests do
// not need a registry.
type Metrics struct {
	sessionsStarted   prometheus.Counter
	cancels           *prometheus.CounterVec
	retries           prometheus.Counter
	eventsDispatched  *prometheus.CounterVec
	tokensOutOfOrder  prometheus.Counter
	proposalOutcomes  *prometheus.CounterVec
	streamElapsed     prometheus.Histogram
	fallbackActivated prometheus.Counter
}

// NewMetrics registers the coordinator metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		sessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "scribe",
			Subsystem: "coauthor",
			Name:      "sessions_started_total",
			Help:      "Sessions created by EnsureSession.",
		}),
		cancels: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scribe",
			Subsystem: "coauthor",
			Name:      "cancels_total",
			Help:      "Cancellations by reason.",
		}, []string{"reason"}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "scribe",
			Subsystem: "coauthor",
			Name:      "retries_total",
			Help:      "Retry-triggered re-requests.",
		}),
		eventsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scribe",
			Subsystem: "coauthor",
			Name:      "stream_events_total",
			Help:      "Inbound stream events dispatched, by type.",
		}, []string{"type"}),
		tokensOutOfOrder: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "scribe",
			Subsystem: "coauthor",
			Name:      "tokens_out_of_order_total",
			Help:      "Token insertions that arrived out of sequence.",
		}),
		proposalOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scribe",
			Subsystem: "coauthor",
			Name:      "proposals_total",
			Help:      "Proposal outcomes (ready, approved, rejected, unhashable).",
		}, []string{"outcome"}),
		streamElapsed: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scribe",
			Subsystem: "coauthor",
			Name:      "stream_elapsed_seconds",
			Help:      "Wall-clock duration of streaming attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		fallbackActivated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "scribe",
			Subsystem: "coauthor",
			Name:      "fallback_activated_total",
			Help:      "Transitions into fallback delivery.",
		}),
	}
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
}

func (m *Metrics) cancel(reason string) {
	if m == nil {
		return
	}
	m.cancels.WithLabelValues(reason).Inc()
}

func (m *Metrics) retry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) eventDispatched(eventType string) {
	if m == nil {
		return
	}
	m.eventsDispatched.WithLabelValues(eventType).Inc()
}

func (m *Metrics) outOfOrder(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.tokensOutOfOrder.Add(float64(count))
}

func (m *Metrics) proposal(outcome string) {
	if m == nil {
		return
	}
	m.proposalOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) streamDuration(seconds float64) {
	if m == nil {
		return
	}
	m.streamElapsed.Observe(seconds)
}

func (m *Metrics) fallback() {
	if m == nil {
		return
	}
	m.fallbackActivated.Inc()
}
