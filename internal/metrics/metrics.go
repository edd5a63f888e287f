// Package metrics defines the Prometheus collectors for the journaling flow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the journal counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	EntriesSaved       prometheus.Counter
	TagsSaved          prometheus.Counter
	ExtractionFailures prometheus.Counter
	GenerationFailures *prometheus.CounterVec // label: kind (journal, past_self)
	PastSelfMessages   prometheus.Counter
}

// New creates the collectors and registers them with reg.
// Passing nil uses a private registry, which keeps tests independent.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		EntriesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "capsule",
			Name:      "entries_saved_total",
			Help:      "Journal entries persisted.",
		}),
		TagsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "capsule",
			Name:      "tags_saved_total",
			Help:      "Memory tags persisted.",
		}),
		ExtractionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "capsule",
			Name:      "tag_extraction_failures_total",
			Help:      "Tag extractions that failed and saved no tags.",
		}),
		GenerationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capsule",
			Name:      "generation_failures_total",
			Help:      "Reply generations that fell back to the placeholder.",
		}, []string{"kind"}),
		PastSelfMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "capsule",
			Name:      "past_self_messages_total",
			Help:      "Messages sent to the past-self conversation.",
		}),
	}

	reg.MustRegister(
		m.EntriesSaved,
		m.TagsSaved,
		m.ExtractionFailures,
		m.GenerationFailures,
		m.PastSelfMessages,
	)
	return m
}

// EntrySaved records one persisted entry.
func (m *Metrics) EntrySaved() {
	if m == nil {
		return
	}
	m.EntriesSaved.Inc()
}

// TagsStored records n persisted tags.
func (m *Metrics) TagsStored(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TagsSaved.Add(float64(n))
}

// ExtractionFailed records a failed tag extraction.
func (m *Metrics) ExtractionFailed() {
	if m == nil {
		return
	}
	m.ExtractionFailures.Inc()
}

// GenerationFailed records a reply that fell back to the placeholder.
func (m *Metrics) GenerationFailed(kind string) {
	if m == nil {
		return
	}
	m.GenerationFailures.WithLabelValues(kind).Inc()
}

// PastSelfMessage records one past-self exchange.
func (m *Metrics) PastSelfMessage() {
	if m == nil {
		return
	}
	m.PastSelfMessages.Inc()
}
