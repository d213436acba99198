// Package metrics provides Prometheus metrics for the submission engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	DraftSessionsActive prometheus.Gauge
	Submissions         *prometheus.CounterVec
	SubmissionDuration  prometheus.Histogram
	DocumentsGenerated  prometheus.Counter
	DocumentPages       prometheus.Histogram
	NotesFetches        *prometheus.CounterVec
	MessagesProduced    prometheus.Counter
	MessagesConsumed    prometheus.Counter
	OutboxPending       prometheus.Gauge
	CircuitBreakerState *prometheus.GaugeVec
}

// Submission outcome label values.
const (
	OutcomeAccepted  = "accepted"
	OutcomeRejected  = "rejected"
	OutcomeBlocked   = "blocked" // forbidden state or validation, no network call
	OutcomeTransport = "transport_error"
)

// Notes fetch result label values.
const (
	NotesDelivered = "delivered"
	NotesStale     = "stale"
	NotesError     = "error"
)

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		DraftSessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "draft_sessions_active",
			Help: "Currently open prescription draft sessions",
		}),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmacy_submissions_total",
			Help: "Submission attempts by pharmacy and outcome",
		}, []string{"pharmacy", "outcome"}),
		SubmissionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pharmacy_submission_duration_seconds",
			Help:    "End-to-end submission dispatch duration",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		DocumentsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "confirmation_documents_generated_total",
			Help: "Total confirmation documents rasterized",
		}),
		DocumentPages: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "confirmation_document_pages",
			Help:    "Page count per rasterized document",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		}),
		NotesFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinical_notes_fetches_total",
			Help: "Auto-fetched note lookups by result",
		}, []string{"result"}),
		MessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_messages_produced_total",
			Help: "Total broker messages produced",
		}),
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_messages_consumed_total",
			Help: "Total broker messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Audit events waiting in the outbox",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"pharmacy"}),
	}

	prometheus.MustRegister(
		m.DraftSessionsActive,
		m.Submissions,
		m.SubmissionDuration,
		m.DocumentsGenerated,
		m.DocumentPages,
		m.NotesFetches,
		m.MessagesProduced,
		m.MessagesConsumed,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
