package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for identity reconciliation.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Identify calls by outcome
	IdentifyRequests *prometheus.CounterVec

	// Identify latency, transaction retries included
	IdentifyLatency prometheus.Histogram

	// Primaries that lost primary status during merges
	ContactsDemoted prometheus.Counter

	// Secondaries re-pointed at a new primary during merges
	ContactsRelinked prometheus.Counter

	// Transactions retried after a serialization conflict or busy store
	TxRetries prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IdentifyRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contactlink_identify_requests_total",
			Help: "Total identify calls by outcome",
		}, []string{"outcome"}), // created_primary, created_secondary, merged, unchanged, error

		IdentifyLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "contactlink_identify_duration_seconds",
			Help:    "Duration of identify calls including store round trips",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		ContactsDemoted: factory.NewCounter(prometheus.CounterOpts{
			Name: "contactlink_contacts_demoted_total",
			Help: "Primary contacts converted to secondary of another primary during merges",
		}),

		ContactsRelinked: factory.NewCounter(prometheus.CounterOpts{
			Name: "contactlink_contacts_relinked_total",
			Help: "Secondary contacts re-linked to the canonical primary during merges",
		}),

		TxRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "contactlink_tx_retries_total",
			Help: "Contact store transactions retried after a conflict",
		}),
	}
}

// IncrementIdentify records the outcome of one identify call.
func (m *Metrics) IncrementIdentify(outcome string) {
	if m != nil {
		m.IdentifyRequests.WithLabelValues(outcome).Inc()
	}
}

// ObserveIdentifyLatency records the duration of one identify call.
func (m *Metrics) ObserveIdentifyLatency(d time.Duration) {
	if m != nil {
		m.IdentifyLatency.Observe(d.Seconds())
	}
}

// AddDemoted records primaries demoted by a merge.
func (m *Metrics) AddDemoted(n int) {
	if m != nil && n > 0 {
		m.ContactsDemoted.Add(float64(n))
	}
}

// AddRelinked records secondaries moved under the canonical primary.
func (m *Metrics) AddRelinked(n int) {
	if m != nil && n > 0 {
		m.ContactsRelinked.Add(float64(n))
	}
}

// IncrementTxRetry records one transaction retry.
func (m *Metrics) IncrementTxRetry() {
	if m != nil {
		m.TxRetries.Inc()
	}
}
