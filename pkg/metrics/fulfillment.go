package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FulfillmentMetrics counts redemption and settlement outcomes.
type FulfillmentMetrics struct {
	outcomes      *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	contributions *prometheus.CounterVec
	payoutCents   prometheus.Counter
}

// NewFulfillmentMetrics registers the fulfillment metrics on the provided registerer.
func NewFulfillmentMetrics(reg prometheus.Registerer) *FulfillmentMetrics {
	if reg == nil {
		return &FulfillmentMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wishpot_fulfillment_requests_total",
		Help: "Redemption requests by outcome code.",
	}, []string{"outcome"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wishpot_fulfillment_transitions_total",
		Help: "Fulfillment status transitions by target status.",
	}, []string{"status"})
	contributions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wishpot_contributions_total",
		Help: "Confirmed payments seen by the ledger, split by applied or replayed.",
	}, []string{"result"})
	payoutCents := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wishpot_payout_initiated_cents_total",
		Help: "Net cents sent to payout accounts.",
	})
	reg.MustRegister(outcomes, transitions, contributions, payoutCents)
	return &FulfillmentMetrics{
		outcomes:      outcomes,
		transitions:   transitions,
		contributions: contributions,
		payoutCents:   payoutCents,
	}
}

// ObserveRequest records the outcome of a redemption request. Success is "ok",
// errors use their stable code.
func (m *FulfillmentMetrics) ObserveRequest(outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveTransition records a fulfillment moving into status.
func (m *FulfillmentMetrics) ObserveTransition(status string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(status)).Inc()
}

// ObserveContribution records whether a confirmed payment changed the ledger.
func (m *FulfillmentMetrics) ObserveContribution(applied bool) {
	if m == nil || m.contributions == nil {
		return
	}
	result := "replayed"
	if applied {
		result = "applied"
	}
	m.contributions.WithLabelValues(result).Inc()
}

// AddPayoutCents adds the net amount of an initiated transfer.
func (m *FulfillmentMetrics) AddPayoutCents(cents int64) {
	if m == nil || m.payoutCents == nil || cents <= 0 {
		return
	}
	m.payoutCents.Add(float64(cents))
}
