package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestFulfillmentMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewFulfillmentMetrics(reg)

	m.ObserveRequest("ok")
	m.ObserveRequest("InsufficientFunding")
	m.ObserveRequest("InsufficientFunding")
	m.ObserveTransition("processing")
	m.ObserveContribution(true)
	m.ObserveContribution(false)
	m.ObserveContribution(false)
	m.AddPayoutCents(9500)
	m.AddPayoutCents(-1)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "wishpot_fulfillment_requests_total", "outcome", "InsufficientFunding"); err != nil || got != 2 {
		t.Fatalf("expected 2 insufficient funding outcomes, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "wishpot_fulfillment_transitions_total", "status", "processing"); err != nil || got != 1 {
		t.Fatalf("expected 1 processing transition, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "wishpot_contributions_total", "result", "replayed"); err != nil || got != 2 {
		t.Fatalf("expected 2 replayed contributions, got %f (%v)", got, err)
	}

	mf := findMetricFamily(mfs, "wishpot_payout_initiated_cents_total")
	if mf == nil || mf.GetMetric()[0].GetCounter().GetValue() != 9500 {
		t.Fatalf("expected payout cents 9500")
	}
}
