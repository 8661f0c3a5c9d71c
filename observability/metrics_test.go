package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestLedgerMetricsCounters(t *testing.T) {
	m := LedgerMetrics()
	if LedgerMetrics() != m {
		t.Fatalf("expected singleton registry")
	}
	before := testutil.ToFloat64(m.calls.WithLabelValues("deposit_collateral", "success"))
	m.ObserveCall("Deposit_Collateral", "success", 5*time.Millisecond)
	after := testutil.ToFloat64(m.calls.WithLabelValues("deposit_collateral", "success"))
	if after-before != 1 {
		t.Fatalf("expected call counter to advance by one, got %v", after-before)
	}

	m.RecordTransfer("transfer_from", false)
	if got := testutil.ToFloat64(m.transfers.WithLabelValues("transfer_from", "error")); got < 1 {
		t.Fatalf("expected failed transfer to be counted, got %v", got)
	}

	pubBefore := testutil.ToFloat64(m.published)
	m.RecordPublished(3)
	m.RecordPublished(0)
	if got := testutil.ToFloat64(m.published) - pubBefore; got != 3 {
		t.Fatalf("expected 3 published events, got %v", got)
	}

	m.SetSubscribers(2)
	if got := testutil.ToFloat64(m.subscribers); got != 2 {
		t.Fatalf("expected 2 subscribers, got %v", got)
	}
}

func TestNilRegistryIsSafe(t *testing.T) {
	var m *LedgerMetricsRegistry
	m.ObserveCall("x", "y", time.Second)
	m.RecordRejection("paused")
	var h *HTTPMetricsRegistry
	h.Observe("/", "GET", 500, time.Second)
}

func TestHTTPMetricsErrorsByStatus(t *testing.T) {
	h := HTTPMetrics()
	h.Observe("/v1/ledger/loans", "POST", 409, time.Millisecond)
	if got := testutil.ToFloat64(h.errors.WithLabelValues("/v1/ledger/loans", "post", "409")); got < 1 {
		t.Fatalf("expected error counter for 409, got %v", got)
	}
	if statusLabel(42) != "unknown" || statusLabel(201) != "201" {
		t.Fatalf("unexpected status labels")
	}
}

func TestDefaultGathererExposesLedgerFamilies(t *testing.T) {
	LedgerMetrics().ObserveCall("initialize", "success", time.Millisecond)
	HTTPMetrics().Observe("/healthz", "GET", 200, time.Millisecond)

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	want := map[string]dto.MetricType{
		"lendledger_ledger_calls_total":           dto.MetricType_COUNTER,
		"lendledger_ledger_call_duration_seconds": dto.MetricType_HISTOGRAM,
		"lendledger_events_stream_subscribers":    dto.MetricType_GAUGE,
	}
	for _, family := range families {
		if kind, ok := want[family.GetName()]; ok {
			if family.GetType() != kind {
				t.Fatalf("%s: expected type %v, got %v", family.GetName(), kind, family.GetType())
			}
			delete(want, family.GetName())
		}
	}
	if len(want) > 0 {
		t.Fatalf("missing metric families: %v", want)
	}
}
