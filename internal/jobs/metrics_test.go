package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	if err := m.Track("compliance_review").End(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	boom := errors.New("boom")
	if err := m.Track("compliance_review").End(boom); !errors.Is(err, boom) {
		t.Fatalf("expected error to propagate, got %v", err)
	}

	if got := testutil.ToFloat64(m.runs.WithLabelValues("compliance_review", "success")); got != 1 {
		t.Fatalf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(m.failures.WithLabelValues("compliance_review")); got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
}

func TestAddAffectedIgnoresNonPositive(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddAffected("idempotency_cleanup", 0)
	m.AddAffected("idempotency_cleanup", 4)
	if got := testutil.ToFloat64(m.affected.WithLabelValues("idempotency_cleanup")); got != 4 {
		t.Fatalf("expected 4 affected rows, got %v", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.AddAffected("x", 3)
	if err := m.Track("x").End(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
