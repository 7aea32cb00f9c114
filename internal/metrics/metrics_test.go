package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first Register returned error: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second Register returned error: %v", err)
	}
}

func TestObserveCycleNormalisesOutcome(t *testing.T) {
	before := testutil.ToFloat64(detectionCyclesTotal.WithLabelValues(OutcomeSuccess))
	ObserveCycle(time.Second, "anything")
	after := testutil.ToFloat64(detectionCyclesTotal.WithLabelValues(OutcomeSuccess))
	if after-before != 1 {
		t.Fatalf("expected success counter to advance by 1, got %v", after-before)
	}
}

func TestIncidentRecordedLabels(t *testing.T) {
	before := testutil.ToFloat64(incidentsRecordedTotal.WithLabelValues("true"))
	IncidentRecorded(true)
	if got := testutil.ToFloat64(incidentsRecordedTotal.WithLabelValues("true")) - before; got != 1 {
		t.Fatalf("expected critical counter to advance by 1, got %v", got)
	}
}
