package repo

import (
	"context"
	"math"
	"testing"
	"time"

	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/miradorstack/mirador-aiops/internal/models"
)

type fakeRangeQuerier struct {
	query string
	rng   promv1.Range
	value model.Value
}

func (f *fakeRangeQuerier) QueryRange(_ context.Context, query string, r promv1.Range, _ ...promv1.Option) (model.Value, promv1.Warnings, error) {
	f.query = query
	f.rng = r
	return f.value, nil, nil
}

func TestPrometheusMetricStoreTemplatesQuery(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fake := &fakeRangeQuerier{value: model.Matrix{
		&model.SampleStream{
			Metric: model.Metric{"name": "web-1"},
			Values: []model.SamplePair{
				{Timestamp: model.TimeFromUnixNano(start.Add(5 * time.Minute).UnixNano()), Value: 42},
				{Timestamp: model.TimeFromUnixNano(start.UnixNano()), Value: 12},
			},
		},
	}}
	store := newPrometheusMetricStore(fake, `cpu{name="{resource}"}`, nil)

	samples, err := store.QueryMetric(context.Background(), models.MetricQuery{
		ResourceID: "web-1",
		Period:     5 * time.Minute,
		Start:      start,
		End:        start.Add(30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.query != `cpu{name="web-1"}` {
		t.Fatalf("unexpected query: %s", fake.query)
	}
	if fake.rng.Step != 5*time.Minute {
		t.Fatalf("unexpected step: %s", fake.rng.Step)
	}
	if len(samples) != 2 || samples[0].Value != 12 || samples[1].Value != 42 {
		t.Fatalf("expected oldest-first samples, got %+v", samples)
	}
}

func TestPrometheusMetricStoreDropsNonFiniteValues(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	at := func(minutes int, v float64) model.SamplePair {
		return model.SamplePair{Timestamp: model.TimeFromUnixNano(start.Add(time.Duration(minutes) * time.Minute).UnixNano()), Value: model.SampleValue(v)}
	}
	fake := &fakeRangeQuerier{value: model.Matrix{
		&model.SampleStream{Values: []model.SamplePair{at(0, 12), at(5, math.NaN()), at(10, math.Inf(1)), at(15, math.Inf(-1)), at(20, 30)}},
	}}
	store := newPrometheusMetricStore(fake, "up", nil)

	samples, err := store.QueryMetric(context.Background(), models.MetricQuery{ResourceID: "web-1", Period: 5 * time.Minute})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(samples) != 2 || samples[0].Value != 12 || samples[1].Value != 30 {
		t.Fatalf("expected only finite samples, got %+v", samples)
	}
}

func TestPrometheusMetricStoreEmptyMatrix(t *testing.T) {
	store := newPrometheusMetricStore(&fakeRangeQuerier{value: model.Matrix{}}, "up", nil)
	samples, err := store.QueryMetric(context.Background(), models.MetricQuery{ResourceID: "web-1", Period: time.Minute})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(samples) != 0 {
		t.Fatalf("expected no samples, got %d", len(samples))
	}
}

func TestPrometheusMetricStoreRejectsVector(t *testing.T) {
	store := newPrometheusMetricStore(&fakeRangeQuerier{value: model.Vector{}}, "up", nil)
	if _, err := store.QueryMetric(context.Background(), models.MetricQuery{ResourceID: "web-1", Period: time.Minute}); err == nil {
		t.Fatalf("expected error for non-matrix result")
	}
}
