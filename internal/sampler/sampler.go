// Package sampler reads a fixed window of a utilization metric for one resource.
package sampler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/miradorstack/mirador-aiops/internal/models"
)

// Default window used by the detection stage.
const (
	DefaultPeriod   = 5 * time.Minute
	DefaultLookback = 30 * time.Minute
)

// Order controls the ordering of returned samples.
type Order int

const (
	NewestFirst Order = iota
	OldestFirst
)

// Window is the span and resolution of a sample query.
type Window struct {
	Period   time.Duration
	Lookback time.Duration
}

// MetricStore is the external metric collaborator.
type MetricStore interface {
	QueryMetric(ctx context.Context, q models.MetricQuery) ([]models.Sample, error)
}

// Sampler fetches one metric for a resource over a trailing window.
type Sampler struct {
	store      MetricStore
	metricName string
	now        func() time.Time
}

// New constructs a Sampler for metricName.
func New(store MetricStore, metricName string) *Sampler {
	return &Sampler{store: store, metricName: metricName, now: time.Now}
}

// WithClock overrides the time source.
func (s *Sampler) WithClock(now func() time.Time) *Sampler {
	s.now = now
	return s
}

// MetricName returns the metric this sampler reads.
func (s *Sampler) MetricName() string { return s.metricName }

// Sample returns the samples in [now-Lookback, now] at Period resolution, sorted by order.
// An empty slice is a valid result.
func (s *Sampler) Sample(ctx context.Context, resourceID string, w Window, order Order) ([]models.Sample, error) {
	if w.Period <= 0 {
		w.Period = DefaultPeriod
	}
	if w.Lookback <= 0 {
		w.Lookback = DefaultLookback
	}
	end := s.now().UTC()
	samples, err := s.store.QueryMetric(ctx, models.MetricQuery{
		ResourceID: resourceID,
		MetricName: s.metricName,
		Period:     w.Period,
		Start:      end.Add(-w.Lookback),
		End:        end,
	})
	if err != nil {
		return nil, fmt.Errorf("sample %s for %s: %w", s.metricName, resourceID, err)
	}

	out := append([]models.Sample(nil), samples...)
	sort.SliceStable(out, func(i, j int) bool {
		if order == OldestFirst {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}
