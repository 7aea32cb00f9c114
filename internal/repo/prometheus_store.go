package repo

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/miradorstack/mirador-aiops/internal/models"
)

type rangeQuerier interface {
	QueryRange(ctx context.Context, query string, r promv1.Range, opts ...promv1.Option) (model.Value, promv1.Warnings, error)
}

// PrometheusMetricStore serves metric samples from a Prometheus-compatible query_range API.
// The query template may reference {resource} and {metric}.
type PrometheusMetricStore struct {
	api      rangeQuerier
	template string
	logger   *slog.Logger
}

// NewPrometheusMetricStore builds a store against address.
func NewPrometheusMetricStore(address, template string, logger *slog.Logger) (*PrometheusMetricStore, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("prometheus address is required")
	}
	client, err := api.NewClient(api.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("prometheus client: %w", err)
	}
	return newPrometheusMetricStore(promv1.NewAPI(client), template, logger), nil
}

func newPrometheusMetricStore(q rangeQuerier, template string, logger *slog.Logger) *PrometheusMetricStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PrometheusMetricStore{api: q, template: template, logger: logger}
}

// QueryMetric runs the templated expression over [Start, End] at Period resolution.
func (s *PrometheusMetricStore) QueryMetric(ctx context.Context, q models.MetricQuery) ([]models.Sample, error) {
	expr := strings.NewReplacer("{resource}", q.ResourceID, "{metric}", q.MetricName).Replace(s.template)
	value, warnings, err := s.api.QueryRange(ctx, expr, promv1.Range{Start: q.Start, End: q.End, Step: q.Period})
	if err != nil {
		return nil, fmt.Errorf("prometheus query_range: %w", err)
	}
	for _, w := range warnings {
		s.logger.Warn("prometheus query warning", slog.String("resource", q.ResourceID), slog.String("warning", w))
	}

	matrix, ok := value.(model.Matrix)
	if !ok {
		return nil, fmt.Errorf("prometheus query_range returned %s, want matrix", value.Type())
	}
	if len(matrix) == 0 {
		return nil, nil
	}
	if len(matrix) > 1 {
		s.logger.Debug("prometheus returned multiple series; using the first",
			slog.String("resource", q.ResourceID), slog.Int("series", len(matrix)))
	}

	stream := matrix[0]
	samples := make([]models.Sample, 0, len(stream.Values))
	dropped := 0
	for _, pair := range stream.Values {
		v := float64(pair.Value)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			dropped++
			continue
		}
		samples = append(samples, models.Sample{
			Timestamp: pair.Timestamp.Time().UTC(),
			Value:     v,
		})
	}
	if dropped > 0 {
		s.logger.Debug("dropped non-finite samples", slog.String("resource", q.ResourceID), slog.Int("count", dropped))
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Timestamp.Before(samples[j].Timestamp) })
	return samples, nil
}
