package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-aiops/internal/metrics"
	"github.com/miradorstack/mirador-aiops/internal/models"
	"github.com/miradorstack/mirador-aiops/internal/sampler"
	"github.com/miradorstack/mirador-aiops/internal/transport"
)

// ErrDetectorDisabled fails a detection cycle when no model is loaded.
var ErrDetectorDisabled = errors.New("detection cycle skipped: detector disabled")

// DefaultPublishTimeout bounds a single anomaly publish.
const DefaultPublishTimeout = 10 * time.Second

// DetectionOptions configures a DetectionStage.
type DetectionOptions struct {
	Selector    models.Selector
	Window      sampler.Window
	MetricName  string
	AnomalyKind string
	Topic       string
	Concurrency int
	// PublishTimeout bounds each publish so a stalled transport fails the resource
	// instead of the cycle.
	PublishTimeout time.Duration
}

// CycleReport summarises one detection cycle.
type CycleReport struct {
	Resources int
	Sampled   int
	Skipped   int
	Anomalies int
	Failures  int
}

// DetectionStage samples every monitored resource and emits an AnomalyEvent for each one
// whose latest sample is an outlier.
type DetectionStage struct {
	logger     *slog.Logger
	inventory  Inventory
	sampler    Sampler
	classifier Classifier
	publisher  Publisher
	opts       DetectionOptions
	now        func() time.Time
}

// NewDetectionStage constructs a detection stage.
func NewDetectionStage(logger *slog.Logger, inventory Inventory, s Sampler, classifier Classifier, publisher Publisher, opts DetectionOptions) *DetectionStage {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.Window.Period <= 0 {
		opts.Window.Period = sampler.DefaultPeriod
	}
	if opts.Window.Lookback <= 0 {
		opts.Window.Lookback = sampler.DefaultLookback
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultPublishTimeout
	}
	if opts.Selector.State == "" {
		opts.Selector.State = "running"
	}
	return &DetectionStage{
		logger:     logger,
		inventory:  inventory,
		sampler:    s,
		classifier: classifier,
		publisher:  publisher,
		opts:       opts,
		now:        time.Now,
	}
}

// WithClock overrides the time source used to validate sample timestamps.
func (d *DetectionStage) WithClock(now func() time.Time) *DetectionStage {
	d.now = now
	return d
}

// Enabled reports whether the stage can run cycles.
func (d *DetectionStage) Enabled() bool {
	return d.classifier != nil && d.classifier.Enabled()
}

// RunCycle attempts every monitored resource once. Only a disabled detector or an
// inventory failure fail the cycle; per-resource problems are logged and counted.
func (d *DetectionStage) RunCycle(ctx context.Context) (CycleReport, error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "detection.cycle")
	defer span.End()

	var report CycleReport
	if !d.Enabled() {
		var cause error
		if d.classifier != nil {
			cause = d.classifier.Err()
		}
		d.logger.Error("detector disabled; skipping detection cycle", slog.Any("error", cause))
		metrics.ObserveCycle(time.Since(started), metrics.OutcomeError)
		span.SetStatus(codes.Error, "detector disabled")
		return report, ErrDetectorDisabled
	}

	resources, err := d.inventory.ListResources(ctx, d.opts.Selector)
	if err != nil {
		metrics.ObserveCycle(time.Since(started), metrics.OutcomeError)
		span.RecordError(err)
		span.SetStatus(codes.Error, "inventory failed")
		return report, fmt.Errorf("list resources: %w", err)
	}
	report.Resources = len(resources)
	span.SetAttributes(attribute.Int("resources", len(resources)))
	d.logger.Info("found monitored resources",
		slog.Int("count", len(resources)),
		slog.String("tag", d.opts.Selector.TagKey+"="+d.opts.Selector.TagValue))

	var sampled, skipped, anomalies, failures atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(d.opts.Concurrency)
	for _, res := range resources {
		g.Go(func() error {
			switch d.inspect(ctx, res.ID) {
			case resultSkipped:
				skipped.Add(1)
			case resultNormal:
				sampled.Add(1)
			case resultAnomaly:
				sampled.Add(1)
				anomalies.Add(1)
			case resultFailed:
				failures.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Sampled = int(sampled.Load())
	report.Skipped = int(skipped.Load())
	report.Anomalies = int(anomalies.Load())
	report.Failures = int(failures.Load())

	d.logger.Info("detection cycle complete",
		slog.Int("resources", report.Resources),
		slog.Int("sampled", report.Sampled),
		slog.Int("skipped", report.Skipped),
		slog.Int("anomalies", report.Anomalies),
		slog.Int("failures", report.Failures),
		slog.Duration("duration", time.Since(started)))
	metrics.ObserveCycle(time.Since(started), metrics.OutcomeSuccess)
	return report, nil
}

type inspectResult int

const (
	resultSkipped inspectResult = iota
	resultNormal
	resultAnomaly
	resultFailed
)

func (d *DetectionStage) inspect(ctx context.Context, resourceID string) inspectResult {
	logger := d.logger.With(slog.String("resource", resourceID))

	samples, err := d.sampler.Sample(ctx, resourceID, d.opts.Window, sampler.NewestFirst)
	if err != nil {
		logger.Warn("sampling failed; skipping resource", slog.Any("error", err))
		metrics.ResourceFailed("sample")
		return resultFailed
	}
	if len(samples) == 0 {
		logger.Info("no samples in window; skipping resource")
		return resultSkipped
	}

	latest := samples[0]
	verdict, err := d.classifier.Classify(latest.Value)
	if err != nil {
		logger.Warn("classification failed; skipping resource", slog.Any("error", err))
		metrics.ResourceFailed("classify")
		return resultFailed
	}
	if verdict != models.VerdictOutlier {
		logger.Debug("latest sample normal", slog.Float64("value", latest.Value))
		return resultNormal
	}

	ev := models.AnomalyEvent{
		ResourceID:  resourceID,
		MetricName:  d.opts.MetricName,
		Value:       latest.Value,
		ObservedAt:  latest.Timestamp.UTC(),
		AnomalyKind: d.opts.AnomalyKind,
	}
	if err := ev.Validate(d.now()); err != nil {
		logger.Warn("discarding anomaly with invalid sample", slog.Any("error", err))
		metrics.ResourceFailed("validate")
		return resultFailed
	}

	msg, err := transport.EncodeAnomaly(ev)
	if err == nil {
		pubCtx, cancel := context.WithTimeout(ctx, d.opts.PublishTimeout)
		err = d.publisher.Publish(pubCtx, d.opts.Topic, msg)
		cancel()
	}
	if err != nil {
		logger.Error("anomaly detected but not published", slog.Float64("value", ev.Value), slog.Any("error", err))
		metrics.ResourceFailed("publish")
		metrics.PublishFailed(d.opts.Topic)
		return resultFailed
	}

	logger.Info("anomaly detected",
		slog.String("metric", ev.MetricName),
		slog.Float64("value", ev.Value),
		slog.Time("observed_at", ev.ObservedAt))
	metrics.AnomalyDetected()
	return resultAnomaly
}
