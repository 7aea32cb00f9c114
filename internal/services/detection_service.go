package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-aiops/internal/engine"
	"github.com/miradorstack/mirador-aiops/internal/utils"
)

// CycleRunner runs one detection cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (engine.CycleReport, error)
}

// DetectionService drives detection cycles on a fixed schedule.
type DetectionService struct {
	logger    *slog.Logger
	runner    CycleRunner
	interval  time.Duration
	latencies *utils.LatencyTracker
}

// NewDetectionService constructs the scheduler.
func NewDetectionService(logger *slog.Logger, runner CycleRunner, interval time.Duration) *DetectionService {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &DetectionService{
		logger:    logger,
		runner:    runner,
		interval:  interval,
		latencies: utils.NewLatencyTracker(256),
	}
}

// RunOnce runs a single cycle and reports its outcome.
func (s *DetectionService) RunOnce(ctx context.Context) (engine.CycleReport, error) {
	start := time.Now()
	report, err := s.runner.RunCycle(ctx)
	duration := time.Since(start)
	if err != nil {
		if errors.Is(err, engine.ErrDetectorDisabled) {
			s.logger.Error("detection cycle failed: detector disabled until restart")
		} else {
			s.logger.Error("detection cycle failed", slog.Any("error", err))
		}
		return report, err
	}

	s.latencies.Observe(duration)
	if count := s.latencies.Total(); count >= 12 && count%12 == 0 {
		s.logger.Info("detection cycle latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", s.latencies.Count()))
	}
	return report, nil
}

// Run executes a cycle immediately and then on every interval until ctx is done. Failed
// cycles do not stop the schedule.
func (s *DetectionService) Run(ctx context.Context) error {
	s.logger.Info("detection scheduler started", slog.Duration("interval", s.interval))
	_, _ = s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("detection scheduler stopped")
			return nil
		case <-ticker.C:
			_, _ = s.RunOnce(ctx)
		}
	}
}
