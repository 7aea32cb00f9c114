package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-aiops/internal/engine"
	"github.com/miradorstack/mirador-aiops/internal/models"
	"github.com/miradorstack/mirador-aiops/internal/transport"
	"github.com/miradorstack/mirador-aiops/internal/utils"
)

// AnomalyHandler processes one decoded anomaly event.
type AnomalyHandler interface {
	Handle(ctx context.Context, ev models.AnomalyEvent) (models.IncidentRecord, error)
}

// RCAWorker consumes anomaly events from the transport.
type RCAWorker struct {
	logger    *slog.Logger
	stage     AnomalyHandler
	latencies *utils.LatencyTracker
}

// NewRCAWorker constructs the anomaly consumer.
func NewRCAWorker(logger *slog.Logger, stage AnomalyHandler) *RCAWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RCAWorker{logger: logger, stage: stage, latencies: utils.NewLatencyTracker(1024)}
}

// HandleMessage is a transport.Handler. Undecodable and invalid events are dropped;
// a persistence failure is returned so the transport redelivers the event.
func (w *RCAWorker) HandleMessage(ctx context.Context, data []byte) error {
	ev, err := transport.DecodeAnomaly(data)
	if err != nil {
		w.logger.Warn("dropping undecodable anomaly event", slog.Any("error", err))
		return nil
	}

	start := time.Now()
	_, err = w.stage.Handle(ctx, ev)
	switch {
	case errors.Is(err, engine.ErrInvalidEvent):
		w.logger.Warn("dropping invalid anomaly event", slog.String("resource", ev.ResourceID), slog.Any("error", err))
		return nil
	case err != nil:
		return err
	}

	w.latencies.Observe(time.Since(start))
	if count := w.latencies.Total(); count >= 20 && count%20 == 0 {
		w.logger.Info("rca latency", slog.Duration("p95", w.latencies.Percentile(95)), slog.Int("samples", w.latencies.Count()))
	}
	return nil
}

// Run consumes subscription until ctx is done.
func (w *RCAWorker) Run(ctx context.Context, sub transport.Subscriber, subscription string) error {
	w.logger.Info("rca worker started", slog.String("subscription", subscription))
	return sub.Subscribe(ctx, subscription, w.HandleMessage)
}
