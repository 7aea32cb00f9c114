package services

import (
	"context"
	"log/slog"

	"github.com/miradorstack/mirador-aiops/internal/engine"
	"github.com/miradorstack/mirador-aiops/internal/models"
	"github.com/miradorstack/mirador-aiops/internal/transport"
)

// RemediationHandler acts on one remediation request.
type RemediationHandler interface {
	Handle(ctx context.Context, req models.RemediationRequest) engine.Outcome
}

// RemediationWorker consumes remediation requests from the transport.
type RemediationWorker struct {
	logger *slog.Logger
	stage  RemediationHandler
}

// NewRemediationWorker constructs the remediation consumer.
func NewRemediationWorker(logger *slog.Logger, stage RemediationHandler) *RemediationWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemediationWorker{logger: logger, stage: stage}
}

// HandleMessage is a transport.Handler. It always acknowledges: a failed restart is
// terminal for the request.
func (w *RemediationWorker) HandleMessage(ctx context.Context, data []byte) error {
	req, err := transport.DecodeRemediation(data)
	if err != nil {
		w.logger.Warn("dropping undecodable remediation request", slog.Any("error", err))
		return nil
	}
	outcome := w.stage.Handle(ctx, req)
	w.logger.Debug("remediation request handled",
		slog.String("target", req.TargetID),
		slog.String("status", string(outcome.Status)))
	return nil
}

// Run consumes subscription until ctx is done.
func (w *RemediationWorker) Run(ctx context.Context, sub transport.Subscriber, subscription string) error {
	w.logger.Info("remediation worker started", slog.String("subscription", subscription))
	return sub.Subscribe(ctx, subscription, w.HandleMessage)
}
