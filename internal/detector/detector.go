// Package detector classifies metric samples with a pretrained one-class model.
package detector

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/miradorstack/mirador-aiops/internal/models"
)

// ErrDisabled is returned by Classify when no model could be loaded.
var ErrDisabled = errors.New("detector disabled: model unavailable")

// Detector wraps a model loaded once at startup. A Detector whose model failed to load is
// disabled and stays disabled until the process restarts.
type Detector struct {
	model *Model
	err   error
}

// Load reads the model at path. It never fails: a load error yields a disabled Detector.
func Load(path string, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		d := Disabled(fmt.Errorf("read model %s: %w", path, err))
		logger.Error("anomaly model unavailable; detection disabled", slog.String("path", path), slog.Any("error", d.err))
		return d
	}
	model, err := DecodeModel(data)
	if err != nil {
		d := Disabled(fmt.Errorf("load model %s: %w", path, err))
		logger.Error("anomaly model invalid; detection disabled", slog.String("path", path), slog.Any("error", d.err))
		return d
	}
	logger.Info("anomaly model loaded", slog.String("path", path), slog.String("kind", model.Kind), slog.Int("trees", len(model.Trees)))
	return New(model)
}

// New wraps an in-memory model.
func New(model *Model) *Detector {
	if model == nil {
		return Disabled(errors.New("nil model"))
	}
	return &Detector{model: model}
}

// Disabled returns a detector that refuses to classify.
func Disabled(cause error) *Detector {
	if cause == nil {
		cause = ErrDisabled
	}
	return &Detector{err: cause}
}

// Enabled reports whether a model is available.
func (d *Detector) Enabled() bool {
	return d != nil && d.model != nil
}

// Err returns the load failure of a disabled detector.
func (d *Detector) Err() error {
	if d == nil {
		return ErrDisabled
	}
	return d.err
}

// Kind returns the loaded model kind, or "" when disabled.
func (d *Detector) Kind() string {
	if !d.Enabled() {
		return ""
	}
	return d.model.Kind
}

// Classify labels a single value.
func (d *Detector) Classify(value float64) (models.Verdict, error) {
	if !d.Enabled() {
		return models.VerdictNormal, fmt.Errorf("%w: %v", ErrDisabled, d.Err())
	}
	if d.model.Outlier(value) {
		return models.VerdictOutlier, nil
	}
	return models.VerdictNormal, nil
}
