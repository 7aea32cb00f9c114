// Package evidence looks for log lines that corroborate a metric anomaly.
package evidence

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/miradorstack/mirador-aiops/internal/metrics"
	"github.com/miradorstack/mirador-aiops/internal/models"
)

// DefaultWindow is how far before the anomaly the correlator looks.
const DefaultWindow = 5 * time.Minute

// DefaultLogSourcePattern maps a resource to its log source.
const DefaultLogSourcePattern = "/{resource}/var/log/messages"

// DefaultKeywords are matched case-insensitively; any one of them is enough.
var DefaultKeywords = []string{"error", "failed", "critical", "exception", "timeout", "denied"}

// LogStore is the external log collaborator. It returns models.ErrLogSourceNotFound
// (possibly wrapped) when the resource has no log source.
type LogStore interface {
	FilterLogs(ctx context.Context, q models.LogQuery) ([]models.LogLine, error)
}

// Correlator searches the window preceding an anomaly for keyword matches.
type Correlator struct {
	store    LogStore
	window   time.Duration
	keywords []string
	pattern  string
	logger   *slog.Logger
}

// Option customises a Correlator.
type Option func(*Correlator)

// WithWindow overrides the search window.
func WithWindow(d time.Duration) Option {
	return func(c *Correlator) {
		if d > 0 {
			c.window = d
		}
	}
}

// WithKeywords overrides the keyword set.
func WithKeywords(keywords []string) Option {
	return func(c *Correlator) {
		if len(keywords) > 0 {
			c.keywords = append([]string(nil), keywords...)
		}
	}
}

// WithLogSourcePattern overrides the resource to log source mapping.
func WithLogSourcePattern(pattern string) Option {
	return func(c *Correlator) {
		if pattern != "" {
			c.pattern = pattern
		}
	}
}

// NewCorrelator builds a Correlator with the default window, keywords and source pattern.
func NewCorrelator(logger *slog.Logger, store LogStore, opts ...Option) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Correlator{
		store:    store,
		window:   DefaultWindow,
		keywords: append([]string(nil), DefaultKeywords...),
		pattern:  DefaultLogSourcePattern,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SourceFor returns the log source name for a resource.
func (c *Correlator) SourceFor(resourceID string) string {
	return strings.ReplaceAll(c.pattern, "{resource}", resourceID)
}

// Find returns the matching message bodies in [at-window, at], in the order the log store
// returned them. Lookup failures and missing sources yield an empty slice.
func (c *Correlator) Find(ctx context.Context, resourceID string, at time.Time) []string {
	source := c.SourceFor(resourceID)
	lines, err := c.store.FilterLogs(ctx, models.LogQuery{
		Source:     source,
		ResourceID: resourceID,
		Start:      at.Add(-c.window),
		End:        at,
		Keywords:   c.keywords,
	})
	if err != nil {
		if errors.Is(err, models.ErrLogSourceNotFound) {
			c.logger.Warn("log source not found; treating as no evidence",
				slog.String("resource", resourceID), slog.String("source", source))
		} else {
			c.logger.Error("log evidence lookup failed; treating as no evidence",
				slog.String("resource", resourceID), slog.Any("error", err))
		}
		metrics.EvidenceLookup(metrics.OutcomeError)
		return []string{}
	}

	messages := make([]string, 0, len(lines))
	for _, line := range lines {
		// Stores that cannot filter server-side may hand back everything in the window.
		if !MatchesAny(line.Message, c.keywords) {
			continue
		}
		messages = append(messages, line.Message)
	}

	if len(messages) == 0 {
		metrics.EvidenceLookup(metrics.OutcomeEmpty)
	} else {
		metrics.EvidenceLookup(metrics.OutcomeFound)
	}
	return messages
}

// MatchesAny reports whether message contains any keyword, ignoring case.
func MatchesAny(message string, keywords []string) bool {
	lower := strings.ToLower(message)
	for _, k := range keywords {
		if k == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}
