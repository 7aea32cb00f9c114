package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/miradorstack/mirador-aiops/internal/cache"
	"github.com/miradorstack/mirador-aiops/internal/models"
	"github.com/miradorstack/mirador-aiops/internal/utils"
)

// ErrLogSourceNotFound is surfaced when the resource has no log source.
var ErrLogSourceNotFound = models.ErrLogSourceNotFound

// CorePaths lists the gateway endpoints used by CoreClient.
type CorePaths struct {
	Inventory string
	Metrics   string
	Logs      string
	Restart   string
}

// CoreClient wraps the mirador-core telemetry gateway: inventory, metrics, logs and control.
type CoreClient struct {
	baseURL      string
	paths        CorePaths
	httpClient   *http.Client
	cache        cache.Provider
	inventoryTTL time.Duration
	logger       *slog.Logger
}

// NewCoreClient constructs a client targeting the configured gateway instance.
func NewCoreClient(baseURL string, paths CorePaths, timeout time.Duration, cacheProvider cache.Provider, inventoryTTL time.Duration, logger *slog.Logger) *CoreClient {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CoreClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		paths:        paths,
		httpClient:   &http.Client{Timeout: timeout},
		cache:        cacheProvider,
		inventoryTTL: inventoryTTL,
		logger:       logger,
	}
}

// WithHTTPClient swaps the transport, mostly for tracing wrappers and tests.
func (c *CoreClient) WithHTTPClient(hc *http.Client) *CoreClient {
	c.httpClient = hc
	return c
}

// ListResources returns the resources matching sel, served from cache when fresh.
func (c *CoreClient) ListResources(ctx context.Context, sel models.Selector) ([]models.Resource, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	key := inventoryCacheKey(sel)
	if c.inventoryTTL > 0 {
		if payload, err := c.cache.Get(ctx, key); err == nil {
			var cached []models.Resource
			if err := json.Unmarshal(payload, &cached); err == nil {
				return cached, nil
			}
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Debug("inventory cache read failed", slog.Any("error", err))
		}
	}

	payload := map[string]any{
		"tag_key":   sel.TagKey,
		"tag_value": sel.TagValue,
		"state":     sel.State,
	}
	var response struct {
		Resources []models.Resource `json:"resources"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.paths.Inventory), payload, &response); err != nil {
		return nil, fmt.Errorf("mirador-core inventory request failed: %w", err)
	}

	resources := make([]models.Resource, 0, len(response.Resources))
	for _, r := range response.Resources {
		if strings.TrimSpace(r.ID) == "" {
			continue
		}
		resources = append(resources, r)
	}

	if c.inventoryTTL > 0 {
		if data, err := json.Marshal(resources); err == nil {
			if err := c.cache.Set(ctx, key, data, c.inventoryTTL); err != nil {
				c.logger.Debug("inventory cache write failed", slog.Any("error", err))
			}
		}
	}
	return resources, nil
}

// QueryMetric fetches an aggregated metric series. An empty series is not an error.
func (c *CoreClient) QueryMetric(ctx context.Context, q models.MetricQuery) ([]models.Sample, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	payload := map[string]any{
		"resource_id":    q.ResourceID,
		"metric_name":    q.MetricName,
		"period_seconds": int64(q.Period / time.Second),
		"start":          q.Start.UTC().Format(time.RFC3339),
		"end":            q.End.UTC().Format(time.RFC3339),
	}
	var response struct {
		Series []struct {
			Timestamp time.Time `json:"timestamp"`
			Value     float64   `json:"value"`
		} `json:"series"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.paths.Metrics), payload, &response); err != nil {
		return nil, fmt.Errorf("mirador-core metrics request failed: %w", err)
	}

	samples := make([]models.Sample, 0, len(response.Series))
	for _, s := range response.Series {
		samples = append(samples, models.Sample{Timestamp: s.Timestamp, Value: s.Value})
	}
	return samples, nil
}

// FilterLogs returns the lines of q.Source matching any keyword within [Start, End].
func (c *CoreClient) FilterLogs(ctx context.Context, q models.LogQuery) ([]models.LogLine, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	payload := map[string]any{
		"source":      q.Source,
		"resource_id": q.ResourceID,
		"start_ms":    utils.Millis(q.Start),
		"end_ms":      utils.Millis(q.End),
		"keywords":    q.Keywords,
	}
	var response struct {
		Entries []struct {
			Timestamp time.Time `json:"timestamp"`
			Message   string    `json:"message"`
		} `json:"entries"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.paths.Logs), payload, &response); err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return nil, fmt.Errorf("%s: %w", q.Source, ErrLogSourceNotFound)
		}
		return nil, fmt.Errorf("mirador-core logs request failed: %w", err)
	}

	lines := make([]models.LogLine, 0, len(response.Entries))
	for _, e := range response.Entries {
		lines = append(lines, models.LogLine{Timestamp: e.Timestamp, Message: e.Message})
	}
	return lines, nil
}

// Restart asks the gateway to restart the resource.
func (c *CoreClient) Restart(ctx context.Context, resourceID string) error {
	if err := c.ready(); err != nil {
		return err
	}
	payload := map[string]any{"resource_id": resourceID}
	if err := c.postJSON(ctx, c.resolvePath(c.paths.Restart), payload, nil); err != nil {
		return fmt.Errorf("mirador-core restart request failed: %w", err)
	}
	return nil
}

func (c *CoreClient) ready() error {
	if c == nil {
		return fmt.Errorf("mirador-core client not initialised")
	}
	if c.baseURL == "" {
		return fmt.Errorf("mirador-core base URL not configured")
	}
	return nil
}

func (c *CoreClient) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("mirador-core returned %s", e.status)
}

func (c *CoreClient) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{code: resp.StatusCode, status: resp.Status}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func inventoryCacheKey(sel models.Selector) string {
	return fmt.Sprintf("mirador:aiops:inventory:%s=%s:%s", sel.TagKey, sel.TagValue, sel.State)
}
