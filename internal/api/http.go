package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/miradorstack/mirador-aiops/internal/cache"
	"github.com/miradorstack/mirador-aiops/internal/config"
	"github.com/miradorstack/mirador-aiops/internal/models"
	"github.com/miradorstack/mirador-aiops/internal/patterns"
	"github.com/miradorstack/mirador-aiops/internal/telemetry"
)

const summaryCacheKey = "mirador:aiops:dashboard:summary"

// TraceIDHeader carries the request's trace id back to the caller.
const TraceIDHeader = "X-Trace-ID"

// IncidentReader lists every stored incident.
type IncidentReader interface {
	Scan(ctx context.Context) ([]models.IncidentRecord, error)
}

// Summary is the dashboard payload.
type Summary struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Total       int                `json:"total"`
	Critical    int                `json:"critical"`
	NonCritical int                `json:"non_critical"`
	Hotspots    []patterns.Hotspot `json:"hotspots"`
	Recent      []IncidentView     `json:"recent"`
}

// HTTPServer serves the incident read API and the dashboard endpoints.
type HTTPServer struct {
	logger    *slog.Logger
	incidents IncidentReader
	cache     cache.Provider
	miner     *patterns.Miner
	dashboard config.DashboardConfig
	origins   []string
	router    *mux.Router
	upgrader  websocket.Upgrader
	now       func() time.Time
}

// NewHTTPServer builds the router. A nil cache disables summary caching.
func NewHTTPServer(logger *slog.Logger, incidents IncidentReader, cacheProvider cache.Provider, dashboard config.DashboardConfig, allowedOrigins []string) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if dashboard.RefreshInterval <= 0 {
		dashboard.RefreshInterval = 30 * time.Second
	}
	if dashboard.RecentLimit <= 0 {
		dashboard.RecentLimit = 20
	}
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	s := &HTTPServer{
		logger:    logger,
		incidents: incidents,
		cache:     cacheProvider,
		miner:     patterns.NewMiner(3),
		dashboard: dashboard,
		origins:   allowedOrigins,
		router:    mux.NewRouter(),
		now:       time.Now,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/incidents", s.handleIncidents).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/dashboard/summary", s.handleSummary).Methods(http.MethodGet)
	s.router.HandleFunc("/ws/dashboard", s.handleDashboardStream).Methods(http.MethodGet)
	return s
}

// Handler returns the router wrapped with CORS and tracing.
func (s *HTTPServer) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		ExposedHeaders: []string{TraceIDHeader},
	})
	traced := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := telemetry.TraceID(r.Context()); id != "" {
			w.Header().Set(TraceIDHeader, id)
		}
		s.router.ServeHTTP(w, r)
	})
	return otelhttp.NewHandler(c.Handler(traced), "aiops.api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleIncidents(w http.ResponseWriter, r *http.Request) {
	records, err := s.incidents.Scan(r.Context())
	if err != nil {
		s.logger.Error("failed to scan incidents", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list incidents")
		return
	}
	SortNewestFirst(records)
	writeJSON(w, http.StatusOK, toViews(records))
}

func (s *HTTPServer) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		if err := s.cache.Del(r.Context(), summaryCacheKey); err != nil {
			s.logger.Warn("failed to drop cached summary", slog.Any("error", err))
		}
	}
	payload, err := s.summaryJSON(r.Context())
	if err != nil {
		s.logger.Error("failed to build dashboard summary", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to build summary")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (s *HTTPServer) handleDashboardStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("dashboard stream: upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.dashboard.RefreshInterval)
	defer ticker.Stop()
	for {
		payload, err := s.summaryJSON(ctx)
		if err != nil {
			s.logger.Warn("dashboard stream: summary failed", slog.Any("error", err))
		} else if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// summaryJSON returns the cached summary or builds and caches a fresh one.
func (s *HTTPServer) summaryJSON(ctx context.Context) ([]byte, error) {
	cached, err := s.cache.Get(ctx, summaryCacheKey)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("summary cache read failed", slog.Any("error", err))
	}

	summary, err := s.BuildSummary(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}
	if s.dashboard.SummaryTTL > 0 {
		if err := s.cache.Set(ctx, summaryCacheKey, payload, s.dashboard.SummaryTTL); err != nil {
			s.logger.Warn("summary cache write failed", slog.Any("error", err))
		}
	}
	return payload, nil
}

// BuildSummary scans the store and aggregates the dashboard view.
func (s *HTTPServer) BuildSummary(ctx context.Context) (Summary, error) {
	records, err := s.incidents.Scan(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("scan incidents: %w", err)
	}
	SortNewestFirst(records)

	summary := Summary{
		GeneratedAt: s.now().UTC(),
		Total:       len(records),
		Hotspots:    []patterns.Hotspot{},
	}
	for _, rec := range records {
		if rec.IsCritical {
			summary.Critical++
		}
	}
	summary.NonCritical = summary.Total - summary.Critical

	if hotspots := s.miner.Mine(records); len(hotspots) > 0 {
		if limit := s.dashboard.HotspotLimit; limit > 0 && len(hotspots) > limit {
			hotspots = hotspots[:limit]
		}
		summary.Hotspots = hotspots
	}
	recent := records
	if len(recent) > s.dashboard.RecentLimit {
		recent = recent[:s.dashboard.RecentLimit]
	}
	summary.Recent = toViews(recent)
	return summary, nil
}

func (s *HTTPServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.origins, "*") {
		return true
	}
	return slices.Contains(s.origins, origin)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
