package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

type resource struct {
	ID    string            `json:"id"`
	Name  string            `json:"name"`
	State string            `json:"state"`
	Tags  map[string]string `json:"tags"`
}

type seriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type logEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// fleet is the fake inventory: i-abc spikes with errors in its logs, i-xyz spikes quietly,
// i-ok stays flat and i-idle is untagged.
var fleet = []resource{
	{ID: "i-abc", Name: "checkout-1", State: "running", Tags: map[string]string{"Monitored": "true"}},
	{ID: "i-xyz", Name: "batch-1", State: "running", Tags: map[string]string{"Monitored": "true"}},
	{ID: "i-ok", Name: "web-1", State: "running", Tags: map[string]string{"Monitored": "true"}},
	{ID: "i-idle", Name: "spare-1", State: "stopped", Tags: map[string]string{"Monitored": "false"}},
}

var latest = map[string]float64{"i-abc": 95, "i-xyz": 91, "i-ok": 22}

var logs = map[string][]string{
	"i-abc": {"INFO: request served", "ERROR: disk full on /var", "kernel: critical: out of memory"},
	"i-ok":  {"INFO: request served"},
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With(slog.String("component", "core-mock"))

	var (
		mu       sync.Mutex
		restarts = map[string]int{}
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/inventory", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TagKey   string `json:"tag_key"`
			TagValue string `json:"tag_value"`
			State    string `json:"state"`
		}
		if !decodePost(w, r, &req) {
			return
		}
		out := []resource{}
		for _, res := range fleet {
			if req.TagKey != "" && res.Tags[req.TagKey] != req.TagValue {
				continue
			}
			if req.State != "" && res.State != req.State {
				continue
			}
			out = append(out, res)
		}
		writeJSON(w, map[string]any{"resources": out})
	})

	mux.HandleFunc("/api/v1/metrics/query", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ResourceID    string `json:"resource_id"`
			PeriodSeconds int64  `json:"period_seconds"`
			End           string `json:"end"`
		}
		if !decodePost(w, r, &req) {
			return
		}
		end, err := time.Parse(time.RFC3339, req.End)
		if err != nil {
			end = time.Now()
		}
		period := time.Duration(req.PeriodSeconds) * time.Second
		if period <= 0 {
			period = 5 * time.Minute
		}
		series := []seriesPoint{}
		if v, ok := latest[req.ResourceID]; ok {
			for i := 5; i > 0; i-- {
				series = append(series, seriesPoint{Timestamp: end.Add(-time.Duration(i) * period), Value: 20 + float64(i%3)})
			}
			series = append(series, seriesPoint{Timestamp: end.Add(-time.Minute), Value: v})
		}
		writeJSON(w, map[string]any{"series": series})
	})

	mux.HandleFunc("/api/v1/logs/filter", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ResourceID string   `json:"resource_id"`
			EndMs      int64    `json:"end_ms"`
			Keywords   []string `json:"keywords"`
		}
		if !decodePost(w, r, &req) {
			return
		}
		lines, ok := logs[req.ResourceID]
		if !ok {
			http.Error(w, "log source not found", http.StatusNotFound)
			return
		}
		end := time.UnixMilli(req.EndMs)
		entries := []logEntry{}
		for i, line := range lines {
			if !matches(line, req.Keywords) {
				continue
			}
			entries = append(entries, logEntry{Timestamp: end.Add(-time.Duration(len(lines)-i) * 30 * time.Second), Message: line})
		}
		writeJSON(w, map[string]any{"entries": entries})
	})

	mux.HandleFunc("/api/v1/control/restart", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ResourceID string `json:"resource_id"`
		}
		if !decodePost(w, r, &req) {
			return
		}
		mu.Lock()
		restarts[req.ResourceID]++
		count := restarts[req.ResourceID]
		mu.Unlock()
		logger.Info("restart requested", slog.String("resource", req.ResourceID), slog.Int("count", count))
		writeJSON(w, map[string]any{"status": "restarting"})
	})

	addr := ":8090"
	if v := os.Getenv("MOCK_CORE_ADDR"); v != "" {
		addr = v
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           logRequests(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("listening", slog.String("address", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

func matches(line string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	lower := strings.ToLower(line)
	for _, k := range keywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

func decodePost(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode error", slog.Any("error", err))
	}
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Info("request", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Int("status", rw.status), slog.Duration("duration", time.Since(start)))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
