package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-aiops/internal/api"
	"github.com/miradorstack/mirador-aiops/internal/cache"
	"github.com/miradorstack/mirador-aiops/internal/config"
	"github.com/miradorstack/mirador-aiops/internal/detector"
	"github.com/miradorstack/mirador-aiops/internal/engine"
	"github.com/miradorstack/mirador-aiops/internal/evidence"
	"github.com/miradorstack/mirador-aiops/internal/models"
	"github.com/miradorstack/mirador-aiops/internal/repo"
	"github.com/miradorstack/mirador-aiops/internal/sampler"
	"github.com/miradorstack/mirador-aiops/internal/services"
	"github.com/miradorstack/mirador-aiops/internal/store"
	"github.com/miradorstack/mirador-aiops/internal/telemetry"
	"github.com/miradorstack/mirador-aiops/internal/transport"
	"github.com/miradorstack/mirador-aiops/internal/utils"
)

// backends holds the external collaborators selected by configuration.
type backends struct {
	inventory engine.Inventory
	metrics   sampler.MetricStore
	logs      evidence.LogStore
	control   engine.ResourceController
}

// runtime owns everything a subcommand opens, closing it in reverse order.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	cache   cache.Provider
	closers []func() error
}

func newRuntime(cfg *config.Config, logger *slog.Logger) *runtime {
	return &runtime{cfg: cfg, logger: logger, cache: cache.NoopProvider{}}
}

func (r *runtime) onClose(fn func() error) { r.closers = append(r.closers, fn) }

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.logger.Warn("close failed", slog.Any("error", err))
		}
	}
}

func (r *runtime) openCache() {
	c := r.cfg.Cache
	if !c.Enabled || c.Addr == "" {
		return
	}
	provider, err := cache.NewRedisProvider(cache.RedisConfig{
		Addr:         c.Addr,
		Username:     c.Username,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		MaxRetries:   c.MaxRetries,
	})
	if err != nil {
		r.logger.Warn("redis cache unavailable; continuing without cache", slog.Any("error", err))
		return
	}
	r.cache = provider
	r.onClose(provider.Close)
}

func (r *runtime) openBackends() (backends, error) {
	var b backends
	cfg := r.cfg
	core := r.coreClient()

	var docker *repo.DockerBackend
	dockerClient := func() (*repo.DockerBackend, error) {
		if docker != nil {
			return docker, nil
		}
		d, err := repo.NewDockerBackend(cfg.Clients.Docker.Host, cfg.Clients.Docker.Timeout, evidence.MatchesAny, r.logger)
		if err != nil {
			return nil, utils.NewAppError("backends.docker", "docker daemon unavailable", err)
		}
		docker = d
		r.onClose(d.Close)
		return d, nil
	}

	switch cfg.Backends.Inventory {
	case "docker":
		d, err := dockerClient()
		if err != nil {
			return b, err
		}
		b.inventory = d
	default:
		b.inventory = core
	}

	switch cfg.Backends.Metrics {
	case "prometheus":
		p, err := repo.NewPrometheusMetricStore(cfg.Clients.Prometheus.Address, cfg.Clients.Prometheus.Query, r.logger)
		if err != nil {
			return b, utils.NewAppError("backends.prometheus", "prometheus client", err)
		}
		b.metrics = p
	default:
		b.metrics = core
	}

	switch cfg.Backends.Logs {
	case "docker":
		d, err := dockerClient()
		if err != nil {
			return b, err
		}
		b.logs = d
	default:
		b.logs = core
	}

	switch cfg.Backends.Control {
	case "docker":
		d, err := dockerClient()
		if err != nil {
			return b, err
		}
		b.control = d
	default:
		b.control = core
	}
	return b, nil
}

func (r *runtime) coreClient() *repo.CoreClient {
	c := r.cfg.Clients.Core
	return repo.NewCoreClient(c.BaseURL, repo.CorePaths{
		Inventory: c.InventoryPath,
		Metrics:   c.MetricsPath,
		Logs:      c.LogsPath,
		Restart:   c.RestartPath,
	}, c.Timeout, r.cache, c.InventoryTTL, r.logger)
}

func (r *runtime) openStore(ctx context.Context) (store.Store, error) {
	s, err := store.Open(ctx, r.cfg.Store, r.logger)
	if err != nil {
		return nil, utils.NewAppError("store.open", r.cfg.Store.Driver, err)
	}
	r.onClose(s.Close)
	return s, nil
}

func (r *runtime) openBus(ctx context.Context) (transport.Bus, error) {
	t := r.cfg.Transport
	bindings := transport.Bindings{
		t.Subscriptions.RCA:         t.Topics.Anomalies,
		t.Subscriptions.Remediation: t.Topics.Remediation,
	}
	var (
		bus transport.Bus
		err error
	)
	switch t.Driver {
	case "pubsub":
		bus, err = transport.NewPubSubBus(ctx, t.PubSub.ProjectID, t.PubSub.MaxOutstandingMessages, r.logger)
	case "redis":
		bus, err = transport.NewRedisStreamsBus(ctx, transport.RedisStreamsConfig{
			Addr:         t.Redis.Addr,
			Password:     t.Redis.Password,
			DB:           t.Redis.DB,
			Consumer:     t.Redis.Consumer,
			Block:        t.Redis.Block,
			ClaimMinIdle: t.Redis.ClaimMinIdle,
		}, bindings, r.logger)
	default:
		bus = transport.NewMemoryBus(bindings, t.Memory.Buffer, t.Memory.MaxDeliveries, r.logger)
	}
	if err != nil {
		return nil, utils.NewAppError("transport.open", t.Driver, err)
	}
	r.onClose(bus.Close)
	return bus, nil
}

func (r *runtime) startTracing(ctx context.Context) {
	t := r.cfg.Tracing
	shutdown, err := telemetry.Init(ctx, t.ServiceName, t.Endpoint, t.SampleRate)
	if err != nil {
		r.logger.Warn("tracing disabled", slog.Any("error", err))
		return
	}
	r.onClose(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(ctx)
	})
}

func (r *runtime) detectionStage(b backends, publisher transport.Publisher) (*engine.DetectionStage, *detector.Detector) {
	d := r.cfg.Detection
	det := detector.Load(d.ModelPath, r.logger)
	stage := engine.NewDetectionStage(r.logger, b.inventory, sampler.New(b.metrics, d.MetricName), det, publisher,
		engine.DetectionOptions{
			Selector:       models.Selector{TagKey: d.TagKey, TagValue: d.TagValue, State: d.State},
			Window:         sampler.Window{Period: d.Period, Lookback: d.Lookback},
			MetricName:     d.MetricName,
			AnomalyKind:    d.AnomalyKind,
			Topic:          r.cfg.Transport.Topics.Anomalies,
			Concurrency:    d.Concurrency,
			PublishTimeout: d.PublishTimeout,
		})
	return stage, det
}

func (r *runtime) rcaWorker(b backends, incidents store.Store, publisher transport.Publisher) *services.RCAWorker {
	c := r.cfg.Correlation
	correlator := evidence.NewCorrelator(r.logger, b.logs,
		evidence.WithWindow(c.Window),
		evidence.WithKeywords(c.Keywords),
		evidence.WithLogSourcePattern(c.LogSourcePattern))
	stage := engine.NewRCAStage(r.logger, correlator, incidents, publisher, r.cfg.Transport.Topics.Remediation)
	return services.NewRCAWorker(r.logger, stage)
}

func (r *runtime) remediationWorker(b backends) *services.RemediationWorker {
	return services.NewRemediationWorker(r.logger, engine.NewRemediationStage(r.logger, b.control))
}

// serve runs the metrics listener and the gRPC health server next to the given tasks and
// stops everything once ctx is cancelled or any task fails.
func (r *runtime) serve(ctx context.Context, health map[string]bool, tasks ...func(context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)

	if addr := r.cfg.Server.MetricsAddress; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		r.runHTTP(ctx, g, "metrics", &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		})
	}

	if r.cfg.Server.GRPCAddress != "" {
		probe, err := api.NewServer(r.cfg.Server)
		if err != nil {
			return fmt.Errorf("create gRPC health server: %w", err)
		}
		for service, serving := range health {
			probe.SetServing(service, serving)
		}
		g.Go(func() error {
			r.logger.Info("gRPC health server listening", slog.String("address", probe.Address()))
			return probe.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), probe.GracefulTimeout())
			defer cancel()
			probe.Shutdown(shutdownCtx)
			return nil
		})
	}

	for _, task := range tasks {
		g.Go(func() error { return task(ctx) })
	}
	return g.Wait()
}

func (r *runtime) runHTTP(ctx context.Context, g *errgroup.Group, name string, srv *http.Server) {
	g.Go(func() error {
		r.logger.Info(name+" server listening", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), r.cfg.Server.GracefulTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn(name+" server shutdown", slog.Any("error", err))
		}
		return nil
	})
}
