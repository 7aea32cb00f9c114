package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-aiops/internal/api"
	"github.com/miradorstack/mirador-aiops/internal/services"
	"github.com/miradorstack/mirador-aiops/internal/transport"
	"github.com/miradorstack/mirador-aiops/internal/utils"
)

// withRuntime runs fn with a signal-aware context and a runtime that is closed afterwards.
func (a *app) withRuntime(cmd *cobra.Command, name string, fn func(ctx context.Context, rt *runtime) error) error {
	if err := a.cfg.ValidateCommand(name); err != nil {
		err = utils.NewAppError("config.transport", "unsupported transport for "+name, err)
		a.logger.Error("mirador-aiops refused to start", slog.String("command", name), slog.String("op", utils.OpOf(err)), slog.Any("error", err))
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt := newRuntime(a.cfg, a.logger.With(slog.String("component", name)))
	defer rt.Close()
	rt.startTracing(ctx)
	rt.openCache()

	a.logger.Info("starting mirador-aiops", slog.String("command", name))
	err := fn(ctx, rt)
	if err != nil {
		a.logger.Error("mirador-aiops exited with error", slog.String("command", name), slog.String("op", utils.OpOf(err)), slog.Any("error", err))
	} else {
		a.logger.Info("mirador-aiops stopped", slog.String("command", name))
	}
	return err
}

func newDetectCommand(a *app) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run detection cycles on the configured interval",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRuntime(cmd, "detect", func(ctx context.Context, rt *runtime) error {
				b, err := rt.openBackends()
				if err != nil {
					return err
				}
				bus, err := rt.openBus(ctx)
				if err != nil {
					return err
				}
				stage, det := rt.detectionStage(b, bus)
				svc := services.NewDetectionService(rt.logger, stage, rt.cfg.Detection.Interval)
				if once {
					_, err := svc.RunOnce(ctx)
					return err
				}
				return rt.serve(ctx, map[string]bool{api.ServiceDetection: det.Enabled()}, svc.Run)
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle and exit")
	return cmd
}

func newRCACommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rca",
		Short: "Consume anomaly events, record incidents and request remediation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRuntime(cmd, "rca", func(ctx context.Context, rt *runtime) error {
				b, err := rt.openBackends()
				if err != nil {
					return err
				}
				incidents, err := rt.openStore(ctx)
				if err != nil {
					return err
				}
				bus, err := rt.openBus(ctx)
				if err != nil {
					return err
				}
				worker := rt.rcaWorker(b, incidents, bus)
				subscription := rt.cfg.Transport.Subscriptions.RCA
				if rt.cfg.Transport.Driver == "pubsub" && rt.cfg.Transport.PubSub.Push {
					return rt.servePush(ctx, "/pubsub/push", worker.HandleMessage, api.ServiceRCA)
				}
				return rt.serve(ctx, map[string]bool{api.ServiceRCA: true}, func(ctx context.Context) error {
					return worker.Run(ctx, bus, subscription)
				})
			})
		},
	}
}

func newRemediateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remediate",
		Short: "Consume remediation requests and restart affected resources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRuntime(cmd, "remediate", func(ctx context.Context, rt *runtime) error {
				b, err := rt.openBackends()
				if err != nil {
					return err
				}
				bus, err := rt.openBus(ctx)
				if err != nil {
					return err
				}
				worker := rt.remediationWorker(b)
				if rt.cfg.Transport.Driver == "pubsub" && rt.cfg.Transport.PubSub.Push {
					return rt.servePush(ctx, "/pubsub/push", worker.HandleMessage, api.ServiceRemediation)
				}
				return rt.serve(ctx, map[string]bool{api.ServiceRemediation: true}, func(ctx context.Context) error {
					return worker.Run(ctx, bus, rt.cfg.Transport.Subscriptions.Remediation)
				})
			})
		},
	}
}

func newAPICommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Serve the incident read API and dashboard endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRuntime(cmd, "api", func(ctx context.Context, rt *runtime) error {
				incidents, err := rt.openStore(ctx)
				if err != nil {
					return err
				}
				srv := rt.httpServer(incidents)
				return rt.serve(ctx, nil, rt.listenHTTP(srv.Handler()))
			})
		},
	}
}

func newAllCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run every stage and the read API in one process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRuntime(cmd, "all", func(ctx context.Context, rt *runtime) error {
				b, err := rt.openBackends()
				if err != nil {
					return err
				}
				incidents, err := rt.openStore(ctx)
				if err != nil {
					return err
				}
				bus, err := rt.openBus(ctx)
				if err != nil {
					return err
				}

				stage, det := rt.detectionStage(b, bus)
				detection := services.NewDetectionService(rt.logger, stage, rt.cfg.Detection.Interval)
				rca := rt.rcaWorker(b, incidents, bus)
				remediation := rt.remediationWorker(b)
				subs := rt.cfg.Transport.Subscriptions

				health := map[string]bool{
					api.ServiceDetection:   det.Enabled(),
					api.ServiceRCA:         true,
					api.ServiceRemediation: true,
				}
				return rt.serve(ctx, health,
					detection.Run,
					func(ctx context.Context) error { return rca.Run(ctx, bus, subs.RCA) },
					func(ctx context.Context) error { return remediation.Run(ctx, bus, subs.Remediation) },
					rt.listenHTTP(rt.httpServer(incidents).Handler()),
				)
			})
		},
	}
}

func (r *runtime) httpServer(incidents api.IncidentReader) *api.HTTPServer {
	return api.NewHTTPServer(r.logger, incidents, r.cache, r.cfg.Dashboard, r.cfg.Server.AllowedOrigins)
}

// listenHTTP returns a serve task for the public HTTP listener.
func (r *runtime) listenHTTP(handler http.Handler) func(context.Context) error {
	return func(ctx context.Context) error {
		g, ctx := errgroup.WithContext(ctx)
		r.runHTTP(ctx, g, "http", &http.Server{
			Addr:              r.cfg.Server.HTTPAddress,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
		})
		return g.Wait()
	}
}

// servePush exposes handler as a Pub/Sub push endpoint instead of pulling.
func (r *runtime) servePush(ctx context.Context, path string, handler transport.Handler, service string) error {
	mux := http.NewServeMux()
	mux.Handle(path, transport.PushHandler(r.logger, handler))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.logger.Info("receiving pubsub push deliveries", slog.String("path", path))
	if r.cfg.Server.HTTPAddress == "" {
		return fmt.Errorf("server.httpAddress is required for push delivery")
	}
	return r.serve(ctx, map[string]bool{service: true}, r.listenHTTP(mux))
}
