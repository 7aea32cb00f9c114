package main

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-aiops/internal/config"
	"github.com/miradorstack/mirador-aiops/internal/metrics"
	"github.com/miradorstack/mirador-aiops/internal/utils"
)

type app struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "aiops-agent",
		Short:         "Anomaly detection, log-corroborated root cause analysis and automated restarts",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "path to configuration file (defaults to $MIRADOR_AIOPS_CONFIG)")

	cmd.AddCommand(
		newDetectCommand(a),
		newRCACommand(a),
		newRemediateCommand(a),
		newAPICommand(a),
		newAllCommand(a),
		newTrainCommand(a),
	)
	return cmd
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", a.configPath), slog.Any("error", err))
		return utils.NewAppError("config.load", "invalid configuration", err)
	}
	a.cfg = cfg
	a.logger = utils.NewLogger(utils.LogOptions{
		Level:      cfg.Logging.Level,
		JSON:       cfg.Logging.JSON,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	slog.SetDefault(a.logger)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	return nil
}
