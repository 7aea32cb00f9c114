package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-aiops/internal/detector"
	"github.com/miradorstack/mirador-aiops/internal/sampler"
)

type trainFlags struct {
	resource   string
	days       int
	out        string
	dummy      bool
	trees      int
	sampleSize int
	seed       int64
	minPoints  int
}

func newTrainCommand(a *app) *cobra.Command {
	f := trainFlags{}
	defaults := detector.DefaultTrainOptions()
	cmd := &cobra.Command{
		Use:   "train-model",
		Short: "Fit an anomaly model from a resource's metric history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.out == "" {
				f.out = a.cfg.Detection.ModelPath
			}
			return a.withRuntime(cmd, "train-model", func(ctx context.Context, rt *runtime) error {
				return train(ctx, rt, f)
			})
		},
	}
	cmd.Flags().StringVar(&f.resource, "resource", "", "resource whose history is used for training")
	cmd.Flags().IntVar(&f.days, "days", 14, "days of history to fetch")
	cmd.Flags().StringVar(&f.out, "out", "", "output path (defaults to detection.modelPath)")
	cmd.Flags().BoolVar(&f.dummy, "dummy", false, "write a small demonstration model without fetching history")
	cmd.Flags().IntVar(&f.trees, "trees", defaults.Trees, "number of isolation trees")
	cmd.Flags().IntVar(&f.sampleSize, "sample-size", defaults.SampleSize, "points drawn per tree")
	cmd.Flags().Int64Var(&f.seed, "seed", defaults.Seed, "random seed")
	cmd.Flags().IntVar(&f.minPoints, "min-points", defaults.MinPoints, "minimum history length required")
	return cmd
}

func train(ctx context.Context, rt *runtime, f trainFlags) error {
	var (
		model *detector.Model
		err   error
	)
	if f.dummy {
		model, err = detector.TrainDummy(f.seed)
		if err != nil {
			return fmt.Errorf("train dummy model: %w", err)
		}
	} else {
		if f.resource == "" {
			return errors.New("--resource is required unless --dummy is set")
		}
		b, err := rt.openBackends()
		if err != nil {
			return err
		}
		s := sampler.New(b.metrics, rt.cfg.Detection.MetricName)
		history, err := s.Sample(ctx, f.resource, sampler.Window{
			Period:   rt.cfg.Detection.Period,
			Lookback: time.Duration(f.days) * 24 * time.Hour,
		}, sampler.OldestFirst)
		if err != nil {
			return fmt.Errorf("fetch training history: %w", err)
		}
		values := make([]float64, 0, len(history))
		for _, sample := range history {
			values = append(values, sample.Value)
		}
		rt.logger.Info("fetched training history", slog.String("resource", f.resource), slog.Int("points", len(values)))

		model, err = detector.Train(values, detector.TrainOptions{
			Trees:      f.trees,
			SampleSize: f.sampleSize,
			Seed:       f.seed,
			MinPoints:  f.minPoints,
		})
		if err != nil {
			return fmt.Errorf("train model: %w", err)
		}
	}

	if err := model.Save(f.out); err != nil {
		return err
	}
	rt.logger.Info("anomaly model written", slog.String("path", f.out), slog.Int("trees", len(model.Trees)), slog.Int("samples", model.Samples))
	return nil
}
