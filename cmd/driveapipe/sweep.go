package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Janar2510/driveapipe-app/internal/observability"
	"github.com/Janar2510/driveapipe-app/internal/pipeline"
	"github.com/Janar2510/driveapipe-app/internal/template"
)

func newSweepCmd(opts *rootOptions) *cobra.Command {
	var thresholdDays int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Scan every pipeline once for stale deals and print the result as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := observability.NewLogger(cfg.Observability)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx := cmd.Context()
			store, closer, err := buildPipelineStore(ctx, cfg.Store, logger)
			if err != nil {
				return err
			}
			defer closer()

			engine := pipeline.NewEngine(store, template.NewRegistry(nil, ""),
				pipeline.WithLogger(logger),
				pipeline.WithStaleThreshold(cfg.Pipeline.StaleThresholdDays),
			)
			res, err := engine.SweepStale(ctx, thresholdDays)
			if err != nil {
				logger.Error("stale deal sweep failed", zap.Error(err))
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().IntVar(&thresholdDays, "days", 0, "staleness threshold in days (0 uses the configured default)")
	return cmd
}
