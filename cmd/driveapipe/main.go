// Package main is the entry point for the driveapipe deal pipeline service.
// It wires all dependencies together and exposes the serve, sweep and
// templates commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Janar2510/driveapipe-app/internal/config"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "driveapipe",
		Short:         "Deal pipeline service for the CRM",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"path to configuration file (defaults plus DRIVEAPIPE_* environment when empty)")

	root.AddCommand(
		newServeCmd(opts),
		newSweepCmd(opts),
		newTemplatesCmd(opts),
	)
	return root
}

// load reads the configuration named by --config.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}
