package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Janar2510/driveapipe-app/internal/template"
)

func newTemplatesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect pipeline stage templates",
	}

	var dir string
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "templates directory (overrides pipeline.templates_dir)")

	resolveDir := func() (string, string, error) {
		cfg, err := opts.load()
		if err != nil {
			return "", "", err
		}
		if dir != "" {
			return dir, cfg.Pipeline.DefaultTemplate, nil
		}
		return cfg.Pipeline.TemplatesDir, cfg.Pipeline.DefaultTemplate, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the built-in and loaded templates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, defaultID, err := resolveDir()
			if err != nil {
				return err
			}
			tmpls, err := loadTemplates(d)
			if err != nil {
				return err
			}
			printTemplates(cmd.OutOrStdout(), template.NewRegistry(tmpls, defaultID))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the template files and report every problem",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, _, err := resolveDir()
			if err != nil {
				return err
			}
			_, err = loadTemplates(d)
			var verr *templateValidationError
			if errors.As(err, &verr) {
				for _, ve := range verr.errs {
					fmt.Fprintln(cmd.ErrOrStderr(), ve.Error())
				}
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "templates OK")
			return nil
		},
	})
	return cmd
}

func printTemplates(w io.Writer, registry *template.Registry) {
	defaultID := registry.Default().ID
	for _, t := range registry.All() {
		marker := " "
		if t.ID == defaultID {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %-20s %-30s %d stages\n", marker, t.ID, t.Name, len(t.Stages))
		for _, s := range t.Stages {
			fmt.Fprintf(w, "    %-28s %3d%%\n", s.Name, s.Probability)
		}
	}
}
