// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianFeedback/cmd/feedback/config"
	"github.com/AleutianAI/AleutianFeedback/cmd/feedback/internal/diagnostics"
)

// errNoArchive is returned by collect when the run produced nothing.
var errNoArchive = errors.New("no archive produced")

// cliOptions holds flag values shared by every subcommand.
type cliOptions struct {
	configPath string
	verbose    bool
}

// newRootCmd builds the command tree. Each call returns fresh commands so
// flag state never leaks between invocations.
func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	rootCmd := &cobra.Command{
		Use:   "aleutian-feedback",
		Short: "Collect device diagnostics into a single feedback archive",
		Long: `aleutian-feedback runs a fixed catalog of diagnostic commands,
gathers any extra files you point it at, and packs everything into one
timestamped zip archive. Intermediate files never outlive a run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.aleutian/feedback.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	rootCmd.AddCommand(
		newCollectCmd(opts),
		newCatalogCmd(opts),
		newListCmd(opts),
		newPruneCmd(opts),
		newUploadCmd(opts),
		newServeCmd(opts),
	)
	return rootCmd
}

// loadConfig reads the config named by --config, creating the default one
// on first run.
func loadConfig(cmd *cobra.Command, opts *cliOptions) (*config.FeedbackConfig, error) {
	cfg, err := config.Load(opts.configPath, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	if opts.verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func loadApp(cmd *cobra.Command, opts *cliOptions) (*app, error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg)
}

// -----------------------------------------------------------------------------
// collect
// -----------------------------------------------------------------------------

func newCollectCmd(opts *cliOptions) *cobra.Command {
	var (
		auxPaths []string
		upload   bool
	)

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run the diagnostic catalog and write a feedback archive",
		Long: `Runs every catalog category in order, stages the files under each
--aux path, and writes feedback_<timestamp>.zip to the storage directory.
Prints the archive path on success. If any category fails, nothing is
kept and the command exits 1.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			bundle, err := a.pipeline.Generate(cmd.Context(), auxPaths)
			if err != nil {
				a.logger.Error("feedback run failed", "stage", string(diagnostics.FailedStage(err)), "error", err)
				return fmt.Errorf("%w: %v", errNoArchive, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), bundle.Path)

			if upload {
				url, err := a.upload(cmd.Context(), bundle.Path)
				if err != nil {
					return fmt.Errorf("archive kept at %s, upload failed: %w", bundle.Path, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), url)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&auxPaths, "aux", nil, "extra file or directory to include (repeatable)")
	cmd.Flags().BoolVar(&upload, "upload", false, "upload the archive to the configured bucket")
	return cmd
}

// -----------------------------------------------------------------------------
// catalog
// -----------------------------------------------------------------------------

func newCatalogCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Print the effective command catalog as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			cat, err := cfg.EffectiveCatalog()
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cat.Definitions()); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

// -----------------------------------------------------------------------------
// list / prune
// -----------------------------------------------------------------------------

func newListCmd(opts *cliOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored feedback archives, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			store := diagnostics.NewArchiveStore(cfg.Storage.Dir, nil, nil)

			entries, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No feedback archives found.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSIZE\tCREATED")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%d\t%s\n", e.Name, e.SizeBytes, e.ModTime.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", defaultListLimit, "maximum archives to show (0 for all)")
	return cmd
}

func newPruneCmd(opts *cliOptions) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete feedback archives older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("days") {
				days = cfg.Storage.RetentionDays
			}
			store := diagnostics.NewArchiveStore(cfg.Storage.Dir, nil, nil)

			deleted, err := store.Prune(cmd.Context(), days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d archive(s)\n", deleted)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", diagnostics.DefaultRetentionDays, "retention in days (default from config)")
	return cmd
}

// -----------------------------------------------------------------------------
// upload
// -----------------------------------------------------------------------------

func newUploadCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "upload ARCHIVE",
		Short: "Upload a feedback archive to the configured bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := os.Stat(args[0])
			if err != nil {
				return fmt.Errorf("cannot read archive: %w", err)
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", args[0])
			}

			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			a := &app{cfg: cfg, logger: newCLILogger(cfg)}
			defer a.close()

			url, err := a.upload(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
}

// -----------------------------------------------------------------------------
// serve
// -----------------------------------------------------------------------------

func newServeCmd(opts *cliOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a bundle trigger endpoint over HTTP",
		Long: `Starts an HTTP server. POST /v1/bundles runs one bundle on a
dedicated worker and returns the archive; GET /v1/bundles lists stored
archives; GET /metrics exposes Prometheus metrics when enabled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			addr := a.cfg.Server.Listen
			if listen != "" {
				addr = listen
			}

			srvCfg := BundleServerConfig{
				Generator:      a.pipeline,
				Lister:         a.store,
				MetricsHandler: a.metricsHandler,
				Logger:         a.logger,
			}
			if a.cfg.Upload.Bucket != "" {
				srvCfg.Upload = a.upload
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			srv := NewBundleServer(srvCfg)
			srv.Start(ctx)
			err = srv.Serve(ctx, addr)
			cancel()
			srv.Wait()
			return err
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config)")
	return cmd
}
