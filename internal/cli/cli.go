// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jeranaias/gemgram/internal/bot"
	"github.com/jeranaias/gemgram/internal/config"
	"github.com/jeranaias/gemgram/internal/gemini"
	"github.com/jeranaias/gemgram/internal/metrics"
	"github.com/jeranaias/gemgram/internal/storage"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Execute runs the root command and returns the process exit code.
func Execute() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gemgram",
		Short:         "Telegram relay bot for Google Gemini",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	run := newRunCmd()
	root.AddCommand(run)
	root.AddCommand(newVersionCmd())

	// bare "gemgram" behaves like "gemgram run"
	root.RunE = run.RunE
	root.Flags().AddFlagSet(run.Flags())

	return root
}

// =============================================================================
// RUN
// =============================================================================

func newRunCmd() *cobra.Command {
	var (
		configPath string
		dbPath     string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(configPath, dbPath, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "gemgram.toml", "path to the TOML config file")
	cmd.Flags().StringVar(&dbPath, "db", "", "override the database path")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "override the log level (debug, info, warn, error)")

	return cmd
}

func runBot(configPath, dbPath, logLevel string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		cfg.Storage.Path = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	llm := gemini.NewClientWithConfig(&gemini.ClientConfig{
		BaseURL:      cfg.Gemini.BaseURL,
		APIKey:       cfg.Gemini.APIKey,
		Timeout:      cfg.Gemini.RequestTimeout(),
		DefaultModel: cfg.Gemini.DefaultModel,
	})

	var rec *metrics.Recorder
	if cfg.Metrics.Enabled {
		rec = metrics.NewRecorder(nil)
		go func() {
			log.WithField("addr", cfg.Metrics.Listen).Info("metrics endpoint listening")
			if err := rec.Serve(cfg.Metrics.Listen); err != nil {
				log.WithError(err).Error("metrics endpoint failed")
			}
		}()
	}

	b, err := bot.New(cfg, store, llm, rec, log)
	if err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-stop
		log.WithField("signal", sig.String()).Info("shutting down")
		b.Stop()
	}()

	b.Start()
	return nil
}

// newLogger builds the process logger from config.
func newLogger(cfg config.LogConfig) (*logrus.Logger, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	log.SetLevel(level)

	if strings.ToLower(cfg.Format) == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

// =============================================================================
// VERSION
// =============================================================================

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gemgram %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
		},
	}
}
