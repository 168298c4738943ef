// Package cli provides the batchctl command-line interface.
package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/local/bedrockbatch/internal/config"
	"github.com/local/bedrockbatch/internal/logger"
	"github.com/local/bedrockbatch/internal/metrics"
	"github.com/local/bedrockbatch/internal/orchestrator"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	metricsAddr string
	region      string
	verbose     bool

	cfg        config.Config
	app        *deps
	metricsSrv *http.Server
)

var rootCmd = &cobra.Command{
	Use:   "batchctl",
	Short: "Build, submit and inspect Bedrock batch inference jobs",
	Long: `batchctl turns objects under an S3 prefix into a batch inference manifest,
submits it as a Bedrock batch job, tracks the job and previews its results.

Text, image and video sources are supported. Submitted jobs are recorded in a
local registry so later commands can omit the job ARN.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "models" {
			return nil
		}
		cfg = config.FromEnv()
		if region != "" {
			cfg.AWS.Region = region
			cfg.AWS.S3Region = region
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if err := logger.Init(logger.Options{
			Level:        cfg.Logging.Level,
			Pretty:       cfg.Logging.Pretty,
			File:         cfg.Logging.File,
			MaxSizeMB:    cfg.Logging.MaxSizeMB,
			MaxBackups:   cfg.Logging.MaxBackups,
			MaxAgeDays:   cfg.Logging.MaxAgeDays,
			Compress:     cfg.Logging.Compress,
			SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
			AxiomAPIKey:  cfg.Axiom.APIKey,
			AxiomOrgID:   cfg.Axiom.OrgID,
			AxiomDataset: cfg.Axiom.Dataset,
			AxiomFlush:   cfg.Axiom.FlushInterval,
			Fields:       map[string]string{"command": cmd.Name(), "region": cfg.AWS.Region},
		}); err != nil {
			return err
		}

		metrics.Init()
		addr := metricsAddr
		if addr == "" {
			addr = cfg.Metrics.Addr
		}
		if addr != "" {
			startMetrics(addr)
		}

		if n := orchestrator.CleanupManifests(cfg.Batch.WorkDir, 24*time.Hour); n > 0 {
			log.Info().Int("removed", n).Str("dir", cfg.Batch.WorkDir).Msg("removed stale local manifests")
		}
		app = newDeps(cfg, region != "")
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		shutdown()
	},
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		// PostRun is skipped when RunE fails.
		shutdown()
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.PersistentFlags().StringVar(&region, "region", "", "AWS region (overrides AWS_REGION)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(resultsCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(modelsCmd)
}

func startMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	metricsSrv = &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Info().Str("addr", addr).Msg("metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()
}

func shutdown() {
	if app != nil {
		app.close()
		app = nil
	}
	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(ctx)
		cancel()
		metricsSrv = nil
	}
	logger.Close()
}
