// Command kuixd runs a kuix controller as a standalone process.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/kuix/controller"
	"github.com/cuemby/kuix/internal/config"
	"github.com/cuemby/kuix/internal/kuixlog"
	"github.com/cuemby/kuix/internal/metrics"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kuixd",
	Short: "kuix - multi-process worker orchestration runtime",
	Long: `kuixd runs a kuix controller: a facade that creates host processes,
tracks worker residency, and addresses components either locally or
through a host's remote capability over the in-memory shared hub.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"kuixd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	kuixlog.Init(kuixlog.Config{
		Level:      kuixlog.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a kuix controller until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if cfg.LogDir != "" {
			if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
				return fmt.Errorf("failed to create log dir: %w", err)
			}
		}
		if cfg.PersistenceDir != "" {
			if err := os.MkdirAll(cfg.PersistenceDir, 0o755); err != nil {
				return fmt.Errorf("failed to create persistence dir: %w", err)
			}
		}

		c := controller.New(cfg)
		if err := c.Configure(); err != nil {
			return fmt.Errorf("failed to configure controller: %w", err)
		}
		if err := c.Setup(); err != nil {
			return fmt.Errorf("failed to set up controller: %w", err)
		}
		kuixlog.Logger.Info().Msg("controller set up")

		if cfg.MetricsOn {
			go func() {
				http.Handle("/metrics", metrics.Handler())
				if err := http.ListenAndServe(metricsAddr, nil); err != nil {
					kuixlog.Logger.Error().Err(err).Msg("metrics server stopped")
				}
			}()
			kuixlog.Logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		kuixlog.Logger.Info().Msg("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), controller.ProcessLaunchTimeout)
		defer cancel()
		if err := c.Close(ctx); err != nil {
			return fmt.Errorf("failed to close controller: %w", err)
		}
		kuixlog.Logger.Info().Msg("shutdown complete")
		return nil
	},
}

func init() {
	runCmd.Flags().String("config", "", "Path to a JSON config file (defaults apply if absent)")
	runCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the Prometheus metrics endpoint")
}
