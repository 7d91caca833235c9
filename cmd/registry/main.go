package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/greenprompt/registry/pkg/api"
	"github.com/greenprompt/registry/pkg/config"
	"github.com/greenprompt/registry/pkg/log"
	"github.com/greenprompt/registry/pkg/metrics"
	"github.com/greenprompt/registry/pkg/reconciler"
	"github.com/greenprompt/registry/pkg/registry"
	"github.com/greenprompt/registry/pkg/scheduler"
	"github.com/greenprompt/registry/pkg/storage"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// shutdownTimeout bounds the wait for in-flight install/restart tasks at
// process exit.
const shutdownTimeout = 10 * time.Second

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "registry",
	Short: "GreenPrompt LLM Registry - dispatcher for remote LLM wrapper hosts",
	Long: `The LLM registry keeps a roster of remote wrapper hosts, matches
queued measurement requests to hosts able to serve them, and drives each
host through its install/deploy/prompt lifecycle.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"LLM Registry version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(releaseCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the registry",
	Long: `Run the registry: load the configuration, register the wrapper
roster, start the dispatch and health loops and serve the HTTP API until
SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			// Malformed configuration is fatal.
			return err
		}

		store, err := storage.NewBoltStore(cfg.DBName)
		if err != nil {
			return fmt.Errorf("failed to open state store: %v", err)
		}
		defer store.Close()

		if cfg.ResetOnBoot {
			log.Warn("reset_on_boot is set; dropping persisted state")
			if err := store.Reset(); err != nil {
				return fmt.Errorf("failed to reset state store: %v", err)
			}
		}

		reg := registry.New(store, cfg)
		if err := reg.SeedWrappers(); err != nil {
			return fmt.Errorf("failed to register wrappers: %v", err)
		}

		sched := scheduler.NewScheduler(reg)
		sched.Start()

		recon := reconciler.NewReconciler(reg)
		recon.Start()

		collector := metrics.NewCollector(store)
		collector.Start()

		server := api.NewServer(reg)
		serverErr := make(chan error, 1)
		go func() {
			serverErr <- server.Start(cfg.ListenAddr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Logger.Info().Str("signal", sig.String()).Msg("Shutting down")
		case err := <-serverErr:
			log.Logger.Error().Err(err).Msg("API server failed")
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Logger.Error().Err(err).Msg("API shutdown failed")
		}

		collector.Stop()
		sched.Stop()
		recon.Stop()
		reg.Shutdown(shutdownTimeout)

		log.Info("Registry stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("config", "config.ini", "Path to the INI configuration file")
}
