package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/platform/logger"
)

var rootCmd = &cobra.Command{
	Use:   "taskmesh",
	Short: "Task and reminder platform reliability core",
	Long: `taskmesh runs the task, reminder, recurring-task, notification and audit
services over a shared event bus, with idempotent event handling, circuit
breaking, retry with backoff, delivery degradation and an append-only audit
log.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the services",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		log := logger.Setup(cfg.Server)

		app, err := newApplication(cfg, log)
		if err != nil {
			return fmt.Errorf("failed to build application: %w", err)
		}

		ctx, stop := signal.NotifyContext(
			context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("starting taskmesh",
			"port", cfg.Server.Port,
			"store_driver", cfg.Store.Driver)
		return app.run(ctx)
	},
}

func main() {
	cobra.OnInitialize(func() {
		viper.SetEnvPrefix("TASKMESH")
		viper.AutomaticEnv()
	})

	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
