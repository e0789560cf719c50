package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/drblury/kernelbus"
)

var (
	configFile string
	logLevel   string
	interval   time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kernelbus",
		Short: "In-process message pipeline demo",
		Long:  "kernelbus runs a pipeline with two demo services exchanging ping/pong requests and exposes metrics and introspection over HTTP",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML config file (optional)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().DurationVar(&interval, "interval", time.Second, "Delay between demo requests")

	rootCmd.AddCommand(serveCmd(), catalogCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the pipeline, the demo services and the HTTP endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile == "" {
				configFile = os.Getenv("KERNELBUS_CONFIG_FILE")
			}

			cfg, err := kernelbus.LoadConfig(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			log, err := newZapLogger(logLevel)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() { _ = log.Sync() }()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			app, err := NewApp(cfg, kernelbus.NewZapServiceLogger(log), interval)
			if err != nil {
				return err
			}
			defer app.Close()

			log.Info("kernelbus running", zap.String("dispatcher", app.pipeline.Capabilities().Name))
			if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("kernelbus stopped with error", zap.Error(err))
				return err
			}
			log.Info("kernelbus shutdown complete")
			return nil
		},
	}
}

func catalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List the body kinds known to the demo services",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, kind := range demoCatalog().Kinds() {
				fmt.Fprintln(cmd.OutOrStdout(), kind)
			}
			return nil
		},
	}
}

func newZapLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
