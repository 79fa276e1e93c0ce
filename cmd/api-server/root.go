package main

import (
	"context"
	"os/signal"
	"syscall"

	"orderbroker/internal/config"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "api-server",
	Short:         "Order broker: requests, bids, orders and AI categorization queue",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute запускает CLI; SIGINT/SIGTERM отменяют контекст команды
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return rootCmd.ExecuteContext(ctx)
}

func loadConfig() (*config.FileConfig, error) {
	return config.Load(configPath)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(drainCmd)
	rootCmd.AddCommand(retryFailedCmd)
}
