package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gomflow/payproof/internal/cli"
	"github.com/gomflow/payproof/internal/common"
	"github.com/gomflow/payproof/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
	version = "dev"
	rootCmd = &cobra.Command{
		Use:   "payproof",
		Short: "Payment verification for group orders",
		Long: `payproof verifies group-order payments: it reads payment-proof
screenshots, matches them against outstanding submissions, ingests
PayMongo and Billplz webhooks, and drives each submission through its
verification lifecycle.`,
	}
)

func init() {
	rootCmd.PersistentPreRunE = initConfig
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.config/payproof/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console, json)")

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(deadletterCmd())
	rootCmd.AddCommand(versionCmd())
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Received interrupt signal, shutting down gracefully...")
		cancel()
	}()

	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, cli.FormatError(err.Error()))
		os.Exit(1)
	}
}

func initConfig(_ *cobra.Command, _ []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded

	// Explicit flags win over the config file.
	level, format := cfg.Logging.Level, cfg.Logging.Format
	if f := rootCmd.PersistentFlags().Lookup("log-level"); f != nil && f.Changed {
		level = f.Value.String()
	}
	if f := rootCmd.PersistentFlags().Lookup("log-format"); f != nil && f.Changed {
		format = f.Value.String()
	}
	if err := common.SetupLogger(level, format); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			slog.Info("payproof version", "version", version)
		},
	}
}
