package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"

	"github.com/gomflow/payproof/internal/extract"
	"github.com/gomflow/payproof/internal/gateway"
	"github.com/gomflow/payproof/internal/match"
	"github.com/gomflow/payproof/internal/notify"
	"github.com/gomflow/payproof/internal/queue"
	"github.com/gomflow/payproof/internal/server"
	"github.com/gomflow/payproof/internal/storage"
	"github.com/gomflow/payproof/internal/verify"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the verification service",
		Long: `Start the HTTP server, the reconciliation worker pool and the
notification outbox relay. The process runs until interrupted and
shuts down gracefully.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	extractor, err := extract.NewEngine(cfg.Extraction)
	if err != nil {
		return fmt.Errorf("failed to create extraction engine: %w", err)
	}

	matcher := match.New(cfg.Matching)
	machine := verify.NewMachine(store, matcher, cfg.Matching)
	dispatcher := queue.NewDispatcher(store, extractor, machine, cfg.Queue)
	adapter := gateway.NewAdapter(cfg.Gateways)
	httpServer := server.New(store, adapter, dispatcher, machine, cfg.Server)

	errCh := make(chan error, 3)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := dispatcher.Run(ctx); err != nil {
			errCh <- fmt.Errorf("dispatcher: %w", err)
		}
	}()

	if cfg.Notify.WebhookURL != "" {
		notifier, notifyErr := notify.NewWebhookNotifier(cfg.Notify)
		if notifyErr != nil {
			return notifyErr
		}
		relay := notify.NewRelay(store, notifier, cfg.Notify)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := relay.Run(ctx); err != nil {
				errCh <- fmt.Errorf("notification relay: %w", err)
			}
		}()
	} else {
		slog.Warn("No notification webhook configured, outbox rows will accumulate undelivered")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.Run(ctx); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		cancel()
	}

	wg.Wait()
	return runErr
}
