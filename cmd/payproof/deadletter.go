package main

import (
	"errors"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/gomflow/payproof/internal/cli"
	"github.com/gomflow/payproof/internal/common"
	"github.com/gomflow/payproof/internal/storage"
)

func deadletterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deadletter",
		Short: "Inspect and replay dead-lettered payment events",
		Long: `Payment events that exhausted their retry budget land in the dead
letter queue with the error that killed them. List them here and
replay the ones worth another attempt once the cause is fixed.`,
	}

	cmd.AddCommand(deadletterListCmd())
	cmd.AddCommand(deadletterReplayCmd())

	return cmd
}

func deadletterListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered events",
		RunE:  runDeadletterList,
	}

	cmd.Flags().Int("limit", 50, "Maximum number of events to show")

	return cmd
}

func runDeadletterList(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	events, err := store.GetDeadLetteredEvents(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("failed to load dead letter queue: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(events) == 0 {
		fmt.Fprintln(out, cli.FormatSuccess("Dead letter queue is empty"))
		return nil
	}

	fmt.Fprintln(out, cli.FormatTitle(fmt.Sprintf("%s Dead letter queue (%d events)", cli.DeadIcon, len(events))))
	fmt.Fprintln(out, cli.TableHeaderStyle.Render(
		fmt.Sprintf("%-40s %-12s %-10s %-9s %s", "EVENT", "SOURCE", "PROVIDER", "ATTEMPTS", "RECEIVED")))

	for i := range events {
		event := &events[i]
		fmt.Fprintln(out, cli.TableCellStyle.Render(
			fmt.Sprintf("%-40s %-12s %-10s %-9d %s",
				event.ID,
				event.Source,
				event.Provider,
				event.Attempts,
				event.ReceivedAt.Format("2006-01-02 15:04"))))
		if event.LastError != "" {
			fmt.Fprintln(out, cli.ErrorStyle.Render("    "+truncateError(event.LastError, 100)))
		}
	}

	return nil
}

func deadletterReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay [event-id...]",
		Short: "Requeue dead-lettered events for another attempt",
		RunE:  runDeadletterReplay,
	}

	cmd.Flags().Bool("all", false, "Replay every dead-lettered event")
	cmd.Flags().Int("limit", 500, "Maximum number of events to replay with --all")

	return cmd
}

func runDeadletterReplay(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	limit, _ := cmd.Flags().GetInt("limit")

	if !all && len(args) == 0 {
		return fmt.Errorf("specify event ids to replay, or --all")
	}

	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	ids := args
	if all {
		events, listErr := store.GetDeadLetteredEvents(ctx, limit)
		if listErr != nil {
			return fmt.Errorf("failed to load dead letter queue: %w", listErr)
		}
		ids = make([]string, 0, len(events))
		for i := range events {
			ids = append(ids, events[i].ID)
		}
	}

	out := cmd.OutOrStdout()
	if len(ids) == 0 {
		fmt.Fprintln(out, cli.FormatSuccess("Nothing to replay"))
		return nil
	}

	bar := progressbar.NewOptions(len(ids),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Replaying events...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(cmd.ErrOrStderr())
		}),
	)

	requeued := 0
	for _, id := range ids {
		err := store.RequeueEvent(ctx, id)
		switch {
		case err == nil:
			requeued++
		case errors.Is(err, common.ErrNotFound):
			fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("%s is not dead-lettered, skipping", id)))
		default:
			return fmt.Errorf("failed to requeue %s: %w", id, err)
		}
		_ = bar.Add(1)
	}

	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Requeued %d of %d events", requeued, len(ids))))
	return nil
}

func truncateError(message string, limit int) string {
	if len(message) <= limit {
		return message
	}
	return message[:limit] + "..."
}
