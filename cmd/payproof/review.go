package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gomflow/payproof/internal/cli"
	"github.com/gomflow/payproof/internal/model"
	"github.com/gomflow/payproof/internal/service"
	"github.com/gomflow/payproof/internal/storage"
)

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "List submissions waiting for manual review",
		Long: `Show submissions the matcher could not settle on its own, together
with the notes explaining why each one needs a human look.`,
		RunE: runReview,
	}

	cmd.Flags().String("gom", "", "Only show submissions belonging to this GOM")
	cmd.Flags().Int("limit", 50, "Maximum number of submissions to show")

	return cmd
}

func runReview(cmd *cobra.Command, _ []string) error {
	gomID, _ := cmd.Flags().GetString("gom")
	limit, _ := cmd.Flags().GetInt("limit")

	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	submissions, err := store.GetSubmissions(cmd.Context(), service.SubmissionFilter{
		GomID:  gomID,
		Status: []model.SubmissionStatus{model.StatusUnderReview},
		Limit:  limit,
	})
	if err != nil {
		return fmt.Errorf("failed to load review queue: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(submissions) == 0 {
		fmt.Fprintln(out, cli.FormatSuccess("Review queue is empty"))
		return nil
	}

	fmt.Fprintln(out, cli.FormatTitle(fmt.Sprintf("%s Review queue (%d waiting)", cli.ReviewIcon, len(submissions))))
	fmt.Fprintln(out, cli.TableHeaderStyle.Render(
		fmt.Sprintf("%-24s %-12s %-14s %-14s %s", "SUBMISSION", "GOM", "REFERENCE", "AMOUNT", "UPDATED")))

	for i := range submissions {
		sub := &submissions[i]
		fmt.Fprintln(out, cli.TableCellStyle.Render(
			fmt.Sprintf("%-24s %-12s %-14s %-14s %s",
				sub.ID,
				sub.GomID,
				sub.PaymentReference,
				cli.FormatAmount(sub.TotalAmount, sub.Currency),
				sub.UpdatedAt.Format("2006-01-02 15:04"))))
		if sub.VerificationNotes != "" {
			fmt.Fprintln(out, cli.SubtleStyle.Render("    "+sub.VerificationNotes))
		}
	}

	return nil
}
