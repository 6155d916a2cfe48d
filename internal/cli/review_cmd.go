package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/jobtrail/core/internal/services"
	"github.com/spf13/cobra"
)

var (
	reviewLimit     int
	verdictCompany  string
	verdictPosition string
	verdictStatus   string
)

// reviewCmd represents the review command group
var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review queue management",
	Long:  `List entries awaiting a verdict and resolve them from the terminal.`,
}

// reviewListCmd lists pending entries
var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending review entries",
	Run: func(cmd *cobra.Command, args []string) {
		result, err := reviewService.GetPending(services.PendingFilter{Limit: reviewLimit})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to load review queue: %v\n", err)
			os.Exit(1)
		}

		if len(result.Entries) == 0 {
			fmt.Println("Review queue is empty.")
			return
		}

		fmt.Printf("%d pending entr(y/ies), %d total\n", len(result.Entries), result.Total)
		fmt.Println("--------------------------------------------------------------------")
		for _, entry := range result.Entries {
			fmt.Printf("[%d] %s\n", entry.ID, entry.Subject)
			fmt.Printf("     from %s, confidence %.2f (%s), expires %s\n",
				entry.FromAddr, entry.Confidence, entry.Source,
				entry.ExpiresAt.Format("2006-01-02"))
		}
	},
}

// reviewStatsCmd shows queue counters
var reviewStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show review queue counters",
	Run: func(cmd *cobra.Command, args []string) {
		stats, err := reviewService.GetStats()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to load stats: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Total:          %d\n", stats.Total)
		fmt.Printf("Pending:        %d\n", stats.Pending)
		fmt.Printf("Reviewed:       %d\n", stats.Reviewed)
		fmt.Printf("Expiring soon:  %d\n", stats.ExpiringSoon)
	},
}

// parseReviewIDs parses positional entry ids
func parseReviewIDs(args []string) ([]uint, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("expected at least one entry id")
	}
	ids := make([]uint, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseUint(arg, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid entry id: %s", arg)
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}

// printOutcomes reports per-entry verdict results
func printOutcomes(outcomes []services.BulkOutcome) {
	failed := 0
	for _, outcome := range outcomes {
		if outcome.Success {
			fmt.Printf("  [%d] ok\n", outcome.ID)
		} else {
			fmt.Printf("  [%d] failed: %s\n", outcome.ID, outcome.Error)
			failed++
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// reviewApproveCmd confirms entries as job related
var reviewApproveCmd = &cobra.Command{
	Use:   "approve <id>...",
	Short: "Confirm entries as job related",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ids, err := parseReviewIDs(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		printOutcomes(reviewService.ApproveForExtraction(ids, services.VerdictMetadata{
			Company:  verdictCompany,
			Position: verdictPosition,
			Status:   verdictStatus,
		}))
	},
}

// reviewRejectCmd confirms entries as not job related
var reviewRejectCmd = &cobra.Command{
	Use:   "reject <id>...",
	Short: "Confirm entries as not job related",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ids, err := parseReviewIDs(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		printOutcomes(reviewService.RejectAsNotJob(ids))
	},
}

// reviewSweepCmd removes expired entries
var reviewSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired review entries",
	Run: func(cmd *cobra.Command, args []string) {
		removed, err := reviewService.SweepExpired()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: sweep failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Removed %d expired entr(y/ies)\n", removed)
	},
}

func init() {
	reviewListCmd.Flags().IntVar(&reviewLimit, "limit", 50, "number of entries to show")
	reviewApproveCmd.Flags().StringVar(&verdictCompany, "company", "", "corrected company name")
	reviewApproveCmd.Flags().StringVar(&verdictPosition, "position", "", "corrected position title")
	reviewApproveCmd.Flags().StringVar(&verdictStatus, "status", "", "corrected application status")

	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewStatsCmd)
	reviewCmd.AddCommand(reviewApproveCmd)
	reviewCmd.AddCommand(reviewRejectCmd)
	reviewCmd.AddCommand(reviewSweepCmd)
}
