package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jobtrail/core/internal/classify"
	"github.com/jobtrail/core/internal/classify/ai"
	"github.com/jobtrail/core/internal/classify/local"
	"github.com/jobtrail/core/internal/database/models"
	"github.com/jobtrail/core/internal/services"
	"github.com/spf13/cobra"
)

var (
	syncDays         int
	syncAccountIDs   []uint
	syncClassifyOnly bool
	historyLimit     int
)

// syncCmd represents the sync command group
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run the pipeline and inspect run history",
}

// buildOrchestrator wires a one-shot pipeline from the CLI config
func buildOrchestrator() (*services.SyncOrchestrator, error) {
	fetcher := services.NewFetcher(db, accountService, services.NewIMAPSource(), cfg.FetchBatchSize, cfg.MaxEmailsPerSync)
	fast := local.NewFastClassifier(db)

	deep := ai.NewClient()
	if cfg.AIAPIKey != "" {
		if cfg.AIBaseURL != "" {
			deep.ConfigureWithBaseURL(cfg.AIProvider, cfg.AIAPIKey, cfg.AIModel, cfg.AIBaseURL)
		} else {
			deep.Configure(cfg.AIProvider, cfg.AIAPIKey, cfg.AIModel)
		}
		deep.SetContextSize(cfg.AIContextSize)
	}

	promptManager, err := ai.NewPromptManager(db, cfg.AIContextSize)
	if err != nil {
		return nil, err
	}

	breaker := classify.NewBreaker(cfg.BreakerMaxFailures, time.Duration(cfg.BreakerCooldownSeconds)*time.Second)
	router := classify.NewRouter(cfg.ApproveThreshold, cfg.ReviewThreshold, cfg.RejectThreshold)

	return services.NewSyncOrchestrator(
		db,
		accountService,
		fetcher,
		fast,
		deep,
		breaker,
		router,
		services.NewReviewService(db, fast, cfg.ReviewRetentionDays),
		services.NewEventBus(),
		cfg.ClassifyWorkers,
		promptManager.GetPrompt,
	), nil
}

// syncRunCmd runs the pipeline once
var syncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one sync across the sync-enabled accounts",
	Run: func(cmd *cobra.Command, args []string) {
		orchestrator, err := buildOrchestrator()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		opts := services.SyncOptions{
			AccountIDs:   syncAccountIDs,
			ClassifyOnly: syncClassifyOnly,
		}
		if syncDays > 0 {
			opts.Window = &services.Window{Since: time.Now().AddDate(0, 0, -syncDays)}
		}

		fmt.Println("Starting sync...")
		run, err := orchestrator.RunSync(context.Background(), opts)
		if err != nil && run == nil {
			fmt.Fprintf(os.Stderr, "Error: sync failed: %v\n", err)
			os.Exit(1)
		}

		printRun(run)
		if err != nil {
			os.Exit(1)
		}
	},
}

// syncHistoryCmd lists recent runs
var syncHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent sync runs",
	Run: func(cmd *cobra.Command, args []string) {
		orchestrator, err := buildOrchestrator()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		runs, err := orchestrator.GetHistory(historyLimit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to load history: %v\n", err)
			os.Exit(1)
		}

		if len(runs) == 0 {
			fmt.Println("No sync runs yet.")
			return
		}

		fmt.Printf("%-6s %-10s %-8s %-8s %-8s %-8s %-8s %s\n",
			"ID", "Status", "Fetched", "Skipped", "Digests", "Jobs", "Review", "Started")
		for _, run := range runs {
			fmt.Printf("%-6d %-10s %-8d %-8d %-8d %-8d %-8d %s\n",
				run.ID, run.Status, run.EmailsFetched, run.EmailsSkipped,
				run.DigestsFiltered, run.JobsFound, run.NeedsReview,
				run.CreatedAt.Format("2006-01-02 15:04:05"))
		}
	},
}

func printRun(run *models.SyncRun) {
	fmt.Println()
	fmt.Printf("Run #%d: %s\n", run.ID, run.Status)
	fmt.Printf("  Fetched:          %d\n", run.EmailsFetched)
	fmt.Printf("  Skipped (seen):   %d\n", run.EmailsSkipped)
	fmt.Printf("  Digests filtered: %d\n", run.DigestsFiltered)
	fmt.Printf("  Classified:       %d\n", run.Classified)
	fmt.Printf("  Jobs found:       %d\n", run.JobsFound)
	fmt.Printf("  Needs review:     %d\n", run.NeedsReview)
	fmt.Printf("  Duration:         %dms\n", run.DurationMs)
	if run.Error != "" {
		fmt.Printf("  Error:            %s\n", run.Error)
	}
}

func init() {
	syncRunCmd.Flags().IntVar(&syncDays, "days", 0, "only fetch emails newer than this many days")
	syncRunCmd.Flags().UintSliceVar(&syncAccountIDs, "account", nil, "restrict the run to these account ids")
	syncRunCmd.Flags().BoolVar(&syncClassifyOnly, "classify-only", false, "skip the deep tier, ambiguous emails go to review")
	syncHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to show")

	syncCmd.AddCommand(syncRunCmd)
	syncCmd.AddCommand(syncHistoryCmd)
}
