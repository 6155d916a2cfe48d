package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/jobtrail/core/internal/api/middleware"
	"github.com/jobtrail/core/internal/classify/local"
	"github.com/jobtrail/core/internal/config"
	"github.com/jobtrail/core/internal/services"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gorm.io/gorm"
)

var (
	db             *gorm.DB
	cfg            *config.Config
	apiKeyManager  *middleware.APIKeyManager
	accountService *services.AccountService
	reviewService  *services.ReviewService
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "jobtrail",
	Short: "JobTrail job application tracking backend",
	Long: `JobTrail watches your mailboxes, classifies job application emails
and keeps an application record per position.

Available command groups:
  key       show or reset the API key
  account   register accounts and toggle their sync participation
  sync      run the pipeline once and inspect run history
  review    list pending entries and apply verdicts
  breaker   inspect or reset the deep classifier breaker on the running server

Examples:
  jobtrail key show
  jobtrail account list
  jobtrail sync run --days 7
  jobtrail review list`,
}

// Execute runs the CLI with the provided database and config
func Execute(database *gorm.DB, config *config.Config) {
	db = database
	cfg = config

	var err error
	apiKeyManager, err = middleware.NewAPIKeyManager(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize API key manager: %v\n", err)
		os.Exit(1)
	}

	accountService = services.NewAccountService(db, cfg.GetEncryptionKey())
	reviewService = services.NewReviewService(db, local.NewFastClassifier(db), cfg.ReviewRetentionDays)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// readCredential reads a secret from stdin without echoing it, so it stays
// out of the terminal scrollback. Piped input falls back to a plain line
// read.
func readCredential(prompt string) (string, error) {
	fmt.Print(prompt)
	if term.IsTerminal(int(syscall.Stdin)) {
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", err
		}
		return string(secret), nil
	}
	return readLine(os.Stdin)
}

// readLine reads one trimmed line
func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// confirm asks a yes/no question on stdin
func confirm(question string) bool {
	fmt.Printf("%s (yes/no): ", question)
	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	input = strings.TrimSpace(strings.ToLower(input))
	return input == "yes" || input == "y"
}

func init() {
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(breakerCmd)
}
