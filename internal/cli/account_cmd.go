package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/jobtrail/core/internal/services"
	"github.com/spf13/cobra"
)

// accountCmd represents the account command group
var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Mail account management",
	Long:  `List registered mail accounts and toggle their sync participation.`,
}

// accountListCmd lists all registered accounts
var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered mail accounts",
	Run: func(cmd *cobra.Command, args []string) {
		accounts, err := accountService.GetAccounts()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to list accounts: %v\n", err)
			os.Exit(1)
		}

		if len(accounts) == 0 {
			fmt.Println("No accounts registered.")
			return
		}

		fmt.Println("Accounts:")
		fmt.Println("--------------------------------------------------------------------")
		fmt.Printf("%-6s %-30s %-8s %-10s %s\n", "ID", "Email", "Sync", "Days", "Last synced")
		fmt.Println("--------------------------------------------------------------------")
		for _, a := range accounts {
			sync := "off"
			if a.SyncEnabled {
				sync = "on"
			}
			lastSynced := "never"
			if !a.LastSyncedAt.IsZero() {
				lastSynced = a.LastSyncedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%-6d %-30s %-8s %-10d %s\n", a.ID, a.Email, sync, a.SyncDays, lastSynced)
		}
		fmt.Println("--------------------------------------------------------------------")
		fmt.Printf("%d account(s)\n", len(accounts))
	},
}

var (
	addEmail       string
	addDisplayName string
	addHost        string
	addPort        int
	addUsername    string
	addPassword    string
	addNoSSL       bool
	addSyncDays    int
)

// accountAddCmd registers a new mail account
var accountAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a new mail account",
	Run: func(cmd *cobra.Command, args []string) {
		username := addUsername
		if username == "" {
			username = addEmail
		}

		credential := addPassword
		if credential == "" {
			// A flag value would land in the shell history, so the
			// credential is read hidden from the terminal instead.
			secret, err := readCredential("Password: ")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to read password: %v\n", err)
				os.Exit(1)
			}
			credential = secret
		}

		account, err := accountService.CreateAccount(services.CreateAccountInput{
			Email:       addEmail,
			DisplayName: addDisplayName,
			IMAPHost:    addHost,
			IMAPPort:    addPort,
			Username:    username,
			Credential:  credential,
			UseSSL:      !addNoSSL,
			SyncDays:    addSyncDays,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create account: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Account %s registered (id %d)\n", account.Email, account.ID)
	},
}

// accountRemoveCmd removes a mail account
var accountRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a mail account",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := parseAccountID(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		account, err := accountService.GetAccountByID(id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if !confirm(fmt.Sprintf("Remove account %s and its credential?", account.Email)) {
			fmt.Println("Cancelled.")
			return
		}

		if err := accountService.DeleteAccount(id); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to remove account: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Account %s removed\n", account.Email)
	},
}

// parseAccountID parses a positional account id argument
func parseAccountID(args []string) (uint, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected exactly one account id")
	}
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid account id: %s", args[0])
	}
	return uint(id), nil
}

// accountEnableCmd turns sync on for an account
var accountEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable sync for an account",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setAccountSync(args, true)
	},
}

// accountDisableCmd turns sync off for an account
var accountDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable sync for an account",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setAccountSync(args, false)
	},
}

func setAccountSync(args []string, enabled bool) {
	id, err := parseAccountID(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	account, err := accountService.SetSyncEnabled(id, enabled)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to update account: %v\n", err)
		os.Exit(1)
	}

	state := "disabled"
	if account.SyncEnabled {
		state = "enabled"
	}
	fmt.Printf("Sync %s for %s (id %d)\n", state, account.Email, account.ID)
}

// accountTestCmd tests the stored connection settings
var accountTestCmd = &cobra.Command{
	Use:   "test <id>",
	Short: "Test the IMAP connection for an account",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := parseAccountID(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		result, err := accountService.TestConnectionByID(id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if result.Success {
			fmt.Println("Connection OK")
			return
		}
		fmt.Printf("Connection failed: %s\n", result.Message)
		os.Exit(1)
	},
}

func init() {
	accountAddCmd.Flags().StringVar(&addEmail, "email", "", "mailbox address (required)")
	accountAddCmd.Flags().StringVar(&addDisplayName, "name", "", "display name")
	accountAddCmd.Flags().StringVar(&addHost, "host", "", "IMAP host (required)")
	accountAddCmd.Flags().IntVar(&addPort, "port", 993, "IMAP port")
	accountAddCmd.Flags().StringVar(&addUsername, "username", "", "login username (defaults to the address)")
	accountAddCmd.Flags().StringVar(&addPassword, "password", "", "password or app password (prompted when omitted)")
	accountAddCmd.Flags().BoolVar(&addNoSSL, "no-ssl", false, "connect without TLS")
	accountAddCmd.Flags().IntVar(&addSyncDays, "days", 30, "how many days back to sync initially")
	accountAddCmd.MarkFlagRequired("email")
	accountAddCmd.MarkFlagRequired("host")

	accountCmd.AddCommand(accountListCmd)
	accountCmd.AddCommand(accountAddCmd)
	accountCmd.AddCommand(accountRemoveCmd)
	accountCmd.AddCommand(accountEnableCmd)
	accountCmd.AddCommand(accountDisableCmd)
	accountCmd.AddCommand(accountTestCmd)
}
