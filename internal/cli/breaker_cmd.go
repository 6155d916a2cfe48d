package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/jobtrail/core/internal/api/middleware"
	"github.com/jobtrail/core/internal/classify"
	"github.com/spf13/cobra"
)

// The breaker lives in the server process, so these commands talk to the
// running API instead of constructing their own instance.
var breakerCmd = &cobra.Command{
	Use:   "breaker",
	Short: "Deep classifier circuit breaker",
	Long:  `Inspect or reset the deep classifier's circuit breaker on the running server.`,
}

var breakerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the circuit breaker state",
	Run: func(cmd *cobra.Command, args []string) {
		state, err := callBreakerAPI(http.MethodGet, "/api/breaker")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printBreakerState(state)
	},
}

var breakerResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Force-close the circuit breaker",
	Run: func(cmd *cobra.Command, args []string) {
		state, err := callBreakerAPI(http.MethodPost, "/api/breaker/reset")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Breaker reset.")
		printBreakerState(state)
	},
}

func callBreakerAPI(method, path string) (*classify.BreakerState, error) {
	url := fmt.Sprintf("http://127.0.0.1:%s%s", cfg.APIPort, path)
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(middleware.APIKeyHeader, apiKeyManager.GetCurrentKey())

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("is the server running on port %s? %v", cfg.APIPort, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %s: %s", resp.Status, body)
	}

	var envelope struct {
		Success bool                  `json:"success"`
		Data    classify.BreakerState `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("unexpected response: %v", err)
	}
	return &envelope.Data, nil
}

func printBreakerState(state *classify.BreakerState) {
	status := "closed"
	switch {
	case state.HalfOpen:
		status = "half-open"
	case state.Open:
		status = "open"
	}

	fmt.Printf("State:     %s\n", status)
	fmt.Printf("Failures:  %d/%d\n", state.Failures, state.MaxFailures)
	if state.Open && !state.OpenUntil.IsZero() {
		fmt.Printf("Open until: %s\n", state.OpenUntil.Format("2006-01-02 15:04:05"))
	}
}

func init() {
	breakerCmd.AddCommand(breakerStatusCmd)
	breakerCmd.AddCommand(breakerResetCmd)
}
