package cli

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/treadlog/treadlog/internal/config"
	"github.com/treadlog/treadlog/internal/store"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:     "check",
	Aliases: []string{"c", "health", "status"},
	Short:   "Zero-config health check",
	Long: `Perform a zero-config health check of the TreadLog system.

This command checks:
- Database connectivity
- Configuration validity
- Seeded accounts and sub-accounts

Example:
  treadlog check`,
	RunE: runCheck,
}

func init() {
	RootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	if globalFlags.Verbose {
		log.Println("Starting health check...")
	}

	results := []CheckResult{
		checkDatabase(),
		checkConfig(),
		checkAccounts(),
	}

	return outputCheckResults(results)
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func checkDatabase() CheckResult {
	result := CheckResult{
		Name:   "Database",
		Status: "OK",
	}

	s, err := store.NewSQLiteStore(globalFlags.DBPath)
	if err != nil {
		result.Status = "FAIL"
		result.Message = fmt.Sprintf("Failed to connect to database: %v", err)
		return result
	}
	defer func() { _ = s.Close() }()

	stats := s.Stats()
	result.Message = fmt.Sprintf("Database connected successfully at: %s", globalFlags.DBPath)
	result.Details = fmt.Sprintf("Accounts: %d, Sub-accounts: %d, Usage events: %d",
		stats.AccountCount, stats.SubAccountCount, stats.UsageEventCount)
	return result
}

func checkConfig() CheckResult {
	result := CheckResult{
		Name:   "Configuration",
		Status: "OK",
	}

	loader := config.NewLoader(globalFlags.Config)
	cfg, err := loader.Load()
	if err != nil {
		result.Status = "FAIL"
		result.Message = fmt.Sprintf("Failed to load configuration: %v", err)
		return result
	}

	if err := cfg.Validate(); err != nil {
		result.Status = "FAIL"
		result.Message = fmt.Sprintf("Configuration validation failed: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("Configuration valid (version: %s)", cfg.Version)
	result.Details = fmt.Sprintf("Server: %s:%d, Accounts: %d", cfg.Server.Host, cfg.Server.HTTPPort, len(cfg.Accounts))
	return result
}

func checkAccounts() CheckResult {
	result := CheckResult{
		Name:   "Accounts",
		Status: "OK",
	}

	loader := config.NewLoader(globalFlags.Config)
	cfg, err := loader.Load()
	if err != nil {
		result.Status = "FAIL"
		result.Message = fmt.Sprintf("Failed to load configuration: %v", err)
		return result
	}

	if len(cfg.Accounts) == 0 {
		result.Status = "WARNING"
		result.Message = "No accounts configured"
		return result
	}

	subs := 0
	active := 0
	for _, acc := range cfg.Accounts {
		subs += len(acc.SubAccounts)
		for _, sub := range acc.SubAccounts {
			if sub.Active {
				active++
			}
		}
	}

	result.Message = fmt.Sprintf("%d accounts configured, %d sub-accounts (%d active)", len(cfg.Accounts), subs, active)
	return result
}

func outputCheckResults(results []CheckResult) error {
	if globalFlags.JSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(results)
	}
	return outputCheckResultsTable(results)
}

func outputCheckResultsTable(results []CheckResult) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CHECK\tSTATUS\tMESSAGE\tDETAILS")

	allPassed := true
	for _, r := range results {
		statusIcon := "✓"
		if r.Status == "FAIL" {
			statusIcon = "✗"
			allPassed = false
		} else if r.Status == "WARNING" {
			statusIcon = "!"
		}

		details := r.Details
		if details == "" {
			details = "-"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Name, statusIcon+" "+r.Status, r.Message, details)
	}

	if err := w.Flush(); err != nil {
		log.Printf("Error flushing tabwriter: %v", err)
	}

	fmt.Println()
	if allPassed {
		fmt.Println("✓ All checks passed!")
	} else {
		fmt.Println("✗ Some checks failed. Please review the output above.")
		return fmt.Errorf("health check failed")
	}

	return nil
}
