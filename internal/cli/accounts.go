package cli

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/treadlog/treadlog/internal/config"
	"github.com/treadlog/treadlog/internal/models"
	"github.com/treadlog/treadlog/internal/quota"
	"github.com/treadlog/treadlog/internal/store"
)

// seedAccountsFromConfig creates configured accounts and sub-accounts if
// they do not exist yet. Existing registry entries are never overwritten so
// runtime limit changes survive restarts.
func seedAccountsFromConfig(s store.Store, cfg *config.Config) error {
	if s == nil || cfg == nil {
		return nil
	}

	for _, seed := range cfg.Accounts {
		account, exists := s.GetAccount(seed.ID)
		if !exists {
			account = &models.Account{
				ID:        seed.ID,
				PoolLimit: seed.PoolLimit,
				CreatedAt: time.Now().UTC(),
				UpdatedAt: time.Now().UTC(),
			}
			if err := account.Validate(); err != nil {
				return fmt.Errorf("invalid account %s: %w", seed.ID, err)
			}
			s.SetAccount(account)
		}

		for _, subSeed := range seed.SubAccounts {
			if _, exists := s.GetSubAccount(subSeed.ID); exists {
				continue
			}

			// Seeded limits obey the same pool cap as runtime assignments;
			// earlier seeds and pre-existing sub-accounts count against it.
			result := quota.ClampPersonalLimit(account, s.ListSubAccounts(seed.ID), subSeed.ID, subSeed.PersonalLimit)
			if result.Clamped {
				log.Printf("Seed limit for %s clamped from %d to %d to fit %s's pool",
					subSeed.ID, result.Requested, result.Applied, seed.ID)
			}

			sub := &models.SubAccount{
				ID:             subSeed.ID,
				OwnerAccountID: seed.ID,
				PersonalLimit:  result.Applied,
				Active:         subSeed.Active,
				CreatedAt:      time.Now().UTC(),
				UpdatedAt:      time.Now().UTC(),
			}
			if err := sub.Validate(); err != nil {
				return fmt.Errorf("invalid sub-account %s: %w", subSeed.ID, err)
			}
			s.SetSubAccount(sub)
		}
	}

	return nil
}

// accountsCmd represents the accounts command
var accountsCmd = &cobra.Command{
	Use:     "accounts",
	Aliases: []string{"a", "account", "pools"},
	Short:   "Show accounts and today's pool usage",
	Long: `Display each account's daily pool, today's consumption and the
personal limits allocated to its sub-accounts.

Examples:
  # Show all accounts
  treadlog accounts

  # Filter by account ID
  treadlog accounts --account garage-main

  # Output as JSON
  treadlog accounts --json | jq '.'`,
	RunE: runAccounts,
}

var accountsFlags struct {
	AccountID string
}

func init() {
	accountsCmd.Flags().StringVar(&accountsFlags.AccountID, "account", "", "Filter by account ID")

	RootCmd.AddCommand(accountsCmd)
}

// AccountDisplayInfo represents account pool info for display
type AccountDisplayInfo struct {
	AccountID   string  `json:"account_id"`
	PoolLimit   int     `json:"pool_limit"`
	Used        int     `json:"used"`
	Remaining   int     `json:"remaining"`
	Allocated   int     `json:"allocated"`
	Unlimited   bool    `json:"unlimited"`
	SubAccounts int     `json:"sub_accounts"`
	UsedPct     float64 `json:"used_percent"`
}

func runAccounts(cmd *cobra.Command, args []string) error {
	s, err := store.NewSQLiteStore(globalFlags.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Printf("Error closing store: %v", err)
		}
	}()

	engine := quota.NewEngine(s)

	var infos []AccountDisplayInfo
	for _, acc := range s.ListAccounts() {
		if accountsFlags.AccountID != "" && acc.ID != accountsFlags.AccountID {
			continue
		}

		status, err := engine.AccountPool(cmd.Context(), acc.ID)
		if err != nil {
			return fmt.Errorf("failed to read pool for %s: %w", acc.ID, err)
		}

		info := AccountDisplayInfo{
			AccountID:   acc.ID,
			PoolLimit:   acc.PoolLimit,
			Used:        status.Used,
			Remaining:   status.Remaining,
			Allocated:   status.Allocation.Allocated,
			Unlimited:   status.Unlimited,
			SubAccounts: len(s.ListSubAccounts(acc.ID)),
		}
		if !info.Unlimited && acc.PoolLimit > 0 {
			info.UsedPct = float64(status.Used) / float64(acc.PoolLimit) * 100
		}
		infos = append(infos, info)
	}

	if globalFlags.JSON {
		return outputAccountsJSON(infos)
	}
	return outputAccountsTable(infos)
}

func outputAccountsJSON(infos []AccountDisplayInfo) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(infos)
}

func outputAccountsTable(infos []AccountDisplayInfo) error {
	if len(infos) == 0 {
		fmt.Println("No accounts found matching the criteria.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACCOUNT ID\tPOOL\tUSED\tREMAINING\tALLOCATED\tSUB-ACCOUNTS")

	for _, info := range infos {
		poolStr := fmt.Sprintf("%d", info.PoolLimit)
		remainingStr := fmt.Sprintf("%d", info.Remaining)
		if info.Unlimited {
			poolStr = "unlimited"
			remainingStr = "-"
		}

		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%d\n",
			info.AccountID,
			poolStr,
			info.Used,
			remainingStr,
			info.Allocated,
			info.SubAccounts,
		)
	}

	if err := w.Flush(); err != nil {
		log.Printf("Error flushing tabwriter: %v", err)
	}
	return nil
}
