package cli

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/treadlog/treadlog/internal/quota"
	"github.com/treadlog/treadlog/internal/store"
)

// usageCmd represents the usage command
var usageCmd = &cobra.Command{
	Use:     "usage <actor-id>",
	Aliases: []string{"u"},
	Short:   "Show today's usage for an actor",
	Long: `Display today's lookup consumption for an account or sub-account
against its applicable limits.

Examples:
  # Today's usage for a fitter
  treadlog usage fitter-joe

  # Output as JSON
  treadlog usage garage-main --json`,
	Args: cobra.ExactArgs(1),
	RunE: runUsage,
}

// setLimitCmd represents the set-limit command
var setLimitCmd = &cobra.Command{
	Use:   "set-limit <account-id> <sub-account-id> <limit>",
	Short: "Assign a sub-account's personal daily limit",
	Long: `Assign a personal daily lookup limit to a sub-account.

The request is clamped so the personal limits of all active sub-accounts
never exceed the owner's pool. A clamped assignment is reported, not
rejected.

Example:
  treadlog set-limit garage-main fitter-joe 25`,
	Args: cobra.ExactArgs(3),
	RunE: runSetLimit,
}

func init() {
	RootCmd.AddCommand(usageCmd)
	RootCmd.AddCommand(setLimitCmd)
}

// UsageDisplayInfo represents an actor's usage snapshot for display
type UsageDisplayInfo struct {
	ActorID    string `json:"actor_id"`
	ActorUsed  int    `json:"actor_used"`
	ActorLimit int    `json:"actor_limit"`
	PoolUsed   int    `json:"pool_used"`
	PoolLimit  int    `json:"pool_limit"`
}

func runUsage(cmd *cobra.Command, args []string) error {
	actorID := args[0]

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
	snap, err := engine.ActorUsage(cmd.Context(), actorID)
	if err != nil {
		return fmt.Errorf("failed to read usage for %s: %w", actorID, err)
	}

	info := UsageDisplayInfo{
		ActorID:    actorID,
		ActorUsed:  snap.ActorUsed,
		ActorLimit: snap.ActorLimit,
		PoolUsed:   snap.PoolUsed,
		PoolLimit:  snap.PoolLimit,
	}

	if globalFlags.JSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(info)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACTOR\tUSED\tLIMIT\tPOOL USED\tPOOL LIMIT")
	fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\n",
		info.ActorID,
		info.ActorUsed,
		limitString(info.ActorLimit),
		info.PoolUsed,
		limitString(info.PoolLimit),
	)
	return w.Flush()
}

func runSetLimit(cmd *cobra.Command, args []string) error {
	accountID, subID := args[0], args[1]

	var requested int
	if _, err := fmt.Sscanf(args[2], "%d", &requested); err != nil {
		return fmt.Errorf("invalid limit %q: %w", args[2], err)
	}

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
	result, err := engine.AssignPersonalLimit(cmd.Context(), accountID, subID, requested)
	if err != nil {
		return fmt.Errorf("failed to assign limit: %w", err)
	}

	if result.Clamped {
		fmt.Printf("Limit clamped to pool headroom: requested %d, applied %d\n", result.Requested, result.Applied)
	} else {
		fmt.Printf("Limit applied: %d\n", result.Applied)
	}
	return nil
}

func limitString(limit int) string {
	if limit <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", limit)
}
