package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cyberlens/cyber-lens/internal/store"
)

var (
	historyOwner     string
	historyGuest     bool
	historyLimit     int
	historyOffset    int
	historySearch    string
	historyJSON      bool
	historyShowEntry string
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored lookups",
	Long: `List lookups saved in the history database, newest first.

Examples:
  # Lookups saved from the CLI
  cyber-lens history

  # A user's lookups matching "evil"
  cyber-lens history --owner alice -q evil

  # A guest's lookups (guests are keyed by client address)
  cyber-lens history --guest --owner 203.0.113.9

  # One stored lookup with its full response
  cyber-lens history --owner alice --id lkp_...`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historyOwner, "owner", "cli", "Owner id to list")
	historyCmd.Flags().BoolVar(&historyGuest, "guest", false, "Treat --owner as a guest address")
	historyCmd.Flags().IntVar(&historyLimit, "limit", store.DefaultHistoryLimit, "Maximum number of items to show (max 100)")
	historyCmd.Flags().IntVar(&historyOffset, "offset", 0, "Number of items to skip")
	historyCmd.Flags().StringVarP(&historySearch, "query", "q", "", "Filter by value, type, verdict or DD/MM/YYYY HH:MM")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print JSON")
	historyCmd.Flags().StringVar(&historyShowEntry, "id", "", "Show one stored lookup")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()

	st, err := store.NewStore(resolvePathRelativeToBase(getWorkingDir(), config.Database.Path))
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	owner := store.Owner{Type: "user", ID: historyOwner}
	if historyGuest {
		owner.Type = "guest"
	}

	if historyShowEntry != "" {
		rec, err := st.GetLookup(ctx, owner, historyShowEntry)
		if err != nil {
			return err
		}
		var pretty map[string]interface{}
		if err := json.Unmarshal([]byte(rec.ResponseJSON), &pretty); err != nil {
			fmt.Println(rec.ResponseJSON)
			return nil
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(pretty)
	}

	entries, err := st.QueryHistory(ctx, store.HistoryQuery{
		Owner:  owner,
		Limit:  historyLimit,
		Offset: historyOffset,
		Search: historySearch,
	})
	if err != nil {
		return err
	}

	if historyJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No lookups found.")
		return nil
	}
	fmt.Printf("%-16s  %-40s  %-7s  %-10s  %5s  %s\n", "WHEN", "IOC", "TYPE", "VERDICT", "SCORE", "ID")
	for _, e := range entries {
		fmt.Printf("%-16s  %-40s  %-7s  %-10s  %5d  %s\n",
			e.Timestamp.Format("02/01/2006 15:04"), truncate(e.IOCValue, 40), e.IOCType, e.Verdict, e.Score, e.ID)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
