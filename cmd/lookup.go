package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cyberlens/cyber-lens/internal/engine"
	"github.com/cyberlens/cyber-lens/internal/lookup"
	"github.com/cyberlens/cyber-lens/internal/store"
)

var (
	lookupType  string
	lookupJSON  bool
	lookupSave  bool
	lookupOwner string
)

// lookupCmd represents the lookup command
var lookupCmd = &cobra.Command{
	Use:   "lookup <ioc>",
	Short: "Look up one IOC and print the verdict",
	Long: `Look up a single indicator against every configured provider and print the
aggregated score, verdict and per-provider outcomes.

Examples:
  cyber-lens lookup 8.8.8.8
  cyber-lens lookup --type Domain example.com --json
  cyber-lens lookup --dry-run 44d88612fea8a8f36de82e1278abb02f --save`,
	Args: cobra.ExactArgs(1),
	RunE: runLookup,
}

func init() {
	rootCmd.AddCommand(lookupCmd)

	lookupCmd.Flags().StringVar(&lookupType, "type", "", "Type hint: IP, Domain, URL or Hash (advisory)")
	lookupCmd.Flags().BoolVar(&lookupJSON, "json", false, "Print the full response as JSON")
	lookupCmd.Flags().BoolVar(&lookupSave, "save", false, "Save the lookup to history")
	lookupCmd.Flags().StringVar(&lookupOwner, "owner", "cli", "History owner when saving")
}

func runLookup(cmd *cobra.Command, args []string) error {
	config := GetConfig()
	a, err := newApp(config, appOptions{withStore: lookupSave, withBus: lookupSave})
	if err != nil {
		return err
	}
	defer a.Close()

	req := lookup.Request{IOC: args[0], Type: lookupType}
	if lookupSave {
		req.Owner = &store.Owner{Type: "user", ID: lookupOwner}
	}
	res, err := a.lookups.Lookup(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("lookup failed: %w", err)
	}

	if lookupJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Response)
	}
	printLookup(os.Stdout, res)
	return nil
}

func printLookup(w io.Writer, res *lookup.Result) {
	resp := res.Response
	typ := "undetected"
	if resp.Type != nil {
		typ = string(*resp.Type)
	}
	fmt.Fprintf(w, "IOC:      %s (%s)\n", resp.IOC, typ)
	fmt.Fprintf(w, "Verdict:  %s\n", strings.ToUpper(resp.Verdict))
	fmt.Fprintf(w, "Score:    %d/100 from %d provider(s) in %dms\n",
		resp.Score, resp.Meta.Scoring.ProcessedProviders, resp.Meta.ExecutionTimeMs)
	if v := resp.Meta.Validation; v != nil {
		if v.Warning != "" {
			fmt.Fprintf(w, "Note:     %s\n", v.Warning)
		} else if v.Validation != nil && !v.Matches {
			fmt.Fprintf(w, "Note:     type hint %s does not match detected type %s\n", v.AssertedType, typ)
		}
	}
	if res.ID != "" {
		fmt.Fprintf(w, "Saved as: %s\n", res.ID)
	}

	if len(resp.Providers) > 0 {
		fmt.Fprintln(w, "\nProviders:")
	}
	for _, p := range resp.Providers {
		switch {
		case p.Status == engine.StatusSuccess && p.Data != nil:
			fmt.Fprintf(w, "  %-12s %-10s %5dms  %s\n", p.Provider, p.Data.Verdict, p.LatencyMs, p.Data.Summary)
		default:
			fmt.Fprintf(w, "  %-12s %-10s %5dms  %s\n", p.Provider, p.Status, p.LatencyMs, p.Error)
		}
	}
	for _, warning := range resp.Meta.Scoring.Warnings {
		fmt.Fprintf(w, "  ! %s\n", warning)
	}
}
