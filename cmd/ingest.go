package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cyberlens/cyber-lens/internal/ingest"
	"github.com/cyberlens/cyber-lens/internal/store"
)

var (
	inputFile   string
	concurrency int
	ingestOwner string
	ingestJSONL bool
	skipInvalid bool
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Look up a list of IOCs from file or stdin",
	Long: `Look up every IOC in a file or stdin and save the results to history.

Each line is a bare IOC, "ioc,type", or a JSON object {"ioc": "...", "type": "..."}.
Blank lines and lines starting with '#' are ignored.

Examples:
  # Look up a file of indicators
  cyber-lens ingest iocs.txt

  # From stdin, printing one JSON result per line
  cat iocs.txt | cyber-lens ingest - --jsonl

  # More lookups in flight
  cyber-lens ingest --concurrency 8 iocs.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVarP(&inputFile, "file", "f", "", "Input file path (use '-' for stdin)")
	ingestCmd.Flags().IntVar(&concurrency, "concurrency", ingest.DefaultConcurrency, "Lookups in flight at once")
	ingestCmd.Flags().StringVar(&ingestOwner, "owner", "cli", "History owner for saved lookups")
	ingestCmd.Flags().BoolVar(&ingestJSONL, "jsonl", false, "Print each result as a JSON line")
	ingestCmd.Flags().BoolVar(&skipInvalid, "skip-invalid", false, "Skip unparseable lines instead of failing")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()

	if len(args) > 0 {
		inputFile = args[0]
	}

	var input io.Reader
	inputName := inputFile
	if inputFile == "" || inputFile == "-" {
		input = os.Stdin
		inputName = "stdin"
	} else {
		file, err := os.Open(inputFile)
		if err != nil {
			return fmt.Errorf("failed to open input file: %w", err)
		}
		defer file.Close()
		input = file
	}

	a, err := newApp(config, appOptions{withStore: true, withBus: true})
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	invalid := 0
	items, err := ingest.ReadItems(input, func(line int, err error) {
		invalid++
		logger.Warnf("line %d: %v", line, err)
	})
	if err != nil {
		return err
	}
	if invalid > 0 && !skipInvalid {
		return fmt.Errorf("%d invalid line(s) in %s (use --skip-invalid to ignore)", invalid, inputName)
	}

	logger.Infof("Looking up %d IOC(s) from %s", len(items), inputName)
	start := time.Now()
	owner := &store.Owner{Type: "user", ID: ingestOwner}
	runner := ingest.NewRunner(a.lookups, ingest.RunnerOptions{Owner: owner, Concurrency: concurrency, Logger: logger})
	outcomes := runner.Run(ctx, items)

	var summary ingest.Summary
	summary.Add(outcomes...)
	enc := json.NewEncoder(os.Stdout)
	for _, o := range outcomes {
		switch {
		case ingestJSONL && o.Err == nil:
			if err := enc.Encode(o.Result.Response); err != nil {
				return err
			}
		case ingestJSONL:
			enc.Encode(map[string]string{"ioc": o.Item.IOC, "error": o.Err.Error()})
		case o.Err != nil:
			fmt.Printf("%-40s error: %v\n", o.Item.IOC, o.Err)
		default:
			fmt.Printf("%-40s %-10s %3d\n", o.Item.IOC, o.Result.Response.Verdict, o.Result.Response.Score)
		}
	}

	logger.Infof("Ingestion completed in %v: total=%d failed=%d invalid=%d verdicts=%v",
		time.Since(start).Round(time.Millisecond), summary.Total, summary.Failed, invalid, summary.Verdicts)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}
