package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cyberlens/cyber-lens/internal/ingest"
	"github.com/cyberlens/cyber-lens/internal/store"
)

var (
	folderDir      string
	folderWatch    bool
	folderTail     bool
	folderPatterns string
)

// ingestFolderCmd represents the ingest-folder command
var ingestFolderCmd = &cobra.Command{
	Use:   "ingest-folder",
	Short: "Look up IOC lists dropped into a directory (optionally watch for changes)",
	Long: `Look up IOCs from files in a directory, one per line (same formats as ingest).

Examples:
  # One-shot: process existing files and exit
  cyber-lens ingest-folder --dir ./incoming

  # Watch mode: tail appended lines and new files
  cyber-lens ingest-folder --dir ./incoming --watch

  # Only new lines from now on
  cyber-lens ingest-folder --dir ./incoming --watch --tail --pattern "*.txt"`,
	RunE: runIngestFolder,
}

func init() {
	rootCmd.AddCommand(ingestFolderCmd)

	ingestFolderCmd.Flags().StringVar(&folderDir, "dir", "", "Directory to read files from (required)")
	ingestFolderCmd.MarkFlagRequired("dir")
	ingestFolderCmd.Flags().BoolVar(&folderWatch, "watch", false, "Watch directory for changes and tail files")
	ingestFolderCmd.Flags().BoolVar(&folderTail, "tail", false, "In watch mode, skip lines already present at startup")
	ingestFolderCmd.Flags().StringVar(&folderPatterns, "pattern", "*.txt,*.jsonl,*.csv", "Comma-separated glob patterns to match")
	ingestFolderCmd.Flags().StringVar(&ingestOwner, "owner", "cli", "History owner for saved lookups")
	ingestFolderCmd.Flags().IntVar(&concurrency, "concurrency", ingest.DefaultConcurrency, "Lookups in flight at once")
}

func runIngestFolder(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()

	a, err := newApp(cfg, appOptions{withStore: true, withBus: true})
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	var patterns []string
	for _, p := range strings.Split(folderPatterns, ",") {
		if s := strings.TrimSpace(p); s != "" {
			patterns = append(patterns, s)
		}
	}

	runner := ingest.NewRunner(a.lookups, ingest.RunnerOptions{
		Owner:       &store.Owner{Type: "user", ID: ingestOwner},
		Concurrency: concurrency,
		Logger:      logger,
	})
	opts := ingest.FolderOptions{
		Dir:         folderDir,
		Watch:       folderWatch,
		Patterns:    patterns,
		TailFromEnd: folderTail,
		Logger:      logger,
		OnOutcome: func(o ingest.Outcome) {
			if o.Err != nil {
				return
			}
			logger.Infow("lookup", "ioc", o.Item.IOC, "verdict", o.Result.Response.Verdict, "score", o.Result.Response.Score)
		},
	}

	logger.Infof("Starting ingest-folder dir=%s watch=%v patterns=%v", opts.Dir, opts.Watch, opts.Patterns)
	ingestor := ingest.NewFolderIngestor(runner, opts)
	if err := ingestor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("ingest-folder error: %w", err)
	}
	logger.Info("ingest-folder completed")
	return nil
}
