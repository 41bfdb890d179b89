package cmd

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cyberlens/cyber-lens/internal/provider"
)

var (
	appVersion string
	buildTime  string
)

// SetVersion records build metadata; it also backs the root --version flag.
func SetVersion(v, bt string) {
	appVersion = v
	buildTime = bt
	rootCmd.Version = v
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and the providers this configuration would query",
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeVersion(os.Stdout, GetConfig())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func writeVersion(w io.Writer, config Config) error {
	v := appVersion
	if v == "" {
		v = "dev"
	}
	fmt.Fprintf(w, "Cyber-Lens %s (%s, %s/%s)\n", v, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	if buildTime != "" {
		fmt.Fprintf(w, "Build time: %s\n", buildTime)
	}

	providers, err := provider.Build(config.Providers, zap.NewNop().Sugar())
	if err != nil {
		return err
	}
	names := provider.Names(providers)
	if len(names) == 0 {
		names = []string{"none (set API keys or use --dry-run)"}
	}
	mode := "live"
	if config.Providers.DryRun {
		mode = "dry-run"
	}
	fmt.Fprintf(w, "Providers (%s): %s\n", mode, strings.Join(names, ", "))
	fmt.Fprintf(w, "Lookup timeout: %s\n", config.Lookup.Timeout)
	return nil
}
