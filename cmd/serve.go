package cmd

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cyberlens/cyber-lens/internal/api"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the lookup HTTP service",
	Long: `Start the Cyber-Lens HTTP service which exposes:

  POST /lookup         run a lookup: {"ioc": "8.8.8.8", "type": "IP"}
  GET  /history        the caller's lookup history (?limit=&offset=&q=)
  GET  /history/{id}   one stored lookup with its full response
  GET  /healthz        store and bus health
  GET  /metrics        Prometheus metrics

Callers are identified by the X-Owner-ID header, or by client address as guests.
Editing lookup.timeout in the config file takes effect without a restart.

Examples:
  # Start with live providers (API keys from config or CYBERLENS_PROVIDERS_<NAME>_API_KEY)
  cyber-lens serve

  # Start with mock providers on another port
  cyber-lens serve --dry-run --bind 0.0.0.0:9090`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("bind", "127.0.0.1:8080", "Bind address for the HTTP API")
	serveCmd.Flags().Float64("rps", 5, "Per-client requests per second (0 disables rate limiting)")
	serveCmd.Flags().Int("burst", 10, "Per-client burst size")
	serveCmd.Flags().Duration("timeout", 0, "Per-provider timeout (default from lookup.timeout)")
	serveCmd.Flags().Bool("trust-proxy", false, "Honor X-Forwarded-For and X-Owner-ID from a fronting proxy")

	viper.BindPFlag("server.bind", serveCmd.Flags().Lookup("bind"))
	viper.BindPFlag("server.rps", serveCmd.Flags().Lookup("rps"))
	viper.BindPFlag("server.burst", serveCmd.Flags().Lookup("burst"))
	viper.BindPFlag("server.trust_proxy", serveCmd.Flags().Lookup("trust-proxy"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()
	if d, _ := cmd.Flags().GetDuration("timeout"); d > 0 {
		config.Lookup.Timeout = d
	}

	a, err := newApp(config, appOptions{withStore: true, withBus: true})
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	logger.Infof("Starting Cyber-Lens with providers %v (timeout %s)", a.orch.Providers(), a.orch.Timeout())

	srv, err := api.NewServer(api.Options{
		Bind:       config.Server.Bind,
		RPS:        config.Server.RPS,
		Burst:      config.Server.Burst,
		TrustProxy: config.Server.TrustProxy,
	}, api.Deps{
		Lookups: a.lookups,
		History: a.store,
		Bus:     a.bus,
		Metrics: a.metrics,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}

	if viper.ConfigFileUsed() != "" && !cmd.Flags().Changed("timeout") {
		viper.OnConfigChange(func(e fsnotify.Event) {
			if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				return
			}
			d := viper.GetDuration("lookup.timeout")
			if d <= 0 || d == a.orch.Timeout() {
				return
			}
			a.orch.SetTimeout(d)
			logger.Infof("Config %s changed: lookup timeout now %s", e.Name, d)
		})
		viper.WatchConfig()
	}

	<-ctx.Done()
	logger.Info("Shutting down")
	return nil
}
