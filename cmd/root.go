package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cyberlens/cyber-lens/internal/provider"
)

var (
	cfgFile  string
	dbPath   string
	redisURL string
	logLevel string
	logJSON  bool
	dryRun   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cyber-lens",
	Short: "Multi-provider IOC lookup and scoring service",
	Long: `Cyber-Lens looks up indicators of compromise (IPs, domains, URLs and file hashes)
against several threat-intelligence providers at once and folds their answers into
one weighted risk score and verdict.

Features:
- Concurrent provider fan-out with per-provider timeouts and failure isolation
- Confidence-weighted scoring with an auditable breakdown
- HTTP API with per-owner lookup history in SQLite
- Redis Streams announcements of completed lookups
- Batch and folder-watch ingestion of IOC lists`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.cyber-lens.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "./data/cyber-lens.db", "SQLite database path")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis", "", "Redis connection URL (empty disables lookup events)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit JSON logs")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Use deterministic mock providers instead of live APIs")

	// Bind flags to viper
	viper.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("redis.url", rootCmd.PersistentFlags().Lookup("redis"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.json", rootCmd.PersistentFlags().Lookup("log-json"))
	viper.BindPFlag("providers.dry_run", rootCmd.PersistentFlags().Lookup("dry-run"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home and working directory with name ".cyber-lens" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".cyber-lens")
	}

	// CYBERLENS_PROVIDERS_OTX_API_KEY -> providers.otx.api_key
	viper.SetEnvPrefix("cyberlens")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	setDefaults()
}

func setDefaults() {
	viper.SetDefault("database.path", "./data/cyber-lens.db")
	viper.SetDefault("redis.url", "")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.json", false)
	viper.SetDefault("server.bind", "127.0.0.1:8080")
	viper.SetDefault("server.rps", 5.0)
	viper.SetDefault("server.burst", 10)
	viper.SetDefault("server.trust_proxy", false)
	viper.SetDefault("lookup.timeout", 8*time.Second)
	viper.SetDefault("providers.enabled", provider.DefaultOrder)
	viper.SetDefault("providers.dry_run", false)
	viper.SetDefault("providers.http_timeout", 10*time.Second)
}

// GetConfig returns the current configuration values
func GetConfig() Config {
	providers := ProvidersConfig{
		Enabled:     viper.GetStringSlice("providers.enabled"),
		DryRun:      viper.GetBool("providers.dry_run"),
		HTTPTimeout: viper.GetDuration("providers.http_timeout"),
		Settings:    make(map[string]provider.Settings),
	}
	for _, name := range append(append([]string{}, provider.DefaultOrder...), providers.Enabled...) {
		key := "providers." + strings.ToLower(strings.TrimSpace(name))
		providers.Settings[strings.ToLower(strings.TrimSpace(name))] = provider.Settings{
			APIKey:  viper.GetString(key + ".api_key"),
			BaseURL: viper.GetString(key + ".base_url"),
			RPS:     viper.GetFloat64(key + ".rps"),
			Burst:   viper.GetInt(key + ".burst"),
		}
	}

	return Config{
		Database: DatabaseConfig{Path: viper.GetString("database.path")},
		Redis:    RedisConfig{URL: viper.GetString("redis.url")},
		Log: LogConfig{
			Level: viper.GetString("log.level"),
			JSON:  viper.GetBool("log.json"),
		},
		Server: ServerConfig{
			Bind:       viper.GetString("server.bind"),
			RPS:        viper.GetFloat64("server.rps"),
			Burst:      viper.GetInt("server.burst"),
			TrustProxy: viper.GetBool("server.trust_proxy"),
		},
		Lookup:    LookupConfig{Timeout: viper.GetDuration("lookup.timeout")},
		Providers: providers,
	}
}

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Lookup    LookupConfig    `mapstructure:"lookup"`
	Providers ProvidersConfig `mapstructure:"providers"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type ServerConfig struct {
	Bind       string  `mapstructure:"bind"`
	RPS        float64 `mapstructure:"rps"`
	Burst      int     `mapstructure:"burst"`
	TrustProxy bool    `mapstructure:"trust_proxy"`
}

type LookupConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// ProvidersConfig mirrors provider.Config.
type ProvidersConfig = provider.Config
