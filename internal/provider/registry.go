package provider

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultOrder is the order adapters are built in when no list is configured.
var DefaultOrder = []string{"otx", "abuseipdb", "virustotal"}

// selfHosted adapters have no public endpoint and are only built when
// enabled explicitly with a base_url.
var selfHosted = []string{"misp", "opencti"}

// Settings configures one adapter.
type Settings struct {
	APIKey  string  `mapstructure:"api_key"`
	BaseURL string  `mapstructure:"base_url"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// Config selects and configures the adapters to build.
type Config struct {
	Enabled     []string            `mapstructure:"enabled"`
	DryRun      bool                `mapstructure:"dry_run"`
	HTTPTimeout time.Duration       `mapstructure:"http_timeout"`
	Settings    map[string]Settings `mapstructure:"settings"`
}

// Build constructs the enabled adapters in configuration order. An adapter
// without an API key is replaced by a mock in dry-run mode and skipped otherwise.
func Build(cfg Config, logger *zap.SugaredLogger) ([]Provider, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	names := cfg.Enabled
	if len(names) == 0 {
		names = DefaultOrder
	}

	seen := make(map[string]bool)
	var out []Provider
	for _, raw := range names {
		name := normalize(raw)
		if seen[name] {
			continue
		}
		seen[name] = true

		s := cfg.Settings[name]
		if name == "mock" {
			out = append(out, NewMock("mock"))
			continue
		}
		if !known(name) {
			return nil, fmt.Errorf("unknown provider: %s", raw)
		}
		if isSelfHosted(name) && s.BaseURL == "" && !cfg.DryRun {
			logger.Warnf("No base_url configured for %s; provider skipped", name)
			continue
		}
		if cfg.DryRun || s.APIKey == "" {
			if cfg.DryRun {
				logger.Infof("Dry-run enabled: using mock client for %s", name)
				out = append(out, NewMock(name))
			} else {
				logger.Warnf("No API key configured for %s; provider skipped", name)
			}
			continue
		}

		switch name {
		case "otx":
			out = append(out, NewOTX(s.APIKey, s.BaseURL, cfg.HTTPTimeout, s.RPS, s.Burst))
		case "abuseipdb":
			out = append(out, NewAbuseIPDB(s.APIKey, s.BaseURL, cfg.HTTPTimeout, s.RPS, s.Burst))
		case "virustotal":
			out = append(out, NewVirusTotal(s.APIKey, s.BaseURL, cfg.HTTPTimeout, s.RPS, s.Burst))
		case "misp":
			out = append(out, NewMISP(s.APIKey, s.BaseURL, cfg.HTTPTimeout, s.RPS, s.Burst))
		case "opencti":
			out = append(out, NewOpenCTI(s.APIKey, s.BaseURL, cfg.HTTPTimeout, s.RPS, s.Burst))
		}
	}
	return out, nil
}

// Names returns the adapter names in order.
func Names(providers []Provider) []string {
	out := make([]string, len(providers))
	for i, p := range providers {
		out[i] = p.Name()
	}
	return out
}

func known(name string) bool {
	for _, n := range DefaultOrder {
		if n == name {
			return true
		}
	}
	return isSelfHosted(name)
}

func isSelfHosted(name string) bool {
	for _, n := range selfHosted {
		if n == name {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "alienvault", "alienvault-otx", "otx":
		return "otx"
	case "abuse-ipdb", "abuse_ipdb", "abuseipdb":
		return "abuseipdb"
	case "vt", "virus-total", "virus_total", "virustotal":
		return "virustotal"
	case "open-cti", "open_cti", "opencti":
		return "opencti"
	default:
		return s
	}
}
