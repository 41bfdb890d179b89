// Package provider defines the capability every threat-intel source exposes
// and ships the concrete adapters (OTX, AbuseIPDB, VirusTotal, mock).
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/cyberlens/cyber-lens/internal/ioc"
)

// Provider is a threat-intel source that can give an opinion about one IOC.
// Implementations must be safe for concurrent use and should honor ctx.
type Provider interface {
	// Name returns the stable identifier used in result envelopes.
	Name() string

	// Query looks up value. It may fail for transport, auth or payload reasons.
	Query(ctx context.Context, value string, t ioc.Type, opts Options) (*RawResult, error)
}

// Options is an opaque bag of per-lookup provider options.
type Options map[string]any

// RawResult is the provider payload before normalization. Every field is optional.
type RawResult struct {
	ProviderName string         `json:"provider_name,omitempty"`
	Verdict      string         `json:"verdict,omitempty"`
	Confidence   *float64       `json:"confidence,omitempty"`
	Score        *float64       `json:"score,omitempty"`
	Summary      string         `json:"summary,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// Verdicts a provider may report.
const (
	VerdictMalicious  = "malicious"
	VerdictSuspicious = "suspicious"
	VerdictClean      = "clean"
	VerdictUnknown    = "unknown"
)

// ErrUnsupportedType is returned when a provider cannot look up the given IOC type.
var ErrUnsupportedType = errors.New("unsupported ioc type")

// StatusError reports a non-2xx response from a provider API.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

func float(v float64) *float64 { return &v }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
