// Package scoring turns raw provider envelopes into one weighted risk score.
package scoring

import (
	"strings"

	"github.com/cyberlens/cyber-lens/internal/engine"
	"github.com/cyberlens/cyber-lens/internal/provider"
)

// Confidence is a provider's reliability bucket.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Normalized is the common shape every provider payload is mapped into.
type Normalized struct {
	ProviderName string     `json:"provider_name"`
	Verdict      string     `json:"verdict"`
	Confidence   Confidence `json:"confidence"`
	Score        *float64   `json:"score,omitempty"`
	Summary      string     `json:"summary,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
}

// NormalizedResult is an engine envelope whose Data has been normalized.
// Data is nil for error and timeout envelopes.
type NormalizedResult struct {
	Provider  string        `json:"provider"`
	Status    engine.Status `json:"status"`
	Data      *Normalized   `json:"data,omitempty"`
	Error     string        `json:"error,omitempty"`
	LatencyMs int64         `json:"latencyMs"`
}

// ConfidenceBucket maps a raw 0-100 confidence to a bucket. A missing value is medium.
func ConfidenceBucket(raw *float64) Confidence {
	switch {
	case raw == nil:
		return ConfidenceMedium
	case *raw >= 70:
		return ConfidenceHigh
	case *raw >= 40:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Normalize maps one envelope. Only success envelopes with data are rewritten;
// everything else passes through with its status and error intact.
func Normalize(r engine.Result) NormalizedResult {
	out := NormalizedResult{
		Provider:  r.Provider,
		Status:    r.Status,
		Error:     r.Error,
		LatencyMs: r.LatencyMs,
	}
	if r.Status != engine.StatusSuccess || r.Data == nil {
		return out
	}

	d := r.Data
	name := d.ProviderName
	if name == "" {
		name = r.Provider
	}
	out.Data = &Normalized{
		ProviderName: name,
		Verdict:      normalizeVerdict(d.Verdict),
		Confidence:   ConfidenceBucket(d.Confidence),
		Score:        d.Score,
		Summary:      d.Summary,
		Tags:         d.Tags,
	}
	return out
}

// NormalizeAll maps every envelope, keeping order.
func NormalizeAll(results []engine.Result) []NormalizedResult {
	out := make([]NormalizedResult, len(results))
	for i, r := range results {
		out[i] = Normalize(r)
	}
	return out
}

func normalizeVerdict(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case provider.VerdictMalicious:
		return provider.VerdictMalicious
	case provider.VerdictSuspicious:
		return provider.VerdictSuspicious
	case provider.VerdictClean, "benign", "harmless":
		return provider.VerdictClean
	default:
		return provider.VerdictUnknown
	}
}
