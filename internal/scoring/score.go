package scoring

import (
	"fmt"
	"math"

	"github.com/cyberlens/cyber-lens/internal/engine"
	"github.com/cyberlens/cyber-lens/internal/provider"
)

// Verdict thresholds on the final score. Presentation code colours the same boundaries.
const (
	MaliciousThreshold  = 70
	SuspiciousThreshold = 40
)

var weights = map[Confidence]int{
	ConfidenceHigh:   3,
	ConfidenceMedium: 2,
	ConfidenceLow:    1,
}

// imputed scores for providers that give a verdict but no number.
var imputed = map[string]float64{
	provider.VerdictMalicious:  90,
	provider.VerdictSuspicious: 50,
	provider.VerdictClean:      10,
}

// Contribution records how one provider fed into the final score.
type Contribution struct {
	Provider   string     `json:"provider"`
	Verdict    string     `json:"verdict"`
	Confidence Confidence `json:"confidence"`
	Score      float64    `json:"score"`
	Weight     int        `json:"weight"`
	Imputed    bool       `json:"imputed"`
}

// Meta is the audit trail of a scoring run.
type Meta struct {
	WeightSum     int            `json:"weightSum"`
	WeightedTotal float64        `json:"weightedTotal"`
	Contributions []Contribution `json:"contributions"`
}

// Result is the aggregate verdict.
type Result struct {
	FinalScore         int      `json:"finalScore"`
	Verdict            string   `json:"verdict"`
	ProcessedProviders int      `json:"processedProviders"`
	Warnings           []string `json:"warnings"`
	Meta               Meta     `json:"meta"`
}

// VerdictForScore maps a 0-100 score onto malicious, suspicious or clean.
func VerdictForScore(score int) string {
	switch {
	case score >= MaliciousThreshold:
		return provider.VerdictMalicious
	case score >= SuspiciousThreshold:
		return provider.VerdictSuspicious
	default:
		return provider.VerdictClean
	}
}

// Score combines normalized envelopes into one confidence-weighted result.
// Envelopes that failed, timed out, carry no data or no verdict are excluded
// and reported in Warnings. With nothing left the result is 0 and clean.
func Score(results []NormalizedResult) Result {
	res := Result{
		Warnings: []string{},
		Meta:     Meta{Contributions: []Contribution{}},
	}

	var total float64
	for _, r := range results {
		if w := exclusion(r); w != "" {
			res.Warnings = append(res.Warnings, w)
			continue
		}

		d := r.Data
		c := Contribution{
			Provider:   d.ProviderName,
			Verdict:    d.Verdict,
			Confidence: d.Confidence,
			Weight:     weights[d.Confidence],
		}
		if c.Weight == 0 {
			c.Weight = weights[ConfidenceMedium]
		}
		if d.Score != nil && !math.IsNaN(*d.Score) {
			c.Score = clamp(*d.Score)
		} else {
			c.Score = imputed[d.Verdict]
			c.Imputed = true
		}

		total += c.Score * float64(c.Weight)
		res.Meta.WeightSum += c.Weight
		res.Meta.Contributions = append(res.Meta.Contributions, c)
		res.ProcessedProviders++
	}
	res.Meta.WeightedTotal = total

	if res.ProcessedProviders == 0 {
		res.FinalScore = 0
		res.Verdict = provider.VerdictClean
		return res
	}

	res.FinalScore = int(clamp(math.Round(total / float64(res.Meta.WeightSum))))
	res.Verdict = VerdictForScore(res.FinalScore)
	return res
}

func exclusion(r NormalizedResult) string {
	switch {
	case r.Status == engine.StatusTimeout:
		return fmt.Sprintf("provider %s timed out", r.Provider)
	case r.Status == engine.StatusError:
		if r.Error != "" {
			return fmt.Sprintf("provider %s failed: %s", r.Provider, r.Error)
		}
		return fmt.Sprintf("provider %s failed", r.Provider)
	case r.Status != engine.StatusSuccess:
		return fmt.Sprintf("provider %s returned unexpected status %q", r.Provider, r.Status)
	case r.Data == nil:
		return fmt.Sprintf("provider %s returned no data", r.Provider)
	case r.Data.Verdict == "" || r.Data.Verdict == provider.VerdictUnknown:
		return fmt.Sprintf("provider %s returned no verdict", r.Provider)
	}
	return ""
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
