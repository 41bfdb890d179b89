package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/cyberlens/cyber-lens/internal/ioc"
)

const virusTotalDefaultBaseURL = "https://www.virustotal.com"

// VirusTotal queries the VirusTotal v3 API.
type VirusTotal struct {
	http *httpClient
}

// NewVirusTotal builds a VirusTotal adapter. An empty baseURL selects the public API.
func NewVirusTotal(apiKey, baseURL string, timeout time.Duration, rps float64, burst int) *VirusTotal {
	if baseURL == "" {
		baseURL = virusTotalDefaultBaseURL
	}
	return &VirusTotal{http: newHTTPClient(httpClientOpts{
		Provider: "virustotal",
		BaseURL:  baseURL,
		Headers:  map[string]string{"x-apikey": apiKey},
		Timeout:  timeout,
		RPS:      rps,
		Burst:    burst,
	})}
}

func (p *VirusTotal) Name() string { return "virustotal" }

type vtObject struct {
	Data struct {
		Attributes struct {
			LastAnalysisStats struct {
				Malicious  int `json:"malicious"`
				Suspicious int `json:"suspicious"`
				Harmless   int `json:"harmless"`
				Undetected int `json:"undetected"`
			} `json:"last_analysis_stats"`
			Categories map[string]string `json:"categories"`
			Tags       []string          `json:"tags"`
			Reputation int               `json:"reputation"`
		} `json:"attributes"`
	} `json:"data"`
}

func (p *VirusTotal) Query(ctx context.Context, value string, t ioc.Type, _ Options) (*RawResult, error) {
	value = ioc.Canonical(value, &t)
	path, err := vtPath(value, t)
	if err != nil {
		return nil, err
	}

	var obj vtObject
	if err := p.http.getJSON(ctx, path, nil, &obj); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return &RawResult{
				ProviderName: "virustotal",
				Verdict:      VerdictClean,
				Confidence:   float(30),
				Summary:      "No VirusTotal record",
			}, nil
		}
		return nil, err
	}

	attrs := obj.Data.Attributes
	stats := attrs.LastAnalysisStats
	engines := stats.Malicious + stats.Suspicious + stats.Harmless + stats.Undetected

	verdict := VerdictClean
	switch {
	case stats.Malicious >= 3:
		verdict = VerdictMalicious
	case stats.Malicious > 0 || stats.Suspicious > 0:
		verdict = VerdictSuspicious
	}
	score := math.Min(100, float64(stats.Malicious*15+stats.Suspicious*5))

	confidence := 30.0
	switch {
	case engines >= 50:
		confidence = 85
	case engines >= 10:
		confidence = 60
	}

	tags := append([]string{}, attrs.Tags...)
	cats := make([]string, 0, len(attrs.Categories))
	for _, c := range attrs.Categories {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	tags = append(tags, cats...)

	return &RawResult{
		ProviderName: "virustotal",
		Verdict:      verdict,
		Confidence:   float(confidence),
		Score:        float(score),
		Summary:      fmt.Sprintf("Detected by %d/%d engines", stats.Malicious, engines),
		Tags:         tags,
		Details: map[string]any{
			"malicious":  stats.Malicious,
			"suspicious": stats.Suspicious,
			"harmless":   stats.Harmless,
			"undetected": stats.Undetected,
			"reputation": attrs.Reputation,
		},
	}, nil
}

func vtPath(value string, t ioc.Type) (string, error) {
	switch t {
	case ioc.TypeIP:
		return "/api/v3/ip_addresses/" + url.PathEscape(value), nil
	case ioc.TypeDomain:
		return "/api/v3/domains/" + url.PathEscape(value), nil
	case ioc.TypeHash:
		return "/api/v3/files/" + url.PathEscape(value), nil
	case ioc.TypeURL:
		// URL identifiers are the unpadded base64url of the URL itself.
		return "/api/v3/urls/" + base64.RawURLEncoding.EncodeToString([]byte(value)), nil
	}
	return "", fmt.Errorf("virustotal: %w: %s", ErrUnsupportedType, t)
}
