package provider

import (
	"context"
	"fmt"
	"math"
	"net/netip"
	"net/url"
	"time"

	"github.com/cyberlens/cyber-lens/internal/ioc"
)

const otxDefaultBaseURL = "https://otx.alienvault.com"

// OTX queries AlienVault OTX indicator pulses.
type OTX struct {
	http *httpClient
}

// NewOTX builds an OTX adapter. An empty baseURL selects the public API.
func NewOTX(apiKey, baseURL string, timeout time.Duration, rps float64, burst int) *OTX {
	if baseURL == "" {
		baseURL = otxDefaultBaseURL
	}
	return &OTX{http: newHTTPClient(httpClientOpts{
		Provider: "otx",
		BaseURL:  baseURL,
		Headers:  map[string]string{"X-OTX-API-KEY": apiKey},
		Timeout:  timeout,
		RPS:      rps,
		Burst:    burst,
	})}
}

func (p *OTX) Name() string { return "otx" }

type otxGeneral struct {
	Reputation int `json:"reputation"`
	PulseInfo  struct {
		Count  int `json:"count"`
		Pulses []struct {
			Name string   `json:"name"`
			Tags []string `json:"tags"`
		} `json:"pulses"`
	} `json:"pulse_info"`
}

func (p *OTX) Query(ctx context.Context, value string, t ioc.Type, _ Options) (*RawResult, error) {
	value = ioc.Canonical(value, &t)
	section, err := otxSection(value, t)
	if err != nil {
		return nil, err
	}
	var g otxGeneral
	path := fmt.Sprintf("/api/v1/indicators/%s/%s/general", section, url.PathEscape(value))
	if err := p.http.getJSON(ctx, path, nil, &g); err != nil {
		return nil, err
	}

	count := g.PulseInfo.Count
	verdict := VerdictClean
	switch {
	case count >= 3:
		verdict = VerdictMalicious
	case count >= 1:
		verdict = VerdictSuspicious
	}
	score := math.Min(100, float64(count)*20)
	confidence := math.Min(95, 40+float64(count)*10)

	seen := make(map[string]bool)
	var tags []string
	for _, pulse := range g.PulseInfo.Pulses {
		for _, tag := range pulse.Tags {
			if !seen[tag] {
				seen[tag] = true
				tags = append(tags, tag)
			}
		}
	}

	return &RawResult{
		ProviderName: "otx",
		Verdict:      verdict,
		Confidence:   float(confidence),
		Score:        float(score),
		Summary:      fmt.Sprintf("Referenced in %d OTX pulse(s)", count),
		Tags:         tags,
		Details: map[string]any{
			"pulse_count": count,
			"reputation":  g.Reputation,
		},
	}, nil
}

func otxSection(value string, t ioc.Type) (string, error) {
	switch t {
	case ioc.TypeIP:
		if addr, err := netip.ParseAddr(value); err == nil && addr.Is6() && !addr.Is4In6() {
			return "IPv6", nil
		}
		return "IPv4", nil
	case ioc.TypeDomain:
		return "domain", nil
	case ioc.TypeURL:
		return "url", nil
	case ioc.TypeHash:
		return "file", nil
	}
	return "", fmt.Errorf("otx: %w: %s", ErrUnsupportedType, t)
}
