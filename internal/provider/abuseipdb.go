package provider

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/cyberlens/cyber-lens/internal/ioc"
)

const abuseIPDBDefaultBaseURL = "https://api.abuseipdb.com"

// AbuseIPDB checks IP reputation. Other IOC types are rejected.
type AbuseIPDB struct {
	http       *httpClient
	maxAgeDays int
}

// NewAbuseIPDB builds an AbuseIPDB adapter. An empty baseURL selects the public API.
func NewAbuseIPDB(apiKey, baseURL string, timeout time.Duration, rps float64, burst int) *AbuseIPDB {
	if baseURL == "" {
		baseURL = abuseIPDBDefaultBaseURL
	}
	return &AbuseIPDB{
		http: newHTTPClient(httpClientOpts{
			Provider: "abuseipdb",
			BaseURL:  baseURL,
			Headers:  map[string]string{"Key": apiKey},
			Timeout:  timeout,
			RPS:      rps,
			Burst:    burst,
		}),
		maxAgeDays: 90,
	}
}

func (p *AbuseIPDB) Name() string { return "abuseipdb" }

type abuseCheck struct {
	Data struct {
		IPAddress            string `json:"ipAddress"`
		IsWhitelisted        bool   `json:"isWhitelisted"`
		AbuseConfidenceScore int    `json:"abuseConfidenceScore"`
		CountryCode          string `json:"countryCode"`
		UsageType            string `json:"usageType"`
		ISP                  string `json:"isp"`
		Domain               string `json:"domain"`
		IsTor                bool   `json:"isTor"`
		TotalReports         int    `json:"totalReports"`
		LastReportedAt       string `json:"lastReportedAt"`
	} `json:"data"`
}

func (p *AbuseIPDB) Query(ctx context.Context, value string, t ioc.Type, opts Options) (*RawResult, error) {
	value = ioc.Canonical(value, &t)
	if t != ioc.TypeIP {
		return nil, fmt.Errorf("abuseipdb: %w: %s", ErrUnsupportedType, t)
	}
	maxAge := p.maxAgeDays
	if v, ok := opts["maxAgeInDays"].(int); ok && v > 0 {
		maxAge = v
	}
	q := url.Values{}
	q.Set("ipAddress", value)
	q.Set("maxAgeInDays", fmt.Sprintf("%d", maxAge))

	var res abuseCheck
	if err := p.http.getJSON(ctx, "/api/v2/check", q, &res); err != nil {
		return nil, err
	}
	d := res.Data

	score := clamp(float64(d.AbuseConfidenceScore), 0, 100)
	verdict := VerdictClean
	switch {
	case score >= 75:
		verdict = VerdictMalicious
	case score >= 25:
		verdict = VerdictSuspicious
	}
	confidence := math.Min(95, 30+float64(d.TotalReports)*5)
	if d.IsWhitelisted {
		verdict = VerdictClean
		confidence = 90
	}

	var tags []string
	if d.IsTor {
		tags = append(tags, "tor")
	}
	if d.UsageType != "" {
		tags = append(tags, d.UsageType)
	}

	return &RawResult{
		ProviderName: "abuseipdb",
		Verdict:      verdict,
		Confidence:   float(confidence),
		Score:        float(score),
		Summary:      fmt.Sprintf("Abuse confidence %d%% from %d report(s)", d.AbuseConfidenceScore, d.TotalReports),
		Tags:         tags,
		Details: map[string]any{
			"country_code":     d.CountryCode,
			"isp":              d.ISP,
			"domain":           d.Domain,
			"total_reports":    d.TotalReports,
			"last_reported_at": d.LastReportedAt,
			"is_whitelisted":   d.IsWhitelisted,
		},
	}, nil
}
