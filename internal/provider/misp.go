package provider

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/cyberlens/cyber-lens/internal/ioc"
)

// MISP searches attributes on a self-hosted MISP instance.
type MISP struct {
	http *httpClient
}

// NewMISP builds a MISP adapter. MISP has no public endpoint so baseURL is required.
func NewMISP(apiKey, baseURL string, timeout time.Duration, rps float64, burst int) *MISP {
	return &MISP{http: newHTTPClient(httpClientOpts{
		Provider: "misp",
		BaseURL:  baseURL,
		Headers:  map[string]string{"Authorization": apiKey},
		Timeout:  timeout,
		RPS:      rps,
		Burst:    burst,
	})}
}

func (p *MISP) Name() string { return "misp" }

type mispSearchRequest struct {
	ReturnFormat     string   `json:"returnFormat"`
	Value            string   `json:"value"`
	Type             []string `json:"type"`
	IncludeEventTags bool     `json:"includeEventTags"`
	Limit            int      `json:"limit"`
	Last             string   `json:"last,omitempty"`
}

type mispAttribute struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Category string `json:"category"`
	ToIDS    bool   `json:"to_ids"`
	Deleted  bool   `json:"deleted"`
	EventID  string `json:"event_id"`
	Event    *struct {
		Info          string `json:"info"`
		ThreatLevelID string `json:"threat_level_id"`
	} `json:"Event,omitempty"`
	Tags []struct {
		Name string `json:"name"`
	} `json:"Tag,omitempty"`
}

type mispSearchResponse struct {
	Response struct {
		Attribute []mispAttribute `json:"Attribute"`
	} `json:"response"`
}

// Query honours the "mispDaysBack" option (int) to bound the search window.
func (p *MISP) Query(ctx context.Context, value string, t ioc.Type, opts Options) (*RawResult, error) {
	value = ioc.Canonical(value, &t)
	types, err := mispTypes(value, t)
	if err != nil {
		return nil, err
	}
	req := mispSearchRequest{
		ReturnFormat:     "json",
		Value:            value,
		Type:             types,
		IncludeEventTags: true,
		Limit:            50,
	}
	if days, ok := opts["mispDaysBack"].(int); ok && days > 0 {
		req.Last = fmt.Sprintf("%dd", days)
	}

	var resp mispSearchResponse
	if err := p.http.postJSON(ctx, "/attributes/restSearch", req, &resp); err != nil {
		return nil, err
	}

	var attrs []mispAttribute
	for _, a := range resp.Response.Attribute {
		if !a.Deleted {
			attrs = append(attrs, a)
		}
	}
	if len(attrs) == 0 {
		return &RawResult{
			ProviderName: "misp",
			Verdict:      VerdictClean,
			Confidence:   float(20),
			Summary:      "Not present in MISP",
		}, nil
	}

	// Threat level ids: 1 high, 2 medium, 3 low, 4 undefined.
	level := 4
	toIDS := false
	events := make(map[string]bool)
	tagSet := make(map[string]bool)
	for _, a := range attrs {
		toIDS = toIDS || a.ToIDS
		events[a.EventID] = true
		for _, tag := range a.Tags {
			tagSet[tag.Name] = true
		}
		if a.Event != nil {
			if l, err := strconv.Atoi(a.Event.ThreatLevelID); err == nil && l >= 1 && l < level {
				level = l
			}
		}
	}

	var verdict string
	var score float64
	switch {
	case level == 1:
		verdict, score = VerdictMalicious, 90
	case level == 2 && toIDS:
		verdict, score = VerdictMalicious, 75
	case level == 2:
		verdict, score = VerdictSuspicious, 60
	default:
		verdict, score = VerdictSuspicious, 45
	}

	tags := make([]string, 0, len(tagSet))
	for tag := range tagSet {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	return &RawResult{
		ProviderName: "misp",
		Verdict:      verdict,
		Confidence:   float(math.Min(95, 50+10*float64(len(events)))),
		Score:        float(score),
		Summary:      fmt.Sprintf("Found in %d MISP event(s), threat level %s", len(events), mispThreatLevel(level)),
		Tags:         tags,
		Details: map[string]any{
			"attribute_count": len(attrs),
			"event_count":     len(events),
			"to_ids":          toIDS,
			"threat_level_id": level,
		},
	}, nil
}

func mispThreatLevel(id int) string {
	switch id {
	case 1:
		return "high"
	case 2:
		return "medium"
	case 3:
		return "low"
	default:
		return "undefined"
	}
}

func mispTypes(value string, t ioc.Type) ([]string, error) {
	switch t {
	case ioc.TypeIP:
		return []string{"ip-src", "ip-dst"}, nil
	case ioc.TypeDomain:
		return []string{"domain", "hostname"}, nil
	case ioc.TypeURL:
		return []string{"url", "link"}, nil
	case ioc.TypeHash:
		switch len(value) {
		case 32:
			return []string{"md5"}, nil
		case 40:
			return []string{"sha1"}, nil
		case 64:
			return []string{"sha256"}, nil
		case 128:
			return []string{"sha512"}, nil
		}
	}
	return nil, fmt.Errorf("misp: %w: %s", ErrUnsupportedType, t)
}
