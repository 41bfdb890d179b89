package provider

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cyberlens/cyber-lens/internal/ioc"
)

// OpenCTI looks up cyber observables through the OpenCTI GraphQL API.
type OpenCTI struct {
	http *httpClient
}

// NewOpenCTI builds an OpenCTI adapter. baseURL is required.
func NewOpenCTI(token, baseURL string, timeout time.Duration, rps float64, burst int) *OpenCTI {
	return &OpenCTI{http: newHTTPClient(httpClientOpts{
		Provider: "opencti",
		BaseURL:  baseURL,
		Headers:  map[string]string{"Authorization": "Bearer " + token},
		Timeout:  timeout,
		RPS:      rps,
		Burst:    burst,
	})}
}

func (p *OpenCTI) Name() string { return "opencti" }

const openctiObservablesQuery = `
query GetObservables($filters: [StixCyberObservablesFiltering]) {
  stixCyberObservables(filters: $filters, first: 10) {
    edges {
      node {
        entity_type
        observable_value
        x_opencti_score
        labels { edges { node { value } } }
        indicators { edges { node { name confidence } } }
      }
    }
  }
}`

type openctiLabels struct {
	Edges []struct {
		Node struct {
			Value string `json:"value"`
		} `json:"node"`
	} `json:"edges"`
}

type openctiObservable struct {
	EntityType      string        `json:"entity_type"`
	ObservableValue string        `json:"observable_value"`
	Score           *float64      `json:"x_opencti_score"`
	Labels          openctiLabels `json:"labels"`
	Indicators      struct {
		Edges []struct {
			Node struct {
				Name       string   `json:"name"`
				Confidence *float64 `json:"confidence"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"indicators"`
}

type openctiResponse struct {
	Data struct {
		StixCyberObservables struct {
			Edges []struct {
				Node openctiObservable `json:"node"`
			} `json:"edges"`
		} `json:"stixCyberObservables"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (p *OpenCTI) Query(ctx context.Context, value string, t ioc.Type, _ Options) (*RawResult, error) {
	value = ioc.Canonical(value, &t)
	switch t {
	case ioc.TypeIP, ioc.TypeDomain, ioc.TypeURL, ioc.TypeHash:
	default:
		return nil, fmt.Errorf("opencti: %w: %s", ErrUnsupportedType, t)
	}

	body := map[string]any{
		"query": openctiObservablesQuery,
		"variables": map[string]any{
			"filters": []map[string]any{{"key": "value", "values": []string{value}}},
		},
	}
	var resp openctiResponse
	if err := p.http.postJSON(ctx, "/graphql", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, errors.New("opencti graphql: " + strings.Join(msgs, "; "))
	}

	edges := resp.Data.StixCyberObservables.Edges
	if len(edges) == 0 {
		return &RawResult{
			ProviderName: "opencti",
			Verdict:      VerdictClean,
			Confidence:   float(20),
			Summary:      "Not present in OpenCTI",
		}, nil
	}

	var score *float64
	var confidence *float64
	indicators := 0
	seen := make(map[string]bool)
	var tags []string
	for _, e := range edges {
		obs := e.Node
		if obs.Score != nil && (score == nil || *obs.Score > *score) {
			score = float(clamp(*obs.Score, 0, 100))
		}
		for _, l := range obs.Labels.Edges {
			if v := l.Node.Value; v != "" && !seen[v] {
				seen[v] = true
				tags = append(tags, v)
			}
		}
		for _, ind := range obs.Indicators.Edges {
			indicators++
			if c := ind.Node.Confidence; c != nil && (confidence == nil || *c > *confidence) {
				confidence = float(clamp(*c, 0, 100))
			}
		}
	}
	if confidence == nil {
		// Observables without indicators are weak evidence.
		confidence = float(math.Min(60, 30+10*float64(len(edges))))
	}

	verdict := VerdictUnknown
	if score != nil {
		verdict = VerdictClean
		switch {
		case *score >= 70:
			verdict = VerdictMalicious
		case *score >= 40:
			verdict = VerdictSuspicious
		}
	} else if indicators > 0 {
		verdict = VerdictSuspicious
	}

	return &RawResult{
		ProviderName: "opencti",
		Verdict:      verdict,
		Confidence:   confidence,
		Score:        score,
		Summary:      fmt.Sprintf("%d observable(s), %d indicator(s) in OpenCTI", len(edges), indicators),
		Tags:         tags,
		Details: map[string]any{
			"observable_count": len(edges),
			"indicator_count":  indicators,
		},
	}, nil
}
