// Package lookup runs a complete IOC lookup: orchestration, scoring, the
// response document, and the side effects that follow it.
package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cyberlens/cyber-lens/internal/bus"
	"github.com/cyberlens/cyber-lens/internal/engine"
	"github.com/cyberlens/cyber-lens/internal/ioc"
	"github.com/cyberlens/cyber-lens/internal/metrics"
	"github.com/cyberlens/cyber-lens/internal/orchestrator"
	"github.com/cyberlens/cyber-lens/internal/provider"
	"github.com/cyberlens/cyber-lens/internal/scoring"
	"github.com/cyberlens/cyber-lens/internal/store"
)

// HistoryStore is the part of the store a lookup writes to.
type HistoryStore interface {
	SaveLookup(ctx context.Context, owner store.Owner, rec store.Record) (string, error)
}

// Request is one lookup as received from a client.
type Request struct {
	IOC string
	// Type is an optional hint. Unknown values are ignored with a warning.
	Type            string
	ProviderOptions provider.Options
	// Owner, when set, scopes the saved history entry.
	Owner *store.Owner
}

// Response is the document returned to clients and stored in history.
type Response struct {
	IOC       string          `json:"ioc"`
	Type      *ioc.Type       `json:"type"`
	Score     int             `json:"score"`
	Verdict   string          `json:"verdict"`
	Providers []engine.Result `json:"providers"`
	Meta      Meta            `json:"meta"`
}

// Meta carries timing, hint validation and the scoring audit trail.
type Meta struct {
	ExecutedAt      time.Time   `json:"executedAt"`
	ExecutionTimeMs int64       `json:"executionTimeMs"`
	Validation      *Validation `json:"validation,omitempty"`
	Scoring         ScoringInfo `json:"scoring"`
}

// Validation is the type hint check. Warning is set when the hint itself was
// not a known type, in which case the embedded result is absent.
type Validation struct {
	*ioc.Validation
	Warning string `json:"warning,omitempty"`
}

// ScoringInfo summarises the scoring run.
type ScoringInfo struct {
	ProcessedProviders int          `json:"processedProviders"`
	Warnings           []string     `json:"warnings"`
	ScoringMeta        scoring.Meta `json:"scoringMeta"`
}

// Result pairs the response with its history id (empty when not saved).
type Result struct {
	ID       string
	Response *Response
}

// Service performs lookups.
type Service struct {
	orch    *orchestrator.Orchestrator
	history HistoryStore
	bus     bus.Bus
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger
}

// Option configures a Service.
type Option func(*Service)

// WithHistory saves every owned lookup to h.
func WithHistory(h HistoryStore) Option {
	return func(s *Service) { s.history = h }
}

// WithBus announces every lookup on b.
func WithBus(b bus.Bus) Option {
	return func(s *Service) { s.bus = b }
}

// WithMetrics counts lookups by verdict.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService builds a lookup service around orch.
func NewService(orch *orchestrator.Orchestrator, opts ...Option) *Service {
	s := &Service{
		orch:   orch,
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus == nil {
		s.bus = bus.NewNullBus(s.logger)
	}
	return s
}

// Orchestrator returns the underlying orchestrator.
func (s *Service) Orchestrator() *orchestrator.Orchestrator {
	return s.orch
}

// Lookup runs one lookup. Only an invalid IOC or an internal fault returns an
// error; provider failures, history and bus failures never do.
func (s *Service) Lookup(ctx context.Context, req Request) (*Result, error) {
	opts := orchestrator.Options{ProviderOptions: req.ProviderOptions}

	var validation *Validation
	if hint := strings.TrimSpace(req.Type); hint != "" {
		if t, ok := ioc.ParseType(hint); ok {
			opts.UserSelectedType = &t
		} else {
			validation = &Validation{Warning: fmt.Sprintf("unknown type %q ignored", hint)}
		}
	}

	orchestrated, err := s.orch.Orchestrate(ctx, req.IOC, opts)
	if err != nil {
		return nil, err
	}
	if orchestrated.Validation != nil {
		validation = &Validation{Validation: orchestrated.Validation}
	}

	scored := scoring.Score(scoring.NormalizeAll(orchestrated.Providers))
	resp := &Response{
		IOC:       orchestrated.IOC,
		Type:      orchestrated.DetectedType,
		Score:     scored.FinalScore,
		Verdict:   scored.Verdict,
		Providers: orchestrated.Providers,
		Meta: Meta{
			ExecutedAt:      orchestrated.Meta.ExecutedAt,
			ExecutionTimeMs: orchestrated.Meta.ExecutionTimeMs,
			Validation:      validation,
			Scoring: ScoringInfo{
				ProcessedProviders: scored.ProcessedProviders,
				Warnings:           scored.Warnings,
				ScoringMeta:        scored.Meta,
			},
		},
	}

	if s.metrics != nil {
		s.metrics.ObserveLookup(resp.Verdict)
	}
	s.logger.Infow("lookup complete",
		"ioc", resp.IOC,
		"type", typeLabel(resp.Type),
		"score", resp.Score,
		"verdict", resp.Verdict,
		"processed", scored.ProcessedProviders,
		"elapsed_ms", resp.Meta.ExecutionTimeMs,
	)

	result := &Result{Response: resp}
	if req.Owner != nil {
		result.ID = s.save(ctx, *req.Owner, resp)
	}
	s.publish(ctx, req.Owner, result.ID, resp)
	return result, nil
}

func (s *Service) save(ctx context.Context, owner store.Owner, resp *Response) string {
	if s.history == nil {
		return ""
	}
	body, err := json.Marshal(resp)
	if err != nil {
		s.logger.Errorw("failed to encode lookup for history", "ioc", resp.IOC, "error", err)
		return ""
	}
	id, err := s.history.SaveLookup(ctx, owner, store.Record{
		IOCValue:     resp.IOC,
		IOCType:      typeLabel(resp.Type),
		Verdict:      resp.Verdict,
		Score:        resp.Score,
		ResponseJSON: string(body),
		CreatedAt:    resp.Meta.ExecutedAt,
	})
	if err != nil {
		s.logger.Errorw("failed to save lookup history", "ioc", resp.IOC, "error", err)
		return ""
	}
	return id
}

func (s *Service) publish(ctx context.Context, owner *store.Owner, id string, resp *Response) {
	msg := bus.LookupMessage{
		LookupID:  id,
		IOC:       resp.IOC,
		Type:      typeLabel(resp.Type),
		Verdict:   resp.Verdict,
		Score:     resp.Score,
		Timestamp: resp.Meta.ExecutedAt.Unix(),
	}
	if owner != nil {
		msg.OwnerType, msg.OwnerID = owner.Type, owner.ID
	}
	if err := s.bus.PublishLookup(ctx, msg); err != nil {
		s.logger.Warnw("failed to publish lookup", "ioc", resp.IOC, "error", err)
	}
}

func typeLabel(t *ioc.Type) string {
	if t == nil {
		return ""
	}
	return string(*t)
}
