// Package orchestrator runs classification and provider execution for one IOC.
// Scoring is deliberately left to the caller.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cyberlens/cyber-lens/internal/engine"
	"github.com/cyberlens/cyber-lens/internal/ioc"
	"github.com/cyberlens/cyber-lens/internal/provider"
	"go.uber.org/zap"
)

// ErrInvalidIOC is returned for an empty or whitespace-only indicator.
var ErrInvalidIOC = errors.New("missing or invalid ioc")

// Meta carries timing for one orchestration.
type Meta struct {
	ExecutedAt      time.Time `json:"executedAt"`
	ExecutionTimeMs int64     `json:"executionTimeMs"`
}

// Response is built once per lookup and never mutated afterwards.
type Response struct {
	IOC          string          `json:"ioc"`
	DetectedType *ioc.Type       `json:"detectedType"`
	Providers    []engine.Result `json:"providers"`
	Validation   *ioc.Validation `json:"validation,omitempty"`
	Meta         Meta            `json:"meta"`
}

// Options tunes one Orchestrate call.
type Options struct {
	// UserSelectedType is an advisory hint; it never changes which type is executed.
	UserSelectedType *ioc.Type
	ProviderOptions  provider.Options
	Timeout          time.Duration
}

// Orchestrator owns the provider list and default per-provider timeout.
type Orchestrator struct {
	providers []provider.Provider
	timeout   atomic.Int64
	logger    *zap.SugaredLogger
	observer  func(engine.Result)
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimeout sets the default per-provider timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.SetTimeout(d) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver registers a hook called as each provider settles.
func WithObserver(fn func(engine.Result)) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// New builds an Orchestrator over providers. The slice is copied.
func New(providers []provider.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		providers: append([]provider.Provider(nil), providers...),
		logger:    zap.NewNop().Sugar(),
		now:       time.Now,
	}
	o.timeout.Store(int64(engine.DefaultTimeout))
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Providers returns the configured provider names in execution order.
func (o *Orchestrator) Providers() []string {
	return provider.Names(o.providers)
}

// SetTimeout replaces the default per-provider timeout. Safe to call while
// lookups are in flight; non-positive values are ignored.
func (o *Orchestrator) SetTimeout(d time.Duration) {
	if d > 0 {
		o.timeout.Store(int64(d))
	}
}

// Timeout returns the default per-provider timeout.
func (o *Orchestrator) Timeout() time.Duration {
	return time.Duration(o.timeout.Load())
}

// Orchestrate classifies value and, when a type is detected, fans it out to
// every provider. An undetectable IOC returns an empty provider list without
// calling anything.
func (o *Orchestrator) Orchestrate(ctx context.Context, value string, opts Options) (*Response, error) {
	start := o.now()
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, ErrInvalidIOC
	}

	detected := ioc.Detect(value)
	resp := &Response{
		IOC:          value,
		DetectedType: detected.Type,
		Providers:    []engine.Result{},
	}
	if opts.UserSelectedType != nil {
		v := ioc.Validate(value, *opts.UserSelectedType)
		resp.Validation = &v
		if !v.Matches {
			o.logger.Infof("Type hint %s does not match detected type %s for %q", *opts.UserSelectedType, typeString(detected.Type), value)
		}
	}

	if detected.Type == nil {
		o.logger.Debugf("Could not classify %q; skipping providers", value)
		resp.Meta = o.meta(start)
		return resp, nil
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = o.Timeout()
	}
	resp.Providers = engine.Execute(ctx, o.providers, ioc.Canonical(value, detected.Type), *detected.Type, engine.Options{
		Timeout:         timeout,
		ProviderOptions: opts.ProviderOptions,
		Observer:        o.observe,
	})
	resp.Meta = o.meta(start)
	return resp, nil
}

func (o *Orchestrator) observe(r engine.Result) {
	switch r.Status {
	case engine.StatusSuccess:
		o.logger.Debugf("Provider %s answered in %dms", r.Provider, r.LatencyMs)
	default:
		o.logger.Warnf("Provider %s %s after %dms: %s", r.Provider, r.Status, r.LatencyMs, r.Error)
	}
	if o.observer != nil {
		o.observer(r)
	}
}

func (o *Orchestrator) meta(start time.Time) Meta {
	end := o.now()
	return Meta{
		ExecutedAt:      end.UTC(),
		ExecutionTimeMs: end.Sub(start).Milliseconds(),
	}
}

func typeString(t *ioc.Type) string {
	if t == nil {
		return "none"
	}
	return string(*t)
}
