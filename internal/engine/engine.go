// Package engine fans one IOC out to every configured provider and collects
// a result envelope per provider, whatever the outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cyberlens/cyber-lens/internal/ioc"
	"github.com/cyberlens/cyber-lens/internal/provider"
)

// DefaultTimeout bounds each provider call when Options.Timeout is unset.
const DefaultTimeout = 8 * time.Second

// Status is the settlement state of one provider call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// Result is the per-provider envelope. Exactly one of Data and Error is set.
type Result struct {
	Provider  string              `json:"provider"`
	Status    Status              `json:"status"`
	Data      *provider.RawResult `json:"data,omitempty"`
	Error     string              `json:"error,omitempty"`
	LatencyMs int64               `json:"latencyMs"`
}

// Options tunes a single Execute call.
type Options struct {
	Timeout         time.Duration
	ProviderOptions provider.Options

	// Observer, when set, is called once per provider as it settles.
	// It runs on the provider's goroutine and must be safe for concurrent use.
	Observer func(Result)
}

// Execute queries every provider concurrently and waits for all of them to
// settle. The returned slice has one entry per provider in input order.
//
// A provider that outlives its deadline is abandoned, not killed: its context
// is cancelled and whatever it returns later is discarded.
func Execute(ctx context.Context, providers []provider.Provider, value string, t ioc.Type, opts Options) []Result {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	results := make([]Result, len(providers))
	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p provider.Provider) {
			defer wg.Done()
			results[i] = run(ctx, p, value, t, timeout, opts.ProviderOptions)
			if opts.Observer != nil {
				opts.Observer(results[i])
			}
		}(i, p)
	}
	wg.Wait()
	return results
}

type outcome struct {
	data *provider.RawResult
	err  error
}

func run(parent context.Context, p provider.Provider, value string, t ioc.Type, timeout time.Duration, popts provider.Options) Result {
	start := time.Now()
	name := providerName(p)
	settle := func(status Status, data *provider.RawResult, msg string) Result {
		return Result{
			Provider:  name,
			Status:    status,
			Data:      data,
			Error:     msg,
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}
	if p == nil {
		return settle(StatusError, nil, "provider is nil")
	}

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("provider panicked: %v", r)}
			}
		}()
		data, err := p.Query(ctx, value, t, popts)
		done <- outcome{data: data, err: err}
	}()

	timedOut := func() Result {
		return settle(StatusTimeout, nil, fmt.Sprintf("provider %s timed out after %dms", name, timeout.Milliseconds()))
	}

	select {
	case o := <-done:
		switch {
		case o.err != nil:
			if errors.Is(o.err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return timedOut()
			}
			return settle(StatusError, nil, o.err.Error())
		case o.data == nil:
			return settle(StatusError, nil, "empty response")
		default:
			return settle(StatusSuccess, o.data, "")
		}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return timedOut()
		}
		return settle(StatusError, nil, fmt.Sprintf("provider %s cancelled: %v", name, ctx.Err()))
	}
}

func providerName(p provider.Provider) (name string) {
	if p == nil {
		return "unknown"
	}
	defer func() {
		if recover() != nil {
			name = "unknown"
		}
	}()
	return p.Name()
}
