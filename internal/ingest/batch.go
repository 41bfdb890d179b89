package ingest

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/cyberlens/cyber-lens/internal/lookup"
	"github.com/cyberlens/cyber-lens/internal/store"
)

// DefaultConcurrency bounds how many lookups a Runner has in flight.
const DefaultConcurrency = 4

// Looker performs lookups.
type Looker interface {
	Lookup(ctx context.Context, req lookup.Request) (*lookup.Result, error)
}

// Outcome is the result of looking up one Item.
type Outcome struct {
	Item   Item
	Result *lookup.Result
	Err    error
}

// Summary counts a batch by verdict.
type Summary struct {
	Total    int            `json:"total"`
	Failed   int            `json:"failed"`
	Verdicts map[string]int `json:"verdicts"`
}

// Add folds outcomes into the summary.
func (s *Summary) Add(outcomes ...Outcome) {
	if s.Verdicts == nil {
		s.Verdicts = make(map[string]int)
	}
	for _, o := range outcomes {
		s.Total++
		if o.Err != nil || o.Result == nil {
			s.Failed++
			continue
		}
		s.Verdicts[o.Result.Response.Verdict]++
	}
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// Owner, when set, saves every lookup to that owner's history.
	Owner       *store.Owner
	Concurrency int
	Logger      *zap.SugaredLogger
}

// Runner looks up batches of items with bounded concurrency.
type Runner struct {
	looker Looker
	opts   RunnerOptions
}

// NewRunner constructs a Runner.
func NewRunner(l Looker, opts RunnerOptions) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Runner{looker: l, opts: opts}
}

// Run looks up every item and returns outcomes in input order. Items not yet
// started when ctx is cancelled get ctx.Err() as their error.
func (r *Runner) Run(ctx context.Context, items []Item) []Outcome {
	outcomes := make([]Outcome, len(items))
	sem := make(chan struct{}, r.opts.Concurrency)
	var wg sync.WaitGroup

	for i, item := range items {
		outcomes[i].Item = item
		if err := ctx.Err(); err != nil {
			outcomes[i].Err = err
			continue
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			outcomes[i].Err = ctx.Err()
			continue
		}

		wg.Add(1)
		go func(i int, item Item) {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := r.looker.Lookup(ctx, lookup.Request{IOC: item.IOC, Type: item.Type, Owner: r.opts.Owner})
			if err != nil {
				r.opts.Logger.Warnw("batch lookup failed", "ioc", item.IOC, "error", err)
			}
			outcomes[i].Result, outcomes[i].Err = res, err
		}(i, item)
	}
	wg.Wait()
	return outcomes
}
