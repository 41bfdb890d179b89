package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cyberlens/cyber-lens/internal/engine"
	"github.com/cyberlens/cyber-lens/internal/ioc"
	"github.com/cyberlens/cyber-lens/internal/provider"
	"github.com/cyberlens/cyber-lens/internal/scoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conf(v float64) *float64 { return &v }

func TestOrchestrate_UndetectableSkipsProviders(t *testing.T) {
	a, b := provider.NewMock("a"), provider.NewMock("b")
	o := New([]provider.Provider{a, b})

	resp, err := o.Orchestrate(context.Background(), "not-a-real-thing###", Options{})
	require.NoError(t, err)
	assert.Nil(t, resp.DetectedType)
	assert.Empty(t, resp.Providers)
	assert.NotNil(t, resp.Providers)
	assert.Equal(t, int64(0), a.Calls())
	assert.Equal(t, int64(0), b.Calls())
	assert.False(t, resp.Meta.ExecutedAt.IsZero())
}

func TestOrchestrate_EmptyIOC(t *testing.T) {
	o := New(nil)
	_, err := o.Orchestrate(context.Background(), "   ", Options{})
	assert.ErrorIs(t, err, ErrInvalidIOC)
}

func TestOrchestrate_DetectedTypeDrivesExecution(t *testing.T) {
	var mu sync.Mutex
	var seen []ioc.Type
	rec := recordingProvider{types: &seen, mu: &mu}
	o := New([]provider.Provider{rec})

	hint := ioc.TypeHash
	resp, err := o.Orchestrate(context.Background(), "example.com", Options{UserSelectedType: &hint})
	require.NoError(t, err)
	require.NotNil(t, resp.Validation)
	assert.False(t, resp.Validation.Matches)
	require.NotNil(t, resp.DetectedType)
	assert.Equal(t, ioc.TypeDomain, *resp.DetectedType)
	require.Len(t, resp.Providers, 1)
	assert.Equal(t, []ioc.Type{ioc.TypeDomain}, seen)
}

func TestOrchestrate_BracketedIPv6ReachesProvidersBare(t *testing.T) {
	var mu sync.Mutex
	var types []ioc.Type
	var values []string
	o := New([]provider.Provider{recordingProvider{mu: &mu, types: &types, values: &values}})

	resp, err := o.Orchestrate(context.Background(), " [2001:db8::1] ", Options{})
	require.NoError(t, err)
	require.NotNil(t, resp.DetectedType)
	assert.Equal(t, ioc.TypeIP, *resp.DetectedType)
	assert.Equal(t, "[2001:db8::1]", resp.IOC)
	assert.Equal(t, []string{"2001:db8::1"}, values)
}

func TestOrchestrate_ScoringScenario(t *testing.T) {
	a := provider.NewMock("a")
	a.Result = &provider.RawResult{Verdict: "malicious", Confidence: conf(85)}
	b := provider.NewMock("b")
	b.Result = &provider.RawResult{Verdict: "clean", Confidence: conf(30)}
	c := provider.NewMock("c")
	c.Delay = time.Second

	var observed int
	var mu sync.Mutex
	o := New([]provider.Provider{a, b, c},
		WithTimeout(50*time.Millisecond),
		WithObserver(func(engine.Result) {
			mu.Lock()
			observed++
			mu.Unlock()
		}),
	)

	resp, err := o.Orchestrate(context.Background(), "8.8.8.8", Options{})
	require.NoError(t, err)
	require.NotNil(t, resp.DetectedType)
	assert.Equal(t, ioc.TypeIP, *resp.DetectedType)
	require.Len(t, resp.Providers, 3)
	assert.Equal(t, engine.StatusTimeout, resp.Providers[2].Status)
	assert.GreaterOrEqual(t, resp.Meta.ExecutionTimeMs, int64(50))
	assert.Equal(t, 3, observed)

	score := scoring.Score(scoring.NormalizeAll(resp.Providers))
	assert.Equal(t, 2, score.ProcessedProviders)
	assert.Equal(t, 70, score.FinalScore)
	assert.Equal(t, "malicious", score.Verdict)
	assert.Len(t, score.Warnings, 1)
}

func TestOrchestrate_PerCallTimeoutOverridesDefault(t *testing.T) {
	slow := provider.NewMock("slow")
	slow.Delay = 100 * time.Millisecond
	o := New([]provider.Provider{slow}, WithTimeout(time.Second))

	resp, err := o.Orchestrate(context.Background(), "8.8.8.8", Options{Timeout: 10 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, engine.StatusTimeout, resp.Providers[0].Status)
}

func TestSetTimeout(t *testing.T) {
	o := New(nil)
	assert.Equal(t, engine.DefaultTimeout, o.Timeout())
	o.SetTimeout(2 * time.Second)
	assert.Equal(t, 2*time.Second, o.Timeout())
	o.SetTimeout(0)
	assert.Equal(t, 2*time.Second, o.Timeout())
}

type recordingProvider struct {
	mu     *sync.Mutex
	types  *[]ioc.Type
	values *[]string
}

func (r recordingProvider) Name() string { return "rec" }

func (r recordingProvider) Query(_ context.Context, value string, t ioc.Type, _ provider.Options) (*provider.RawResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.types = append(*r.types, t)
	if r.values != nil {
		*r.values = append(*r.values, value)
	}
	return &provider.RawResult{Verdict: "clean"}, nil
}
