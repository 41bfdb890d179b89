package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync/atomic"
	"time"

	"github.com/cyberlens/cyber-lens/internal/ioc"
)

// Mock generates deterministic intel for dry runs and tests.
// The zero Delay answers immediately.
type Mock struct {
	name string

	// Delay is waited before answering; ctx cancellation interrupts it.
	Delay time.Duration
	// Err, when set, is returned instead of a result.
	Err error
	// Result, when set, is returned verbatim instead of generated intel.
	Result *RawResult

	calls atomic.Int64
}

// NewMock returns a mock adapter reporting under name.
func NewMock(name string) *Mock {
	if name == "" {
		name = "mock"
	}
	return &Mock{name: name}
}

func (m *Mock) Name() string { return m.name }

// Calls reports how many times Query was invoked.
func (m *Mock) Calls() int64 { return m.calls.Load() }

func (m *Mock) Query(ctx context.Context, value string, t ioc.Type, _ Options) (*RawResult, error) {
	m.calls.Add(1)
	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.Delay):
		}
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Result != nil {
		r := *m.Result
		return &r, nil
	}
	return m.generate(value, t), nil
}

func (m *Mock) generate(value string, t ioc.Type) *RawResult {
	h := fnv.New32a()
	_, _ = h.Write([]byte(string(t) + ":" + value))
	sum := h.Sum32()

	score := float64(sum % 101)
	confidence := float64((sum >> 8) % 101)
	verdict := VerdictClean
	switch {
	case score >= 70:
		verdict = VerdictMalicious
	case score >= 40:
		verdict = VerdictSuspicious
	}
	return &RawResult{
		ProviderName: m.name,
		Verdict:      verdict,
		Confidence:   float(confidence),
		Score:        float(score),
		Summary:      fmt.Sprintf("Mock %s result for %s %s", m.name, t, value),
		Tags:         []string{"mock", "type:" + string(t)},
	}
}
