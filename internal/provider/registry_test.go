package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cyberlens/cyber-lens/internal/ioc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_DefaultOrder(t *testing.T) {
	ps, err := Build(Config{
		Settings: map[string]Settings{
			"otx":        {APIKey: "a"},
			"abuseipdb":  {APIKey: "b"},
			"virustotal": {APIKey: "c"},
		},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"otx", "abuseipdb", "virustotal"}, Names(ps))
}

func TestBuild_SkipsMissingKeys(t *testing.T) {
	ps, err := Build(Config{
		Enabled:  []string{"VT", "otx"},
		Settings: map[string]Settings{"virustotal": {APIKey: "c"}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"virustotal"}, Names(ps))
}

func TestBuild_DryRunUsesMocks(t *testing.T) {
	ps, err := Build(Config{DryRun: true}, nil)
	require.NoError(t, err)
	require.Len(t, ps, 3)
	for _, p := range ps {
		_, ok := p.(*Mock)
		assert.True(t, ok, p.Name())
	}
}

func TestBuild_SelfHostedNeedBaseURL(t *testing.T) {
	ps, err := Build(Config{
		Enabled: []string{"misp", "open-cti"},
		Settings: map[string]Settings{
			"misp":    {APIKey: "k"},
			"opencti": {APIKey: "t", BaseURL: "https://cti.internal"},
		},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"opencti"}, Names(ps))
}

func TestBuild_UnknownProvider(t *testing.T) {
	_, err := Build(Config{Enabled: []string{"shodan"}}, nil)
	assert.Error(t, err)
}

func TestBuild_Dedupes(t *testing.T) {
	ps, err := Build(Config{Enabled: []string{"mock", "mock"}}, nil)
	require.NoError(t, err)
	assert.Len(t, ps, 1)
}

func TestMock_Deterministic(t *testing.T) {
	m := NewMock("m")
	a, err := m.Query(context.Background(), "8.8.8.8", ioc.TypeIP, nil)
	require.NoError(t, err)
	b, err := m.Query(context.Background(), "8.8.8.8", ioc.TypeIP, nil)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, int64(2), m.Calls())
}

func TestMock_ErrAndDelay(t *testing.T) {
	m := NewMock("m")
	m.Err = errors.New("boom")
	_, err := m.Query(context.Background(), "x", ioc.TypeDomain, nil)
	assert.EqualError(t, err, "boom")

	m = NewMock("slow")
	m.Delay = time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Query(ctx, "x", ioc.TypeDomain, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
