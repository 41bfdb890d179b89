package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberlens/cyber-lens/internal/lookup"
	"github.com/cyberlens/cyber-lens/internal/provider"
	"github.com/cyberlens/cyber-lens/internal/store"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Database: DatabaseConfig{Path: filepath.Join(t.TempDir(), "data", "lens.db")},
		Log:      LogConfig{Level: "error"},
		Lookup:   LookupConfig{Timeout: 2 * time.Second},
		Providers: ProvidersConfig{
			Enabled: provider.DefaultOrder,
			DryRun:  true,
		},
	}
}

func TestApp_LookupAndHistory(t *testing.T) {
	a, err := newApp(testConfig(t), appOptions{withStore: true, withBus: true})
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	owner := &store.Owner{Type: "user", ID: "alice"}
	res, err := a.lookups.Lookup(ctx, lookup.Request{IOC: "8.8.8.8", Owner: owner})
	require.NoError(t, err)
	require.NotEmpty(t, res.ID)
	assert.Len(t, res.Response.Providers, 3)
	assert.Equal(t, 3, res.Response.Meta.Scoring.ProcessedProviders)

	items, err := a.store.QueryHistory(ctx, store.HistoryQuery{Owner: *owner})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, res.ID, items[0].ID)
	assert.Equal(t, res.Response.Verdict, items[0].Verdict)

	// Mock adapters are deterministic so a repeat lookup scores the same.
	again, err := a.lookups.Lookup(ctx, lookup.Request{IOC: "8.8.8.8"})
	require.NoError(t, err)
	assert.Equal(t, res.Response.Score, again.Response.Score)
	assert.Empty(t, again.ID)
}

func TestApp_WithoutStore(t *testing.T) {
	a, err := newApp(testConfig(t), appOptions{})
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.store)
	assert.Nil(t, a.bus)
}

func TestPrintLookup(t *testing.T) {
	a, err := newApp(testConfig(t), appOptions{})
	require.NoError(t, err)
	defer a.Close()

	res, err := a.lookups.Lookup(context.Background(), lookup.Request{IOC: "example.com", Type: "nonsense"})
	require.NoError(t, err)

	var buf bytes.Buffer
	printLookup(&buf, res)
	out := buf.String()
	assert.Contains(t, out, "IOC:      example.com (Domain)")
	assert.Contains(t, out, `Note:     unknown type "nonsense" ignored`)
	assert.Contains(t, out, "Providers:")
}

func TestResolvePathRelativeToBase(t *testing.T) {
	assert.Equal(t, ":memory:", resolvePathRelativeToBase("/srv", ":memory:"))
	assert.Equal(t, "/abs/x.db", resolvePathRelativeToBase("/srv", "/abs/x.db"))
	assert.Equal(t, filepath.Join("/srv", "data/x.db"), resolvePathRelativeToBase("/srv", "data/x.db"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestWriteVersion(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeVersion(&buf, testConfig(t)))
	out := buf.String()
	assert.Contains(t, out, "Cyber-Lens dev")
	assert.Contains(t, out, "Providers (dry-run): otx, abuseipdb, virustotal")
	assert.Contains(t, out, "Lookup timeout: 2s")

	cfg := testConfig(t)
	cfg.Providers.DryRun = false
	buf.Reset()
	require.NoError(t, writeVersion(&buf, cfg))
	assert.Contains(t, buf.String(), "Providers (live): none")

	cfg.Providers.Enabled = []string{"shodan"}
	assert.Error(t, writeVersion(&buf, cfg))
}
