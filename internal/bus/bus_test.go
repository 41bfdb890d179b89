package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisBus(t *testing.T) (*RedisBus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rb, err := NewRedisBus("redis://"+mr.Addr(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { rb.Close() })
	return rb, mr
}

func TestNewBusFallsBackToNull(t *testing.T) {
	assert.IsType(t, &NullBus{}, NewBus("", nil))
	assert.IsType(t, &NullBus{}, NewBus("not a url", nil))
	assert.IsType(t, &NullBus{}, NewBus("redis://127.0.0.1:1", nil))
}

func TestNewBusUsesRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	b := NewBus("redis://"+mr.Addr(), nil)
	defer b.Close()
	assert.IsType(t, &RedisBus{}, b)
	assert.NoError(t, b.HealthCheck(context.Background()))
}

func TestPublishLookup(t *testing.T) {
	rb, _ := newTestRedisBus(t)
	ctx := context.Background()

	err := rb.PublishLookup(ctx, LookupMessage{
		LookupID:  "lkp_1",
		IOC:       "8.8.8.8",
		Type:      "IP",
		Verdict:   "clean",
		Score:     10,
		OwnerType: "guest",
		OwnerID:   "127.0.0.1",
		Timestamp: 1700000000,
	})
	require.NoError(t, err)

	entries, err := rb.client.XRange(ctx, LookupsStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "lkp_1", entries[0].Values["lookup_id"])
	assert.Equal(t, "8.8.8.8", entries[0].Values["ioc"])
	assert.Equal(t, "10", entries[0].Values["score"])

	stats, err := rb.GetStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats["lookups_stream_length"])
}

func TestReadLookupsStream(t *testing.T) {
	rb, _ := newTestRedisBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, rb.PublishLookup(ctx, LookupMessage{LookupID: "lkp_2", IOC: "evil.com", Verdict: "malicious", Score: 91, Timestamp: 1700000000123}))

	got := make(chan LookupMessage, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- rb.ReadLookupsStream(ctx, "test", "c1", func(ctx context.Context, msg LookupMessage) error {
			got <- msg
			return nil
		})
	}()

	select {
	case msg := <-got:
		assert.Equal(t, "lkp_2", msg.LookupID)
		assert.Equal(t, "evil.com", msg.IOC)
		assert.Equal(t, 91, msg.Score)
		assert.EqualValues(t, 1700000000, msg.Timestamp)
	case <-ctx.Done():
		t.Fatal("no message consumed")
	}

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestReadLookupsStreamRetriesFailedMessages(t *testing.T) {
	rb, _ := newTestRedisBus(t)
	require.NoError(t, rb.PublishLookup(context.Background(), LookupMessage{LookupID: "lkp_3", IOC: "1.2.3.4"}))

	// First reader fails the handler, leaving the message pending.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	attempted := make(chan struct{}, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- rb.ReadLookupsStream(ctx, "retry", "c1", func(context.Context, LookupMessage) error {
			select {
			case attempted <- struct{}{}:
			default:
			}
			return errors.New("downstream unavailable")
		})
	}()
	select {
	case <-attempted:
	case <-ctx.Done():
		t.Fatal("handler never called")
	}
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	assert.EqualValues(t, 1, pendingCount(t, rb, "retry"))

	// A restarted reader replays it and acks on success.
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got := make(chan LookupMessage, 1)
	go func() {
		errCh <- rb.ReadLookupsStream(ctx, "retry", "c1", func(_ context.Context, msg LookupMessage) error {
			got <- msg
			return nil
		})
	}()
	select {
	case msg := <-got:
		assert.Equal(t, "lkp_3", msg.LookupID)
	case <-ctx.Done():
		t.Fatal("pending message not replayed")
	}
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	assert.EqualValues(t, 0, pendingCount(t, rb, "retry"))
}

func pendingCount(t *testing.T, rb *RedisBus, group string) int64 {
	t.Helper()
	groups, err := rb.client.XInfoGroups(context.Background(), LookupsStream).Result()
	require.NoError(t, err)
	for _, g := range groups {
		if g.Name == group {
			return g.Pending
		}
	}
	t.Fatalf("group %s not found", group)
	return 0
}

func TestNullBus(t *testing.T) {
	nb := NewNullBus(nil)
	ctx, cancel := context.WithCancel(context.Background())

	assert.NoError(t, nb.PublishLookup(ctx, LookupMessage{LookupID: "x"}))
	assert.NoError(t, nb.HealthCheck(ctx))
	stats, err := nb.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "null", stats["type"])

	cancel()
	assert.ErrorIs(t, nb.ReadLookupsStream(ctx, "g", "c", nil), context.Canceled)
	assert.NoError(t, nb.Close())
}

func TestParseTimestamp(t *testing.T) {
	ts, err := parseTimestamp("1700000000")
	require.NoError(t, err)
	assert.EqualValues(t, 1700000000, ts)

	ts, err = parseTimestamp("2023-11-14T22:13:20Z")
	require.NoError(t, err)
	assert.EqualValues(t, 1700000000, ts)

	_, err = parseTimestamp("yesterday")
	assert.Error(t, err)
}
