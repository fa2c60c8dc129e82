package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wrapForTest(inner Adapter) (*Wrapped, *[]time.Duration) {
	w := Wrap(inner, NewLimiter(), zerolog.Nop())
	var slept []time.Duration
	w.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return w, &slept
}

func TestWrappedRetriesRetryableErrors(t *testing.T) {
	stub := newStub("ebay", 10, "ebay.com")
	stub.meta.MaxRetries = 2
	stub.meta.BackoffFactor = 1.0
	stub.errs = []error{
		NewError(KindTimeout, "ebay", "slow"),
		NewError(KindNetworkError, "ebay", "flaky"),
		nil,
	}
	w, slept := wrapForTest(stub)

	listing, err := w.Extract(context.Background(), "https://ebay.com/itm/1")
	require.NoError(t, err)
	assert.Equal(t, "from ebay", listing.Title)
	assert.Equal(t, 3, stub.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
}

func TestWrappedStopsAtMaxRetries(t *testing.T) {
	stub := newStub("ebay", 10, "ebay.com")
	stub.meta.MaxRetries = 2
	stub.errs = []error{
		NewError(KindRateLimited, "ebay", "429"),
		NewError(KindRateLimited, "ebay", "429"),
		NewError(KindRateLimited, "ebay", "429"),
	}
	w, _ := wrapForTest(stub)

	_, err := w.Extract(context.Background(), "https://ebay.com/itm/1")
	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))
	assert.Equal(t, 3, stub.calls)
}

func TestWrappedDoesNotRetryTerminalErrors(t *testing.T) {
	stub := newStub("ebay", 10, "ebay.com")
	stub.meta.MaxRetries = 3
	stub.errs = []error{NewError(KindItemNotFound, "ebay", "404")}
	w, slept := wrapForTest(stub)

	_, err := w.Extract(context.Background(), "https://ebay.com/itm/1")
	require.Error(t, err)
	assert.Equal(t, KindItemNotFound, KindOf(err))
	assert.Equal(t, 1, stub.calls)
	assert.Empty(t, *slept)
}

func TestBackoffDelayDoubles(t *testing.T) {
	assert.Equal(t, time.Second, backoffDelay(1.0, 0))
	assert.Equal(t, 2*time.Second, backoffDelay(1.0, 1))
	assert.Equal(t, 4*time.Second, backoffDelay(1.0, 2))
	assert.Equal(t, 500*time.Millisecond, backoffDelay(0.5, 0))
	// Zero factor falls back to 1.0.
	assert.Equal(t, time.Second, backoffDelay(0, 0))
}

func TestWrappedHonorsCancelledContext(t *testing.T) {
	stub := newStub("ebay", 10, "ebay.com")
	stub.meta.MaxRetries = 5
	stub.errs = []error{NewError(KindTimeout, "ebay", "slow")}
	w := Wrap(stub, NewLimiter(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Extract(ctx, "https://ebay.com/itm/1")
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.LessOrEqual(t, stub.calls, 1)
}

func TestLimiterAllowsBurstWithinWindow(t *testing.T) {
	l := NewLimiter()
	meta := Metadata{Name: "fast", RequestsPerMinute: 5}

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow(meta), "request %d", i)
	}
	// Bucket drained; the next request would have to wait.
	assert.False(t, l.Allow(meta))
}

func TestLimiterIsPerAdapter(t *testing.T) {
	l := NewLimiter()
	a := Metadata{Name: "a", RequestsPerMinute: 1}
	b := Metadata{Name: "b", RequestsPerMinute: 1}

	assert.True(t, l.Allow(a))
	assert.False(t, l.Allow(a))
	// Draining a's bucket leaves b untouched.
	assert.True(t, l.Allow(b))
}
