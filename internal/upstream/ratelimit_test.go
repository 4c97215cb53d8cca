package upstream

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry-project/gantry/internal/faults"
)

func TestRateStateDecrementsBudget(t *testing.T) {
	r := newRateState(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, r.wait(ctx))
	}
	st := r.snapshot(1)
	assert.Equal(t, 0, st.Remaining)
}

func TestRateStateSleepsThroughShortReset(t *testing.T) {
	r := newRateState(1)
	ctx := context.Background()
	require.NoError(t, r.wait(ctx))

	r.mu.Lock()
	r.resetAt = time.Now().Add(20 * time.Millisecond)
	r.mu.Unlock()

	start := time.Now()
	require.NoError(t, r.wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)

	// Reset passage restored the quota, then the admit consumed one.
	st := r.snapshot(1)
	assert.Equal(t, 0, st.Remaining)
	assert.True(t, st.ResetAt.After(time.Now().Add(50*time.Minute)))
}

func TestRateStateFailsFastOnLongReset(t *testing.T) {
	r := newRateState(1)
	ctx := context.Background()
	require.NoError(t, r.wait(ctx))

	r.mu.Lock()
	r.resetAt = time.Now().Add(2 * time.Minute)
	r.mu.Unlock()

	start := time.Now()
	err := r.wait(ctx)
	require.Error(t, err)
	assert.Equal(t, faults.KindRateLimited, faults.KindOf(err))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestRateStateResetAtNowProceeds(t *testing.T) {
	r := newRateState(5)
	r.mu.Lock()
	r.remaining = 0
	r.resetAt = time.Now()
	r.mu.Unlock()

	start := time.Now()
	require.NoError(t, r.wait(context.Background()))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	st := r.snapshot(1)
	assert.Equal(t, 4, st.Remaining)
}

func TestRateStateUnlimitedQuota(t *testing.T) {
	r := newRateState(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, r.wait(context.Background()))
	}
}

func TestRateStateWaitHonorsContext(t *testing.T) {
	r := newRateState(1)
	require.NoError(t, r.wait(context.Background()))
	r.mu.Lock()
	r.resetAt = time.Now().Add(10 * time.Second)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.wait(ctx)
	require.Error(t, err)
	assert.Equal(t, faults.KindTimeout, faults.KindOf(err))
}

func TestRateStateUpdateFromHeaders(t *testing.T) {
	r := newRateState(100)

	h := http.Header{}
	h.Set("X-RateLimit-Remaining", "42")
	h.Set("X-RateLimit-Reset", "3600")
	r.update(h)

	st := r.snapshot(1)
	assert.Equal(t, 42, st.Remaining)
	assert.WithinDuration(t, time.Now().Add(time.Hour), st.ResetAt, 5*time.Second)
}

func TestRateStateUpdateIgnoresGarbage(t *testing.T) {
	r := newRateState(100)

	h := http.Header{}
	h.Set("X-RateLimit-Remaining", "not-a-number")
	h.Set("X-RateLimit-Reset", "-5")
	r.update(h)

	st := r.snapshot(1)
	assert.Equal(t, 100, st.Remaining)
	assert.True(t, st.ResetAt.IsZero())
}

func TestParseReset(t *testing.T) {
	now := time.Now()

	got, ok := parseReset(strconv.FormatInt(now.Add(time.Hour).Unix(), 10))
	require.True(t, ok)
	assert.WithinDuration(t, now.Add(time.Hour), got, time.Second)

	got, ok = parseReset(strconv.FormatInt(now.Add(time.Hour).UnixMilli(), 10))
	require.True(t, ok)
	assert.WithinDuration(t, now.Add(time.Hour), got, time.Second)

	got, ok = parseReset("90")
	require.True(t, ok)
	assert.WithinDuration(t, now.Add(90*time.Second), got, time.Second)

	_, ok = parseReset("soon")
	assert.False(t, ok)
}
