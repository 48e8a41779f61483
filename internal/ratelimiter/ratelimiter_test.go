package ratelimiter

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledAllowsEverything(t *testing.T) {
	limiter := New(Config{}, Config{})

	for i := 0; i < 1000; i++ {
		require.True(t, limiter.Allow("a"))
	}
	assert.Zero(t, limiter.Clients())
	assert.True(t, math.IsInf(limiter.Tokens(), 1))
	assert.NoError(t, limiter.Wait(context.Background(), "a"))
}

func TestGlobalBurst(t *testing.T) {
	limiter := New(Config{RequestsPerSecond: 10, Burst: 10}, Config{})

	for i := 0; i < 10; i++ {
		require.Truef(t, limiter.Allow("a"), "request %d should be within burst", i)
	}
	assert.False(t, limiter.Allow("b"), "bucket is shared between clients")

	// 10 req/s refills one token every 100ms.
	time.Sleep(110 * time.Millisecond)
	assert.True(t, limiter.Allow("b"))
}

func TestPerClientBuckets(t *testing.T) {
	limiter := New(Config{}, Config{RequestsPerSecond: 1, Burst: 2})

	assert.True(t, limiter.Allow("a"))
	assert.True(t, limiter.Allow("a"))
	assert.False(t, limiter.Allow("a"))

	assert.True(t, limiter.Allow("b"), "other clients keep their own bucket")
	assert.Equal(t, 2, limiter.Clients())

	limiter.Forget("a")
	assert.Equal(t, 1, limiter.Clients())
	assert.True(t, limiter.Allow("a"), "a forgotten client starts with a full bucket")
}

func TestZeroBurstStillAdmits(t *testing.T) {
	limiter := New(Config{RequestsPerSecond: 5}, Config{})
	assert.True(t, limiter.Allow("a"))
}

func TestWaitContextCancellation(t *testing.T) {
	limiter := New(Config{RequestsPerSecond: 1, Burst: 1}, Config{})
	require.True(t, limiter.Allow("a"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.Error(t, limiter.Wait(ctx, "a"))
}
