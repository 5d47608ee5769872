package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	l := NewMemoryLimiter(3, time.Minute)
	base := time.Date(2026, 1, 1, 12, 0, 10, 0, time.UTC)
	l.now = func() time.Time { return base }
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := l.Allow(ctx, "rate_limit:u1:message")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.EqualValues(t, 3-i, res.Remaining)
	}

	res, err := l.Allow(ctx, "rate_limit:u1:message")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 50*time.Second, res.RetryAfter)

	// other keys are independent
	res, _ = l.Allow(ctx, "rate_limit:u2:message")
	assert.True(t, res.Allowed)

	// next window starts fresh
	l.now = func() time.Time { return base.Add(time.Minute) }
	res, _ = l.Allow(ctx, "rate_limit:u1:message")
	assert.True(t, res.Allowed)
}

func TestWindowKey(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	assert.Equal(t, "rl:rate_limit:u_1:x:1700000000", windowKey("rl:", "rate_limit:u 1:x", ts))
}
