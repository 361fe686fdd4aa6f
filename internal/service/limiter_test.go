package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimiterAllow(t *testing.T) {
	t.Run("grants up to the burst, then denies with a retry hint", func(t *testing.T) {
		l := NewLimiter(LimiterConfig{Rate: 1, Burst: 5})

		for i := 0; i < 5; i++ {
			ok, _ := l.Allow("identity:alice")
			assert.True(t, ok, "attempt %d should pass", i+1)
		}

		ok, retryAfter := l.Allow("identity:alice")
		assert.False(t, ok)
		assert.Greater(t, retryAfter.Seconds(), 0.0)
	})

	t.Run("keys are tracked independently", func(t *testing.T) {
		l := NewLimiter(LimiterConfig{Rate: 1, Burst: 1})

		ok, _ := l.Allow("a")
		assert.True(t, ok)
		ok, _ = l.Allow("a")
		assert.False(t, ok)

		ok, _ = l.Allow("b")
		assert.True(t, ok)
	})

	t.Run("a denied call does not consume a token", func(t *testing.T) {
		l := NewLimiter(LimiterConfig{Rate: 1000, Burst: 1})

		ok, _ := l.Allow("a")
		assert.True(t, ok)
		// Burst exhausted; at 1000/s the next token is ~1ms away. A denied
		// reservation must be cancelled or it would push the refill further out.
		l.Allow("a")
		_, firstDelay := l.Allow("a")
		_, secondDelay := l.Allow("a")
		assert.LessOrEqual(t, secondDelay, firstDelay+firstDelay)
	})

	t.Run("forget releases the bucket", func(t *testing.T) {
		l := NewLimiter(LimiterConfig{Rate: 1, Burst: 1})

		ok, _ := l.Allow("a")
		assert.True(t, ok)
		ok, _ = l.Allow("a")
		assert.False(t, ok)
		assert.Equal(t, 1, l.Size())

		l.Forget("a")
		assert.Zero(t, l.Size())

		ok, _ = l.Allow("a")
		assert.True(t, ok)
	})

	t.Run("zero config falls back to sane minimums", func(t *testing.T) {
		l := NewLimiter(LimiterConfig{})
		ok, _ := l.Allow("a")
		assert.True(t, ok)
	})
}
