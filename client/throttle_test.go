package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlidingWindowThrottle(t *testing.T) {
	ctx := context.Background()

	t.Run("admits up to the limit", func(t *testing.T) {
		throttle := NewSlidingWindowThrottle(10, time.Minute)
		for i := 0; i < 10; i++ {
			require.NoError(t, throttle.Acquire(ctx))
		}
		assert.Equal(t, 10, throttle.InWindow())
		assert.Equal(t, 0, throttle.Remaining())
	})

	t.Run("Reset clears the window", func(t *testing.T) {
		throttle := NewSlidingWindowThrottle(10, time.Minute)
		for i := 0; i < 5; i++ {
			require.NoError(t, throttle.Acquire(ctx))
		}
		assert.Equal(t, 5, throttle.Remaining())

		throttle.Reset()
		assert.Equal(t, 0, throttle.InWindow())
	})

	t.Run("defaults for invalid values", func(t *testing.T) {
		throttle := NewSlidingWindowThrottle(-5, 0)
		assert.Equal(t, 100, throttle.limit)
		assert.Equal(t, 10*time.Second, throttle.window)
	})

	t.Run("old requests leave the window", func(t *testing.T) {
		throttle := NewSlidingWindowThrottle(2, 10*time.Second)
		clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
		throttle.now = func() time.Time { return clock }

		require.NoError(t, throttle.Acquire(ctx))
		clock = clock.Add(6 * time.Second)
		require.NoError(t, throttle.Acquire(ctx))
		assert.Equal(t, 0, throttle.Remaining())

		clock = clock.Add(5 * time.Second)
		assert.Equal(t, 1, throttle.InWindow())
		require.NoError(t, throttle.Acquire(ctx))
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		throttle := NewSlidingWindowThrottle(1, time.Minute)
		require.NoError(t, throttle.Acquire(ctx))

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, throttle.Acquire(cancelled), context.Canceled)
	})

	t.Run("blocks until a slot frees up", func(t *testing.T) {
		throttle := NewSlidingWindowThrottle(1, 100*time.Millisecond)
		require.NoError(t, throttle.Acquire(ctx))

		start := time.Now()
		require.NoError(t, throttle.Acquire(ctx))
		assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	})

	t.Run("is safe for concurrent use", func(t *testing.T) {
		throttle := NewSlidingWindowThrottle(100, time.Minute)

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, throttle.Acquire(ctx))
			}()
		}
		wg.Wait()
		assert.Equal(t, 50, throttle.InWindow())
	})
}

func TestNoOpThrottle(t *testing.T) {
	var throttle Throttle = NewNoOpThrottle()

	assert.NoError(t, throttle.Acquire(context.Background()))
	assert.Equal(t, 0, throttle.InWindow())
	assert.Equal(t, 1000000, throttle.Remaining())
	throttle.Reset()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, throttle.Acquire(cancelled), context.Canceled)
}
