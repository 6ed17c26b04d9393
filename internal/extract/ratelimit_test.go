package extract

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisionLimiter_BurstCapacity(t *testing.T) {
	l := newVisionLimiter(60)

	for i := 0; i < 60; i++ {
		ok, _ := l.acquire()
		require.True(t, ok, "token %d should be available", i)
	}

	ok, retryIn := l.acquire()
	assert.False(t, ok)
	assert.Greater(t, retryIn, time.Duration(0))
	assert.LessOrEqual(t, retryIn, time.Second)
}

func TestVisionLimiter_RefillsOverTime(t *testing.T) {
	l := newVisionLimiter(6000)
	l.mu.Lock()
	l.tokens = 0
	l.last = time.Now()
	l.mu.Unlock()

	ok, retryIn := l.acquire()
	require.False(t, ok)
	require.LessOrEqual(t, retryIn, 10*time.Millisecond)

	// At 100 tokens per second one accrues within 10ms.
	time.Sleep(30 * time.Millisecond)
	ok, _ = l.acquire()
	assert.True(t, ok)
}

func TestVisionLimiter_BalanceCapsAtOneMinute(t *testing.T) {
	l := newVisionLimiter(10)
	l.last = time.Now().Add(-time.Hour)

	for i := 0; i < 10; i++ {
		ok, _ := l.acquire()
		require.True(t, ok)
	}
	ok, _ := l.acquire()
	assert.False(t, ok)
}

func TestVisionLimiter_WaitHonorsContext(t *testing.T) {
	l := newVisionLimiter(1)
	ok, _ := l.acquire()
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestVisionLimiter_DefaultsOnBadConfig(t *testing.T) {
	l := newVisionLimiter(0)
	assert.Equal(t, 60.0, l.perMinute)

	ok, _ := l.acquire()
	assert.True(t, ok)
}
