package extract

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// visionLimiter paces calls to the vision provider. It is a token bucket
// whose balance accrues continuously with elapsed time, so a burst after an
// idle stretch is capped at one minute's budget and steady load settles at
// the configured rate.
type visionLimiter struct {
	mu        sync.Mutex
	last      time.Time
	tokens    float64
	perMinute float64
}

func newVisionLimiter(requestsPerMinute int) *visionLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	return &visionLimiter{
		last:      time.Now(),
		tokens:    float64(requestsPerMinute),
		perMinute: float64(requestsPerMinute),
	}
}

// wait blocks until a call slot is available or the context ends.
func (l *visionLimiter) wait(ctx context.Context) error {
	for {
		ok, retryIn := l.acquire()
		if ok {
			return nil
		}

		timer := time.NewTimer(retryIn)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("extraction rate limit wait canceled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// acquire settles accrued tokens and takes one if the balance allows,
// otherwise reports how long until the next token accrues.
func (l *visionLimiter) acquire() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.tokens += now.Sub(l.last).Minutes() * l.perMinute
	if l.tokens > l.perMinute {
		l.tokens = l.perMinute
	}
	l.last = now

	if l.tokens >= 1 {
		l.tokens--
		return true, 0
	}
	deficit := 1 - l.tokens
	return false, time.Duration(deficit / l.perMinute * float64(time.Minute))
}
