package ratelimit

import (
	"context"
	"sync"
	"time"
)

// TokenJar smooths the aggregate check rate across all monitor tasks.
// A nil jar never blocks, so callers can hold one unconditionally and
// leave throttling disabled.
type TokenJar struct {
	interval time.Duration
	tokens   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewTokenJar builds a jar refilling at perMinute tokens per minute with
// the given burst capacity. Returns nil when perMinute is not positive.
func NewTokenJar(perMinute, burst int) *TokenJar {
	if perMinute <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}

	j := &TokenJar{
		interval: time.Minute / time.Duration(perMinute),
		tokens:   make(chan struct{}, burst),
		done:     make(chan struct{}),
	}
	j.tokens <- struct{}{}

	go j.refill()
	return j
}

func (j *TokenJar) refill() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			select {
			case j.tokens <- struct{}{}:
			default:
			}
		case <-j.done:
			return
		}
	}
}

// Wait blocks until a token is available. Returns false only when ctx is
// cancelled first. A stopped jar stops throttling rather than deadlocking
// its callers.
func (j *TokenJar) Wait(ctx context.Context) bool {
	if j == nil {
		return true
	}
	select {
	case <-j.tokens:
		return true
	case <-j.done:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop shuts down the refiller. Idempotent.
func (j *TokenJar) Stop() {
	if j == nil {
		return
	}
	j.stopOnce.Do(func() { close(j.done) })
}
