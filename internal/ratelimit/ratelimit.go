// Package ratelimit paces successive browser actions so a scrape pass reads
// like a human clicking through the studio rather than a burst of
// automation. One beat is fully processed before the next starts; the pacer
// only spaces the starts.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

type Pacer interface {
	Wait(ctx context.Context) error
	SetDelay(min, max time.Duration)
}

// FixedPacer enforces a jittered minimum gap since the previous action.
type FixedPacer struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
	mu         sync.Mutex
	jitter     bool
}

func NewFixedPacer(minDelay, maxDelay time.Duration) *FixedPacer {
	return &FixedPacer{
		minDelay: minDelay,
		maxDelay: maxDelay,
		jitter:   true,
	}
}

func (p *FixedPacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := time.Since(p.lastAction)
	delay := p.pickDelay()

	if elapsed < delay {
		waitTime := delay - elapsed

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}

	p.lastAction = time.Now()
	return nil
}

func (p *FixedPacer) SetDelay(min, max time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.minDelay = min
	p.maxDelay = max
}

func (p *FixedPacer) pickDelay() time.Duration {
	if !p.jitter || p.minDelay >= p.maxDelay {
		return p.minDelay
	}

	delta := p.maxDelay - p.minDelay
	jitter := time.Duration(rand.Int63n(int64(delta)))
	return p.minDelay + jitter
}

// BackoffPacer stretches the gap after consecutive failures and relaxes it
// again once actions succeed. The retry pass uses it so a struggling
// session slows down instead of hammering the studio.
type BackoffPacer struct {
	*FixedPacer
	errorCount    int
	successCount  int
	maxErrorCount int
	backoffFactor float64
}

func NewBackoffPacer(minDelay, maxDelay time.Duration) *BackoffPacer {
	return &BackoffPacer{
		FixedPacer:    NewFixedPacer(minDelay, maxDelay),
		maxErrorCount: 3,
		backoffFactor: 1.5,
	}
}

func (p *BackoffPacer) RecordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.successCount++
	p.errorCount = 0

	if p.successCount > 5 {
		newMin := time.Duration(float64(p.minDelay) * 0.9)
		if newMin < 500*time.Millisecond {
			newMin = 500 * time.Millisecond
		}
		p.minDelay = newMin
		p.successCount = 0
	}
}

func (p *BackoffPacer) RecordError() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.errorCount++
	p.successCount = 0

	if p.errorCount >= p.maxErrorCount {
		newMin := time.Duration(float64(p.minDelay) * p.backoffFactor)
		newMax := time.Duration(float64(p.maxDelay) * p.backoffFactor)

		if newMin > 60*time.Second {
			newMin = 60 * time.Second
		}
		if newMax > 120*time.Second {
			newMax = 120 * time.Second
		}

		p.minDelay = newMin
		p.maxDelay = newMax
		p.errorCount = 0
	}
}
