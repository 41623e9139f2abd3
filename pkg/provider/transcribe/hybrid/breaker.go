package hybrid

import (
	"log/slog"
	"sync"
	"time"
)

// breaker pauses the pipeline after consecutive inference failures so a
// wedged or crashing engine cannot burn CPU on every chunk. It is a
// two-state breaker: running (calls forwarded) and paused (calls rejected
// until the reset timeout elapses, then one probe is allowed through).
type breaker struct {
	maxFailures  int
	resetTimeout time.Duration

	mu          sync.Mutex
	paused      bool
	failures    int
	lastFailure time.Time
}

func newBreaker(maxFailures int, resetTimeout time.Duration) *breaker {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &breaker{maxFailures: maxFailures, resetTimeout: resetTimeout}
}

// allow reports whether a call may proceed. In the paused state it permits a
// probe once the reset timeout has elapsed.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.paused {
		return true
	}
	if time.Since(b.lastFailure) >= b.resetTimeout {
		slog.Info("transcription pipeline probing after pause")
		return true
	}
	return false
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.paused {
		slog.Info("transcription pipeline resumed")
	}
	b.paused = false
	b.failures = 0
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailure = time.Now()
	if b.paused {
		// Failed probe: stay paused for another timeout.
		return
	}
	b.failures++
	if b.failures >= b.maxFailures {
		b.paused = true
		slog.Warn("transcription pipeline paused",
			"consecutive_failures", b.failures,
			"resume_after", b.resetTimeout)
	}
}

// isPaused reports the current state without consuming a probe.
func (b *breaker) isPaused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused && time.Since(b.lastFailure) < b.resetTimeout
}

// reset forces the breaker back to running.
func (b *breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = false
	b.failures = 0
}
