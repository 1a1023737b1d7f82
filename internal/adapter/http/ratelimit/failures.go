package ratelimit

import (
	"sync"
	"time"
)

type failureRecord struct {
	Count        int
	Blocks       int
	LastFailure  time.Time
	BlockedUntil time.Time
}

// FailureLimiter blocks a client after too many failed authentications in a
// window. Each block that follows another lasts longer, as set by the backoff.
type FailureLimiter struct {
	mu          sync.Mutex
	failures    map[string]*failureRecord
	maxFailures int
	window      time.Duration
	backoff     *Backoff
	now         func() time.Time
	stop        chan struct{}
	stopOnce    sync.Once
}

func NewFailureLimiter(maxFailures int, window time.Duration, backoff *Backoff) *FailureLimiter {
	limiter := &FailureLimiter{
		failures:    make(map[string]*failureRecord),
		maxFailures: maxFailures,
		window:      window,
		backoff:     backoff,
		now:         time.Now,
		stop:        make(chan struct{}),
	}

	go limiter.cleanup()

	return limiter
}

// Blocked reports whether clientID is currently blocked and for how long.
// It does not count as an attempt.
func (l *FailureLimiter) Blocked(clientID string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, exists := l.failures[clientID]
	if !exists {
		return false, 0
	}
	now := l.now()
	if now.Before(record.BlockedUntil) {
		return true, record.BlockedUntil.Sub(now)
	}
	return false, 0
}

// RecordFailure counts a failed attempt and returns the block it triggered,
// if any.
func (l *FailureLimiter) RecordFailure(clientID string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	record, exists := l.failures[clientID]
	if !exists {
		record = &failureRecord{}
		l.failures[clientID] = record
	}

	if now.Before(record.BlockedUntil) {
		return true, record.BlockedUntil.Sub(now)
	}
	if now.Sub(record.LastFailure) > l.window {
		record.Count = 0
	}

	record.Count++
	record.LastFailure = now

	if record.Count > l.maxFailures {
		record.Blocks++
		record.Count = 0
		block := l.backoff.Duration(record.Blocks)
		record.BlockedUntil = now.Add(block)
		return true, block
	}

	return false, 0
}

// Reset forgets a client after a successful authentication.
func (l *FailureLimiter) Reset(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.failures, clientID)
}

func (l *FailureLimiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *FailureLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.prune()
		}
	}
}

func (l *FailureLimiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for clientID, record := range l.failures {
		if now.Sub(record.LastFailure) > l.window*2 && now.After(record.BlockedUntil) {
			delete(l.failures, clientID)
		}
	}
}
