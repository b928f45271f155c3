// Package ratelimit implements a sliding-window request counter keyed by
// caller identity. Timestamps older than the window are purged lazily on each
// check; a cron-driven sweep removes abandoned keys in bulk so the state map
// cannot grow without bound.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	// ResetTime is when the earliest retained request leaves the window,
	// i.e. the soonest instant at which a rejected caller may succeed.
	ResetTime time.Time
}

type bucket struct {
	stamps []time.Time
	window time.Duration
}

// Limiter tracks request timestamps per key. The zero value is not usable;
// construct with New.
type Limiter struct {
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	sweeper *cron.Cron
}

// Option adjusts limiter construction.
type Option func(*Limiter)

// WithClock substitutes the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New constructs a limiter. When schedule is a valid cron spec (e.g.
// "@every 1m") a background sweep is started; Close must then be called to
// stop it.
func New(logger *slog.Logger, schedule string, opts ...Option) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Limiter{
		logger:  logger.With(slog.String("agent", "ratelimit")),
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	if schedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(schedule, l.Sweep); err != nil {
			l.logger.Warn("sweep schedule rejected, relying on lazy purge only",
				slog.String("schedule", schedule), slog.Any("error", err))
		} else {
			c.Start()
			l.sweeper = c
		}
	}
	return l
}

// Check records a request for key unless the key already has maxRequests
// within the sliding window. Purging of expired timestamps happens inline so
// a key's list never exceeds maxRequests entries.
func (l *Limiter) Check(key string, window time.Duration, maxRequests int) Decision {
	if maxRequests <= 0 || window <= 0 {
		return Decision{Allowed: true, Remaining: 0, ResetTime: l.now()}
	}

	now := l.now()
	cutoff := now.Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{}
		l.buckets[key] = b
	}
	b.window = window

	kept := b.stamps[:0]
	for _, ts := range b.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.stamps = kept

	if len(b.stamps) >= maxRequests {
		return Decision{
			Allowed:   false,
			Remaining: 0,
			ResetTime: b.stamps[0].Add(window),
		}
	}

	b.stamps = append(b.stamps, now)
	return Decision{
		Allowed:   true,
		Remaining: maxRequests - len(b.stamps),
		ResetTime: b.stamps[0].Add(window),
	}
}

// Sweep drops expired timestamps across every key and deletes keys with no
// retained requests. Runs off the hot path on the configured schedule.
func (l *Limiter) Sweep() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		cutoff := now.Add(-b.window)
		kept := b.stamps[:0]
		for _, ts := range b.stamps {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		b.stamps = kept
		if len(b.stamps) == 0 {
			delete(l.buckets, key)
			removed++
		}
	}
	if removed > 0 {
		l.logger.Debug("rate limiter sweep", slog.Int("keys_removed", removed))
	}
}

// Len reports the number of tracked keys, for tests and diagnostics.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Close stops the background sweeper, if one was started.
func (l *Limiter) Close() {
	if l.sweeper != nil {
		l.sweeper.Stop()
	}
}
