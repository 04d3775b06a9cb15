// Package limits gates WebSocket admission: a fixed-window counter per remote
// address, plus an optional global token bucket over all upgrade attempts.
package limits

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// windowEntry tracks one remote address. windowStart is a monotonic instant
// (time.Time keeps the monotonic reading as long as it is never serialised).
type windowEntry struct {
	count       int
	windowStart time.Time
}

// FixedWindowLimiter admits at most limit requests per window for each remote
// address. The counter resets when a full window has elapsed since the first
// admission of the current window.
//
// Admission never blocks on I/O and is O(1) per call. A background sweep
// removes entries whose window has fully expired so the map does not grow
// without bound under address churn.
type FixedWindowLimiter struct {
	mu      sync.Mutex
	entries map[string]*windowEntry

	limit  int
	window time.Duration

	logger      zerolog.Logger
	sweepTicker *time.Ticker
	stopSweep   chan struct{}
	stopOnce    sync.Once

	now func() time.Time // overridable in tests
}

// NewFixedWindowLimiter creates a limiter and starts its sweep goroutine.
// Call Stop during shutdown.
func NewFixedWindowLimiter(limit int, window time.Duration, logger zerolog.Logger) *FixedWindowLimiter {
	l := &FixedWindowLimiter{
		entries:     make(map[string]*windowEntry),
		limit:       limit,
		window:      window,
		logger:      logger.With().Str("component", "rate_limiter").Logger(),
		sweepTicker: time.NewTicker(time.Minute),
		stopSweep:   make(chan struct{}),
		now:         time.Now,
	}
	go l.sweepLoop()

	l.logger.Info().
		Int("limit", limit).
		Dur("window", window).
		Msg("Fixed-window rate limiter initialized")
	return l
}

// Admit records one request from addr and reports whether it is allowed.
// When the current window's count has reached the limit the request is denied
// without incrementing, so count never exceeds limit.
func (l *FixedWindowLimiter) Admit(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.entries[addr]
	if !ok {
		entry = &windowEntry{windowStart: now}
		l.entries[addr] = entry
	} else if now.Sub(entry.windowStart) >= l.window {
		entry.count = 0
		entry.windowStart = now
	}

	if entry.count >= l.limit {
		return false
	}
	entry.count++
	return true
}

func (l *FixedWindowLimiter) sweepLoop() {
	for {
		select {
		case <-l.sweepTicker.C:
			l.sweep()
		case <-l.stopSweep:
			l.sweepTicker.Stop()
			return
		}
	}
}

// sweep removes entries whose window expired before now. An address removed
// here would have had its counter reset on the next Admit anyway, so the
// admission semantics are unchanged.
func (l *FixedWindowLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for addr, entry := range l.entries {
		if now.Sub(entry.windowStart) >= l.window {
			delete(l.entries, addr)
			removed++
		}
	}
	if removed > 0 {
		l.logger.Debug().
			Int("removed", removed).
			Int("remaining", len(l.entries)).
			Msg("Swept expired rate windows")
	}
}

// Stop terminates the sweep goroutine. Idempotent.
func (l *FixedWindowLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopSweep) })
}

// TrackedAddrs returns the number of addresses currently tracked.
func (l *FixedWindowLimiter) TrackedAddrs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// GlobalGuard is an optional token bucket over all upgrade attempts,
// system-wide. It sits ahead of the per-address fixed window and only ever
// tightens admission, never loosens it.
type GlobalGuard struct {
	limiter *rate.Limiter
}

// NewGlobalGuard returns nil when ratePerSec is not positive, which disables
// the guard entirely.
func NewGlobalGuard(ratePerSec float64, burst int) *GlobalGuard {
	if ratePerSec <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(ratePerSec)
		if burst < 1 {
			burst = 1
		}
	}
	return &GlobalGuard{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Allow reports whether one more upgrade attempt may proceed. A nil guard
// always allows.
func (g *GlobalGuard) Allow() bool {
	if g == nil {
		return true
	}
	return g.limiter.Allow()
}
