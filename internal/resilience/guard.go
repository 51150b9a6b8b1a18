// Package resilience implements the admission policy wrapped around every
// upstream transcription attempt.
//
// The central type is [Guard], which applies three ordered checks and
// short-circuits on the first rejection:
//
//  1. Circuit breaker — consecutive upstream failures trip the breaker for a
//     cool-down window during which all requests are rejected outright.
//  2. Rate limit — a fixed wall-clock window (minute ticks, not sliding)
//     caps the number of admitted requests.
//  3. Session budget — requests reporting more cumulative recorded audio
//     than the per-session cap are rejected until the session is reset.
//
// One Guard instance exists per deployment; its counters are shared,
// mutex-guarded state. The clock is injected so tests can drive window and
// cool-down expiry deterministically.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrBreakerOpen is returned by [Guard.Allow] while the circuit breaker's
// cool-down window is in effect. No upstream call is made.
var ErrBreakerOpen = errors.New("resilience: circuit breaker is open")

// ErrRateLimited is returned by [Guard.Allow] when the current rate window
// is exhausted.
var ErrRateLimited = errors.New("resilience: rate limit exceeded")

// ErrBudgetExceeded is returned by [Guard.Allow] when a session has used up
// its cumulative recording budget.
var ErrBudgetExceeded = errors.New("resilience: session budget exceeded")

// Config holds tuning knobs for a [Guard]. Zero-value fields are replaced
// with the documented defaults.
type Config struct {
	// BreakerThreshold is the number of consecutive upstream failures that
	// opens the breaker. Default: 4.
	BreakerThreshold int

	// BreakerCooldown is how long the breaker stays open once tripped.
	// Default: 60s.
	BreakerCooldown time.Duration

	// MaxRequestsPerWindow caps admitted requests per rate window. Default: 8.
	MaxRequestsPerWindow int

	// RateWindow is the fixed wall-clock window for the rate limiter.
	// Windows are aligned to multiples of this duration (truncated clock
	// time), not measured from the first request. Default: 60s.
	RateWindow time.Duration

	// SessionBudget is the cumulative recorded-audio cap per session.
	// Default: 5m.
	SessionBudget time.Duration
}

func (c Config) withDefaults() Config {
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 4
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 60 * time.Second
	}
	if c.MaxRequestsPerWindow <= 0 {
		c.MaxRequestsPerWindow = 8
	}
	if c.RateWindow <= 0 {
		c.RateWindow = 60 * time.Second
	}
	if c.SessionBudget <= 0 {
		c.SessionBudget = 5 * time.Minute
	}
	return c
}

// Guard is the process-wide admission gate for transcription requests.
// It is safe for concurrent use.
type Guard struct {
	cfg Config
	clk clock.Clock

	mu              sync.Mutex
	consecutiveFail int
	openUntil       time.Time
	windowTick      time.Time
	windowCount     int
}

// New creates a Guard with the supplied configuration. Pass nil for clk to
// use the wall clock.
func New(cfg Config, clk clock.Clock) *Guard {
	if clk == nil {
		clk = clock.New()
	}
	return &Guard{cfg: cfg.withDefaults(), clk: clk}
}

// Allow runs the three admission checks for a request reporting the given
// cumulative recorded audio for its session. It returns nil when the request
// may proceed upstream, or one of [ErrBreakerOpen], [ErrRateLimited],
// [ErrBudgetExceeded].
//
// A successful Allow consumes one slot of the current rate window even if
// the subsequent budget check rejects — the checks are strictly ordered.
func (g *Guard) Allow(sessionRecorded time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clk.Now()

	// 1. Circuit breaker: openUntil is honored until it elapses, regardless
	// of anything else happening in the meantime.
	if now.Before(g.openUntil) {
		return ErrBreakerOpen
	}

	// 2. Rate limit: fixed window derived from truncated wall-clock time.
	tick := now.Truncate(g.cfg.RateWindow)
	if !tick.Equal(g.windowTick) {
		g.windowTick = tick
		g.windowCount = 0
	}
	if g.windowCount >= g.cfg.MaxRequestsPerWindow {
		return ErrRateLimited
	}
	g.windowCount++

	// 3. Session budget.
	if sessionRecorded > g.cfg.SessionBudget {
		return ErrBudgetExceeded
	}

	return nil
}

// RecordSuccess resets the consecutive-failure counter, closing the breaker
// accounting early. It does not shorten an already-running cool-down.
func (g *Guard) RecordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consecutiveFail = 0
}

// RecordFailure notes one upstream failure. On reaching the threshold the
// breaker opens for the configured cool-down and the counter resets.
func (g *Guard) RecordFailure() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.consecutiveFail++
	if g.consecutiveFail >= g.cfg.BreakerThreshold {
		g.openUntil = g.clk.Now().Add(g.cfg.BreakerCooldown)
		g.consecutiveFail = 0
		slog.Warn("circuit breaker opened",
			"cooldown", g.cfg.BreakerCooldown,
			"open_until", g.openUntil,
		)
	}
}

// State is a read-only snapshot of the guard's counters.
type State struct {
	ConsecutiveFailures int
	OpenUntil           time.Time
	WindowCount         int
}

// Snapshot returns the current counter values. Intended for health
// reporting and tests.
func (g *Guard) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return State{
		ConsecutiveFailures: g.consecutiveFail,
		OpenUntil:           g.openUntil,
		WindowCount:         g.windowCount,
	}
}
