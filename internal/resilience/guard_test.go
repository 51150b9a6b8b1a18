package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func newTestGuard(cfg Config) (*Guard, *clock.Mock) {
	mock := clock.NewMock()
	return New(cfg, mock), mock
}

func TestGuard_Defaults(t *testing.T) {
	g, _ := newTestGuard(Config{})
	if g.cfg.BreakerThreshold != 4 {
		t.Errorf("BreakerThreshold = %d, want 4", g.cfg.BreakerThreshold)
	}
	if g.cfg.BreakerCooldown != 60*time.Second {
		t.Errorf("BreakerCooldown = %v, want 60s", g.cfg.BreakerCooldown)
	}
	if g.cfg.MaxRequestsPerWindow != 8 {
		t.Errorf("MaxRequestsPerWindow = %d, want 8", g.cfg.MaxRequestsPerWindow)
	}
	if g.cfg.SessionBudget != 5*time.Minute {
		t.Errorf("SessionBudget = %v, want 5m", g.cfg.SessionBudget)
	}
}

func TestGuard_BreakerOpensAfterThreshold(t *testing.T) {
	g, mock := newTestGuard(Config{})

	for i := 0; i < 4; i++ {
		if err := g.Allow(0); err != nil {
			t.Fatalf("attempt %d rejected: %v", i, err)
		}
		g.RecordFailure()
	}

	// 5th request inside the cool-down window is rejected without any
	// upstream attempt.
	if err := g.Allow(0); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("err = %v, want ErrBreakerOpen", err)
	}

	// After the window elapses the request is evaluated normally again.
	mock.Add(61 * time.Second)
	if err := g.Allow(0); err != nil {
		t.Fatalf("post-cooldown request rejected: %v", err)
	}
}

func TestGuard_SuccessResetsFailureCounter(t *testing.T) {
	g, _ := newTestGuard(Config{})

	for i := 0; i < 3; i++ {
		_ = g.Allow(0)
		g.RecordFailure()
	}
	_ = g.Allow(0)
	g.RecordSuccess()

	// Three more failures must not trip the breaker (counter was reset).
	for i := 0; i < 3; i++ {
		_ = g.Allow(0)
		g.RecordFailure()
	}
	if err := g.Allow(0); err != nil {
		t.Fatalf("breaker tripped despite intervening success: %v", err)
	}
}

func TestGuard_OpenUntilHonoredDespiteElapsedFailures(t *testing.T) {
	g, mock := newTestGuard(Config{BreakerThreshold: 2, BreakerCooldown: time.Minute})

	_ = g.Allow(0)
	g.RecordFailure()
	_ = g.Allow(0)
	g.RecordFailure()

	mock.Add(30 * time.Second)
	if err := g.Allow(0); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("err at 30s = %v, want ErrBreakerOpen", err)
	}
	mock.Add(31 * time.Second)
	if err := g.Allow(0); err != nil {
		t.Fatalf("err at 61s = %v, want nil", err)
	}
}

func TestGuard_RateLimitFixedWindow(t *testing.T) {
	g, mock := newTestGuard(Config{})
	// Move somewhere mid-window so truncation matters.
	mock.Add(90 * time.Second)

	for i := 0; i < 8; i++ {
		if err := g.Allow(0); err != nil {
			t.Fatalf("request %d rejected: %v", i+1, err)
		}
	}
	if err := g.Allow(0); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("9th request: err = %v, want ErrRateLimited", err)
	}

	// Crossing into the next minute tick resets the window even though the
	// previous one was just exhausted.
	mock.Add(30 * time.Second) // 90s + 30s = 120s → new tick
	if err := g.Allow(0); err != nil {
		t.Fatalf("request in next tick rejected: %v", err)
	}
}

func TestGuard_BudgetExceeded(t *testing.T) {
	g, _ := newTestGuard(Config{})

	if err := g.Allow(300 * time.Second); err != nil {
		t.Fatalf("at exactly the cap: err = %v, want nil", err)
	}
	if err := g.Allow(301 * time.Second); !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("over the cap: err = %v, want ErrBudgetExceeded", err)
	}
}

func TestGuard_CheckOrdering(t *testing.T) {
	// Breaker rejection must win over rate and budget; rate over budget.
	g, mock := newTestGuard(Config{BreakerThreshold: 1})

	_ = g.Allow(0)
	g.RecordFailure() // opens immediately

	if err := g.Allow(10 * time.Hour); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("err = %v, want ErrBreakerOpen first", err)
	}

	mock.Add(2 * time.Minute)
	for i := 0; i < 8; i++ {
		_ = g.Allow(0)
	}
	if err := g.Allow(10 * time.Hour); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited before budget", err)
	}
}

func TestGuard_SnapshotCountersNeverNegative(t *testing.T) {
	g, _ := newTestGuard(Config{})
	g.RecordSuccess()
	g.RecordSuccess()
	st := g.Snapshot()
	if st.ConsecutiveFailures < 0 || st.WindowCount < 0 {
		t.Fatalf("negative counters: %+v", st)
	}
}
