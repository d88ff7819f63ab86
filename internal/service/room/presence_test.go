package room

import (
	"testing"
	"time"
)

func TestPresenceBudgetOnlyShrinks(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := newPresenceGuard(30 * time.Second)
	p.reset([]int64{1, 2})

	until, exhausted := p.pause(1, t0)
	if exhausted || !until.Equal(t0.Add(30*time.Second)) {
		t.Fatalf("pause = %s %v", until, exhausted)
	}
	if again, _ := p.pause(1, t0.Add(time.Second)); !again.Equal(until) {
		t.Fatalf("repeated pause moved the deadline to %s", again)
	}

	resumed, lapsed := p.resume(1, t0.Add(20*time.Second))
	if !resumed || lapsed {
		t.Fatalf("resume = %v %v", resumed, lapsed)
	}
	if got := p.budgetOf(1); got != 10*time.Second {
		t.Fatalf("budget = %s, want 10s", got)
	}
	if got := p.budgetOf(2); got != 30*time.Second {
		t.Fatalf("untouched seat budget = %s", got)
	}

	until, _ = p.pause(1, t0.Add(25*time.Second))
	if !until.Equal(t0.Add(35 * time.Second)) {
		t.Fatalf("second pause until %s", until)
	}
	if _, ok := p.expired(t0.Add(35*time.Second), []int64{1, 2}); ok {
		t.Fatalf("expired at the deadline itself")
	}
	if uid, ok := p.expired(t0.Add(36*time.Second), []int64{1, 2}); !ok || uid != 1 {
		t.Fatalf("expired = %d %v", uid, ok)
	}

	resumed, lapsed = p.resume(1, t0.Add(36*time.Second))
	if resumed || !lapsed {
		t.Fatalf("late resume = %v %v", resumed, lapsed)
	}
	if _, exhausted := p.pause(1, t0.Add(40*time.Second)); !exhausted {
		t.Fatalf("spent budget allowed another pause")
	}
}

func TestPresenceResetRefills(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := newPresenceGuard(time.Second)
	p.reset([]int64{1})
	p.pause(1, t0)
	p.resume(1, t0.Add(2*time.Second))

	p.reset([]int64{1})
	if p.paused() || p.budgetOf(1) != time.Second {
		t.Fatalf("reset left paused=%v budget=%s", p.paused(), p.budgetOf(1))
	}
}
