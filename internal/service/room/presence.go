package room

import "time"

// presenceGuard tracks disconnected seats. Each seat has a pause budget
// that is spent across disconnects within a round and never refilled
// until the next round.
type presenceGuard struct {
	budget    time.Duration
	remaining map[int64]time.Duration
	until     map[int64]time.Time
}

func newPresenceGuard(budget time.Duration) *presenceGuard {
	return &presenceGuard{
		budget:    budget,
		remaining: make(map[int64]time.Duration),
		until:     make(map[int64]time.Time),
	}
}

// reset gives every seat a full budget.
func (p *presenceGuard) reset(seats []int64) {
	p.remaining = make(map[int64]time.Duration, len(seats))
	p.until = make(map[int64]time.Time)
	for _, uid := range seats {
		p.remaining[uid] = p.budget
	}
}

// pause starts a disconnect. exhausted is true when the seat has no budget
// left and must forfeit immediately.
func (p *presenceGuard) pause(userID int64, now time.Time) (until time.Time, exhausted bool) {
	if u, ok := p.until[userID]; ok {
		return u, false
	}
	left, ok := p.remaining[userID]
	if !ok {
		left = p.budget
	}
	if left <= 0 {
		return time.Time{}, true
	}
	u := now.Add(left)
	p.until[userID] = u
	return u, false
}

// resume ends a disconnect. The unspent part of the pause becomes the new
// budget. lapsed is true when the deadline passed before the seat returned.
func (p *presenceGuard) resume(userID int64, now time.Time) (resumed, lapsed bool) {
	u, ok := p.until[userID]
	if !ok {
		return false, false
	}
	delete(p.until, userID)
	if now.After(u) {
		p.remaining[userID] = 0
		return false, true
	}
	left := u.Sub(now)
	if cur, ok := p.remaining[userID]; !ok || left < cur {
		p.remaining[userID] = left
	}
	return true, false
}

// expired returns the first seat, in seat order, whose pause deadline is
// before now.
func (p *presenceGuard) expired(now time.Time, order []int64) (int64, bool) {
	for _, uid := range order {
		if u, ok := p.until[uid]; ok && now.After(u) {
			return uid, true
		}
	}
	return 0, false
}

func (p *presenceGuard) paused() bool {
	return len(p.until) > 0
}

func (p *presenceGuard) isPaused(userID int64) bool {
	_, ok := p.until[userID]
	return ok
}

func (p *presenceGuard) pausedUntil(userID int64) (time.Time, bool) {
	u, ok := p.until[userID]
	return u, ok
}

func (p *presenceGuard) budgetOf(userID int64) time.Duration {
	if left, ok := p.remaining[userID]; ok {
		return left
	}
	return p.budget
}

func (p *presenceGuard) clearPauses() {
	p.until = make(map[int64]time.Time)
}

func (p *presenceGuard) forget(userID int64) {
	delete(p.until, userID)
	delete(p.remaining, userID)
}
