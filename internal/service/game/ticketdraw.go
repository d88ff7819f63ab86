package game

import (
	"encoding/json"
	"fmt"
	"time"

	"gameroom-service/internal/service/settlement"
	appErr "gameroom-service/pkg/errors"
)

const (
	ActionReserve = "reserve"
	ActionRelease = "release"
	ActionConfirm = "confirm"
)

// Slot states as seen by a viewer. Slots held by someone else are "taken"
// whether reserved or sold.
const (
	SlotAvailable = "available"
	SlotTaken     = "taken"
	SlotReserved  = "reserved"
	SlotOwned     = "owned"
)

type slotState int8

const (
	slotFree slotState = iota
	slotHeld
	slotSold
)

type slot struct {
	state      slotState
	owner      int64
	reservedAt time.Time
}

// TicketDraw sells numbered slots. A slot is reserved, then confirmed by
// paying the slot price into the pot; reservations lapse after the TTL. The
// draw happens when every slot is sold or the window closes.
type TicketDraw struct {
	price  int64
	window time.Duration
	ttl    time.Duration

	slots    []slot
	closesAt time.Time
	winning  int
}

type slotMove struct {
	Slot int `json:"slot"`
}

type TicketDrawState struct {
	Slots       []string  `json:"slots"`
	Price       int64     `json:"price"`
	Sold        int       `json:"sold"`
	ClosesAt    time.Time `json:"closesAt"`
	WinningSlot *int      `json:"winningSlot,omitempty"`
}

func newTicketDraw(cfg Config) (*TicketDraw, error) {
	if cfg.Slots == 0 {
		cfg.Slots = 10
	}
	if cfg.DrawWindow == 0 {
		cfg.DrawWindow = 10 * time.Minute
	}
	if cfg.ReservationTTL == 0 {
		cfg.ReservationTTL = 45 * time.Second
	}
	if cfg.Slots < 2 || cfg.Slots > 1000 {
		return nil, fmt.Errorf("%w: slots %d", appErr.ErrInvalidConfig, cfg.Slots)
	}
	if cfg.SlotPrice < 0 || cfg.DrawWindow < time.Minute || cfg.DrawWindow > 7*24*time.Hour {
		return nil, fmt.Errorf("%w: price %d window %s", appErr.ErrInvalidConfig, cfg.SlotPrice, cfg.DrawWindow)
	}
	return &TicketDraw{
		price:   cfg.SlotPrice,
		window:  cfg.DrawWindow,
		ttl:     cfg.ReservationTTL,
		slots:   make([]slot, cfg.Slots),
		winning: -1,
	}, nil
}

func (t *TicketDraw) Kind() Kind { return KindTicketDraw }
func (t *TicketDraw) MinSeats() int { return 1 }
func (t *TicketDraw) MaxSeats() int { return len(t.slots) + 1 }
func (t *TicketDraw) AutoStart() bool { return true }
func (t *TicketDraw) SeatStake() bool { return false }
func (t *TicketDraw) OpenSeating() bool { return true }
func (t *TicketDraw) Pausable() bool { return false }
func (t *TicketDraw) LeaveForfeits() bool { return false }
func (t *TicketDraw) Pooled() bool { return true }

func (t *TicketDraw) Start(env Env, _ []int64, _ int64) {
	t.slots = make([]slot, len(t.slots))
	t.closesAt = env.Now.Add(t.window)
	t.winning = -1
}

func (t *TicketDraw) Turn() int64 {
	return 0
}

func (t *TicketDraw) Prepare(env Env, userID int64, action string, data json.RawMessage) (*Plan, error) {
	var m slotMove
	if err := decode(data, &m); err != nil {
		return nil, err
	}
	if m.Slot < 0 || m.Slot >= len(t.slots) {
		return nil, fmt.Errorf("%w: slot %d out of range", appErr.ErrInvalidMove, m.Slot)
	}
	s := &t.slots[m.Slot]
	// A lapsed reservation counts as free here; commit and Tick free it.
	held := s.state == slotHeld && !t.lapsed(s, env.Now)
	mine := held && s.owner == userID

	switch action {
	case ActionReserve:
		if mine {
			return &Plan{commit: func() Effect { return Effect{} }}, nil
		}
		if held || s.state == slotSold {
			return nil, appErr.ErrSlotUnavailable
		}
		return &Plan{commit: func() Effect {
			t.expire(env.Now)
			*s = slot{state: slotHeld, owner: userID, reservedAt: env.Now}
			return Effect{Changed: true, Note: fmt.Sprintf("slot %d reserved", m.Slot)}
		}}, nil
	case ActionRelease:
		if !mine {
			return nil, appErr.ErrReservationNotFound
		}
		return &Plan{commit: func() Effect {
			t.expire(env.Now)
			*s = slot{}
			return Effect{Changed: true, Note: fmt.Sprintf("slot %d released", m.Slot)}
		}}, nil
	case ActionConfirm:
		if s.state == slotHeld && s.owner == userID && !held {
			return nil, appErr.ErrReservationExpired
		}
		if !mine {
			return nil, appErr.ErrReservationNotFound
		}
		return &Plan{Charge: t.price, commit: func() Effect {
			t.expire(env.Now)
			s.state = slotSold
			eff := Effect{Changed: true, Note: fmt.Sprintf("slot %d sold", m.Slot)}
			if t.sold() == len(t.slots) {
				eff.Outcome = t.draw(env)
				eff.Note = "sold out"
			}
			return eff
		}}, nil
	default:
		return nil, fmt.Errorf("%w: unknown action %q", appErr.ErrInvalidMove, action)
	}
}

func (t *TicketDraw) lapsed(s *slot, now time.Time) bool {
	return s.state == slotHeld && now.Sub(s.reservedAt) > t.ttl
}

// expire frees every lapsed reservation and reports whether any lapsed.
func (t *TicketDraw) expire(now time.Time) bool {
	changed := false
	for i := range t.slots {
		if t.lapsed(&t.slots[i], now) {
			t.slots[i] = slot{}
			changed = true
		}
	}
	return changed
}

func (t *TicketDraw) sold() int {
	n := 0
	for _, s := range t.slots {
		if s.state == slotSold {
			n++
		}
	}
	return n
}

// draw picks a winner uniformly over sold slots, or aborts when none sold.
func (t *TicketDraw) draw(env Env) *settlement.Outcome {
	var sold []int
	for i, s := range t.slots {
		if s.state == slotSold {
			sold = append(sold, i)
		}
		if s.state == slotHeld {
			t.slots[i] = slot{}
		}
	}
	if len(sold) == 0 {
		return outcome(settlement.Abort())
	}
	t.winning = sold[env.Rand.Intn(len(sold))]
	return outcome(settlement.Win(t.slots[t.winning].owner))
}

// NextDeadline is the fixed close of the sales window.
func (t *TicketDraw) NextDeadline(_ time.Time, _ time.Duration) time.Time {
	return t.closesAt
}

func (t *TicketDraw) OnDeadline(env Env) Effect {
	return Effect{Outcome: t.draw(env), Changed: true, Note: "sales window closed"}
}

func (t *TicketDraw) Tick(env Env) Effect {
	return Effect{Changed: t.expire(env.Now)}
}

// OnLeave drops the user's reservations. Sold slots stay in the draw.
func (t *TicketDraw) OnLeave(_ Env, userID int64) {
	for i, s := range t.slots {
		if s.state == slotHeld && s.owner == userID {
			t.slots[i] = slot{}
		}
	}
}

func (t *TicketDraw) Snapshot(viewer int64) interface{} {
	state := TicketDrawState{
		Slots:    make([]string, len(t.slots)),
		Price:    t.price,
		ClosesAt: t.closesAt,
	}
	for i, s := range t.slots {
		switch {
		case s.state == slotFree:
			state.Slots[i] = SlotAvailable
		case s.owner != viewer:
			state.Slots[i] = SlotTaken
		case s.state == slotHeld:
			state.Slots[i] = SlotReserved
		default:
			state.Slots[i] = SlotOwned
		}
		if s.state == slotSold {
			state.Sold++
		}
	}
	if t.winning >= 0 {
		w := t.winning
		state.WinningSlot = &w
	}
	return state
}
