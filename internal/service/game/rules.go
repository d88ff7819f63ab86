package game

import (
	"encoding/json"
	"fmt"
	"time"

	"gameroom-service/internal/service/settlement"
	appErr "gameroom-service/pkg/errors"
	"gameroom-service/pkg/utils/random"
)

type Kind string

const (
	KindTurnDuel   Kind = "turnduel"
	KindNumberCall Kind = "numbercall"
	KindTicketDraw Kind = "ticketdraw"
)

// Env is what a rule may observe from outside the room.
type Env struct {
	Now  time.Time
	Rand random.Source
}

// Effect is the result of a committed move or an expired deadline.
type Effect struct {
	// Outcome ends the round when set.
	Outcome *settlement.Outcome
	// Advisories go to the host only and never decide a round.
	Advisories []Advisory
	// Changed is false when nothing observable happened.
	Changed bool
	Note    string
}

// Advisory flags a card that looks claimable.
type Advisory struct {
	CardID  int    `json:"cardId"`
	Owner   int64  `json:"owner"`
	Pattern string `json:"pattern"`
}

// Plan is a validated move. Charge is escrowed from the actor before Commit
// runs; a failed charge drops the plan with no state change.
type Plan struct {
	Charge int64
	commit func() Effect
}

func (p *Plan) Commit() Effect {
	return p.commit()
}

// Rules is one game variant. The room serializes every call under its lock
// and never branches on the game kind itself.
type Rules interface {
	Kind() Kind
	MinSeats() int
	MaxSeats() int
	// AutoStart starts the round as soon as MinSeats are seated, staking them.
	AutoStart() bool
	// SeatStake charges the wager per seat before the round starts.
	SeatStake() bool
	// OpenSeating admits new seats while the round is running.
	OpenSeating() bool
	// Pausable rounds pause on disconnect instead of ignoring it.
	Pausable() bool
	// LeaveForfeits ends the round with a forfeit when a seat leaves.
	LeaveForfeits() bool
	// Pooled wins split between winner, host and sponsor.
	Pooled() bool

	// Start resets the rule state for a new round.
	Start(env Env, seats []int64, host int64)
	// Prepare validates an action without changing state.
	Prepare(env Env, userID int64, action string, data json.RawMessage) (*Plan, error)
	// Turn returns the user expected to act, or 0.
	Turn() int64
	// NextDeadline is recomputed after start, every committed move and resume.
	NextDeadline(now time.Time, turnTimeout time.Duration) time.Time
	// OnDeadline runs once NextDeadline has passed.
	OnDeadline(env Env) Effect
	// Tick runs on every sweep for time-based housekeeping.
	Tick(env Env) Effect
	// OnLeave drops a departing user's private state.
	OnLeave(env Env, userID int64)
	// Snapshot is the rule state as viewer may see it.
	Snapshot(viewer int64) interface{}
}

// Config covers every variant; each rule reads the fields it needs.
type Config struct {
	Rows      int  `json:"rows,omitempty"`
	Cols      int  `json:"cols,omitempty"`
	WinLength int  `json:"winLength,omitempty"`
	Gravity   bool `json:"gravity,omitempty"`

	MaxPlayers       int           `json:"maxPlayers,omitempty"`
	CardsPerSeat     int           `json:"cardsPerSeat,omitempty"`
	Pattern          string        `json:"pattern,omitempty"`
	AdvisoryThrottle time.Duration `json:"-"`

	Slots          int           `json:"slots,omitempty"`
	SlotPrice      int64         `json:"-"`
	DrawWindow     time.Duration `json:"drawWindow,omitempty"`
	ReservationTTL time.Duration `json:"-"`
}

// New builds the rules for kind, filling unset config with defaults.
func New(kind Kind, cfg Config) (Rules, error) {
	switch kind {
	case KindTurnDuel:
		return newTurnDuel(cfg)
	case KindNumberCall:
		return newNumberCall(cfg)
	case KindTicketDraw:
		return newTicketDraw(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", appErr.ErrUnsupportedGame, kind)
	}
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing payload", appErr.ErrInvalidMove)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", appErr.ErrInvalidMove, err)
	}
	return nil
}

func outcome(o settlement.Outcome) *settlement.Outcome {
	return &o
}
