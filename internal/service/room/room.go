package room

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"gameroom-service/internal/metrics"
	"gameroom-service/internal/model"
	"gameroom-service/internal/service/game"
	"gameroom-service/internal/service/ledger"
	"gameroom-service/internal/service/notify"
	"gameroom-service/internal/service/settlement"
	appErr "gameroom-service/pkg/errors"
	"gameroom-service/pkg/logger"
	"gameroom-service/pkg/utils/random"

	"go.uber.org/zap"
)

type Status string

const (
	StatusWaiting  Status = "WAITING"
	StatusPlaying  Status = "PLAYING"
	StatusPaused   Status = "PAUSED"
	StatusFinished Status = "FINISHED"
	StatusClosed   Status = "CLOSED"
)

const (
	RoleHost  = "host"
	RoleGuest = "guest"
)

type Wager struct {
	Currency model.Currency `json:"currency"`
	Amount   int64          `json:"amountPerSeat"`
}

type Seat struct {
	UserID  int64  `json:"userId,string"`
	Role    string `json:"role"`
	Ready   bool   `json:"ready"`
	Paid    bool   `json:"paid"`
	Rematch bool   `json:"rematch"`
}

type Options struct {
	TurnTimeout time.Duration
	PauseBudget time.Duration
}

// Deps are shared by every room of a registry.
type Deps struct {
	Engine    *settlement.Engine
	Publisher notify.Publisher
	Now       func() time.Time
	Rand      random.Source
	Options
}

// Room is the lifecycle of one match. Every method takes the room lock;
// helpers ending in Locked expect it held. A room never calls back into
// the registry.
type Room struct {
	mu   sync.Mutex
	deps *Deps

	id     string
	code   string
	kind   game.Kind
	rules  game.Rules
	wager  Wager
	public bool

	seats        []Seat
	hostID       int64
	status       Status
	round        int
	turnDeadline time.Time
	presence     *presenceGuard
	// departed holds users no longer seated who may still be owed from the
	// current pot.
	departed []int64
	// pending is the outcome of a finished round not yet settled.
	pending *settlement.Outcome
	result  *settlement.Result
	score   map[int64]int

	seq       int64
	createdAt time.Time
	updatedAt time.Time
}

func newRoom(deps *Deps, id, code string, rules game.Rules, wager Wager, public bool, host int64) *Room {
	now := deps.Now()
	return &Room{
		deps:      deps,
		id:        id,
		code:      code,
		kind:      rules.Kind(),
		rules:     rules,
		wager:     wager,
		public:    public,
		seats:     []Seat{{UserID: host, Role: RoleHost}},
		hostID:    host,
		status:    StatusWaiting,
		round:     1,
		presence:  newPresenceGuard(deps.PauseBudget),
		score:     make(map[int64]int),
		createdAt: now,
		updatedAt: now,
	}
}

func (r *Room) ID() string { return r.id }
func (r *Room) Code() string { return r.code }
func (r *Room) Kind() game.Kind { return r.kind }
func (r *Room) Rules() game.Rules { return r.rules }

func (r *Room) env() game.Env {
	return game.Env{Now: r.deps.Now(), Rand: r.deps.Rand}
}

func (r *Room) pot() ledger.Pot {
	return ledger.Pot{RoomID: r.id, Round: r.round, Currency: r.wager.Currency}
}

func (r *Room) logFields(extra ...zap.Field) []zap.Field {
	return append([]zap.Field{
		zap.String("roomID", r.id),
		zap.String("game", string(r.kind)),
		zap.Int("round", r.round),
	}, extra...)
}

// join seats a user. Re-joining is a no-op. When the rules auto-start and
// enough seats are taken, the round is started; a failed charge keeps the seat
// and the room WAITING and returns ErrPaymentFailed.
func (r *Room) join(ctx context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seatIndexLocked(userID) >= 0 {
		return nil
	}
	switch r.status {
	case StatusWaiting:
	case StatusPlaying, StatusPaused:
		if !r.rules.OpenSeating() {
			return appErr.ErrAlreadyStarted
		}
	default:
		return appErr.ErrInvalidState
	}
	if len(r.seats) >= r.rules.MaxSeats() {
		return appErr.ErrSeatFull
	}
	r.seats = append(r.seats, Seat{UserID: userID, Role: RoleGuest})
	r.touchLocked()
	logger.Log.Info("seat joined", r.logFields(zap.Int64("userID", userID))...)

	var err error
	if r.autoStartLocked() {
		err = r.startLocked(ctx)
	}
	r.publishLocked()
	return err
}

// setReady stakes the seat when ready and refunds it when not.
func (r *Room) setReady(ctx context.Context, userID int64, ready bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.seatIndexLocked(userID)
	if i < 0 {
		return appErr.ErrNotInRoom
	}
	if r.status != StatusWaiting {
		return appErr.ErrAlreadyStarted
	}
	if ready {
		if !r.seats[i].Paid && r.rules.SeatStake() {
			if err := r.chargeLocked(ctx, []int64{userID}); err != nil {
				return err
			}
		}
		r.seats[i].Ready = true
	} else {
		if r.seats[i].Paid {
			if err := r.refundLocked(ctx, userID, "unready"); err != nil {
				return err
			}
		}
		r.seats[i].Ready = false
	}
	r.touchLocked()

	var err error
	if ready && r.autoStartLocked() && r.allReadyLocked() {
		err = r.startLocked(ctx)
	}
	r.publishLocked()
	return err
}

func (r *Room) start(ctx context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seatIndexLocked(userID) < 0 {
		return appErr.ErrNotInRoom
	}
	if userID != r.hostID {
		return appErr.ErrNotHost
	}
	if r.status != StatusWaiting {
		return appErr.ErrAlreadyStarted
	}
	if len(r.seats) < r.rules.MinSeats() {
		return appErr.ErrNotEnoughPlayers
	}
	err := r.startLocked(ctx)
	r.publishLocked()
	return err
}

// startLocked collects every missing stake, all or nothing, and begins the
// round. It is the only way into PLAYING.
func (r *Room) startLocked(ctx context.Context) error {
	if r.rules.SeatStake() {
		var unpaid []int64
		for _, s := range r.seats {
			if !s.Paid {
				unpaid = append(unpaid, s.UserID)
			}
		}
		if err := r.chargeLocked(ctx, unpaid); err != nil {
			return err
		}
	}
	ids := r.seatIDsLocked()
	for i := range r.seats {
		r.seats[i].Ready = true
		r.seats[i].Rematch = false
	}
	env := r.env()
	r.rules.Start(env, ids, r.hostID)
	r.presence.reset(ids)
	r.status = StatusPlaying
	r.result = nil
	r.pending = nil
	r.departed = nil
	r.turnDeadline = r.rules.NextDeadline(env.Now, r.deps.TurnTimeout)
	r.touchLocked()
	logger.Log.Info("round started", r.logFields(zap.Int("seats", len(ids)), zap.Int64("amount", r.wager.Amount))...)
	return nil
}

// applyMove hands an action to the rules. A deadline that already passed is
// enforced first, so a late move cannot overtake its own timeout.
func (r *Room) applyMove(ctx context.Context, userID int64, action string, data json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.seatIndexLocked(userID)
	if i < 0 {
		return appErr.ErrNotInRoom
	}
	if r.status != StatusPlaying {
		return appErr.ErrInvalidState
	}
	env := r.env()
	if r.deadlinePassedLocked(env.Now) {
		_ = r.applyEffectLocked(ctx, env.Now, r.rules.OnDeadline(env), true, "turn_timeout")
		r.publishLocked()
		if r.status != StatusPlaying {
			return appErr.ErrInvalidState
		}
	}

	plan, err := r.rules.Prepare(env, userID, action, data)
	if err != nil {
		return err
	}
	if plan.Charge > 0 {
		stake := []ledger.Stake{{UserID: userID, Amount: plan.Charge}}
		if err := r.deps.Engine.ChargeAllSeats(ctx, r.pot(), stake); err != nil {
			return err
		}
		r.seats[i].Paid = true
	}
	_ = r.applyEffectLocked(ctx, env.Now, plan.Commit(), true, "move")
	r.publishLocked()
	return nil
}

// open starts an auto-start room that needs no other seat.
func (r *Room) open(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.autoStartLocked() {
		return nil
	}
	err := r.startLocked(ctx)
	r.publishLocked()
	return err
}

func (r *Room) autoStartLocked() bool {
	return r.status == StatusWaiting && r.rules.AutoStart() && len(r.seats) >= r.rules.MinSeats()
}

func (r *Room) deadlinePassedLocked(now time.Time) bool {
	return r.status == StatusPlaying && !r.turnDeadline.IsZero() && now.After(r.turnDeadline)
}

// applyEffectLocked routes advisories to the host and finishes the round
// when the effect carries an outcome. A settlement error is returned but the
// round is FINISHED regardless.
func (r *Room) applyEffectLocked(ctx context.Context, now time.Time, eff game.Effect, resetClock bool, cause string) error {
	for _, a := range eff.Advisories {
		r.sendLocked(r.hostID, notify.EventPotentialWin, a)
	}
	if eff.Outcome != nil {
		return r.finishLocked(ctx, *eff.Outcome, cause)
	}
	if eff.Changed {
		if resetClock {
			r.turnDeadline = r.rules.NextDeadline(now, r.deps.TurnTimeout)
		}
		r.touchLocked()
	}
	return nil
}

// finishLocked ends the round and settles it. When settlement fails the
// outcome stays pending for the sweep to retry.
func (r *Room) finishLocked(ctx context.Context, outcome settlement.Outcome, cause string) error {
	r.status = StatusFinished
	r.turnDeadline = time.Time{}
	r.presence.clearPauses()
	r.pending = &outcome
	for i := range r.seats {
		r.seats[i].Ready = false
		r.seats[i].Rematch = false
	}
	switch outcome.Kind {
	case settlement.KindWin:
		r.score[outcome.UserID]++
	case settlement.KindForfeit:
		metrics.Forfeits.WithLabelValues(cause).Inc()
	}
	r.touchLocked()
	logger.Log.Info("round finished", r.logFields(
		zap.String("outcome", outcome.String()),
		zap.String("cause", cause),
	)...)
	return r.settleLocked(ctx)
}

func (r *Room) settleLocked(ctx context.Context) error {
	if r.pending == nil {
		return nil
	}
	res, err := r.deps.Engine.Settle(ctx, settlement.Request{
		Pot:     r.pot(),
		Outcome: *r.pending,
		Seats:   r.settleSeatsLocked(),
		Host:    r.hostID,
		Pooled:  r.rules.Pooled(),
	})
	if err != nil {
		logger.Log.Warn("settlement failed, left pending", r.logFields(
			zap.String("outcome", r.pending.String()),
			zap.Error(err),
		)...)
		return err
	}
	r.result = res
	r.pending = nil
	r.departed = nil
	for i := range r.seats {
		r.seats[i].Paid = false
	}
	return nil
}

// leave vacates the seat. Leaving a running round forfeits it when the rules
// say so; leaving a WAITING room refunds the stake and closes an empty room.
func (r *Room) leave(ctx context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.seatIndexLocked(userID)
	if i < 0 {
		return appErr.ErrNotInRoom
	}
	switch r.status {
	case StatusWaiting:
		if r.seats[i].Paid {
			if err := r.refundLocked(ctx, userID, "left room"); err != nil {
				return err
			}
		}
		r.removeSeatLocked(i)
		if len(r.seats) == 0 {
			r.status = StatusClosed
			logger.Log.Info("room closed", r.logFields(zap.String("cause", "empty"))...)
		}
	case StatusPlaying, StatusPaused:
		if r.rules.LeaveForfeits() {
			_ = r.finishLocked(ctx, settlement.Forfeit(userID), "leave")
		} else {
			r.rules.OnLeave(r.env(), userID)
		}
		r.removeSeatLocked(i)
	case StatusFinished:
		r.removeSeatLocked(i)
		for j := range r.seats {
			r.seats[j].Rematch = false
		}
	default:
		return appErr.ErrInvalidState
	}
	r.touchLocked()
	logger.Log.Info("seat left", r.logFields(zap.Int64("userID", userID))...)
	r.publishLocked(userID)
	return nil
}

// close refunds every stake of a room that never started.
func (r *Room) close(ctx context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seatIndexLocked(userID) < 0 {
		return appErr.ErrNotInRoom
	}
	if userID != r.hostID {
		return appErr.ErrNotHost
	}
	if r.status != StatusWaiting {
		return appErr.ErrInvalidState
	}
	if r.anyPaidLocked() {
		res, err := r.deps.Engine.Settle(ctx, settlement.Request{
			Pot:     r.pot(),
			Outcome: settlement.Abort(),
			Seats:   r.seatIDsLocked(),
			Host:    r.hostID,
		})
		if err != nil {
			return err
		}
		r.result = res
	}
	ids := r.seatIDsLocked()
	r.seats = nil
	r.status = StatusClosed
	r.touchLocked()
	logger.Log.Info("room closed", r.logFields(zap.String("cause", "host"))...)
	r.publishLocked(ids...)
	return nil
}

// rematchVote restarts the room once every seat has voted. busy holds users
// who took another live room of this kind since the round ended: they may
// not vote, and once everyone else has voted they are unseated instead of
// being pulled back into a second live room.
func (r *Room) rematchVote(_ context.Context, userID int64, busy map[int64]bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.seatIndexLocked(userID)
	if i < 0 {
		return appErr.ErrNotInRoom
	}
	if r.status != StatusFinished || r.pending != nil {
		return appErr.ErrInvalidState
	}
	if busy[userID] {
		return appErr.ErrHoldsLiveRoom
	}
	r.seats[i].Rematch = true

	var dropped []int64
	if r.allVotedExceptLocked(busy) {
		for j := len(r.seats) - 1; j >= 0; j-- {
			if uid := r.seats[j].UserID; busy[uid] {
				dropped = append(dropped, uid)
				r.removeSeatLocked(j)
			}
		}
		if len(dropped) > 0 {
			logger.Log.Info("rematch dropped seats holding another room", r.logFields(zap.Int64s("userIDs", dropped))...)
		}
		if len(r.seats) >= r.rules.MinSeats() {
			r.round++
			r.status = StatusWaiting
			r.result = nil
			r.turnDeadline = time.Time{}
			for j := range r.seats {
				r.seats[j] = Seat{UserID: r.seats[j].UserID, Role: r.seats[j].Role}
			}
			logger.Log.Info("rematch agreed", r.logFields()...)
		}
	}
	r.touchLocked()
	r.publishLocked(dropped...)
	return nil
}

// tick enforces deadlines at now. Called by the sweep; changed reports
// whether the room moved.
func (r *Room) tick(ctx context.Context, now time.Time) (changed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	env := game.Env{Now: now, Rand: r.deps.Rand}
	switch r.status {
	case StatusPlaying:
		changed = r.rules.Tick(env).Changed
		if r.deadlinePassedLocked(now) {
			err = r.applyEffectLocked(ctx, now, r.rules.OnDeadline(env), true, "turn_timeout")
			changed = true
		}
	case StatusPaused:
		uid, ok := r.presence.expired(now, r.seatIDsLocked())
		if !ok {
			return false, nil
		}
		err = r.finishLocked(ctx, settlement.Forfeit(uid), "pause_timeout")
		changed = true
	case StatusFinished:
		if r.pending == nil {
			return false, nil
		}
		if err = r.settleLocked(ctx); err != nil {
			return false, err
		}
		changed = true
	}
	if changed {
		r.publishLocked()
	}
	return changed, err
}

func (r *Room) chargeLocked(ctx context.Context, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	if r.wager.Amount > 0 {
		stakes := make([]ledger.Stake, 0, len(userIDs))
		for _, uid := range userIDs {
			stakes = append(stakes, ledger.Stake{UserID: uid, Amount: r.wager.Amount})
		}
		if err := r.deps.Engine.ChargeAllSeats(ctx, r.pot(), stakes); err != nil {
			return err
		}
	}
	for _, uid := range userIDs {
		if i := r.seatIndexLocked(uid); i >= 0 {
			r.seats[i].Paid = true
		}
	}
	return nil
}

func (r *Room) refundLocked(ctx context.Context, userID int64, reason string) error {
	if r.wager.Amount > 0 {
		if _, err := r.deps.Engine.RefundSeat(ctx, r.pot(), userID, reason); err != nil {
			return err
		}
	}
	if i := r.seatIndexLocked(userID); i >= 0 {
		r.seats[i].Paid = false
	}
	return nil
}

// removeSeatLocked drops seat i. The host role passes to the next seat
// unless a round is running or awaiting settlement, where the host keeps
// their share.
func (r *Room) removeSeatLocked(i int) {
	seat := r.seats[i]
	if seat.Paid || r.pending != nil {
		r.departed = append(r.departed, seat.UserID)
	}
	r.seats = append(r.seats[:i], r.seats[i+1:]...)
	r.presence.forget(seat.UserID)

	if seat.UserID != r.hostID || len(r.seats) == 0 {
		return
	}
	if r.status == StatusWaiting || (r.status == StatusFinished && r.pending == nil) {
		r.seats[0].Role = RoleHost
		r.hostID = r.seats[0].UserID
	}
}

func (r *Room) seatIndexLocked(userID int64) int {
	for i, s := range r.seats {
		if s.UserID == userID {
			return i
		}
	}
	return -1
}

func (r *Room) seatIDsLocked() []int64 {
	ids := make([]int64, 0, len(r.seats))
	for _, s := range r.seats {
		ids = append(ids, s.UserID)
	}
	return ids
}

// settleSeatsLocked is the seat order used for payouts: current seats, then
// departed users still owed from the pot.
func (r *Room) settleSeatsLocked() []int64 {
	ids := r.seatIDsLocked()
	for _, uid := range r.departed {
		if r.seatIndexLocked(uid) < 0 {
			ids = append(ids, uid)
		}
	}
	return ids
}

func (r *Room) allReadyLocked() bool {
	for _, s := range r.seats {
		if !s.Ready {
			return false
		}
	}
	return len(r.seats) > 0
}

// allVotedExceptLocked reports whether every seat outside skip has voted.
func (r *Room) allVotedExceptLocked(skip map[int64]bool) bool {
	voted := 0
	for _, s := range r.seats {
		if skip[s.UserID] {
			continue
		}
		if !s.Rematch {
			return false
		}
		voted++
	}
	return voted > 0
}

func (r *Room) anyPaidLocked() bool {
	for _, s := range r.seats {
		if s.Paid {
			return true
		}
	}
	return false
}

func (r *Room) touchLocked() {
	r.updatedAt = r.deps.Now()
}

// disconnect pauses a running round. A seat whose budget is spent forfeits
// on the spot.
func (r *Room) disconnect(ctx context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seatIndexLocked(userID) < 0 {
		return appErr.ErrNotInRoom
	}
	if !r.rules.Pausable() || (r.status != StatusPlaying && r.status != StatusPaused) {
		return nil
	}
	if r.presence.isPaused(userID) {
		return nil
	}
	now := r.deps.Now()
	until, exhausted := r.presence.pause(userID, now)
	var err error
	if exhausted {
		err = r.finishLocked(ctx, settlement.Forfeit(userID), "pause_exhausted")
	} else {
		r.status = StatusPaused
		r.touchLocked()
		logger.Log.Info("round paused", r.logFields(
			zap.Int64("userID", userID),
			zap.Time("until", until),
		)...)
	}
	r.publishLocked()
	return err
}

// reconnect resumes a paused seat. The round continues once nobody is
// paused, with a fresh turn deadline.
func (r *Room) reconnect(ctx context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seatIndexLocked(userID) < 0 {
		return appErr.ErrNotInRoom
	}
	if !r.presence.isPaused(userID) {
		r.sendLocked(userID, notify.EventRoomState, r.snapshotLocked(userID))
		return nil
	}
	now := r.deps.Now()
	resumed, lapsed := r.presence.resume(userID, now)
	var err error
	switch {
	case lapsed:
		err = r.finishLocked(ctx, settlement.Forfeit(userID), "pause_timeout")
	case resumed && !r.presence.paused() && r.status == StatusPaused:
		r.status = StatusPlaying
		r.turnDeadline = r.rules.NextDeadline(now, r.deps.TurnTimeout)
		r.touchLocked()
		logger.Log.Info("round resumed", r.logFields(zap.Int64("userID", userID))...)
	}
	r.publishLocked()
	return err
}
