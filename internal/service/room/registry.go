package room

import (
	"context"
	"sort"
	"strings"
	"sync"

	"gameroom-service/internal/metrics"
	"gameroom-service/internal/repo"
	"gameroom-service/internal/service/game"
	appErr "gameroom-service/pkg/errors"
	"gameroom-service/pkg/logger"
	"gameroom-service/pkg/utils/random"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type CreateRequest struct {
	HostID   int64
	GameType game.Kind
	Wager    Wager
	Public   bool
	Config   game.Config
}

// claim marks the room a user holds for one game kind. A pending claim is
// taken before the seat is, so two concurrent joins cannot both pass.
type claim struct {
	room    *Room
	pending bool
}

// Registry owns every live room. Lock order is registry then room.
type Registry struct {
	mu       sync.RWMutex
	deps     *Deps
	store    repo.RoomStore
	defaults game.Config
	codeLen  int

	rooms  map[string]*Room
	byCode map[string]*Room
	byUser map[int64]map[game.Kind]*claim
}

func NewRegistry(deps *Deps, store repo.RoomStore, defaults game.Config, codeLen int) *Registry {
	if codeLen <= 0 {
		codeLen = 6
	}
	return &Registry{
		deps:     deps,
		store:    store,
		defaults: defaults,
		codeLen:  codeLen,
		rooms:    make(map[string]*Room),
		byCode:   make(map[string]*Room),
		byUser:   make(map[int64]map[game.Kind]*claim),
	}
}

// Create opens a room with the host seated. A host that already holds a
// live room of the same kind gets that room back with existing set.
func (g *Registry) Create(ctx context.Context, req CreateRequest) (room *Room, existing bool, err error) {
	if req.HostID <= 0 {
		return nil, false, appErr.ErrInvalidAccount
	}
	if !req.Wager.Currency.Valid() {
		return nil, false, appErr.ErrInvalidCurrency
	}
	if req.Wager.Amount < 0 {
		return nil, false, appErr.ErrInvalidWager
	}
	cfg := req.Config
	if cfg.AdvisoryThrottle == 0 {
		cfg.AdvisoryThrottle = g.defaults.AdvisoryThrottle
	}
	if cfg.ReservationTTL == 0 {
		cfg.ReservationTTL = g.defaults.ReservationTTL
	}
	cfg.SlotPrice = req.Wager.Amount
	rules, err := game.New(req.GameType, cfg)
	if err != nil {
		return nil, false, err
	}

	g.mu.Lock()
	if held := g.claimLocked(req.HostID, rules.Kind()); held != nil {
		g.mu.Unlock()
		return held, true, nil
	}
	room = newRoom(g.deps, uuid.NewString(), g.newCodeLocked(), rules, req.Wager, req.Public, req.HostID)
	g.rooms[room.id] = room
	g.byCode[room.code] = room
	g.setClaimLocked(req.HostID, room, false)
	g.mu.Unlock()

	metrics.ActiveRooms.WithLabelValues(string(room.kind)).Inc()
	logger.Log.Info("room created",
		zap.String("roomID", room.id),
		zap.String("code", room.code),
		zap.String("game", string(room.kind)),
		zap.Int64("host", req.HostID),
		zap.Int64("amount", req.Wager.Amount),
	)

	err = room.open(ctx)
	g.sync(ctx, room)
	return room, false, err
}

// Join seats userID in the room named by id or join code. A user who holds
// another live room of the same kind gets that room back instead.
func (g *Registry) Join(ctx context.Context, idOrCode string, userID int64) (*Room, error) {
	g.mu.Lock()
	target := g.rooms[idOrCode]
	if target == nil {
		target = g.byCode[strings.ToUpper(strings.TrimSpace(idOrCode))]
	}
	if target == nil {
		g.mu.Unlock()
		return nil, appErr.ErrRoomNotFound
	}
	if held := g.claimLocked(userID, target.kind); held != nil {
		g.mu.Unlock()
		return held, nil
	}
	g.setClaimLocked(userID, target, true)
	g.mu.Unlock()

	err := target.join(ctx, userID)
	g.settleClaim(userID, target)
	g.sync(ctx, target)
	if err != nil && !target.hasSeat(userID) {
		return nil, err
	}
	return target, err
}

// Do runs fn against the room and then persists it. Claims of users who
// lost their seat are released.
func (g *Registry) Do(ctx context.Context, roomID string, userID int64, fn func(r *Room) error) (*Room, error) {
	r, err := g.Get(roomID)
	if err != nil {
		return nil, err
	}
	err = fn(r)
	g.settleClaim(userID, r)
	g.sync(ctx, r)
	return r, err
}

// Rematch records userID's rematch vote. It runs under the registry lock so
// the seats' other rooms cannot change while the vote is counted, and the
// seats carried into the next round are claimed for this room.
func (g *Registry) Rematch(ctx context.Context, roomID string, userID int64) (*Room, error) {
	g.mu.Lock()
	r, ok := g.rooms[roomID]
	if !ok {
		g.mu.Unlock()
		return nil, appErr.ErrRoomNotFound
	}
	busy := make(map[int64]bool)
	for _, uid := range r.seatIDs() {
		if held := g.claimLocked(uid, r.kind); held != nil && held != r {
			busy[uid] = true
		}
	}
	err := r.rematchVote(ctx, userID, busy)
	if r.currentStatus() == StatusWaiting {
		for _, uid := range r.seatIDs() {
			g.setClaimLocked(uid, r, false)
		}
	}
	g.mu.Unlock()

	g.sync(ctx, r)
	return r, err
}

func (g *Registry) Get(id string) (*Room, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[id]
	if !ok {
		return nil, appErr.ErrRoomNotFound
	}
	return r, nil
}

func (g *Registry) FindByCode(code string) (*Room, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.byCode[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, appErr.ErrRoomNotFound
	}
	return r, nil
}

// ListPublic returns public rooms that are not over, oldest first.
func (g *Registry) ListPublic() []Summary {
	var out []Summary
	for _, r := range g.Rooms() {
		if !r.public {
			continue
		}
		if st := r.currentStatus(); st == StatusFinished || st == StatusClosed {
			continue
		}
		out = append(out, r.Summary())
	}
	return out
}

// ListByUser returns the rooms userID is seated in, oldest first.
func (g *Registry) ListByUser(userID int64) []Summary {
	var out []Summary
	for _, r := range g.Rooms() {
		if r.hasSeat(userID) {
			out = append(out, r.Summary())
		}
	}
	return out
}

// Rooms returns every live room, oldest first.
func (g *Registry) Rooms() []*Room {
	g.mu.RLock()
	out := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].createdAt.Equal(out[j].createdAt) {
			return out[i].id < out[j].id
		}
		return out[i].createdAt.Before(out[j].createdAt)
	})
	return out
}

// claimLocked returns the live room userID holds for kind, dropping a stale
// claim.
func (g *Registry) claimLocked(userID int64, kind game.Kind) *Room {
	c := g.byUser[userID][kind]
	if c == nil {
		return nil
	}
	r := c.room
	if g.rooms[r.id] == r && (c.pending || r.hasSeat(userID)) {
		if st := r.currentStatus(); st != StatusFinished && st != StatusClosed {
			return r
		}
	}
	delete(g.byUser[userID], kind)
	return nil
}

func (g *Registry) setClaimLocked(userID int64, r *Room, pending bool) {
	claims := g.byUser[userID]
	if claims == nil {
		claims = make(map[game.Kind]*claim)
		g.byUser[userID] = claims
	}
	claims[r.kind] = &claim{room: r, pending: pending}
}

// settleClaim confirms or drops userID's claim on r after an operation.
func (g *Registry) settleClaim(userID int64, r *Room) {
	seated := r.hasSeat(userID)
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.byUser[userID][r.kind]
	if c == nil || c.room != r {
		if seated {
			g.setClaimLocked(userID, r, false)
		}
		return
	}
	if seated {
		c.pending = false
		return
	}
	delete(g.byUser[userID], r.kind)
}

// sync persists the room, or destroys it once nothing is left to keep.
func (g *Registry) sync(ctx context.Context, r *Room) {
	if r.disposable() {
		g.destroy(ctx, r)
		return
	}
	rec, err := r.record()
	if err != nil {
		logger.Log.Warn("room snapshot encode failed", zap.String("roomID", r.id), zap.Error(err))
		return
	}
	if err := g.store.SaveRoom(ctx, rec); err != nil {
		logger.Log.Warn("room snapshot save failed", zap.String("roomID", r.id), zap.Error(err))
	}
}

func (g *Registry) destroy(ctx context.Context, r *Room) {
	g.mu.Lock()
	if g.rooms[r.id] != r {
		g.mu.Unlock()
		return
	}
	delete(g.rooms, r.id)
	delete(g.byCode, r.code)
	for uid, claims := range g.byUser {
		if c := claims[r.kind]; c != nil && c.room == r {
			delete(claims, r.kind)
		}
		if len(claims) == 0 {
			delete(g.byUser, uid)
		}
	}
	g.mu.Unlock()

	metrics.ActiveRooms.WithLabelValues(string(r.kind)).Dec()
	if err := g.store.DeleteRoom(ctx, r.id); err != nil {
		logger.Log.Warn("room snapshot delete failed", zap.String("roomID", r.id), zap.Error(err))
	}
	logger.Log.Info("room destroyed", zap.String("roomID", r.id), zap.String("code", r.code))
}

func (g *Registry) newCodeLocked() string {
	for {
		code := random.Code(g.codeLen)
		if _, taken := g.byCode[code]; !taken {
			return code
		}
	}
}
