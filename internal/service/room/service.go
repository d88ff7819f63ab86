package room

import (
	"context"
	"encoding/json"
	"time"

	"gameroom-service/internal/repo"
	"gameroom-service/internal/service/game"
	"gameroom-service/internal/service/notify"
	"gameroom-service/internal/service/settlement"
	appErr "gameroom-service/pkg/errors"
	"gameroom-service/pkg/utils/random"
)

type Config struct {
	TurnTimeout      time.Duration
	PauseBudget      time.Duration
	SweepInterval    time.Duration
	SweepConcurrency int
	CodeLength       int
	// Game holds defaults for fields a create request leaves unset.
	Game game.Config
	Now  func() time.Time
	Rand random.Source
}

// Service is the inbound surface of the room engine. Every operation
// returns the caller's view of the room.
type Service struct {
	registry *Registry
	clock    *Clock
	now      func() time.Time
}

func NewService(engine *settlement.Engine, publisher notify.Publisher, store repo.RoomStore, cfg Config) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = random.Crypto
	}
	if store == nil {
		store = repo.NewMemoryRoomStore()
	}
	deps := &Deps{
		Engine:    engine,
		Publisher: publisher,
		Now:       cfg.Now,
		Rand:      cfg.Rand,
		Options: Options{
			TurnTimeout: cfg.TurnTimeout,
			PauseBudget: cfg.PauseBudget,
		},
	}
	registry := NewRegistry(deps, store, cfg.Game, cfg.CodeLength)
	return &Service{
		registry: registry,
		clock:    NewClock(registry, cfg.SweepInterval, cfg.SweepConcurrency),
		now:      cfg.Now,
	}
}

func (s *Service) Registry() *Registry { return s.registry }
func (s *Service) Clock() *Clock { return s.clock }

// Run drives the turn clock until ctx is done.
func (s *Service) Run(ctx context.Context) {
	s.clock.Run(ctx)
}

// CreateRoom returns the host's existing live room of the same kind
// instead of opening a second one.
func (s *Service) CreateRoom(ctx context.Context, req CreateRequest) (*Snapshot, error) {
	r, _, err := s.registry.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	return r.Snapshot(req.HostID), nil
}

func (s *Service) JoinRoom(ctx context.Context, idOrCode string, userID int64) (*Snapshot, error) {
	r, err := s.registry.Join(ctx, idOrCode, userID)
	if err != nil {
		return nil, err
	}
	return r.Snapshot(userID), nil
}

func (s *Service) SetReady(ctx context.Context, roomID string, userID int64, ready bool) (*Snapshot, error) {
	return s.do(ctx, roomID, userID, func(r *Room) error {
		return r.setReady(ctx, userID, ready)
	})
}

// StartRoom is host only.
func (s *Service) StartRoom(ctx context.Context, roomID string, userID int64) (*Snapshot, error) {
	return s.do(ctx, roomID, userID, func(r *Room) error {
		return r.start(ctx, userID)
	})
}

func (s *Service) ApplyMove(ctx context.Context, roomID string, userID int64, action string, data json.RawMessage) (*Snapshot, error) {
	return s.do(ctx, roomID, userID, func(r *Room) error {
		return r.applyMove(ctx, userID, action, data)
	})
}

func (s *Service) LeaveRoom(ctx context.Context, roomID string, userID int64) (*Snapshot, error) {
	return s.do(ctx, roomID, userID, func(r *Room) error {
		return r.leave(ctx, userID)
	})
}

// CloseRoom is host only and refunds every stake.
func (s *Service) CloseRoom(ctx context.Context, roomID string, userID int64) (*Snapshot, error) {
	return s.do(ctx, roomID, userID, func(r *Room) error {
		return r.close(ctx, userID)
	})
}

// RematchVote refuses users who have since taken another live room of the
// same kind.
func (s *Service) RematchVote(ctx context.Context, roomID string, userID int64) (*Snapshot, error) {
	r, err := s.registry.Rematch(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	return r.Snapshot(userID), nil
}

func (s *Service) DrawNumber(ctx context.Context, roomID string, userID int64) (*Snapshot, error) {
	return s.ApplyMove(ctx, roomID, userID, game.ActionDraw, nil)
}

func (s *Service) Claim(ctx context.Context, roomID string, userID int64, cardID int) (*Snapshot, error) {
	data, err := json.Marshal(map[string]int{"card": cardID})
	if err != nil {
		return nil, err
	}
	return s.ApplyMove(ctx, roomID, userID, game.ActionClaim, data)
}

// Reserve seats the user first when the room admits seats mid-round.
func (s *Service) Reserve(ctx context.Context, roomID string, userID int64, slot int) (*Snapshot, error) {
	r, err := s.registry.Get(roomID)
	if err != nil {
		return nil, err
	}
	if !r.hasSeat(userID) && r.rules.OpenSeating() {
		if _, err := s.registry.Join(ctx, roomID, userID); err != nil {
			return nil, err
		}
	}
	return s.slotMove(ctx, roomID, userID, game.ActionReserve, slot)
}

func (s *Service) Release(ctx context.Context, roomID string, userID int64, slot int) (*Snapshot, error) {
	return s.slotMove(ctx, roomID, userID, game.ActionRelease, slot)
}

func (s *Service) Confirm(ctx context.Context, roomID string, userID int64, slot int) (*Snapshot, error) {
	return s.slotMove(ctx, roomID, userID, game.ActionConfirm, slot)
}

func (s *Service) slotMove(ctx context.Context, roomID string, userID int64, action string, slot int) (*Snapshot, error) {
	data, err := json.Marshal(map[string]int{"slot": slot})
	if err != nil {
		return nil, err
	}
	return s.ApplyMove(ctx, roomID, userID, action, data)
}

func (s *Service) Disconnect(ctx context.Context, roomID string, userID int64) error {
	_, err := s.registry.Do(ctx, roomID, userID, func(r *Room) error {
		return r.disconnect(ctx, userID)
	})
	return err
}

func (s *Service) Reconnect(ctx context.Context, roomID string, userID int64) error {
	_, err := s.registry.Do(ctx, roomID, userID, func(r *Room) error {
		return r.reconnect(ctx, userID)
	})
	return err
}

// Snapshot applies any deadline that has already passed before reading.
// Private rooms are visible to their seats only.
func (s *Service) Snapshot(ctx context.Context, roomID string, userID int64) (*Snapshot, error) {
	r, err := s.registry.Get(roomID)
	if err != nil {
		return nil, err
	}
	if !r.public && !r.hasSeat(userID) {
		return nil, appErr.ErrNotInRoom
	}
	if changed, _ := r.tick(ctx, s.now()); changed {
		s.registry.sync(ctx, r)
	}
	return r.Snapshot(userID), nil
}

func (s *Service) ListPublic() []Summary {
	return s.registry.ListPublic()
}

func (s *Service) ListByUser(userID int64) []Summary {
	return s.registry.ListByUser(userID)
}

func (s *Service) do(ctx context.Context, roomID string, userID int64, fn func(r *Room) error) (*Snapshot, error) {
	r, err := s.registry.Do(ctx, roomID, userID, fn)
	if err != nil {
		return nil, err
	}
	return r.Snapshot(userID), nil
}
