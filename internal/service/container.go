package service

import (
	"context"

	"gameroom-service/internal/config"
	"gameroom-service/internal/repo"
	"gameroom-service/internal/service/admin"
	"gameroom-service/internal/service/game"
	"gameroom-service/internal/service/ledger"
	"gameroom-service/internal/service/notify"
	"gameroom-service/internal/service/room"
	"gameroom-service/internal/service/settlement"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	Ledger     *ledger.Service
	Settlement *settlement.Engine
	Rooms      *room.Service
	Hub        *notify.Hub
	Operators  *admin.Service

	cfg    *config.Config
	events *notify.RedisPublisher
}

// NewContainer wires the engine. A nil db keeps the ledger in memory; a
// nil rdb keeps room snapshots where the ledger lives and events in
// process.
func NewContainer(cfg *config.Config, db *gorm.DB, rdb *redis.Client) *Container {
	var (
		store     repo.Store     = repo.NewMemoryStore()
		roomStore repo.RoomStore = repo.NewMemoryRoomStore()
	)
	if db != nil {
		store = repo.NewGormStore(db)
		roomStore = repo.NewGormRoomStore(db)
	}

	hub := notify.NewHub()
	var (
		publisher notify.Publisher = hub
		events    *notify.RedisPublisher
	)
	if rdb != nil {
		roomStore = repo.NewRedisRoomStore(rdb, cfg.Redis.SnapshotTTL)
		events = notify.NewRedisPublisher(rdb, cfg.Redis.EventsChannel)
		publisher = notify.Fanout{hub, events}
	}

	l := ledger.NewService(store, ledger.Options{
		TreasuryUserID: cfg.Supply.TreasuryUserID,
		Retries:        cfg.Engine.SettleRetries,
	})
	engine := settlement.NewEngine(l, cfg.Payout)
	rooms := room.NewService(engine, publisher, roomStore, room.Config{
		TurnTimeout:      cfg.Engine.TurnTimeout,
		PauseBudget:      cfg.Engine.PauseBudget,
		SweepInterval:    cfg.Engine.SweepInterval,
		SweepConcurrency: cfg.Engine.SweepConcurrency,
		CodeLength:       cfg.Engine.CodeLength,
		Game: game.Config{
			AdvisoryThrottle: cfg.Engine.AdvisoryThrottle,
			ReservationTTL:   cfg.Engine.ReservationTTL,
		},
	})

	return &Container{
		Ledger:     l,
		Settlement: engine,
		Rooms:      rooms,
		Hub:        hub,
		Operators:  admin.NewService(db),
		cfg:        cfg,
		events:     events,
	}
}

// Start seeds the supply and runs the background loops until ctx is done.
func (c *Container) Start(ctx context.Context) error {
	if err := c.Ledger.InitSupply(ctx, c.cfg.Supply.MaxSupply); err != nil {
		return err
	}
	if err := c.Operators.EnsureDefaultOperator(ctx); err != nil {
		return err
	}
	if c.events != nil {
		go c.events.Run(ctx)
		go c.events.Relay(ctx, c.Hub)
	}
	go c.Rooms.Run(ctx)
	return nil
}
