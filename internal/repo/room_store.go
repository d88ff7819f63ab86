package repo

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"gameroom-service/internal/model"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RoomStore keeps the latest snapshot of every live room.
type RoomStore interface {
	SaveRoom(ctx context.Context, rec *model.RoomRecord) error
	DeleteRoom(ctx context.Context, id string) error
	// LoadRoom returns nil when the room is unknown.
	LoadRoom(ctx context.Context, id string) (*model.RoomRecord, error)
}

type MemoryRoomStore struct {
	mu    sync.RWMutex
	rooms map[string]model.RoomRecord
}

func NewMemoryRoomStore() *MemoryRoomStore {
	return &MemoryRoomStore{rooms: make(map[string]model.RoomRecord)}
}

func (s *MemoryRoomStore) SaveRoom(_ context.Context, rec *model.RoomRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[rec.ID] = *rec
	return nil
}

func (s *MemoryRoomStore) DeleteRoom(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, id)
	return nil
}

func (s *MemoryRoomStore) LoadRoom(_ context.Context, id string) (*model.RoomRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rooms[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

type GormRoomStore struct {
	db *gorm.DB
}

func NewGormRoomStore(db *gorm.DB) *GormRoomStore {
	return &GormRoomStore{db: db}
}

func (s *GormRoomStore) SaveRoom(ctx context.Context, rec *model.RoomRecord) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(rec).Error
}

func (s *GormRoomStore) DeleteRoom(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&model.RoomRecord{}, "id = ?", id).Error
}

func (s *GormRoomStore) LoadRoom(ctx context.Context, id string) (*model.RoomRecord, error) {
	rec := &model.RoomRecord{}
	err := s.db.WithContext(ctx).Where("id = ?", id).First(rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

const redisRoomKeyPrefix = "gameroom:room:"

// RedisRoomStore caches snapshots with a TTL so abandoned keys expire on
// their own.
type RedisRoomStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisRoomStore(rdb *redis.Client, ttl time.Duration) *RedisRoomStore {
	return &RedisRoomStore{rdb: rdb, ttl: ttl}
}

func (s *RedisRoomStore) SaveRoom(ctx context.Context, rec *model.RoomRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, redisRoomKeyPrefix+rec.ID, payload, s.ttl).Err()
}

func (s *RedisRoomStore) DeleteRoom(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, redisRoomKeyPrefix+id).Err()
}

func (s *RedisRoomStore) LoadRoom(ctx context.Context, id string) (*model.RoomRecord, error) {
	payload, err := s.rdb.Get(ctx, redisRoomKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	rec := &model.RoomRecord{}
	if err := json.Unmarshal(payload, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
