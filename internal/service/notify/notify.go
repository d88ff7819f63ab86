package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"gameroom-service/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event types.
const (
	EventRoomState    = "room_state"
	EventPotentialWin = "potential_win"
)

// Event is addressed to a single user.
type Event struct {
	Type   string      `json:"type"`
	RoomID string      `json:"roomId"`
	UserID int64       `json:"userId,string"`
	Seq    int64       `json:"seq"`
	Ts     time.Time   `json:"ts"`
	Data   interface{} `json:"data"`
}

// Publisher delivers events best-effort. Publish must not block.
type Publisher interface {
	Publish(ev Event)
}

// Fanout publishes each event to every publisher in order.
type Fanout []Publisher

func (f Fanout) Publish(ev Event) {
	for _, p := range f {
		p.Publish(ev)
	}
}

// Hub delivers events to in-process subscribers, such as websocket
// connections, keyed by user.
type Hub struct {
	mu   sync.RWMutex
	subs map[int64]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int64]map[chan Event]struct{})}
}

// Subscribe returns a channel of the user's events and a cancel func that
// closes it.
func (h *Hub) Subscribe(userID int64) (<-chan Event, func()) {
	ch := make(chan Event, 16)
	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[chan Event]struct{})
	}
	h.subs[userID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[userID], ch)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[ev.UserID] {
		select {
		case ch <- ev:
		default:
			logger.Log.Warn("event subscriber channel full",
				zap.Int64("userID", ev.UserID),
				zap.String("roomID", ev.RoomID),
			)
		}
	}
}

// RedisPublisher forwards events to a Redis channel shared by every
// process, and relays the other processes' events to a local publisher.
// Publish only enqueues; Run performs the PUBLISH calls.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
	origin  string
	queue   chan Event
}

// envelope tags an event with the process that published it.
type envelope struct {
	Origin string `json:"origin"`
	Event
}

func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{
		rdb:     rdb,
		channel: channel,
		origin:  uuid.NewString(),
		queue:   make(chan Event, 1024),
	}
}

func (p *RedisPublisher) Publish(ev Event) {
	select {
	case p.queue <- ev:
	default:
		logger.Log.Warn("redis event queue full, dropping event",
			zap.String("roomID", ev.RoomID),
			zap.String("type", ev.Type),
		)
	}
}

func (p *RedisPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.queue:
			payload, err := p.encode(ev)
			if err != nil {
				logger.Log.Warn("failed to encode event", zap.String("roomID", ev.RoomID), zap.Error(err))
				continue
			}
			if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
				logger.Log.Warn("failed to publish event",
					zap.String("channel", p.channel),
					zap.String("roomID", ev.RoomID),
					zap.Error(err),
				)
			}
		}
	}
}

// Relay subscribes to the channel and hands events published by other
// processes to local, typically the Hub, until ctx is done.
func (p *RedisPublisher) Relay(ctx context.Context, local Publisher) {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()
	logger.Log.Info("event relay started", zap.String("channel", p.channel))

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			p.relay(msg.Payload, local)
		}
	}
}

func (p *RedisPublisher) encode(ev Event) ([]byte, error) {
	return json.Marshal(envelope{Origin: p.origin, Event: ev})
}

// relay delivers one payload unless this process published it.
func (p *RedisPublisher) relay(payload string, local Publisher) bool {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		logger.Log.Warn("failed to decode relayed event", zap.String("channel", p.channel), zap.Error(err))
		return false
	}
	if env.Origin == p.origin {
		return false
	}
	local.Publish(env.Event)
	return true
}
