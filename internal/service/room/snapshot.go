package room

import (
	"encoding/json"
	"time"

	"gameroom-service/internal/model"
	"gameroom-service/internal/service/game"
	"gameroom-service/internal/service/notify"
	"gameroom-service/internal/service/settlement"
)

type SeatView struct {
	Seat
	PauseBudgetMs int64      `json:"pauseBudgetMs"`
	PausedUntil   *time.Time `json:"pausedUntil,omitempty"`
}

// Snapshot is a room as one viewer may see it.
type Snapshot struct {
	ID                string             `json:"id"`
	Code              string             `json:"code"`
	GameType          game.Kind          `json:"gameType"`
	Status            Status             `json:"status"`
	Round             int                `json:"round"`
	Public            bool               `json:"public"`
	Wager             Wager              `json:"wager"`
	Host              int64              `json:"host,string"`
	MaxSeats          int                `json:"maxSeats"`
	Seats             []SeatView         `json:"seats"`
	Turn              int64              `json:"turn,string,omitempty"`
	TurnDeadline      *time.Time         `json:"turnDeadline,omitempty"`
	Board             interface{}        `json:"board"`
	Result            *settlement.Result `json:"result,omitempty"`
	SettlementPending bool               `json:"settlementPending,omitempty"`
	Score             map[int64]int      `json:"score"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}

// Summary is the listing view of a room.
type Summary struct {
	ID       string    `json:"id"`
	Code     string    `json:"code"`
	GameType game.Kind `json:"gameType"`
	Status   Status    `json:"status"`
	Host     int64     `json:"host,string"`
	Seats    int       `json:"seats"`
	MaxSeats int       `json:"maxSeats"`
	Wager    Wager     `json:"wager"`
}

func (r *Room) Snapshot(viewer int64) *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(viewer)
}

func (r *Room) snapshotLocked(viewer int64) *Snapshot {
	s := &Snapshot{
		ID:                r.id,
		Code:              r.code,
		GameType:          r.kind,
		Status:            r.status,
		Round:             r.round,
		Public:            r.public,
		Wager:             r.wager,
		Host:              r.hostID,
		MaxSeats:          r.rules.MaxSeats(),
		Seats:             make([]SeatView, 0, len(r.seats)),
		Result:            r.result,
		SettlementPending: r.pending != nil,
		Score:             make(map[int64]int, len(r.score)),
		UpdatedAt:         r.updatedAt,
	}
	for _, seat := range r.seats {
		v := SeatView{Seat: seat, PauseBudgetMs: r.presence.budgetOf(seat.UserID).Milliseconds()}
		if u, ok := r.presence.pausedUntil(seat.UserID); ok {
			v.PausedUntil = &u
		}
		s.Seats = append(s.Seats, v)
	}
	for uid, wins := range r.score {
		s.Score[uid] = wins
	}
	if r.status == StatusPlaying || r.status == StatusPaused {
		s.Turn = r.rules.Turn()
		if !r.turnDeadline.IsZero() {
			d := r.turnDeadline
			s.TurnDeadline = &d
		}
	}
	if r.status != StatusWaiting || r.round > 1 {
		s.Board = r.rules.Snapshot(viewer)
	}
	return s
}

func (r *Room) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Summary{
		ID:       r.id,
		Code:     r.code,
		GameType: r.kind,
		Status:   r.status,
		Host:     r.hostID,
		Seats:    len(r.seats),
		MaxSeats: r.rules.MaxSeats(),
		Wager:    r.wager,
	}
}

// record is the persisted form of the room, holding only what every seat
// may see.
func (r *Room) record() (*model.RoomRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	raw, err := json.Marshal(r.snapshotLocked(0))
	if err != nil {
		return nil, err
	}
	return &model.RoomRecord{
		ID:        r.id,
		Code:      r.code,
		GameType:  string(r.kind),
		Status:    string(r.status),
		Round:     r.round,
		Snapshot:  raw,
		UpdatedAt: r.updatedAt,
	}, nil
}

// publishLocked sends each seat, and any extra users, their own view.
func (r *Room) publishLocked(extra ...int64) {
	if r.deps.Publisher == nil {
		return
	}
	targets := r.seatIDsLocked()
	for _, uid := range extra {
		if r.seatIndexLocked(uid) < 0 {
			targets = append(targets, uid)
		}
	}
	for _, uid := range targets {
		r.sendLocked(uid, notify.EventRoomState, r.snapshotLocked(uid))
	}
}

func (r *Room) sendLocked(userID int64, typ string, data interface{}) {
	if r.deps.Publisher == nil || userID <= 0 {
		return
	}
	r.seq++
	r.deps.Publisher.Publish(notify.Event{
		Type:   typ,
		RoomID: r.id,
		UserID: userID,
		Seq:    r.seq,
		Ts:     r.deps.Now(),
		Data:   data,
	})
}

func (r *Room) hasSeat(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seatIndexLocked(userID) >= 0
}

func (r *Room) seatIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seatIDsLocked()
}

func (r *Room) currentStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// disposable rooms hold nothing worth keeping in memory.
func (r *Room) disposable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status == StatusClosed || (r.status == StatusFinished && len(r.seats) == 0 && r.pending == nil)
}
