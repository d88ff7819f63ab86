package room_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gameroom-service/internal/config"
	"gameroom-service/internal/model"
	"gameroom-service/internal/repo"
	"gameroom-service/internal/service/game"
	"gameroom-service/internal/service/ledger"
	"gameroom-service/internal/service/notify"
	"gameroom-service/internal/service/room"
	"gameroom-service/internal/service/settlement"
	appErr "gameroom-service/pkg/errors"
	"gameroom-service/pkg/utils/random"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

type fixture struct {
	svc    *room.Service
	ledger *ledger.Service
	clock  *fakeClock
	hub    *notify.Hub
	rooms  *repo.MemoryRoomStore
}

func newFixture(t *testing.T, balances map[int64]int64) *fixture {
	t.Helper()
	ctx := context.Background()
	l := ledger.NewService(repo.NewMemoryStore(), ledger.Options{TreasuryUserID: 1})
	if err := l.InitSupply(ctx, 10_000); err != nil {
		t.Fatalf("init supply: %v", err)
	}
	for uid, amount := range balances {
		if err := l.GrantFromReserve(ctx, uid, amount, "seed"); err != nil {
			t.Fatalf("grant: %v", err)
		}
	}
	clk := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	hub := notify.NewHub()
	rooms := repo.NewMemoryRoomStore()
	svc := room.NewService(settlement.NewEngine(l, config.Default().Payout), hub, rooms, room.Config{
		TurnTimeout:      30 * time.Second,
		PauseBudget:      30 * time.Second,
		SweepInterval:    time.Second,
		SweepConcurrency: 4,
		CodeLength:       6,
		Game: game.Config{
			AdvisoryThrottle: 2 * time.Second,
			ReservationTTL:   45 * time.Second,
		},
		Now:  clk.Now,
		Rand: &random.Fixed{Values: []int{0}},
	})
	return &fixture{svc: svc, ledger: l, clock: clk, hub: hub, rooms: rooms}
}

func (f *fixture) fires(t *testing.T, uid int64) int64 {
	t.Helper()
	v, err := f.ledger.GetBalance(context.Background(), uid, model.Fires)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return v
}

func (f *fixture) reconcile(t *testing.T) {
	t.Helper()
	if _, err := f.ledger.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
}

func (f *fixture) duel(t *testing.T, host, guest int64) *room.Snapshot {
	t.Helper()
	ctx := context.Background()
	snap, err := f.svc.CreateRoom(ctx, room.CreateRequest{
		HostID:   host,
		GameType: game.KindTurnDuel,
		Wager:    room.Wager{Currency: model.Fires, Amount: 3},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	snap, err = f.svc.JoinRoom(ctx, snap.Code, guest)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if snap.Status != room.StatusPlaying {
		t.Fatalf("status = %s, want PLAYING", snap.Status)
	}
	return snap
}

func place(t *testing.T, f *fixture, roomID string, uid int64, row, col int) *room.Snapshot {
	t.Helper()
	data, _ := json.Marshal(map[string]int{"row": row, "col": col})
	snap, err := f.svc.ApplyMove(context.Background(), roomID, uid, game.ActionPlace, data)
	if err != nil {
		t.Fatalf("move %d (%d,%d): %v", uid, row, col, err)
	}
	return snap
}

func TestDuelWithWager(t *testing.T) {
	f := newFixture(t, map[int64]int64{10: 10, 11: 10})
	snap := f.duel(t, 10, 11)
	if f.fires(t, 10) != 7 || f.fires(t, 11) != 7 {
		t.Fatalf("stakes not collected: %d/%d", f.fires(t, 10), f.fires(t, 11))
	}

	for _, m := range [][3]int64{{10, 0, 0}, {11, 1, 0}, {10, 0, 1}, {11, 1, 1}} {
		place(t, f, snap.ID, m[0], int(m[1]), int(m[2]))
	}
	snap = place(t, f, snap.ID, 10, 0, 2)

	if snap.Status != room.StatusFinished {
		t.Fatalf("status = %s, want FINISHED", snap.Status)
	}
	if snap.Result == nil || snap.Result.Outcome != settlement.Win(10) || snap.Result.Pot != 6 {
		t.Fatalf("unexpected result %+v", snap.Result)
	}
	if f.fires(t, 10) != 13 || f.fires(t, 11) != 7 {
		t.Fatalf("wallets = %d/%d, want 13/7", f.fires(t, 10), f.fires(t, 11))
	}
	if snap.Score[10] != 1 {
		t.Fatalf("score = %v", snap.Score)
	}
	f.reconcile(t)
}

func TestDuelRejectsOutOfTurnMove(t *testing.T) {
	f := newFixture(t, map[int64]int64{10: 10, 11: 10})
	snap := f.duel(t, 10, 11)

	data, _ := json.Marshal(map[string]int{"row": 0, "col": 0})
	if _, err := f.svc.ApplyMove(context.Background(), snap.ID, 11, game.ActionPlace, data); !errors.Is(err, appErr.ErrNotYourTurn) {
		t.Fatalf("expected ErrNotYourTurn, got %v", err)
	}
	if _, err := f.svc.ApplyMove(context.Background(), snap.ID, 12, game.ActionPlace, data); !errors.Is(err, appErr.ErrNotInRoom) {
		t.Fatalf("expected ErrNotInRoom, got %v", err)
	}
}

func TestDuelDrawRefunds(t *testing.T) {
	f := newFixture(t, map[int64]int64{10: 10, 11: 10})
	snap := f.duel(t, 10, 11)

	moves := [][3]int64{
		{10, 0, 0}, {11, 0, 1}, {10, 0, 2},
		{11, 1, 1}, {10, 1, 0}, {11, 1, 2},
		{10, 2, 1}, {11, 2, 0}, {10, 2, 2},
	}
	for _, m := range moves {
		snap = place(t, f, snap.ID, m[0], int(m[1]), int(m[2]))
	}
	if snap.Status != room.StatusFinished || snap.Result.Outcome != settlement.Draw() {
		t.Fatalf("expected draw, got %s %+v", snap.Status, snap.Result)
	}
	if f.fires(t, 10) != 10 || f.fires(t, 11) != 10 {
		t.Fatalf("wallets = %d/%d, want 10/10", f.fires(t, 10), f.fires(t, 11))
	}
	f.reconcile(t)
}

func TestHostAbandonsBeforeFill(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[int64]int64{10: 10})
	snap, err := f.svc.CreateRoom(ctx, room.CreateRequest{
		HostID:   10,
		GameType: game.KindTurnDuel,
		Wager:    room.Wager{Currency: model.Fires, Amount: 3},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.SetReady(ctx, snap.ID, 10, true); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if got := f.fires(t, 10); got != 7 {
		t.Fatalf("after stake = %d, want 7", got)
	}

	snap, err = f.svc.LeaveRoom(ctx, snap.ID, 10)
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if snap.Status != room.StatusClosed {
		t.Fatalf("status = %s, want CLOSED", snap.Status)
	}
	if got := f.fires(t, 10); got != 10 {
		t.Fatalf("after leave = %d, want 10", got)
	}
	if _, err := f.svc.Snapshot(ctx, snap.ID, 10); !errors.Is(err, appErr.ErrRoomNotFound) {
		t.Fatalf("expected room destroyed, got %v", err)
	}
	if rec, _ := f.rooms.LoadRoom(ctx, snap.ID); rec != nil {
		t.Fatalf("snapshot record not deleted")
	}
	f.reconcile(t)
}

func TestUnreadyRefundsStake(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[int64]int64{10: 10})
	snap, err := f.svc.CreateRoom(ctx, room.CreateRequest{
		HostID:   10,
		GameType: game.KindTurnDuel,
		Wager:    room.Wager{Currency: model.Fires, Amount: 3},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.SetReady(ctx, snap.ID, 10, true); err != nil {
		t.Fatalf("ready: %v", err)
	}
	snap, err = f.svc.SetReady(ctx, snap.ID, 10, false)
	if err != nil {
		t.Fatalf("unready: %v", err)
	}
	if snap.Seats[0].Paid || f.fires(t, 10) != 10 {
		t.Fatalf("stake not refunded: paid=%v fires=%d", snap.Seats[0].Paid, f.fires(t, 10))
	}
}

func TestJoinChargeIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[int64]int64{10: 10, 11: 2})
	snap, err := f.svc.CreateRoom(ctx, room.CreateRequest{
		HostID:   10,
		GameType: game.KindTurnDuel,
		Wager:    room.Wager{Currency: model.Fires, Amount: 3},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = f.svc.JoinRoom(ctx, snap.Code, 11)
	if !errors.Is(err, appErr.ErrPaymentFailed) {
		t.Fatalf("expected ErrPaymentFailed, got %v", err)
	}
	if f.fires(t, 10) != 10 || f.fires(t, 11) != 2 {
		t.Fatalf("wallets = %d/%d, want 10/2", f.fires(t, 10), f.fires(t, 11))
	}
	snap, err = f.svc.Snapshot(ctx, snap.ID, 10)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Status != room.StatusWaiting || len(snap.Seats) != 2 {
		t.Fatalf("room = %s with %d seats, want WAITING with 2", snap.Status, len(snap.Seats))
	}
	for _, s := range snap.Seats {
		if s.Paid {
			t.Fatalf("seat %d marked paid", s.UserID)
		}
	}
	f.reconcile(t)
}

func TestTurnDeadlineForfeits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[int64]int64{10: 10, 11: 10})
	snap := f.duel(t, 10, 11)

	if failed := f.svc.Clock().Sweep(ctx, f.clock.Advance(29*time.Second)); failed != 0 {
		t.Fatalf("sweep failures: %d", failed)
	}
	if s, _ := f.svc.Snapshot(ctx, snap.ID, 10); s.Status != room.StatusPlaying {
		t.Fatalf("finished before the deadline")
	}

	f.svc.Clock().Sweep(ctx, f.clock.Advance(2*time.Second))
	snap, err := f.svc.Snapshot(ctx, snap.ID, 11)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Status != room.StatusFinished || snap.Result.Outcome != settlement.Forfeit(10) {
		t.Fatalf("expected forfeit by 10, got %s %+v", snap.Status, snap.Result)
	}
	if f.fires(t, 10) != 7 || f.fires(t, 11) != 13 {
		t.Fatalf("wallets = %d/%d, want 7/13", f.fires(t, 10), f.fires(t, 11))
	}
	f.reconcile(t)
}

func TestLateMoveLosesToDeadline(t *testing.T) {
	f := newFixture(t, map[int64]int64{10: 10, 11: 10})
	snap := f.duel(t, 10, 11)
	f.clock.Advance(31 * time.Second)

	data, _ := json.Marshal(map[string]int{"row": 0, "col": 0})
	if _, err := f.svc.ApplyMove(context.Background(), snap.ID, 10, game.ActionPlace, data); !errors.Is(err, appErr.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if f.fires(t, 11) != 13 {
		t.Fatalf("forfeit not paid: %d", f.fires(t, 11))
	}
}

func TestPauseBudgetDepletes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[int64]int64{10: 10, 11: 10})
	snap := f.duel(t, 10, 11)

	if err := f.svc.Disconnect(ctx, snap.ID, 10); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if s, _ := f.svc.Snapshot(ctx, snap.ID, 11); s.Status != room.StatusPaused {
		t.Fatalf("status = %s, want PAUSED", s.Status)
	}

	f.clock.Advance(20 * time.Second)
	if err := f.svc.Reconnect(ctx, snap.ID, 10); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	s, _ := f.svc.Snapshot(ctx, snap.ID, 10)
	if s.Status != room.StatusPlaying || s.Seats[0].PauseBudgetMs != 10_000 {
		t.Fatalf("after resume: %s budget %d", s.Status, s.Seats[0].PauseBudgetMs)
	}

	f.clock.Advance(5 * time.Second)
	if err := f.svc.Disconnect(ctx, snap.ID, 10); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
	f.svc.Clock().Sweep(ctx, f.clock.Advance(9*time.Second))
	if s, _ := f.svc.Snapshot(ctx, snap.ID, 11); s.Status != room.StatusPaused {
		t.Fatalf("forfeited inside the remaining budget")
	}

	f.svc.Clock().Sweep(ctx, f.clock.Advance(2*time.Second))
	s, _ = f.svc.Snapshot(ctx, snap.ID, 11)
	if s.Status != room.StatusFinished || s.Result.Outcome != settlement.Forfeit(10) {
		t.Fatalf("expected pause forfeit, got %s %+v", s.Status, s.Result)
	}
	if f.fires(t, 11) != 13 {
		t.Fatalf("winner wallet = %d, want 13", f.fires(t, 11))
	}
	f.reconcile(t)
}

func TestLeaveWhilePlayingForfeits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[int64]int64{10: 10, 11: 10})
	snap := f.duel(t, 10, 11)

	if _, err := f.svc.LeaveRoom(ctx, snap.ID, 11); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if f.fires(t, 10) != 13 || f.fires(t, 11) != 7 {
		t.Fatalf("wallets = %d/%d, want 13/7", f.fires(t, 10), f.fires(t, 11))
	}
	if _, err := f.svc.LeaveRoom(ctx, snap.ID, 10); err != nil {
		t.Fatalf("host leave: %v", err)
	}
	if _, err := f.svc.Snapshot(ctx, snap.ID, 10); !errors.Is(err, appErr.ErrRoomNotFound) {
		t.Fatalf("empty finished room not destroyed: %v", err)
	}
	f.reconcile(t)
}

func TestRematchStartsNextRound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[int64]int64{10: 10, 11: 10})
	snap := f.duel(t, 10, 11)
	if _, err := f.svc.LeaveRoom(ctx, snap.ID, 12); !errors.Is(err, appErr.ErrNotInRoom) {
		t.Fatalf("expected ErrNotInRoom, got %v", err)
	}
	if _, err := f.svc.RematchVote(ctx, snap.ID, 10); !errors.Is(err, appErr.ErrInvalidState) {
		t.Fatalf("rematch while playing: %v", err)
	}
	f.svc.Clock().Sweep(ctx, f.clock.Advance(31*time.Second))

	s, err := f.svc.RematchVote(ctx, snap.ID, 10)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if s.Status != room.StatusFinished {
		t.Fatalf("restarted on one vote")
	}
	s, err = f.svc.RematchVote(ctx, snap.ID, 11)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if s.Status != room.StatusWaiting || s.Round != 2 || s.ID != snap.ID || s.Code != snap.Code {
		t.Fatalf("unexpected rematch state %+v", s)
	}

	if _, err := f.svc.SetReady(ctx, snap.ID, 10, true); err != nil {
		t.Fatalf("ready: %v", err)
	}
	s, err = f.svc.SetReady(ctx, snap.ID, 11, true)
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	if s.Status != room.StatusPlaying || s.Turn != 11 {
		t.Fatalf("round 2 = %s turn %d, want PLAYING turn 11", s.Status, s.Turn)
	}
	f.reconcile(t)
}

func winDuel(t *testing.T, f *fixture, host, guest int64) *room.Snapshot {
	t.Helper()
	snap := f.duel(t, host, guest)
	for _, m := range [][3]int64{{host, 0, 0}, {guest, 1, 0}, {host, 0, 1}, {guest, 1, 1}} {
		place(t, f, snap.ID, m[0], int(m[1]), int(m[2]))
	}
	snap = place(t, f, snap.ID, host, 0, 2)
	if snap.Status != room.StatusFinished {
		t.Fatalf("duel status = %s, want FINISHED", snap.Status)
	}
	return snap
}

func liveRooms(f *fixture, uid int64, kind game.Kind) int {
	n := 0
	for _, s := range f.svc.ListByUser(uid) {
		if s.GameType == kind && s.Status != room.StatusFinished && s.Status != room.StatusClosed {
			n++
		}
	}
	return n
}

func TestRematchNeverYieldsSecondLiveRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[int64]int64{10: 10, 11: 10, 20: 10, 21: 10})

	// The winner votes, then opens another duel before the guest votes.
	first := winDuel(t, f, 10, 11)
	if _, err := f.svc.RematchVote(ctx, first.ID, 10); err != nil {
		t.Fatalf("vote: %v", err)
	}
	other, err := f.svc.CreateRoom(ctx, room.CreateRequest{
		HostID:   10,
		GameType: game.KindTurnDuel,
		Wager:    room.Wager{Currency: model.Fires, Amount: 3},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if other.ID == first.ID {
		t.Fatalf("finished room handed back as live room")
	}
	s, err := f.svc.RematchVote(ctx, first.ID, 11)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if s.Status != room.StatusFinished || len(s.Seats) != 1 || s.Seats[0].UserID != 11 {
		t.Fatalf("rematch with a busy seat = %s seats %+v", s.Status, s.Seats)
	}
	if n := liveRooms(f, 10, game.KindTurnDuel); n != 1 {
		t.Fatalf("user 10 live duels = %d, want 1", n)
	}
	if _, err := f.svc.RematchVote(ctx, first.ID, 10); !errors.Is(err, appErr.ErrNotInRoom) {
		t.Fatalf("dropped seat voted again: %v", err)
	}

	// A seat that already holds another live room cannot vote at all.
	second := winDuel(t, f, 20, 21)
	if _, err := f.svc.CreateRoom(ctx, room.CreateRequest{
		HostID:   21,
		GameType: game.KindTurnDuel,
		Wager:    room.Wager{Currency: model.Fires, Amount: 3},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.RematchVote(ctx, second.ID, 21); !errors.Is(err, appErr.ErrHoldsLiveRoom) {
		t.Fatalf("busy vote: expected ErrHoldsLiveRoom, got %v", err)
	}
	s, err = f.svc.RematchVote(ctx, second.ID, 20)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if s.Status != room.StatusFinished || len(s.Seats) != 1 {
		t.Fatalf("room restarted without its busy seat: %s %+v", s.Status, s.Seats)
	}
	if n := liveRooms(f, 21, game.KindTurnDuel); n != 1 {
		t.Fatalf("user 21 live duels = %d, want 1", n)
	}
	f.reconcile(t)
}

func TestCloseRoomRefunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[int64]int64{10: 10, 11: 10})
	snap, err := f.svc.CreateRoom(ctx, room.CreateRequest{
		HostID:   10,
		GameType: game.KindNumberCall,
		Wager:    room.Wager{Currency: model.Fires, Amount: 4},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.JoinRoom(ctx, snap.ID, 11); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := f.svc.SetReady(ctx, snap.ID, 11, true); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if _, err := f.svc.CloseRoom(ctx, snap.ID, 11); !errors.Is(err, appErr.ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
	s, err := f.svc.CloseRoom(ctx, snap.ID, 10)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if s.Status != room.StatusClosed || f.fires(t, 11) != 10 {
		t.Fatalf("close = %s, guest wallet %d", s.Status, f.fires(t, 11))
	}
	f.reconcile(t)
}

func TestOneLiveRoomPerKind(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[int64]int64{10: 10, 11: 10, 12: 10})
	req := room.CreateRequest{HostID: 10, GameType: game.KindTurnDuel, Wager: room.Wager{Currency: model.Fires}, Public: true}
	first, err := f.svc.CreateRoom(ctx, req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	again, err := f.svc.CreateRoom(ctx, req)
	if err != nil || again.ID != first.ID {
		t.Fatalf("second create = %v %v, want room %s", again, err, first.ID)
	}

	other, err := f.svc.CreateRoom(ctx, room.CreateRequest{HostID: 11, GameType: game.KindTurnDuel, Wager: room.Wager{Currency: model.Coins}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s, err := f.svc.JoinRoom(ctx, first.Code, 11); err != nil || s.ID != other.ID {
		t.Fatalf("join while holding a room = %v %v, want %s", s, err, other.ID)
	}

	s, err := f.svc.JoinRoom(ctx, strings.ToLower(first.Code), 12)
	if err != nil || s.ID != first.ID {
		t.Fatalf("join by code: %v", err)
	}
	if _, err := f.svc.JoinRoom(ctx, "NOPE42", 12); !errors.Is(err, appErr.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}

	if got := f.svc.ListByUser(12); len(got) != 1 || got[0].ID != first.ID {
		t.Fatalf("list by user = %+v", got)
	}
	// first is now playing and still public; other is private.
	if got := f.svc.ListPublic(); len(got) != 1 || got[0].ID != first.ID {
		t.Fatalf("list public = %+v", got)
	}
}

func TestNumberCallRound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[int64]int64{30: 10, 31: 10})
	snap, err := f.svc.CreateRoom(ctx, room.CreateRequest{
		HostID:   30,
		GameType: game.KindNumberCall,
		Wager:    room.Wager{Currency: model.Fires, Amount: 5},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.StartRoom(ctx, snap.ID, 30); !errors.Is(err, appErr.ErrNotEnoughPlayers) {
		t.Fatalf("expected ErrNotEnoughPlayers, got %v", err)
	}
	if _, err := f.svc.JoinRoom(ctx, snap.Code, 31); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := f.svc.StartRoom(ctx, snap.ID, 31); !errors.Is(err, appErr.ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
	if _, err := f.svc.StartRoom(ctx, snap.ID, 30); err != nil {
		t.Fatalf("start: %v", err)
	}

	events, cancel := f.hub.Subscribe(30)
	defer cancel()

	if _, err := f.svc.DrawNumber(ctx, snap.ID, 31); !errors.Is(err, appErr.ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
	if _, err := f.svc.Claim(ctx, snap.ID, 31, 1); !errors.Is(err, appErr.ErrInvalidClaim) {
		t.Fatalf("expected ErrInvalidClaim, got %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := f.svc.DrawNumber(ctx, snap.ID, 30); err != nil {
			t.Fatalf("draw %d: %v", i, err)
		}
	}

	advised := false
	for len(events) > 0 {
		ev := <-events
		if ev.Type == notify.EventPotentialWin {
			advised = true
		}
	}
	if !advised {
		t.Fatalf("host got no potential-win advisory")
	}

	s, err := f.svc.Claim(ctx, snap.ID, 31, 1)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if s.Result == nil || s.Result.Outcome != settlement.Win(31) {
		t.Fatalf("unexpected result %+v", s.Result)
	}
	// pot 10: host 20% = 2, sponsor 10% = 1, winner 7
	if f.fires(t, 30) != 7 || f.fires(t, 31) != 12 {
		t.Fatalf("wallets = %d/%d, want 7/12", f.fires(t, 30), f.fires(t, 31))
	}
	f.reconcile(t)
}

func TestTicketDrawEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[int64]int64{21: 10, 22: 10, 23: 10})
	snap, err := f.svc.CreateRoom(ctx, room.CreateRequest{
		HostID:   20,
		GameType: game.KindTicketDraw,
		Wager:    room.Wager{Currency: model.Fires, Amount: 5},
		Public:   true,
		Config:   game.Config{Slots: 3},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if snap.Status != room.StatusPlaying {
		t.Fatalf("raffle status = %s, want PLAYING", snap.Status)
	}

	if _, err := f.svc.Reserve(ctx, snap.ID, 21, 0); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := f.svc.Reserve(ctx, snap.ID, 22, 0); !errors.Is(err, appErr.ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
	view, err := f.svc.Snapshot(ctx, snap.ID, 22)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if board := view.Board.(game.TicketDrawState); board.Slots[0] != "taken" {
		t.Fatalf("reservation leaked to another user: %v", board.Slots)
	}

	// the reservation lapses and the slot goes to someone else
	f.clock.Advance(46 * time.Second)
	f.svc.Clock().Sweep(ctx, f.clock.Now())
	if _, err := f.svc.Reserve(ctx, snap.ID, 22, 0); err != nil {
		t.Fatalf("reserve lapsed slot: %v", err)
	}
	if _, err := f.svc.Confirm(ctx, snap.ID, 21, 0); !errors.Is(err, appErr.ErrReservationNotFound) {
		t.Fatalf("expected ErrReservationNotFound, got %v", err)
	}

	steps := []struct {
		uid  int64
		slot int
	}{{22, 0}, {21, 1}, {23, 2}}
	for i, st := range steps {
		if i > 0 {
			if _, err := f.svc.Reserve(ctx, snap.ID, st.uid, st.slot); err != nil {
				t.Fatalf("reserve %d: %v", st.slot, err)
			}
		}
		snap, err = f.svc.Confirm(ctx, snap.ID, st.uid, st.slot)
		if err != nil {
			t.Fatalf("confirm %d: %v", st.slot, err)
		}
	}

	if snap.Status != room.StatusFinished || snap.Result == nil {
		t.Fatalf("sold out raffle = %s %+v", snap.Status, snap.Result)
	}
	// pot 15: host 20% = 3, sponsor 10% = 1, winner of slot 0 takes 11
	if snap.Result.Outcome != settlement.Win(22) {
		t.Fatalf("winner = %s, want win:22", snap.Result.Outcome)
	}
	if f.fires(t, 22) != 16 || f.fires(t, 21) != 5 || f.fires(t, 23) != 5 || f.fires(t, 20) != 3 {
		t.Fatalf("wallets 20..23 = %d %d %d %d", f.fires(t, 20), f.fires(t, 21), f.fires(t, 22), f.fires(t, 23))
	}
	f.reconcile(t)
}

func TestTicketDrawWindowCloses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[int64]int64{21: 10})
	snap, err := f.svc.CreateRoom(ctx, room.CreateRequest{
		HostID:   20,
		GameType: game.KindTicketDraw,
		Wager:    room.Wager{Currency: model.Fires, Amount: 2},
		Config:   game.Config{Slots: 5, DrawWindow: time.Minute},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Reserve(ctx, snap.ID, 21, 3); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := f.svc.Confirm(ctx, snap.ID, 21, 3); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	f.svc.Clock().Sweep(ctx, f.clock.Advance(61*time.Second))
	s, err := f.svc.Snapshot(ctx, snap.ID, 21)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if s.Status != room.StatusFinished || s.Result.Outcome != settlement.Win(21) {
		t.Fatalf("window close = %s %+v", s.Status, s.Result)
	}
	f.reconcile(t)
}

func TestConcurrentMovesSettleOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[int64]int64{10: 10, 11: 10})
	snap := f.duel(t, 10, 11)
	for _, m := range [][3]int64{{10, 0, 0}, {11, 1, 0}, {10, 0, 1}, {11, 1, 1}} {
		place(t, f, snap.ID, m[0], int(m[1]), int(m[2]))
	}

	// the winning move races a leave that would forfeit the other seat
	f.clock.Advance(29 * time.Second)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		data, _ := json.Marshal(map[string]int{"row": 0, "col": 2})
		_, _ = f.svc.ApplyMove(ctx, snap.ID, 10, game.ActionPlace, data)
	}()
	go func() {
		defer wg.Done()
		f.svc.Clock().Sweep(ctx, f.clock.Now())
	}()
	go func() {
		defer wg.Done()
		_, _ = f.svc.LeaveRoom(ctx, snap.ID, 11)
	}()
	wg.Wait()

	total := f.fires(t, 10) + f.fires(t, 11)
	if total != 20 {
		t.Fatalf("wallets sum to %d, want 20", total)
	}
	if f.fires(t, 10) != 13 {
		t.Fatalf("winner wallet = %d, want 13", f.fires(t, 10))
	}
	f.reconcile(t)
}
