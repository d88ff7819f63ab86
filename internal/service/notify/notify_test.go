package notify_test

import (
	"testing"

	"gameroom-service/internal/service/notify"
)

type recorder struct {
	events []notify.Event
}

func (r *recorder) Publish(ev notify.Event) {
	r.events = append(r.events, ev)
}

func TestHubDeliversToAddressedUserOnly(t *testing.T) {
	hub := notify.NewHub()
	aliceCh, cancelAlice := hub.Subscribe(1)
	bobCh, cancelBob := hub.Subscribe(2)
	defer cancelBob()

	hub.Publish(notify.Event{Type: notify.EventRoomState, RoomID: "r", UserID: 1})

	select {
	case ev := <-aliceCh:
		if ev.UserID != 1 {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatalf("alice did not receive her event")
	}
	select {
	case ev := <-bobCh:
		t.Fatalf("bob received someone else's event %+v", ev)
	default:
	}

	cancelAlice()
	cancelAlice()
	if _, ok := <-aliceCh; ok {
		t.Fatalf("channel should be closed after cancel")
	}
	hub.Publish(notify.Event{UserID: 1})
}

func TestHubDropsWhenSubscriberIsSlow(t *testing.T) {
	hub := notify.NewHub()
	ch, cancel := hub.Subscribe(1)
	defer cancel()
	for i := 0; i < 100; i++ {
		hub.Publish(notify.Event{UserID: 1, Seq: int64(i)})
	}
	if len(ch) != cap(ch) {
		t.Fatalf("expected a full buffer, got %d/%d", len(ch), cap(ch))
	}
}

func TestFanout(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	notify.Fanout{a, b}.Publish(notify.Event{UserID: 3})
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("fanout missed a publisher: %d %d", len(a.events), len(b.events))
	}
}
