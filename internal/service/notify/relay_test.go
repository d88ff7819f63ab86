package notify

import "testing"

type sink struct {
	events []Event
}

func (s *sink) Publish(ev Event) {
	s.events = append(s.events, ev)
}

func TestRelaySkipsOwnEvents(t *testing.T) {
	a := NewRedisPublisher(nil, "events")
	b := NewRedisPublisher(nil, "events")
	payload, err := a.encode(Event{Type: EventRoomState, RoomID: "r1", UserID: 7, Seq: 3})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	own := &sink{}
	if a.relay(string(payload), own) || len(own.events) != 0 {
		t.Fatalf("a process must not relay its own events")
	}

	local := &sink{}
	if !b.relay(string(payload), local) || len(local.events) != 1 {
		t.Fatalf("event from another process was not relayed")
	}
	ev := local.events[0]
	if ev.Type != EventRoomState || ev.RoomID != "r1" || ev.UserID != 7 || ev.Seq != 3 {
		t.Fatalf("relayed event changed: %+v", ev)
	}

	if b.relay("{not json", local) || len(local.events) != 1 {
		t.Fatalf("garbage payload should be dropped")
	}
}
