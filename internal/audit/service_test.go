package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestService_AppendRequiresSubjectAndType(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{Type: EventTypeAdminAction}); err == nil {
		t.Fatalf("expected error")
	}
	if err := svc.Append(context.Background(), Event{CustomerID: "c1"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestService_AppendsImmutableEvents(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogAdminAction(context.Background(), "u", "operator", "1.2.3.4", "c1", "paused customer", "{}"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	if evs[0].IPAddress != "1.2.3.4" {
		t.Fatalf("expected ip captured")
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp assigned")
	}
}

func TestService_AppendTakesClientIPFromContext(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	ctx := WithClientIP(context.Background(), "198.51.100.2")

	if err := svc.Transition(ctx, EventTypeProgressPaused, "c1", "p1", nil, nil, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if got := repo.Events()[0].IPAddress; got != "198.51.100.2" {
		t.Fatalf("expected ip from context, got %q", got)
	}
}

func TestService_TransitionSnapshotsBothSides(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	svc.clock = func() time.Time { return time.Unix(1700000000, 0) }

	type state struct {
		Day int `json:"day"`
	}
	if err := svc.Transition(context.Background(), EventTypeDayAdvanced, "c1", "p1", state{Day: 1}, state{Day: 2}, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}
	ev := repo.OfType(EventTypeDayAdvanced)
	if len(ev) != 1 {
		t.Fatalf("expected one day_advanced event")
	}
	if ev[0].Before != `{"day":1}` || ev[0].After != `{"day":2}` {
		t.Fatalf("unexpected snapshots %q -> %q", ev[0].Before, ev[0].After)
	}
}

func TestEncodeMessage_KeyedByCustomer(t *testing.T) {
	e := Event{ID: "e1", Type: EventTypeActionCompleted, CustomerID: "c1", CreatedAt: time.Unix(1700000000, 0).UTC()}
	msg, err := encodeMessage(e)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(msg.Key) != "c1" {
		t.Fatalf("expected customer key, got %q", msg.Key)
	}
	var back Event
	if err := json.Unmarshal(msg.Value, &back); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.Type != EventTypeActionCompleted || len(msg.Headers) != 1 {
		t.Fatalf("unexpected message %+v", msg)
	}
}
