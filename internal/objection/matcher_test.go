package objection

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"
)

func registry() []Handler {
	return []Handler{
		{ID: "price", TriggerPhrase: "too expensive", Keywords: []string{"price", "cost"}, Priority: 1, Active: true},
		{ID: "dental-price", TriggerPhrase: "too expensive", Priority: 5, Industries: []string{"Dental"}, Active: true},
		{ID: "timing", Keywords: []string{"not now", "later"}, Priority: 1, Active: true},
		{ID: "off", Keywords: []string{"price"}, Priority: 100, Active: false},
		{ID: "blank", TriggerPhrase: "", Keywords: []string{" "}, Priority: 50, Active: true},
	}
}

func TestFindMatch_PriorityAndIndustry(t *testing.T) {
	h, ok := FindMatch(registry(), "Honestly this is TOO EXPENSIVE for us", "dental")
	if !ok || h.ID != "dental-price" {
		t.Fatalf("expected industry handler to win on priority, got %+v", h)
	}
	h, ok = FindMatch(registry(), "Honestly this is too expensive for us", "legal")
	if !ok || h.ID != "price" {
		t.Fatalf("expected restricted handler skipped, got %+v", h)
	}
	h, ok = FindMatch(registry(), "what's the COST?", "")
	if !ok || h.ID != "price" {
		t.Fatalf("expected keyword match, got %+v", h)
	}
}

func TestFindMatch_TiesUseInputOrder(t *testing.T) {
	hs := []Handler{
		{ID: "first", Keywords: []string{"busy"}, Priority: 2, Active: true},
		{ID: "second", Keywords: []string{"busy"}, Priority: 2, Active: true},
	}
	for i := 0; i < 5; i++ {
		if h, _ := FindMatch(hs, "I'm busy", ""); h.ID != "first" {
			t.Fatalf("expected first declared handler, got %s", h.ID)
		}
	}
}

func TestFindMatch_NoMatch(t *testing.T) {
	if _, ok := FindMatch(registry(), "sounds good, sign me up", ""); ok {
		t.Fatalf("expected no match")
	}
	if _, ok := FindMatch(registry(), "   ", ""); ok {
		t.Fatalf("empty statement must not match")
	}
}

func TestRecordUsage_ExactRecurrence(t *testing.T) {
	h := Handler{SuccessRate: 50}
	want := 50.0
	for i := 0; i < 10; i++ {
		prev := h.SuccessRate
		h = RecordUsage(h, true)
		want = want*0.9 + 10
		if math.Abs(h.SuccessRate-want) > 1e-9 {
			t.Fatalf("step %d: got %v want %v", i, h.SuccessRate, want)
		}
		if h.SuccessRate <= prev {
			t.Fatalf("step %d: rate did not increase", i)
		}
	}
	if h.UsageCount != 10 {
		t.Fatalf("expected usage 10, got %d", h.UsageCount)
	}

	h = Handler{SuccessRate: 50}
	want = 50
	for i := 0; i < 10; i++ {
		h = RecordUsage(h, false)
		want *= 0.9
		if math.Abs(h.SuccessRate-want) > 1e-9 {
			t.Fatalf("failure step %d: got %v want %v", i, h.SuccessRate, want)
		}
	}
	if h.UsageCount != 10 {
		t.Fatalf("usage must increment on failure too")
	}
}

func TestNextAction_Decoding(t *testing.T) {
	var h Handler
	if err := json.Unmarshal([]byte(`{"id":"x","next_action":"pricing_followup"}`), &h); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.Next.Kind != NextGoto || h.Next.Node != "pricing_followup" {
		t.Fatalf("unexpected next action %+v", h.Next)
	}
	if ParseNextAction("Escalate").Kind != NextEscalate || ParseNextAction("end").Kind != NextEnd {
		t.Fatalf("expected directive kinds")
	}
	if ParseNextAction("").Kind != NextNone {
		t.Fatalf("expected none")
	}
}

func TestHandler_Render(t *testing.T) {
	h := Handler{Response: "I hear you, {{first_name}}.", FollowUp: "Can I send {{industry}} pricing?"}
	resp, fu := h.Render(map[string]string{"first_name": "Ana", "industry": "dental"})
	if resp != "I hear you, Ana." || fu != "Can I send dental pricing?" {
		t.Fatalf("unexpected render %q / %q", resp, fu)
	}
}

func TestService_RecordOutcome(t *testing.T) {
	repo := NewMemoryRepo()
	for _, h := range registry() {
		h.SuccessRate = 50
		_ = repo.SaveHandler(context.Background(), h)
	}
	svc := NewService(repo)
	svc.clock = func() time.Time { return time.Unix(1700000000, 0) }

	h, ok, err := svc.Match(context.Background(), "maybe later", "")
	if err != nil || !ok || h.ID != "timing" {
		t.Fatalf("match: %+v %v %v", h, ok, err)
	}
	updated, enc, err := svc.RecordOutcome(context.Background(), Outcome{CustomerID: "c1", HandlerID: h.ID, Statement: "maybe later", Response: "ok", Success: true})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if updated.SuccessRate != 55 || updated.UsageCount != 1 {
		t.Fatalf("unexpected handler state %+v", updated)
	}
	if enc.ID == "" || !enc.Success {
		t.Fatalf("unexpected encounter %+v", enc)
	}
	encs, _ := repo.Encounters(context.Background(), "timing")
	if len(encs) != 1 {
		t.Fatalf("expected one encounter")
	}

	if _, _, err := svc.RecordOutcome(context.Background(), Outcome{CustomerID: "c1", HandlerID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := svc.RecordOutcome(context.Background(), Outcome{HandlerID: "timing"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
