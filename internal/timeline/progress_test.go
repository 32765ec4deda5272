package timeline

import (
	"testing"
	"time"
)

var fixedNow = time.Unix(1700000000, 0).UTC()

func TestAdvanceDay_CompletesPastDuration(t *testing.T) {
	p := Progress{ID: "p1", Status: StatusActive}
	var res AdvanceResult
	for i := 0; i < 3; i++ {
		p, res = AdvanceDay(p, 3, fixedNow)
		if res != Advanced {
			t.Fatalf("step %d: expected advanced, got %s", i, res)
		}
	}
	if p.CurrentDay != 3 {
		t.Fatalf("expected day 3, got %d", p.CurrentDay)
	}
	p, res = AdvanceDay(p, 3, fixedNow)
	if res != Completed || p.Status != StatusCompleted || p.CurrentDay != 3 {
		t.Fatalf("expected completion frozen at day 3, got %s %+v", res, p)
	}
	if p.CompletedAt == nil {
		t.Fatalf("expected completed_at")
	}
}

func TestAdvanceDay_IdempotentOnCompleted(t *testing.T) {
	p := Progress{ID: "p1", Status: StatusActive, CurrentDay: 3}
	once, _ := AdvanceDay(p, 3, fixedNow)
	twice, res := AdvanceDay(once, 3, fixedNow.Add(time.Hour))
	if res != Noop {
		t.Fatalf("expected noop, got %s", res)
	}
	if twice.CurrentDay != once.CurrentDay || twice.Status != once.Status || !twice.CompletedAt.Equal(*once.CompletedAt) {
		t.Fatalf("second advance changed state: %+v vs %+v", twice, once)
	}
}

func TestAdvanceDay_PausedIsNoop(t *testing.T) {
	p := Progress{Status: StatusPaused, CurrentDay: 1}
	out, res := AdvanceDay(p, 5, fixedNow)
	if res != Noop || out.CurrentDay != 1 {
		t.Fatalf("paused progress must not advance")
	}
}

func TestMark_SettlesOnce(t *testing.T) {
	p := Progress{Status: StatusActive}
	p, changed := MarkCompleted(p, "a1", fixedNow)
	if !changed {
		t.Fatalf("expected change")
	}
	if _, changed := MarkCompleted(p, "a1", fixedNow); changed {
		t.Fatalf("expected second mark to be a no-op")
	}
	if _, changed := MarkSkipped(p, "a1"); changed {
		t.Fatalf("completed action must not also be skipped")
	}
	p2, changed := MarkSkipped(p, "a2")
	if !changed || !p2.Done("a2") {
		t.Fatalf("expected a2 skipped")
	}
	if len(p.Skipped) != 0 {
		t.Fatalf("transition mutated its input")
	}
}

func TestPauseResume(t *testing.T) {
	p := Progress{Status: StatusActive}
	p, ok := Pause(p, fixedNow)
	if !ok || p.Status != StatusPaused || p.PausedAt == nil {
		t.Fatalf("expected paused")
	}
	if _, ok := Pause(p, fixedNow); ok {
		t.Fatalf("double pause should be a no-op")
	}
	p, ok = Resume(p)
	if !ok || p.Status != StatusActive || p.PausedAt != nil {
		t.Fatalf("expected resumed")
	}
	if _, ok := Resume(Progress{Status: StatusCompleted}); ok {
		t.Fatalf("completed progress cannot resume")
	}
}

func TestActionsForDay_Order(t *testing.T) {
	tl := Timeline{Actions: []Action{
		{ID: "late", Day: 2, Priority: 5, Sequence: 0, Active: true},
		{ID: "b", Day: 2, Priority: 1, Sequence: 2, Active: true},
		{ID: "a", Day: 2, Priority: 1, Sequence: 1, Active: true},
		{ID: "off", Day: 2, Priority: 0, Sequence: 3, Active: false},
		{ID: "other", Day: 1, Active: true},
	}}
	got := tl.ActionsForDay(2)
	if len(got) != 3 || got[0].ID != "a" || got[1].ID != "b" || got[2].ID != "late" {
		t.Fatalf("unexpected order %+v", got)
	}
}
