package timeline

import "time"

// Progress transitions are pure: each returns the new value and whether anything changed.
// Persistence happens through Repository.UpdateProgress.

// MarkCompleted records actionID as dispatched. Already-settled ids are left untouched.
func MarkCompleted(p Progress, actionID string, now time.Time) (Progress, bool) {
	if actionID == "" || p.Done(actionID) {
		return p, false
	}
	out := p.clone()
	out.Completed = append(out.Completed, actionID)
	t := now
	out.LastActionAt = &t
	return out, true
}

// MarkSkipped records actionID as skipped. Skipped actions are never retried.
func MarkSkipped(p Progress, actionID string) (Progress, bool) {
	if actionID == "" || p.Done(actionID) {
		return p, false
	}
	out := p.clone()
	out.Skipped = append(out.Skipped, actionID)
	return out, true
}

type AdvanceResult string

const (
	Advanced  AdvanceResult = "advanced"
	Completed AdvanceResult = "completed"
	// Noop means the record was not active; nothing changed.
	Noop AdvanceResult = "noop"
)

// AdvanceDay moves the cursor one day. Stepping past durationDays completes the
// record and freezes current_day at its last value.
func AdvanceDay(p Progress, durationDays int, now time.Time) (Progress, AdvanceResult) {
	if p.Status != StatusActive {
		return p, Noop
	}
	out := p.clone()
	next := p.CurrentDay + 1
	if next > durationDays {
		out.Status = StatusCompleted
		t := now
		out.CompletedAt = &t
		if out.CurrentDay > durationDays {
			out.CurrentDay = durationDays
		}
		return out, Completed
	}
	out.CurrentDay = next
	return out, Advanced
}

// Pause stops an active record. Only an explicit Resume restarts it.
func Pause(p Progress, now time.Time) (Progress, bool) {
	if p.Status != StatusActive {
		return p, false
	}
	out := p.clone()
	out.Status = StatusPaused
	t := now
	out.PausedAt = &t
	return out, true
}

func Resume(p Progress) (Progress, bool) {
	if p.Status != StatusPaused {
		return p, false
	}
	out := p.clone()
	out.Status = StatusActive
	out.PausedAt = nil
	return out, true
}
