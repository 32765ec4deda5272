package timeline

import (
	"sort"
	"time"

	"engagement-platform/internal/condition"
	"engagement-platform/internal/customer"
)

// Timeline is a day-indexed sequence of actions bound to one pipeline stage.
// At most one active timeline exists per stage; the store enforces it.
type Timeline struct {
	ID            string   `json:"id" yaml:"id"`
	Name          string   `json:"name" yaml:"name"`
	PipelineStage string   `json:"pipeline_stage" yaml:"pipeline_stage"`
	DurationDays  int      `json:"duration_days" yaml:"duration_days"`
	Active        bool     `json:"active" yaml:"active"`
	Actions       []Action `json:"actions" yaml:"actions"`
}

// Action is one channel step on a given day.
type Action struct {
	ID         string           `json:"id" yaml:"id"`
	TimelineID string           `json:"timeline_id" yaml:"-"`
	Day        int              `json:"day" yaml:"day"`
	Channel    customer.Channel `json:"channel" yaml:"channel"`
	Type       string           `json:"type" yaml:"type"`

	Subject  string `json:"subject,omitempty" yaml:"subject"`
	Template string `json:"template,omitempty" yaml:"template"`

	Condition *condition.Condition `json:"condition,omitempty" yaml:"condition"`

	// DelayMinutes offsets the send within the day; the dispatcher honors it if it can schedule.
	DelayMinutes int `json:"delay_minutes,omitempty" yaml:"delay_minutes"`

	// Priority orders actions within a day, lowest first. Sequence is the declaration order.
	Priority int  `json:"priority" yaml:"priority"`
	Sequence int  `json:"sequence" yaml:"-"`
	Active   bool `json:"active" yaml:"active"`
}

// ActionsForDay returns the active actions due on day in execution order:
// priority ascending, then declaration order.
func (t Timeline) ActionsForDay(day int) []Action {
	var out []Action
	for _, a := range t.Actions {
		if a.Active && a.Day == day {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out
}

type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// Progress is one customer's cursor through one timeline. Never deleted.
type Progress struct {
	ID         string `json:"id" db:"id"`
	CustomerID string `json:"customer_id" db:"customer_id"`
	TimelineID string `json:"timeline_id" db:"timeline_id"`

	CurrentDay int    `json:"current_day" db:"current_day"`
	Status     Status `json:"status" db:"status"`

	Completed []string `json:"completed_actions" db:"completed_actions"`
	Skipped   []string `json:"skipped_actions" db:"skipped_actions"`

	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	LastActionAt *time.Time `json:"last_action_at,omitempty" db:"last_action_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	PausedAt     *time.Time `json:"paused_at,omitempty" db:"paused_at"`
}

// Done reports whether actionID is already completed or skipped.
func (p Progress) Done(actionID string) bool {
	return contains(p.Completed, actionID) || contains(p.Skipped, actionID)
}

func (p Progress) clone() Progress {
	out := p
	out.Completed = append([]string(nil), p.Completed...)
	out.Skipped = append([]string(nil), p.Skipped...)
	return out
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// SkipReason explains why an action was marked skipped.
type SkipReason string

const (
	SkipDoNotContact SkipReason = "do_not_contact"
	SkipOptedOut     SkipReason = "opted_out"
	SkipCondition    SkipReason = "condition"
)

// ProgressFilter selects progress records. Zero values match everything.
type ProgressFilter struct {
	TimelineID string
	CustomerID string
	Status     Status
	Day        *int
}

func (f ProgressFilter) match(p Progress) bool {
	if f.TimelineID != "" && p.TimelineID != f.TimelineID {
		return false
	}
	if f.CustomerID != "" && p.CustomerID != f.CustomerID {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.Day != nil && p.CurrentDay != *f.Day {
		return false
	}
	return true
}
