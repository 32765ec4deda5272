package reporting

import (
	"time"

	"engagement-platform/internal/customer"
)

// TimeRange filters by a record's start time. A zero range means all time.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) valid() bool {
	if r.From.IsZero() && r.To.IsZero() {
		return true
	}
	return !r.From.IsZero() && !r.To.IsZero() && r.To.After(r.From)
}

func (r TimeRange) contains(t time.Time) bool {
	if r.From.IsZero() {
		return true
	}
	return !t.Before(r.From) && t.Before(r.To)
}

type TimelineSummaryRequest struct {
	TimelineID string `json:"timeline_id"`
	// Range filters progress records by enrollment time.
	Range TimeRange `json:"range"`
}

type TimelineSummary struct {
	TimelineID   string `json:"timeline_id"`
	Name         string `json:"name"`
	DurationDays int    `json:"duration_days"`

	Enrolled  int `json:"enrolled"`
	Active    int `json:"active"`
	Paused    int `json:"paused"`
	Completed int `json:"completed"`

	ActionsCompleted int `json:"actions_completed"`
	ActionsSkipped   int `json:"actions_skipped"`

	// CustomersByDay counts active customers sitting on each day.
	CustomersByDay map[int]int     `json:"customers_by_day"`
	Actions        []ActionSummary `json:"actions"`

	CompletionRate float64 `json:"completion_rate"`
}

type ActionSummary struct {
	ActionID  string           `json:"action_id"`
	Day       int              `json:"day"`
	Channel   customer.Channel `json:"channel"`
	Completed int              `json:"completed"`
	Skipped   int              `json:"skipped"`
}

type ObjectionSummaryRequest struct {
	// Range filters encounters by creation time.
	Range TimeRange `json:"range"`
}

type ObjectionSummary struct {
	Handlers        []HandlerSummary `json:"handlers"`
	TotalEncounters int              `json:"total_encounters"`
}

type HandlerSummary struct {
	HandlerID     string  `json:"handler_id"`
	TriggerPhrase string  `json:"trigger_phrase"`
	Active        bool    `json:"active"`
	UsageCount    int     `json:"usage_count"`
	SuccessRate   float64 `json:"success_rate"`

	Encounters int `json:"encounters"`
	Successes  int `json:"successes"`
}
