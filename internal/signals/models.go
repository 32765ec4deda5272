package signals

import (
	"strings"
	"time"
)

// Canonical engagement signal names.
const (
	EmailOpened        = "email_opened"
	EmailClicked       = "email_clicked"
	EmailBounced       = "email_bounced"
	SMSReplied         = "sms_replied"
	CallAnswered       = "call_answered"
	CallCompleted      = "call_completed"
	CallNoAnswer       = "call_no_answer"
	VoicemailDelivered = "voicemail_delivered"
	FirstEmailOpen     = "first_email_open"
)

// aliases lets conditions name a signal by its channel shorthand.
var aliases = map[string]string{
	"email":       EmailOpened,
	"email_click": EmailClicked,
	"sms":         SMSReplied,
	"call":        CallAnswered,
	"voicemail":   VoicemailDelivered,
}

// Event is one engagement signal as reported by a channel provider or the CRM.
// Events may arrive late, duplicated, or out of order.
type Event struct {
	CustomerID string    `json:"customer_id"`
	Signal     string    `json:"signal"`
	OccurredAt time.Time `json:"occurred_at"`

	// Source and ExternalID identify the reporting provider event, for logs only.
	Source     string `json:"source,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
}

// Record is the merged state of one signal for one customer.
// FirstAt only moves earlier and LastAt only moves later, whatever the arrival order.
type Record struct {
	CustomerID string    `json:"customer_id" db:"customer_id"`
	Signal     string    `json:"signal" db:"signal"`
	FirstAt    time.Time `json:"first_at" db:"first_at"`
	LastAt     time.Time `json:"last_at" db:"last_at"`
	Count      int       `json:"count" db:"event_count"`
}

// Merge selects which edge of a Record a condition sees.
type Merge string

const (
	MergeLatest Merge = "latest"
	MergeFirst  Merge = "first"
)

// MergeFor returns the merge rule for a signal: first_* signals keep the earliest
// timestamp, everything else the latest.
func MergeFor(signal string) Merge {
	if strings.HasPrefix(signal, "first_") {
		return MergeFirst
	}
	return MergeLatest
}

// Effective returns the timestamp a condition should see for this record.
func (r Record) Effective() time.Time {
	if MergeFor(r.Signal) == MergeFirst {
		return r.FirstAt
	}
	return r.LastAt
}

// merge folds an event into r.
func (r Record) merge(at time.Time) Record {
	if r.FirstAt.IsZero() || at.Before(r.FirstAt) {
		r.FirstAt = at
	}
	if at.After(r.LastAt) {
		r.LastAt = at
	}
	r.Count++
	return r
}

// CallStatus mirrors provider call lifecycle states.
type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusNoAnswer   CallStatus = "no_answer"
	CallStatusBusy       CallStatus = "busy"
	CallStatusCanceled   CallStatus = "canceled"
)

// ParseCallStatus normalizes provider spellings ("in-progress", "no-answer").
func ParseCallStatus(s string) CallStatus {
	return CallStatus(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
}

// SignalsForCallStatus maps a call status to the engagement signals it implies.
// A completed call with no talk time was never answered.
func SignalsForCallStatus(status CallStatus, durationSeconds int) []string {
	switch status {
	case CallStatusInProgress:
		return []string{CallAnswered}
	case CallStatusCompleted:
		if durationSeconds > 0 {
			return []string{CallAnswered, CallCompleted}
		}
		return []string{CallNoAnswer}
	case CallStatusNoAnswer, CallStatusBusy, CallStatusFailed:
		return []string{CallNoAnswer}
	default:
		return nil
	}
}
