package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - customer_id is set for every engine transition; operator actions may omit it.
// - Before/After carry JSON snapshots so a transition can be replayed.
//
// Storage: the Kafka topic is the durable log; MemoryRepo serves tests and local runs.

type Event struct {
	ID   string    `json:"id"`
	Type EventType `json:"type"`

	CustomerID string `json:"customer_id,omitempty"`
	// Subject is the id of the record that transitioned (progress, execution, handler, assignment).
	Subject string `json:"subject,omitempty"`

	// ActorUserID is the authenticated operator causing the event, empty for automation.
	ActorUserID string `json:"actor_user_id,omitempty"`
	ActorRole   string `json:"actor_role,omitempty"`
	IPAddress   string `json:"ip_address,omitempty"`

	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type EventType string

const (
	EventTypeAdminAction EventType = "admin_action"

	EventTypeEnrolled          EventType = "timeline_enrolled"
	EventTypeActionCompleted   EventType = "action_completed"
	EventTypeActionSkipped     EventType = "action_skipped"
	EventTypeActionFailed      EventType = "action_dispatch_failed"
	EventTypeDayAdvanced       EventType = "day_advanced"
	EventTypeTimelineCompleted EventType = "timeline_completed"
	EventTypeProgressPaused    EventType = "progress_paused"
	EventTypeProgressResumed   EventType = "progress_resumed"

	EventTypeDialogStarted    EventType = "dialog_started"
	EventTypeDialogTransition EventType = "dialog_transition"
	EventTypeDialogCompleted  EventType = "dialog_completed"
	EventTypeDialogEscalated  EventType = "dialog_escalated"

	EventTypeObjectionMatched EventType = "objection_matched"

	EventTypeSpecialistAssigned   EventType = "specialist_assigned"
	EventTypeSpecialistUnassigned EventType = "specialist_unassigned"
)
