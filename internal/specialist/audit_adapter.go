package specialist

import (
	"context"
	"fmt"

	"engagement-platform/internal/audit"
)

// AuditAdapter records assignment hooks in the shared audit.Service.
type AuditAdapter struct {
	Audit *audit.Service
}

func (a AuditAdapter) Assigned(ctx context.Context, as Assignment, pinID string) error {
	if a.Audit == nil {
		return nil
	}
	msg := fmt.Sprintf("assigned %s score=%.1f", as.SpecialistID, as.Score)
	if as.Fallback {
		msg += " (fallback, over capacity)"
	}
	e := audit.Event{
		Type:       audit.EventTypeSpecialistAssigned,
		CustomerID: as.CustomerID,
		Subject:    as.ID,
		Message:    msg,
	}
	if pinID != "" {
		e.Metadata = fmt.Sprintf(`{"pin_id":%q}`, pinID)
	}
	return a.Audit.Append(ctx, e)
}

func (a AuditAdapter) Unassigned(ctx context.Context, before, after Assignment) error {
	if a.Audit == nil {
		return nil
	}
	return a.Audit.Transition(ctx, audit.EventTypeSpecialistUnassigned, after.CustomerID, after.ID, before, after, "released "+after.SpecialistID)
}
