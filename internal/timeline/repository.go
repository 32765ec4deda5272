package timeline

import (
	"context"
	"errors"
)

var (
	ErrNotFound     = errors.New("timeline: not found")
	ErrProgressBusy = errors.New("timeline: progress is being processed")
	ErrStageTaken   = errors.New("timeline: stage already has an active timeline")
)

// UpdateFunc computes the next progress value from the current one.
// Returning changed=false skips the write.
type UpdateFunc func(p Progress) (next Progress, changed bool, err error)

// Repository persists timelines and progress.
//
// ActiveTimelineForStage is a single lookup; uniqueness of the active timeline per stage
// is the store's job (ErrStageTaken on conflict).
// UpdateProgress must be an atomic read-modify-write per progress id.
type Repository interface {
	SaveTimeline(ctx context.Context, t Timeline) error
	Timeline(ctx context.Context, id string) (Timeline, error)
	ActiveTimelineForStage(ctx context.Context, stage string) (Timeline, error)

	// CreateProgress inserts p unless a record for (customer, timeline) exists,
	// in which case the existing record is returned with created=false.
	CreateProgress(ctx context.Context, p Progress) (Progress, bool, error)
	Progress(ctx context.Context, id string) (Progress, error)
	ListProgress(ctx context.Context, f ProgressFilter) ([]Progress, error)
	UpdateProgress(ctx context.Context, id string, fn UpdateFunc) (Progress, error)
}
