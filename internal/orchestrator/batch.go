package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"engagement-platform/internal/timeline"
	"engagement-platform/pkg/logger"
)

// Item is one customer's line in a batch.
type Item struct {
	ProgressID string                 `json:"progress_id"`
	CustomerID string                 `json:"customer_id"`
	Report     *timeline.DayReport    `json:"report,omitempty"`
	Advance    timeline.AdvanceResult `json:"advance,omitempty"`

	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

// BatchResult lists per-customer results for a timeline-wide operation. One customer's
// failure never hides the others.
type BatchResult struct {
	TimelineID string `json:"timeline_id"`
	Day        int    `json:"day"`
	Items      []Item `json:"items"`
	Failed     int    `json:"failed"`
}

func (b *BatchResult) add(it Item) {
	if it.Err != nil {
		it.Error = it.Err.Error()
		b.Failed++
	}
	b.Items = append(b.Items, it)
}

// Errors returns the failed items.
func (b BatchResult) Errors() []Item {
	var out []Item
	for _, it := range b.Items {
		if it.Err != nil {
			out = append(out, it)
		}
	}
	return out
}

// Err joins per-customer errors, or nil when every customer succeeded.
func (b BatchResult) Err() error {
	var errs []error
	for _, it := range b.Errors() {
		errs = append(errs, fmt.Errorf("customer %s: %w", it.CustomerID, it.Err))
	}
	return errors.Join(errs...)
}

// Tick processes the day's actions for every active customer of the timeline at day.
// The returned error is reserved for failures that stop the whole batch.
func (o *Orchestrator) Tick(ctx context.Context, timelineID string, day int) (BatchResult, error) {
	if day < 0 {
		return BatchResult{}, fmt.Errorf("orchestrator: invalid day %d", day)
	}
	if _, err := o.Timelines.Repo.Timeline(ctx, timelineID); err != nil {
		return BatchResult{}, err
	}
	outcomes, err := o.Timelines.Tick(ctx, timelineID, day)
	if err != nil {
		return BatchResult{}, err
	}
	res := BatchResult{TimelineID: timelineID, Day: day, Items: make([]Item, 0, len(outcomes))}
	for _, oc := range outcomes {
		rep := oc.Report
		res.add(Item{ProgressID: oc.ProgressID, CustomerID: oc.CustomerID, Report: &rep, Err: oc.Err})
	}
	o.Log.Info("timeline tick", "timeline_id", timelineID, "day", day, "customers", len(res.Items), "failed", res.Failed)
	return res, nil
}

func (o *Orchestrator) AdvanceDay(ctx context.Context, progressID string) (timeline.Progress, timeline.AdvanceResult, error) {
	return o.Timelines.AdvanceDay(ctx, progressID)
}

// AdvanceDueDay closes day for the timeline: every active customer sitting on day moves
// to day+1, or completes past the timeline's duration.
func (o *Orchestrator) AdvanceDueDay(ctx context.Context, timelineID string, day int) (BatchResult, error) {
	if _, err := o.Timelines.Repo.Timeline(ctx, timelineID); err != nil {
		return BatchResult{}, err
	}
	list, err := o.Timelines.Repo.ListProgress(ctx, timeline.ProgressFilter{TimelineID: timelineID, Status: timeline.StatusActive, Day: &day})
	if err != nil {
		return BatchResult{}, err
	}
	res := BatchResult{TimelineID: timelineID, Day: day, Items: make([]Item, 0, len(list))}
	for _, p := range list {
		if err := ctx.Err(); err != nil {
			res.add(Item{ProgressID: p.ID, CustomerID: p.CustomerID, Err: err})
			continue
		}
		_, ar, err := o.Timelines.AdvanceDay(ctx, p.ID)
		if err != nil {
			logger.ForCustomer(ctx, p.CustomerID).Warn("advance failed for customer", "timeline_id", timelineID, "day", day, "err", err)
		}
		res.add(Item{ProgressID: p.ID, CustomerID: p.CustomerID, Advance: ar, Err: err})
	}
	return res, nil
}
