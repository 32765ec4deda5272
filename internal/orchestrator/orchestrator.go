// Package orchestrator routes external triggers (cron ticks, stage changes, engagement
// signals, inbound messages) to the timeline scheduler and the dialog service.
//
// It owns no state. Every call is a short request/response; when to tick is the caller's
// concern.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"engagement-platform/internal/customer"
	"engagement-platform/internal/dialog"
	"engagement-platform/internal/signals"
	"engagement-platform/internal/timeline"
)

// InboundTrigger starts a dialog when a customer writes in without an open conversation.
const InboundTrigger = "inbound_message"

type Orchestrator struct {
	Customers customer.Directory
	Timelines *timeline.Scheduler
	Dialogs   *dialog.Service
	Signals   *signals.Service
	Log       *slog.Logger
}

func New(customers customer.Directory, timelines *timeline.Scheduler, dialogs *dialog.Service, sigs *signals.Service, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{Customers: customers, Timelines: timelines, Dialogs: dialogs, Signals: sigs, Log: log}
}

// StageResult reports what entering a pipeline stage did.
type StageResult struct {
	CustomerID string `json:"customer_id"`
	Stage      string `json:"stage"`
	// Progress is nil when the stage has no active timeline.
	Progress *timeline.Progress `json:"progress,omitempty"`
	Created  bool               `json:"created"`
	Resumed  bool               `json:"resumed"`
	// Paused lists progress ids on other timelines stopped by the stage change.
	Paused []string `json:"paused,omitempty"`
}

// EnterStage enrolls the customer on the stage's active timeline and pauses their active
// progress on every other timeline. Re-entering a stage resumes its paused record.
// A stage without a timeline is not an error: other timelines are still paused.
func (o *Orchestrator) EnterStage(ctx context.Context, customerID, stage string) (StageResult, error) {
	customerID = strings.TrimSpace(customerID)
	stage = strings.TrimSpace(stage)
	if customerID == "" || stage == "" {
		return StageResult{}, errors.New("orchestrator: customer_id and stage required")
	}
	if _, err := o.Customers.Get(ctx, customerID); err != nil {
		return StageResult{}, err
	}
	res := StageResult{CustomerID: customerID, Stage: stage}

	p, created, err := o.Timelines.Enroll(ctx, customerID, stage)
	switch {
	case errors.Is(err, timeline.ErrNotFound):
		o.Log.Info("stage has no active timeline", "customer_id", customerID, "stage", stage)
	case err != nil:
		return StageResult{}, err
	default:
		res.Created = created
		if p.Status == timeline.StatusPaused {
			if p, res.Resumed, err = o.Timelines.Resume(ctx, p.ID); err != nil {
				return StageResult{}, err
			}
		}
		res.Progress = &p
	}

	active, err := o.Timelines.Repo.ListProgress(ctx, timeline.ProgressFilter{CustomerID: customerID, Status: timeline.StatusActive})
	if err != nil {
		return res, err
	}
	for _, other := range active {
		if res.Progress != nil && other.ID == res.Progress.ID {
			continue
		}
		if _, changed, err := o.Timelines.Pause(ctx, other.ID); err != nil {
			return res, fmt.Errorf("pause %s: %w", other.ID, err)
		} else if changed {
			res.Paused = append(res.Paused, other.ID)
		}
	}
	return res, nil
}

// PauseCustomer pauses every active progress record of the customer.
func (o *Orchestrator) PauseCustomer(ctx context.Context, customerID string) ([]timeline.Progress, error) {
	list, err := o.Timelines.Repo.ListProgress(ctx, timeline.ProgressFilter{CustomerID: customerID, Status: timeline.StatusActive})
	if err != nil {
		return nil, err
	}
	var out []timeline.Progress
	for _, p := range list {
		next, changed, err := o.Timelines.Pause(ctx, p.ID)
		if err != nil {
			return out, fmt.Errorf("pause %s: %w", p.ID, err)
		}
		if changed {
			out = append(out, next)
		}
	}
	return out, nil
}

// ResumeCustomer resumes the customer's paused progress on the timeline of their current
// pipeline stage. Records paused by leaving a stage stay paused. A customer with no stage
// on file has all paused records resumed.
func (o *Orchestrator) ResumeCustomer(ctx context.Context, customerID string) ([]timeline.Progress, error) {
	c, err := o.Customers.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}
	f := timeline.ProgressFilter{CustomerID: customerID, Status: timeline.StatusPaused}
	if c.PipelineStage != "" {
		tl, err := o.Timelines.Repo.ActiveTimelineForStage(ctx, c.PipelineStage)
		if errors.Is(err, timeline.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		f.TimelineID = tl.ID
	}
	list, err := o.Timelines.Repo.ListProgress(ctx, f)
	if err != nil {
		return nil, err
	}
	var out []timeline.Progress
	for _, p := range list {
		next, changed, err := o.Timelines.Resume(ctx, p.ID)
		if err != nil {
			return out, fmt.Errorf("resume %s: %w", p.ID, err)
		}
		if changed {
			out = append(out, next)
		}
	}
	return out, nil
}
