// Package timeline tracks customers through day-numbered action sequences and fires
// each day's actions through the channel dispatcher.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"engagement-platform/internal/audit"
	"engagement-platform/internal/channel"
	"engagement-platform/internal/condition"
	"engagement-platform/internal/customer"
	"engagement-platform/pkg/utils"

	"github.com/google/uuid"
)

// CustomerSource is the read-only customer lookup the scheduler needs.
type CustomerSource interface {
	Get(ctx context.Context, id string) (customer.Customer, error)
}

// SignalSource builds the condition input for a customer.
type SignalSource interface {
	Snapshot(ctx context.Context, c customer.Customer) (condition.Signals, error)
}

// Auditor receives transition records. Failures are logged, never returned.
type Auditor interface {
	Transition(ctx context.Context, typ audit.EventType, customerID, subject string, before, after any, message string) error
}

// Scheduler decides and fires the actions due for a customer's current day.
//
// It never advances the day on its own: processing a day and moving the clock are
// separate operations so a day can be retried without skipping ahead.
type Scheduler struct {
	Repo      Repository
	Customers CustomerSource
	Signals   SignalSource
	Dispatch  channel.Dispatcher

	Evaluator *condition.Evaluator
	Locks     Locker
	Audit     Auditor
	Log       *slog.Logger
	Now       func() time.Time
}

func NewScheduler(repo Repository, customers CustomerSource, sigs SignalSource, dispatch channel.Dispatcher, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		Repo:      repo,
		Customers: customers,
		Signals:   sigs,
		Dispatch:  dispatch,
		Evaluator: condition.NewEvaluator(log),
		Locks:     NewMemoryLocker(),
		Log:       log,
		Now:       time.Now,
	}
}

func (s *Scheduler) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// Skip is one skipped action and why.
type Skip struct {
	ActionID string     `json:"action_id"`
	Reason   SkipReason `json:"reason"`
}

// DayReport describes what one ProcessDay call did.
type DayReport struct {
	ProgressID string   `json:"progress_id"`
	CustomerID string   `json:"customer_id"`
	Day        int      `json:"day"`
	Status     Status   `json:"status"`
	Completed  []string `json:"completed,omitempty"`
	Skipped    []Skip   `json:"skipped,omitempty"`
	// Pending actions failed to dispatch and will be retried on the next tick.
	Pending []string `json:"pending,omitempty"`
	// AlreadyDone counts actions settled by an earlier tick.
	AlreadyDone int `json:"already_done"`
}

// DispatchError reports actions left pending because the channel failed.
type DispatchError struct {
	ProgressID string
	ActionIDs  []string
	Err        error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("timeline: %d action(s) pending for progress %s: %v", len(e.ActionIDs), e.ProgressID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Enroll starts the customer on the active timeline for stage. Re-enrolling returns the
// existing record (created=false); progress records are never recreated.
func (s *Scheduler) Enroll(ctx context.Context, customerID, stage string) (Progress, bool, error) {
	if strings.TrimSpace(customerID) == "" {
		return Progress{}, false, errors.New("timeline: customer_id required")
	}
	tl, err := s.Repo.ActiveTimelineForStage(ctx, stage)
	if err != nil {
		return Progress{}, false, err
	}
	p := Progress{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		TimelineID: tl.ID,
		CurrentDay: 0,
		Status:     StatusActive,
		StartedAt:  s.now(),
	}
	out, created, err := s.Repo.CreateProgress(ctx, p)
	if err != nil {
		return Progress{}, false, err
	}
	if created {
		s.audit(ctx, audit.EventTypeEnrolled, out, nil, out, "enrolled in "+tl.ID)
	}
	return out, created, nil
}

// ProcessDay fires the actions due on the progress record's current day.
//
// Safe to call repeatedly: settled action ids are never dispatched again, and a
// concurrent call for the same record gets ErrProgressBusy. Dispatch failures leave the
// action pending and come back as *DispatchError alongside the report.
func (s *Scheduler) ProcessDay(ctx context.Context, progressID string) (DayReport, error) {
	release, err := s.Locks.TryLock(ctx, "progress:"+progressID)
	if err != nil {
		return DayReport{ProgressID: progressID}, err
	}
	defer release()

	p, err := s.Repo.Progress(ctx, progressID)
	if err != nil {
		return DayReport{ProgressID: progressID}, err
	}
	rep := DayReport{ProgressID: p.ID, CustomerID: p.CustomerID, Day: p.CurrentDay, Status: p.Status}
	if p.Status != StatusActive {
		return rep, nil
	}

	tl, err := s.Repo.Timeline(ctx, p.TimelineID)
	if err != nil {
		return rep, fmt.Errorf("timeline %s: %w", p.TimelineID, err)
	}
	due := tl.ActionsForDay(p.CurrentDay)
	if len(due) == 0 {
		return rep, nil
	}

	c, err := s.Customers.Get(ctx, p.CustomerID)
	if err != nil {
		return rep, fmt.Errorf("customer %s: %w", p.CustomerID, err)
	}
	log := s.Log.With("customer_id", c.ID, "progress_id", p.ID, "day", p.CurrentDay)

	var (
		sigs     condition.Signals
		sigsRead bool
		failed   []string
		errs     []error
	)
	for _, a := range due {
		if p.Done(a.ID) {
			rep.AlreadyDone++
			continue
		}

		reason, skip := gate(c, a.Channel)
		if !skip && a.Condition != nil {
			if !sigsRead {
				if sigs, err = s.Signals.Snapshot(ctx, c); err != nil {
					return rep, fmt.Errorf("signals for %s: %w", c.ID, err)
				}
				sigsRead = true
			}
			if res := s.Evaluator.ShouldSkip(a.Condition, sigs); res.Skip {
				reason, skip = SkipCondition, true
			}
		}

		if skip {
			next, err := s.settle(ctx, p.ID, func(cur Progress) (Progress, bool) { return MarkSkipped(cur, a.ID) })
			if err != nil {
				return rep, err
			}
			s.audit(ctx, audit.EventTypeActionSkipped, next, p, next, string(reason)+":"+a.ID)
			p = next
			rep.Skipped = append(rep.Skipped, Skip{ActionID: a.ID, Reason: reason})
			continue
		}

		payload := s.payload(a, c)
		receipt, err := s.Dispatch.Send(ctx, a.Channel, c, payload)
		if err != nil {
			log.Warn("dispatch failed, action left pending", "action_id", a.ID, "channel", a.Channel, "err", err)
			s.audit(ctx, audit.EventTypeActionFailed, p, nil, nil, a.ID+": "+err.Error())
			failed = append(failed, a.ID)
			errs = append(errs, fmt.Errorf("action %s: %w", a.ID, err))
			continue
		}

		// The send happened; the record must follow even if the request is cancelled now.
		next, err := s.settle(context.WithoutCancel(ctx), p.ID, func(cur Progress) (Progress, bool) {
			return MarkCompleted(cur, a.ID, s.now())
		})
		if err != nil {
			log.Error("dispatched action not recorded, may resend once", "action_id", a.ID, "external_id", receipt.ExternalID, "err", err)
			return rep, err
		}
		s.audit(ctx, audit.EventTypeActionCompleted, next, p, next, a.ID+" via "+string(a.Channel)+" "+receipt.ExternalID)
		p = next
		rep.Completed = append(rep.Completed, a.ID)
	}

	rep.Pending = failed
	if len(failed) > 0 {
		return rep, &DispatchError{ProgressID: p.ID, ActionIDs: failed, Err: errors.Join(errs...)}
	}
	return rep, nil
}

func (s *Scheduler) settle(ctx context.Context, progressID string, mark func(Progress) (Progress, bool)) (Progress, error) {
	return s.Repo.UpdateProgress(ctx, progressID, func(cur Progress) (Progress, bool, error) {
		next, changed := mark(cur)
		return next, changed, nil
	})
}

// gate applies the contact rules that run before any condition.
func gate(c customer.Customer, ch customer.Channel) (SkipReason, bool) {
	if c.DoNotContact {
		return SkipDoNotContact, true
	}
	if !c.OptedIn(ch) {
		return SkipOptedOut, true
	}
	return "", false
}

func (s *Scheduler) payload(a Action, c customer.Customer) channel.Payload {
	vars := c.Vars()
	p := channel.Payload{
		ActionID:   a.ID,
		ActionType: a.Type,
		Subject:    utils.RenderTemplate(a.Subject, vars),
		Body:       utils.RenderTemplate(a.Template, vars),
		Metadata: map[string]string{
			"timeline_id": a.TimelineID,
			"day":         strconv.Itoa(a.Day),
		},
	}
	if a.DelayMinutes > 0 {
		p.Metadata["delay_minutes"] = strconv.Itoa(a.DelayMinutes)
	}
	return p
}

// Outcome is one customer's result within a Tick.
type Outcome struct {
	ProgressID string
	CustomerID string
	Report     DayReport
	Err        error
}

// Tick processes every active progress record of timelineID sitting on day.
// One customer's failure never stops the others; errors are per outcome.
func (s *Scheduler) Tick(ctx context.Context, timelineID string, day int) ([]Outcome, error) {
	list, err := s.Repo.ListProgress(ctx, ProgressFilter{TimelineID: timelineID, Status: StatusActive, Day: &day})
	if err != nil {
		return nil, err
	}
	out := make([]Outcome, 0, len(list))
	for _, p := range list {
		if err := ctx.Err(); err != nil {
			out = append(out, Outcome{ProgressID: p.ID, CustomerID: p.CustomerID, Err: err})
			continue
		}
		rep, err := s.ProcessDay(ctx, p.ID)
		if err != nil {
			s.Log.Warn("tick failed for customer", "timeline_id", timelineID, "day", day, "customer_id", p.CustomerID, "err", err)
		}
		out = append(out, Outcome{ProgressID: p.ID, CustomerID: p.CustomerID, Report: rep, Err: err})
	}
	return out, nil
}

// AdvanceDay moves the record to the next day, completing it past the timeline's
// duration. Non-active records return Noop with no error.
func (s *Scheduler) AdvanceDay(ctx context.Context, progressID string) (Progress, AdvanceResult, error) {
	cur, err := s.Repo.Progress(ctx, progressID)
	if err != nil {
		return Progress{}, Noop, err
	}
	tl, err := s.Repo.Timeline(ctx, cur.TimelineID)
	if err != nil {
		return Progress{}, Noop, fmt.Errorf("timeline %s: %w", cur.TimelineID, err)
	}

	var (
		before Progress
		res    = Noop
	)
	now := s.now()
	next, err := s.Repo.UpdateProgress(ctx, progressID, func(p Progress) (Progress, bool, error) {
		before = p
		var out Progress
		out, res = AdvanceDay(p, tl.DurationDays, now)
		return out, res != Noop, nil
	})
	if err != nil {
		return Progress{}, Noop, err
	}
	switch res {
	case Advanced:
		s.audit(ctx, audit.EventTypeDayAdvanced, next, before, next, "")
	case Completed:
		s.audit(ctx, audit.EventTypeTimelineCompleted, next, before, next, "")
	}
	return next, res, nil
}

// Pause stops a record until Resume. Returns changed=false if it was not active.
func (s *Scheduler) Pause(ctx context.Context, progressID string) (Progress, bool, error) {
	now := s.now()
	return s.transition(ctx, progressID, audit.EventTypeProgressPaused, func(p Progress) (Progress, bool) { return Pause(p, now) })
}

func (s *Scheduler) Resume(ctx context.Context, progressID string) (Progress, bool, error) {
	return s.transition(ctx, progressID, audit.EventTypeProgressResumed, Resume)
}

func (s *Scheduler) transition(ctx context.Context, progressID string, typ audit.EventType, fn func(Progress) (Progress, bool)) (Progress, bool, error) {
	var (
		before  Progress
		changed bool
	)
	next, err := s.Repo.UpdateProgress(ctx, progressID, func(p Progress) (Progress, bool, error) {
		before = p
		var out Progress
		out, changed = fn(p)
		return out, changed, nil
	})
	if err != nil {
		return Progress{}, false, err
	}
	if changed {
		s.audit(ctx, typ, next, before, next, "")
	}
	return next, changed, nil
}

func (s *Scheduler) audit(ctx context.Context, typ audit.EventType, p Progress, before, after any, msg string) {
	if s.Audit == nil {
		return
	}
	if err := s.Audit.Transition(ctx, typ, p.CustomerID, p.ID, before, after, msg); err != nil {
		s.Log.Warn("audit append failed", "type", typ, "progress_id", p.ID, "err", err)
	}
}
