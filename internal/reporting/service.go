// Package reporting aggregates timeline progress and objection handling into read-only
// summaries.
package reporting

import (
	"context"
	"errors"
	"sort"

	"engagement-platform/internal/objection"
	"engagement-platform/internal/timeline"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// TimelineSource is the read side of the timeline store.
type TimelineSource interface {
	Timeline(ctx context.Context, id string) (timeline.Timeline, error)
	ListProgress(ctx context.Context, f timeline.ProgressFilter) ([]timeline.Progress, error)
}

// ObjectionSource is the read side of the objection store.
type ObjectionSource interface {
	Handlers(ctx context.Context) ([]objection.Handler, error)
	Encounters(ctx context.Context, handlerID string) ([]objection.Encounter, error)
}

type Service struct {
	timelines  TimelineSource
	objections ObjectionSource
}

func NewService(timelines TimelineSource, objections ObjectionSource) *Service {
	return &Service{timelines: timelines, objections: objections}
}

func (s *Service) TimelineSummary(ctx context.Context, req TimelineSummaryRequest) (TimelineSummary, error) {
	if req.TimelineID == "" || !req.Range.valid() {
		return TimelineSummary{}, ErrInvalidRequest
	}
	if s.timelines == nil {
		return TimelineSummary{}, errors.New("reporting: timeline source not configured")
	}
	tl, err := s.timelines.Timeline(ctx, req.TimelineID)
	if err != nil {
		return TimelineSummary{}, err
	}
	rows, err := s.timelines.ListProgress(ctx, timeline.ProgressFilter{TimelineID: req.TimelineID})
	if err != nil {
		return TimelineSummary{}, err
	}

	out := TimelineSummary{
		TimelineID:     tl.ID,
		Name:           tl.Name,
		DurationDays:   tl.DurationDays,
		CustomersByDay: map[int]int{},
	}
	completed := map[string]int{}
	skipped := map[string]int{}
	for _, p := range rows {
		if !req.Range.contains(p.StartedAt) {
			continue
		}
		out.Enrolled++
		switch p.Status {
		case timeline.StatusActive:
			out.Active++
			out.CustomersByDay[p.CurrentDay]++
		case timeline.StatusPaused:
			out.Paused++
		case timeline.StatusCompleted:
			out.Completed++
		}
		out.ActionsCompleted += len(p.Completed)
		out.ActionsSkipped += len(p.Skipped)
		for _, id := range p.Completed {
			completed[id]++
		}
		for _, id := range p.Skipped {
			skipped[id]++
		}
	}

	for _, a := range tl.Actions {
		out.Actions = append(out.Actions, ActionSummary{
			ActionID:  a.ID,
			Day:       a.Day,
			Channel:   a.Channel,
			Completed: completed[a.ID],
			Skipped:   skipped[a.ID],
		})
	}
	sort.SliceStable(out.Actions, func(i, j int) bool { return out.Actions[i].Day < out.Actions[j].Day })

	if out.Enrolled > 0 {
		out.CompletionRate = float64(out.Completed) / float64(out.Enrolled)
	}
	return out, nil
}

// ObjectionSummary lists handlers by usage, most used first; ties by id.
func (s *Service) ObjectionSummary(ctx context.Context, req ObjectionSummaryRequest) (ObjectionSummary, error) {
	if !req.Range.valid() {
		return ObjectionSummary{}, ErrInvalidRequest
	}
	if s.objections == nil {
		return ObjectionSummary{}, errors.New("reporting: objection source not configured")
	}
	handlers, err := s.objections.Handlers(ctx)
	if err != nil {
		return ObjectionSummary{}, err
	}

	var out ObjectionSummary
	for _, h := range handlers {
		encs, err := s.objections.Encounters(ctx, h.ID)
		if err != nil {
			return ObjectionSummary{}, err
		}
		hs := HandlerSummary{
			HandlerID:     h.ID,
			TriggerPhrase: h.TriggerPhrase,
			Active:        h.Active,
			UsageCount:    h.UsageCount,
			SuccessRate:   h.SuccessRate,
		}
		for _, e := range encs {
			if !req.Range.contains(e.CreatedAt) {
				continue
			}
			hs.Encounters++
			if e.Success {
				hs.Successes++
			}
		}
		out.TotalEncounters += hs.Encounters
		out.Handlers = append(out.Handlers, hs)
	}
	sort.SliceStable(out.Handlers, func(i, j int) bool {
		a, b := out.Handlers[i], out.Handlers[j]
		if a.UsageCount != b.UsageCount {
			return a.UsageCount > b.UsageCount
		}
		return a.HandlerID < b.HandlerID
	})
	return out, nil
}
