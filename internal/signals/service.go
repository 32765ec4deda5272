// Package signals merges asynchronously arriving engagement events into per-customer state.
package signals

import (
	"context"
	"errors"
	"strings"
	"time"

	"engagement-platform/internal/condition"
	"engagement-platform/internal/customer"
)

var ErrInvalidEvent = errors.New("signals: invalid event")

// Repository persists merged signal records.
// Apply must be atomic per (customer, signal).
type Repository interface {
	Apply(ctx context.Context, ev Event) (Record, error)
	List(ctx context.Context, customerID string) ([]Record, error)
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// Record merges one event. Events stamped in the future beyond a small skew are clamped
// to now so a bad provider clock cannot pin a signal as "recent" forever.
func (s *Service) Record(ctx context.Context, ev Event) (Record, error) {
	ev.CustomerID = strings.TrimSpace(ev.CustomerID)
	ev.Signal = strings.ToLower(strings.TrimSpace(ev.Signal))
	if ev.CustomerID == "" || ev.Signal == "" || ev.OccurredAt.IsZero() {
		return Record{}, ErrInvalidEvent
	}
	if canonical, ok := aliases[ev.Signal]; ok {
		ev.Signal = canonical
	}
	now := s.clock().UTC()
	ev.OccurredAt = ev.OccurredAt.UTC()
	if ev.OccurredAt.After(now.Add(5 * time.Minute)) {
		ev.OccurredAt = now
	}
	return s.repo.Apply(ctx, ev)
}

// Snapshot builds the condition input for a customer: merged signal timestamps under both
// canonical and alias names, plus the customer's numeric fields.
func (s *Service) Snapshot(ctx context.Context, c customer.Customer) (condition.Signals, error) {
	recs, err := s.repo.List(ctx, c.ID)
	if err != nil {
		return condition.Signals{}, err
	}
	out := condition.Signals{
		LastEvent: make(map[string]time.Time, len(recs)*2),
		Fields:    make(map[string]float64, len(c.Fields)),
	}
	for _, r := range recs {
		out.LastEvent[r.Signal] = r.Effective()
	}
	for alias, canonical := range aliases {
		if ts, ok := out.LastEvent[canonical]; ok {
			out.LastEvent[alias] = ts
		}
	}
	for k, v := range c.Fields {
		out.Fields[k] = v
	}
	return out, nil
}
