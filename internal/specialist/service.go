// Package specialist scores AI and human handlers for a customer and manages their
// capacity-bounded assignments.
package specialist

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"engagement-platform/internal/customer"

	"github.com/google/uuid"
)

// Hooks receives assignment lifecycle events (see AuditAdapter).
type Hooks interface {
	Assigned(ctx context.Context, a Assignment, pinID string) error
	Unassigned(ctx context.Context, before, after Assignment) error
}

type Service struct {
	Repo     Repository
	Capacity Capacity
	Pins     PinStore
	Hooks    Hooks
	Log      *slog.Logger
	Now      func() time.Time
}

func NewService(repo Repository, capacity Capacity, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{Repo: repo, Capacity: capacity, Log: log, Now: time.Now}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// Candidates returns the directory snapshot with live capacity counts.
func (s *Service) Candidates(ctx context.Context) ([]Specialist, error) {
	list, err := s.Repo.Specialists(ctx)
	if err != nil {
		return nil, err
	}
	return s.liveCounts(ctx, list)
}

// liveCounts sets CurrentCustomers to the larger of the snapshot count and the capacity
// counter, lifting the counter first so Acquire sees assignments it lost track of.
func (s *Service) liveCounts(ctx context.Context, list []Specialist) ([]Specialist, error) {
	out := make([]Specialist, len(list))
	for i, sp := range list {
		n, err := s.Capacity.Reconcile(ctx, sp.ID, sp.CurrentCustomers)
		if err != nil {
			return nil, err
		}
		sp.CurrentCustomers = n
		out[i] = sp
	}
	return out, nil
}

// Assign matches c to a specialist and takes a capacity slot atomically.
//
// An existing active assignment is returned unchanged. Otherwise candidates are tried in
// score order; losing a capacity race moves on to the next. When nobody has capacity the
// best active candidate is assigned over capacity. A nil candidates slice means the full
// directory. No active candidate at all returns ErrNoCandidates.
func (s *Service) Assign(ctx context.Context, c customer.Customer, candidates []Specialist) (Match, Assignment, error) {
	if existing, err := s.Repo.ActiveAssignment(ctx, c.ID); err == nil {
		return Match{Specialist: Specialist{ID: existing.SpecialistID}, Score: existing.Score, Found: true, Fallback: existing.Fallback}, existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Match{}, Assignment{}, err
	}

	var err error
	if candidates == nil {
		candidates, err = s.Candidates(ctx)
	} else {
		candidates, err = s.liveCounts(ctx, candidates)
	}
	if err != nil {
		return Match{}, Assignment{}, err
	}
	if len(candidates) == 0 {
		return Match{}, Assignment{}, ErrNoCandidates
	}

	if m, pinID, ok, err := s.pinned(ctx, c, candidates); err != nil {
		return Match{}, Assignment{}, err
	} else if ok {
		a, err := s.record(ctx, c, m, pinID)
		if err != nil {
			_ = s.Capacity.Release(ctx, m.Specialist.ID)
		}
		return m, a, err
	}

	for _, m := range Rank(candidates, c) {
		ok, err := s.Capacity.Acquire(ctx, m.Specialist.ID, m.Specialist.MaxCustomers)
		if err != nil {
			return Match{}, Assignment{}, err
		}
		if !ok {
			s.Log.Debug("specialist capacity race lost, trying next", "specialist_id", m.Specialist.ID, "customer_id", c.ID)
			continue
		}
		a, err := s.record(ctx, c, m, "")
		if err != nil {
			_ = s.Capacity.Release(ctx, m.Specialist.ID)
		}
		return m, a, err
	}

	m := Fallback(candidates, c)
	if !m.Found {
		return Match{}, Assignment{}, ErrNoCandidates
	}
	if err := s.Capacity.ForceAcquire(ctx, m.Specialist.ID); err != nil {
		return Match{}, Assignment{}, err
	}
	a, err := s.record(ctx, c, m, "")
	if err != nil {
		_ = s.Capacity.Release(ctx, m.Specialist.ID)
	}
	return m, a, err
}

// pinned applies an active pin if its specialist is among the candidates.
// The pin bypasses the capacity limit but still counts against it.
func (s *Service) pinned(ctx context.Context, c customer.Customer, candidates []Specialist) (Match, string, bool, error) {
	if s.Pins == nil {
		return Match{}, "", false, nil
	}
	p, ok, err := s.Pins.ActivePin(ctx, c.ID, s.now())
	if err != nil || !ok {
		return Match{}, "", false, err
	}
	for _, sp := range candidates {
		if sp.ID != p.SpecialistID {
			continue
		}
		if err := s.Capacity.ForceAcquire(ctx, sp.ID); err != nil {
			return Match{}, "", false, err
		}
		return Match{Specialist: sp, Score: Score(sp, c), Found: true}, p.ID, true, nil
	}
	s.Log.Warn("pinned specialist not in candidate set, ignoring pin", "customer_id", c.ID, "specialist_id", p.SpecialistID)
	return Match{}, "", false, nil
}

func (s *Service) record(ctx context.Context, c customer.Customer, m Match, pinID string) (Assignment, error) {
	a := Assignment{
		ID:           uuid.NewString(),
		SpecialistID: m.Specialist.ID,
		CustomerID:   c.ID,
		Status:       AssignmentActive,
		Score:        m.Score,
		Fallback:     m.Fallback,
		AssignedAt:   s.now(),
	}
	if err := s.Repo.CreateAssignment(ctx, a); err != nil {
		return Assignment{}, err
	}
	if s.Hooks != nil {
		if err := s.Hooks.Assigned(ctx, a, pinID); err != nil {
			s.Log.Warn("assignment audit failed", "assignment_id", a.ID, "err", err)
		}
	}
	return a, nil
}

// Unassign ends an assignment and frees its capacity slot. Ending an inactive
// assignment is a no-op and releases nothing.
func (s *Service) Unassign(ctx context.Context, assignmentID string) (Assignment, bool, error) {
	var before Assignment
	now := s.now()
	a, changed, err := s.Repo.UpdateAssignment(ctx, assignmentID, func(cur Assignment) (Assignment, bool) {
		before = cur
		if cur.Status != AssignmentActive {
			return cur, false
		}
		cur.Status = AssignmentInactive
		cur.EndedAt = &now
		return cur, true
	})
	if err != nil || !changed {
		return a, false, err
	}
	if err := s.Capacity.Release(ctx, a.SpecialistID); err != nil {
		return a, true, err
	}
	if s.Hooks != nil {
		if err := s.Hooks.Unassigned(ctx, before, a); err != nil {
			s.Log.Warn("unassignment audit failed", "assignment_id", a.ID, "err", err)
		}
	}
	return a, true, nil
}

// RecordInteraction bumps the interaction counters of an active assignment.
func (s *Service) RecordInteraction(ctx context.Context, assignmentID string) (Assignment, error) {
	now := s.now()
	a, _, err := s.Repo.UpdateAssignment(ctx, assignmentID, func(cur Assignment) (Assignment, bool) {
		if cur.Status != AssignmentActive {
			return cur, false
		}
		cur.Interactions++
		cur.LastInteractionAt = &now
		return cur, true
	})
	return a, err
}
