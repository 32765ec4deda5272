package specialist

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrNotFound     = errors.New("specialist: not found")
	ErrNoCandidates = errors.New("specialist: no candidates")
)

// Repository is the specialist directory plus the assignment log.
type Repository interface {
	SaveSpecialist(ctx context.Context, s Specialist) error
	Specialists(ctx context.Context) ([]Specialist, error)

	CreateAssignment(ctx context.Context, a Assignment) error
	Assignment(ctx context.Context, id string) (Assignment, error)
	// ActiveAssignment returns the customer's active assignment, ErrNotFound if none.
	ActiveAssignment(ctx context.Context, customerID string) (Assignment, error)
	UpdateAssignment(ctx context.Context, id string, fn func(Assignment) (Assignment, bool)) (Assignment, bool, error)
}

// MemoryRepo keeps specialists in declaration order; BestMatch breaks ties on it.
type MemoryRepo struct {
	mu          sync.Mutex
	order       []string
	specialists map[string]Specialist
	assignments map[string]Assignment
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{specialists: map[string]Specialist{}, assignments: map[string]Assignment{}}
}

func (r *MemoryRepo) SaveSpecialist(ctx context.Context, s Specialist) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.specialists[s.ID]; !ok {
		r.order = append(r.order, s.ID)
	}
	r.specialists[s.ID] = s
	return nil
}

func (r *MemoryRepo) Specialists(ctx context.Context) ([]Specialist, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Specialist, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.specialists[id])
	}
	return out, nil
}

func (r *MemoryRepo) CreateAssignment(ctx context.Context, a Assignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments[a.ID] = a
	return nil
}

func (r *MemoryRepo) Assignment(ctx context.Context, id string) (Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assignments[id]
	if !ok {
		return Assignment{}, ErrNotFound
	}
	return a, nil
}

func (r *MemoryRepo) ActiveAssignment(ctx context.Context, customerID string) (Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.assignments {
		if a.CustomerID == customerID && a.Status == AssignmentActive {
			return a, nil
		}
	}
	return Assignment{}, ErrNotFound
}

func (r *MemoryRepo) UpdateAssignment(ctx context.Context, id string, fn func(Assignment) (Assignment, bool)) (Assignment, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assignments[id]
	if !ok {
		return Assignment{}, false, ErrNotFound
	}
	next, changed := fn(a)
	if changed {
		r.assignments[id] = next
	}
	return next, changed, nil
}
