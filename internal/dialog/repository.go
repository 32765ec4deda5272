package dialog

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	ErrNotFound = errors.New("dialog: not found")
	ErrNoTree   = errors.New("dialog: no active tree for trigger")
	// ErrConflict means another writer saved the execution first.
	ErrConflict = errors.New("dialog: execution modified concurrently")
)

// Repository stores trees and executions.
//
// SaveExecution is a compare-and-set: it succeeds only if the stored version equals
// expectedVersion, and stores e (whose Version the caller has already bumped).
type Repository interface {
	SaveTree(ctx context.Context, t Tree) error
	Tree(ctx context.Context, id string) (Tree, error)
	Trees(ctx context.Context) ([]Tree, error)

	CreateExecution(ctx context.Context, e Execution) error
	Execution(ctx context.Context, id string) (Execution, error)
	// ActiveExecution returns the customer's most recent in-progress execution.
	ActiveExecution(ctx context.Context, customerID string) (Execution, error)
	SaveExecution(ctx context.Context, e Execution, expectedVersion int) error
}

type MemoryRepo struct {
	mu         sync.Mutex
	treeOrder  []string
	trees      map[string]Tree
	executions map[string]Execution
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{trees: map[string]Tree{}, executions: map[string]Execution{}}
}

func (r *MemoryRepo) SaveTree(ctx context.Context, t Tree) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.trees[t.ID]; !ok {
		r.treeOrder = append(r.treeOrder, t.ID)
	}
	r.trees[t.ID] = t
	return nil
}

func (r *MemoryRepo) Tree(ctx context.Context, id string) (Tree, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trees[id]
	if !ok {
		return Tree{}, ErrNotFound
	}
	return t, nil
}

func (r *MemoryRepo) Trees(ctx context.Context) ([]Tree, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Tree, 0, len(r.treeOrder))
	for _, id := range r.treeOrder {
		out = append(out, r.trees[id])
	}
	return out, nil
}

func (r *MemoryRepo) CreateExecution(ctx context.Context, e Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.executions[e.ID]; ok {
		return ErrConflict
	}
	r.executions[e.ID] = e.clone()
	return nil
}

func (r *MemoryRepo) Execution(ctx context.Context, id string) (Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.executions[id]
	if !ok {
		return Execution{}, ErrNotFound
	}
	return e.clone(), nil
}

func (r *MemoryRepo) ActiveExecution(ctx context.Context, customerID string) (Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var open []Execution
	for _, e := range r.executions {
		if e.CustomerID == customerID && e.Open() {
			open = append(open, e)
		}
	}
	if len(open) == 0 {
		return Execution{}, ErrNotFound
	}
	sort.Slice(open, func(i, j int) bool { return open[i].StartedAt.After(open[j].StartedAt) })
	return open[0].clone(), nil
}

func (r *MemoryRepo) SaveExecution(ctx context.Context, e Execution, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.executions[e.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrConflict
	}
	r.executions[e.ID] = e.clone()
	return nil
}
