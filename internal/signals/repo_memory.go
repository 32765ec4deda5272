package signals

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory signal store for tests and local runs.
type MemoryRepo struct {
	mu      sync.Mutex
	records map[string]map[string]Record
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{records: map[string]map[string]Record{}}
}

func (r *MemoryRepo) Apply(ctx context.Context, ev Event) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byCustomer, ok := r.records[ev.CustomerID]
	if !ok {
		byCustomer = map[string]Record{}
		r.records[ev.CustomerID] = byCustomer
	}
	rec := byCustomer[ev.Signal]
	rec.CustomerID = ev.CustomerID
	rec.Signal = ev.Signal
	rec = rec.merge(ev.OccurredAt)
	byCustomer[ev.Signal] = rec
	return rec, nil
}

func (r *MemoryRepo) List(ctx context.Context, customerID string) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.records[customerID]))
	for _, rec := range r.records[customerID] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Signal < out[j].Signal })
	return out, nil
}
