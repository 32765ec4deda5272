package objection

import (
	"context"
	"sync"
)

// MemoryRepo keeps handlers in declaration order, which FindMatch uses as its tie-break.
type MemoryRepo struct {
	mu         sync.Mutex
	order      []string
	handlers   map[string]Handler
	encounters []Encounter
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{handlers: map[string]Handler{}}
}

func (r *MemoryRepo) SaveHandler(ctx context.Context, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[h.ID]; !ok {
		r.order = append(r.order, h.ID)
	}
	r.handlers[h.ID] = h
	return nil
}

func (r *MemoryRepo) Handlers(ctx context.Context) ([]Handler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Handler, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.handlers[id])
	}
	return out, nil
}

func (r *MemoryRepo) UpdateHandler(ctx context.Context, id string, fn func(Handler) Handler) (Handler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[id]
	if !ok {
		return Handler{}, ErrNotFound
	}
	h = fn(h)
	r.handlers[id] = h
	return h, nil
}

func (r *MemoryRepo) AppendEncounter(ctx context.Context, e Encounter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encounters = append(r.encounters, e)
	return nil
}

func (r *MemoryRepo) Encounters(ctx context.Context, handlerID string) ([]Encounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Encounter
	for _, e := range r.encounters {
		if handlerID == "" || e.HandlerID == handlerID {
			out = append(out, e)
		}
	}
	return out, nil
}
