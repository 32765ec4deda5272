package timeline

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu        sync.Mutex
	timelines map[string]Timeline
	progress  map[string]Progress
	byPair    map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		timelines: map[string]Timeline{},
		progress:  map[string]Progress{},
		byPair:    map[string]string{},
	}
}

func pairKey(customerID, timelineID string) string { return customerID + "|" + timelineID }

func (r *MemoryRepo) SaveTimeline(ctx context.Context, t Timeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.Active {
		for id, other := range r.timelines {
			if id != t.ID && other.Active && other.PipelineStage == t.PipelineStage {
				return ErrStageTaken
			}
		}
	}
	t.Actions = append([]Action(nil), t.Actions...)
	for i := range t.Actions {
		t.Actions[i].TimelineID = t.ID
	}
	r.timelines[t.ID] = t
	return nil
}

func (r *MemoryRepo) Timeline(ctx context.Context, id string) (Timeline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.timelines[id]
	if !ok {
		return Timeline{}, ErrNotFound
	}
	return t, nil
}

func (r *MemoryRepo) ActiveTimelineForStage(ctx context.Context, stage string) (Timeline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.timelines {
		if t.Active && t.PipelineStage == stage {
			return t, nil
		}
	}
	return Timeline{}, ErrNotFound
}

func (r *MemoryRepo) CreateProgress(ctx context.Context, p Progress) (Progress, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := pairKey(p.CustomerID, p.TimelineID)
	if id, ok := r.byPair[key]; ok {
		return r.progress[id].clone(), false, nil
	}
	r.progress[p.ID] = p.clone()
	r.byPair[key] = p.ID
	return p, true, nil
}

func (r *MemoryRepo) Progress(ctx context.Context, id string) (Progress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.progress[id]
	if !ok {
		return Progress{}, ErrNotFound
	}
	return p.clone(), nil
}

func (r *MemoryRepo) ListProgress(ctx context.Context, f ProgressFilter) ([]Progress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Progress
	for _, p := range r.progress {
		if f.match(p) {
			out = append(out, p.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryRepo) UpdateProgress(ctx context.Context, id string, fn UpdateFunc) (Progress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.progress[id]
	if !ok {
		return Progress{}, ErrNotFound
	}
	next, changed, err := fn(cur.clone())
	if err != nil {
		return Progress{}, err
	}
	if !changed {
		return cur.clone(), nil
	}
	r.progress[id] = next.clone()
	return next, nil
}
