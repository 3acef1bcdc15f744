package memory

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/geocoder89/trajethub/internal/domain/trajet"
	"github.com/google/uuid"
)

type TrajetsRepo struct {
	mu    sync.RWMutex
	items map[string]trajet.Trajet
}

func NewTrajetsRepo() *TrajetsRepo {
	return &TrajetsRepo{
		items: make(map[string]trajet.Trajet),
	}
}

func (r *TrajetsRepo) Create(ctx context.Context, t trajet.Trajet) (trajet.Trajet, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	r.mu.Lock()
	r.items[t.ID] = cloneTrajet(t)
	r.mu.Unlock()

	return cloneTrajet(t), nil
}

func (r *TrajetsRepo) GetByID(ctx context.Context, id string) (trajet.Trajet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.items[id]
	if !ok {
		return trajet.Trajet{}, trajet.ErrNotFound
	}
	return cloneTrajet(t), nil
}

func (r *TrajetsRepo) Update(ctx context.Context, t trajet.Trajet) (trajet.Trajet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.items[t.ID]
	if !ok {
		return trajet.Trajet{}, trajet.ErrNotFound
	}

	t.CreatedAt = existing.CreatedAt
	r.items[t.ID] = cloneTrajet(t)
	return cloneTrajet(t), nil
}

func (r *TrajetsRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return trajet.ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *TrajetsRepo) Find(ctx context.Context, f trajet.ListFilter) ([]trajet.Trajet, error) {
	r.mu.RLock()
	out := make([]trajet.Trajet, 0)
	for _, t := range r.items {
		if f.Matches(t) && f.After(t) {
			out = append(out, cloneTrajet(t))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return trajet.Less(out[i], out[j]) })

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func cloneTrajet(t trajet.Trajet) trajet.Trajet {
	if t.Attributes != nil {
		t.Attributes = maps.Clone(t.Attributes)
	}
	if t.DriverID != nil {
		d := *t.DriverID
		t.DriverID = &d
	}
	return t
}
