package patient

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo keeps patients in a map. Used by tests and STORE_DRIVER=memory.
type MemoryRepo struct {
	mu     sync.RWMutex
	nextID int64
	items  map[int64]Patient

	// now is overridable so tests can place patients on specific days.
	now func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{items: make(map[int64]Patient), now: time.Now}
}

// SetClock replaces the creation timestamp source.
func (r *MemoryRepo) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

func (r *MemoryRepo) Create(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	p.ID = r.nextID
	p.CreatedAt = r.now().UTC()
	p.UpdatedAt = p.CreatedAt
	r.items[p.ID] = *p
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id int64) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *MemoryRepo) List(_ context.Context) ([]*Patient, error) {
	r.mu.RLock()
	items := make([]*Patient, 0, len(r.items))
	for _, p := range r.items {
		p := p
		items = append(items, &p)
	}
	r.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
	return items, nil
}
