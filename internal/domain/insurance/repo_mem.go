package insurance

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryRepo struct {
	mu     sync.RWMutex
	nextID int64
	items  map[int64]Insurance
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{items: make(map[int64]Insurance)}
}

func clone(ins Insurance) *Insurance {
	ins.CardImages = append([]string(nil), ins.CardImages...)
	return &ins
}

func (r *MemoryRepo) Create(_ context.Context, ins *Insurance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	ins.ID = r.nextID
	ins.CreatedAt = time.Now().UTC()
	r.items[ins.ID] = *clone(*ins)
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id int64) (*Insurance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ins, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	return clone(ins), nil
}

func (r *MemoryRepo) GetByPatientID(ctx context.Context, patientID int64) (*Insurance, error) {
	items, _ := r.List(ctx)
	for _, ins := range items {
		if ins.PatientID == patientID {
			return ins, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepo) List(_ context.Context) ([]*Insurance, error) {
	r.mu.RLock()
	items := make([]*Insurance, 0, len(r.items))
	for _, ins := range r.items {
		items = append(items, clone(ins))
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

func (r *MemoryRepo) Update(_ context.Context, ins *Insurance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.items[ins.ID]
	if !ok {
		return nil
	}
	updated := *clone(*ins)
	updated.PatientID = existing.PatientID
	updated.CreatedAt = existing.CreatedAt
	r.items[ins.ID] = updated
	return nil
}

func (r *MemoryRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	delete(r.items, id)
	r.mu.Unlock()
	return nil
}
