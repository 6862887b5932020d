package clinical

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryRepo struct {
	mu     sync.RWMutex
	nextID int64
	items  map[int64]ClinicalForm
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{items: make(map[int64]ClinicalForm)}
}

func (r *MemoryRepo) Create(_ context.Context, f *ClinicalForm) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	f.ID = r.nextID
	f.CreatedAt = time.Now().UTC()
	r.items[f.ID] = *f
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id int64) (*ClinicalForm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (r *MemoryRepo) GetByPatientID(ctx context.Context, patientID int64) (*ClinicalForm, error) {
	items, _ := r.List(ctx)
	for _, f := range items {
		if f.PatientID == patientID {
			return f, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepo) List(_ context.Context) ([]*ClinicalForm, error) {
	r.mu.RLock()
	items := make([]*ClinicalForm, 0, len(r.items))
	for _, f := range r.items {
		f := f
		items = append(items, &f)
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

func (r *MemoryRepo) Update(_ context.Context, f *ClinicalForm) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.items[f.ID]
	if !ok {
		return nil
	}
	updated := *f
	updated.PatientID = existing.PatientID
	updated.CreatedAt = existing.CreatedAt
	r.items[f.ID] = updated
	return nil
}

func (r *MemoryRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	delete(r.items, id)
	r.mu.Unlock()
	return nil
}
