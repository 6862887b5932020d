package completion

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo indexes completions by patient so the duplicate check and the
// insert happen under one lock.
type MemoryRepo struct {
	mu        sync.RWMutex
	nextID    int64
	byPatient map[int64]Completion
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byPatient: make(map[int64]Completion)}
}

func (r *MemoryRepo) Create(_ context.Context, c *Completion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byPatient[c.PatientID]; exists {
		return ErrAlreadyCompleted
	}
	r.nextID++
	c.ID = r.nextID
	c.CompletedAt = time.Now().UTC()
	r.byPatient[c.PatientID] = *c
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id int64) (*Completion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.byPatient {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepo) GetByPatientID(_ context.Context, patientID int64) (*Completion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byPatient[patientID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *MemoryRepo) List(_ context.Context) ([]*Completion, error) {
	r.mu.RLock()
	items := make([]*Completion, 0, len(r.byPatient))
	for _, c := range r.byPatient {
		c := c
		items = append(items, &c)
	}
	r.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].CompletedAt.Equal(items[j].CompletedAt) {
			return items[i].CompletedAt.After(items[j].CompletedAt)
		}
		return items[i].ID > items[j].ID
	})
	return items, nil
}

func (r *MemoryRepo) MarkConfirmationSent(_ context.Context, patientID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byPatient[patientID]; ok {
		c.ConfirmationSent = true
		r.byPatient[patientID] = c
	}
	return nil
}
