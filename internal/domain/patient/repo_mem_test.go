package patient

import (
	"context"
	"testing"
	"time"
)

func TestMemoryRepo_ListNewestFirst(t *testing.T) {
	repo := NewMemoryRepo()
	day := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	repo.SetClock(func() time.Time { return day })

	ctx := context.Background()
	for _, name := range []string{"Ann", "Bob", "Cy"} {
		if err := repo.Create(ctx, &Patient{FirstName: name}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	repo.SetClock(func() time.Time { return day.Add(-time.Hour) })
	_ = repo.Create(ctx, &Patient{FirstName: "Early"})

	items, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := []string{}
	for _, p := range items {
		got = append(got, p.FirstName)
	}
	want := []string{"Cy", "Bob", "Ann", "Early"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestMemoryRepo_GetByIDMissingIsNil(t *testing.T) {
	repo := NewMemoryRepo()
	p, err := repo.GetByID(context.Background(), 7)
	if err != nil || p != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", p, err)
	}
}

func TestMemoryRepo_ReturnsCopies(t *testing.T) {
	repo := NewMemoryRepo()
	p := &Patient{FirstName: "Ann"}
	_ = repo.Create(context.Background(), p)

	got, _ := repo.GetByID(context.Background(), p.ID)
	got.FirstName = "Mutated"

	again, _ := repo.GetByID(context.Background(), p.ID)
	if again.FirstName != "Ann" {
		t.Errorf("expected stored record untouched, got %q", again.FirstName)
	}
}
