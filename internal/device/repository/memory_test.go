package repository

import (
	"context"
	"testing"
	"time"

	"sitekeeper/internal/device/domain"
)

func TestMemoryRepository_SaveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := &domain.TrustedDevice{UserID: "u1", Fingerprint: "fp", Name: "Laptop", TrustedAt: now}

	created, err := repo.Save(ctx, d)
	if err != nil || !created {
		t.Fatalf("first Save = %v, %v", created, err)
	}
	created, err = repo.Save(ctx, &domain.TrustedDevice{UserID: "u1", Fingerprint: "fp", Name: "Renamed", TrustedAt: now.Add(time.Hour)})
	if err != nil || created {
		t.Fatalf("second Save = %v, %v, want false", created, err)
	}
	got, _ := repo.Get(ctx, "u1", "fp")
	if got == nil || got.Name != "Laptop" {
		t.Errorf("Get = %+v, want original record", got)
	}
}

func TestMemoryRepository_ScopedPerUser(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	_, _ = repo.Save(ctx, &domain.TrustedDevice{UserID: "u1", Fingerprint: "fp"})
	if d, _ := repo.Get(ctx, "u2", "fp"); d != nil {
		t.Errorf("u2 sees u1's trusted device: %+v", d)
	}
	if ok, _ := repo.Delete(ctx, "u2", "fp"); ok {
		t.Error("u2 deleted u1's trusted device")
	}
	if ok, _ := repo.Delete(ctx, "u1", "fp"); !ok {
		t.Error("Delete(u1) = false, want true")
	}
	if ok, _ := repo.Delete(ctx, "u1", "fp"); ok {
		t.Error("second Delete = true, want false")
	}
}

func TestMemoryRepository_ListAndLastSeen(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, _ = repo.Save(ctx, &domain.TrustedDevice{UserID: "u1", Fingerprint: "old", TrustedAt: base})
	_, _ = repo.Save(ctx, &domain.TrustedDevice{UserID: "u1", Fingerprint: "new", TrustedAt: base.Add(time.Hour)})
	_ = repo.UpdateLastSeen(ctx, "u1", "old", base.Add(2*time.Hour))

	list, err := repo.ListByUser(ctx, "u1")
	if err != nil || len(list) != 2 {
		t.Fatalf("ListByUser = %v, %v", list, err)
	}
	if list[0].Fingerprint != "new" {
		t.Errorf("first = %s, want new", list[0].Fingerprint)
	}
	if list[1].LastSeenAt == nil || !list[1].LastSeenAt.Equal(base.Add(2*time.Hour)) {
		t.Errorf("LastSeenAt = %v", list[1].LastSeenAt)
	}
}
