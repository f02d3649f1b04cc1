package repository

import (
	"context"
	"fmt"
	"testing"

	"sitekeeper/internal/audit/domain"
)

func TestMemoryRepository_ListNewestFirstFilteredPaged(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	for i := 0; i < 5; i++ {
		user := "u1"
		if i%2 == 1 {
			user = "u2"
		}
		if err := repo.Create(ctx, &domain.AuditLog{ID: fmt.Sprint(i), UserID: user, Action: domain.ActionLogin}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	all, _ := repo.List(ctx, domain.Filter{}, 10, 0)
	if len(all) != 5 || all[0].ID != "4" {
		t.Fatalf("List = %d entries, first %q", len(all), all[0].ID)
	}
	u1, _ := repo.List(ctx, domain.Filter{UserID: "u1"}, 10, 0)
	if len(u1) != 3 {
		t.Errorf("u1 entries = %d, want 3", len(u1))
	}
	page, _ := repo.List(ctx, domain.Filter{UserID: "u1"}, 1, 1)
	if len(page) != 1 || page[0].ID != "2" {
		t.Errorf("page = %+v, want entry 2", page)
	}
	none, _ := repo.List(ctx, domain.Filter{Action: domain.ActionLogout}, 10, 0)
	if none == nil || len(none) != 0 {
		t.Errorf("no match should be an empty slice, got %v", none)
	}
}
