package service

import (
	"context"
	"errors"
	"testing"

	"autopilot/internal/models"
	"autopilot/internal/repository"
	"autopilot/internal/repository/memory"
)

func TestSeedSystemDefaultsIsIdempotent(t *testing.T) {
	repo := memory.New()
	svc := NewBlindSpots(repo, nil)
	ctx := context.Background()

	if err := svc.SeedSystemDefaults(ctx, "u1"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := svc.SeedSystemDefaults(ctx, "u1"); err != nil {
		t.Fatalf("reseed: %v", err)
	}

	uid := "u1"
	items, _ := repo.ListBlindSpots(ctx, repository.ListBlindSpotsParams{UserID: &uid})
	if len(items) != 2 {
		t.Fatalf("expected 2 system entries, got %d", len(items))
	}
	for _, b := range items {
		if !b.GuardRailed || b.Source != models.BlindSpotSystem || !b.Active {
			t.Fatalf("unexpected seeded entry %+v", b)
		}
	}
}

func TestGuardRailedBlindSpotCannotBeDeleted(t *testing.T) {
	repo := memory.New()
	svc := NewBlindSpots(repo, nil)
	ctx := context.Background()

	if err := svc.SeedSystemDefaults(ctx, "u1"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	uid := "u1"
	items, _ := repo.ListBlindSpots(ctx, repository.ListBlindSpotsParams{UserID: &uid})

	// The owning user cannot delete a guard-railed entry.
	if err := svc.Delete(ctx, "u1", items[0].ID); !errors.Is(err, ErrGuardRailed) {
		t.Fatalf("expected ErrGuardRailed, got %v", err)
	}

	// The repository predicate is the backstop even when the service-level
	// check is bypassed.
	deleted, err := repo.DeleteBlindSpot(ctx, items[0].ID)
	if err != nil || deleted {
		t.Fatalf("repository must refuse guard-railed delete, got deleted=%v err=%v", deleted, err)
	}
}

func TestUserBlindSpotLifecycle(t *testing.T) {
	repo := memory.New()
	svc := NewBlindSpots(repo, nil)
	ctx := context.Background()

	item, err := svc.Create(ctx, "u1", "fomo_entries", models.BlindSpotBehavioral)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if item.GuardRailed || item.Source != models.BlindSpotUser {
		t.Fatalf("user entries must not be guard-railed: %+v", item)
	}

	got, err := svc.SetActive(ctx, "u1", item.ID, false)
	if err != nil || got.Active {
		t.Fatalf("deactivate: %v %+v", err, got)
	}

	if err := svc.Delete(ctx, "u1", item.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.Delete(ctx, "u1", item.ID); !errors.Is(err, ErrBlindSpotNotFound) {
		t.Fatalf("expected NotFound after delete, got %v", err)
	}
}

func TestBlindSpotOwnershipIsEnforced(t *testing.T) {
	repo := memory.New()
	svc := NewBlindSpots(repo, nil)
	ctx := context.Background()

	item, err := svc.Create(ctx, "u1", "late_session_adds", models.BlindSpotCustom)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Delete(ctx, "u2", item.ID); !errors.Is(err, ErrBlindSpotNotFound) {
		t.Fatalf("foreign owner must see NotFound, got %v", err)
	}
	if _, err := svc.SetActive(ctx, "u2", item.ID, false); !errors.Is(err, ErrBlindSpotNotFound) {
		t.Fatalf("foreign owner must see NotFound, got %v", err)
	}
}
