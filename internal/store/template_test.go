package store

import (
	"context"
	"testing"
)

func TestTemplateRepository_CRUD(t *testing.T) {
	s := newTestStore(t)
	repo := s.Templates()
	ctx := context.Background()

	tpl := &Template{
		Label:  "A",
		Frames: [][]float64{{0.1, 0.2, 0.3}, {0.4, 0.5, 0.6}},
	}
	if err := repo.Create(ctx, tpl); err != nil {
		t.Fatalf("failed to create template: %v", err)
	}
	if tpl.ID == "" {
		t.Fatal("ID should be assigned on create")
	}

	got, err := repo.GetByID(ctx, tpl.ID)
	if err != nil {
		t.Fatalf("failed to get template: %v", err)
	}
	if got.Label != "A" || len(got.Frames) != 2 || got.Frames[1][2] != 0.6 {
		t.Errorf("template did not round trip: %+v", got)
	}

	if err := repo.Create(ctx, &Template{Label: "B", Frames: [][]float64{{1}}}); err != nil {
		t.Fatalf("failed to create second template: %v", err)
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("failed to list templates: %v", err)
	}
	if len(list) != 2 || list[0].Label != "A" || list[1].Label != "B" {
		t.Errorf("expected templates ordered by label, got %d", len(list))
	}

	counts, err := repo.CountByLabel(ctx)
	if err != nil {
		t.Fatalf("failed to count templates: %v", err)
	}
	if counts["A"] != 1 || counts["B"] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}

	if err := repo.Delete(ctx, tpl.ID); err != nil {
		t.Fatalf("failed to delete template: %v", err)
	}
	if _, err := repo.GetByID(ctx, tpl.ID); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := repo.Delete(ctx, tpl.ID); err != ErrNotFound {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestTemplateRepository_Validation(t *testing.T) {
	s := newTestStore(t)
	repo := s.Templates()
	ctx := context.Background()

	if err := repo.Create(ctx, &Template{Frames: [][]float64{{1}}}); err == nil {
		t.Error("expected error for missing label")
	}
	if err := repo.Create(ctx, &Template{Label: "A"}); err == nil {
		t.Error("expected error for missing frames")
	}
}
