package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	fq "github.com/gofhir/quality"
	"github.com/gofhir/quality/rules"
	"github.com/gofhir/quality/service"
	"github.com/gofhir/quality/settings"
)

func TestMemorySettingsActivation(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		s := settings.Default()
		s.ID = id
		if err := store.SaveSettings(ctx, s); err != nil {
			t.Fatalf("SaveSettings(%s): %v", id, err)
		}
	}

	if _, err := store.ActiveSettings(ctx); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("ActiveSettings on empty activation = %v, want ErrNotFound", err)
	}

	if err := store.ActivateSettings(ctx, "b"); err != nil {
		t.Fatalf("ActivateSettings(b): %v", err)
	}
	if err := store.ActivateSettings(ctx, "c"); err != nil {
		t.Fatalf("ActivateSettings(c): %v", err)
	}

	active, err := store.ActiveSettings(ctx)
	if err != nil {
		t.Fatalf("ActiveSettings: %v", err)
	}
	if active.ID != "c" {
		t.Errorf("active = %s, want c", active.ID)
	}

	all, err := store.ListSettings(ctx)
	if err != nil {
		t.Fatalf("ListSettings: %v", err)
	}
	activeCount := 0
	for _, s := range all {
		if s.Active {
			activeCount++
		}
	}
	if activeCount != 1 {
		t.Errorf("active records = %d, want 1", activeCount)
	}

	if err := store.ActivateSettings(ctx, "missing"); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("ActivateSettings(missing) = %v, want ErrNotFound", err)
	}
}

func TestMemorySettingsCopySemantics(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	s := settings.Default()
	s.ID = "s1"
	s.BatchSize = 1000
	if err := store.SaveSettings(ctx, s); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	// Mutating the caller's record must not leak into the store.
	s.BatchSize = 1

	got, err := store.GetSettings(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if got.BatchSize != 1000 {
		t.Errorf("BatchSize = %d, want 1000", got.BatchSize)
	}

	got.BatchSize = 2
	again, err := store.GetSettings(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if again.BatchSize != 1000 {
		t.Errorf("BatchSize after mutating a copy = %d, want 1000", again.BatchSize)
	}
}

func TestMemoryDeleteSettings(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	s := settings.Default()
	s.ID = "s1"
	if err := store.SaveSettings(ctx, s); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	if err := store.ActivateSettings(ctx, "s1"); err != nil {
		t.Fatalf("ActivateSettings: %v", err)
	}
	if err := store.DeleteSettings(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSettings: %v", err)
	}
	if _, err := store.ActiveSettings(ctx); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("ActiveSettings after delete = %v, want ErrNotFound", err)
	}
	if err := store.DeleteSettings(ctx, "s1"); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestMemoryRuleHistory(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	rule := &rules.Rule{ID: "r1", Name: "birth date present", Version: "1.0.0"}
	if err := store.SaveRule(ctx, rule); err != nil {
		t.Fatalf("SaveRule: %v", err)
	}

	for i, version := range []string{"1.0.0", "1.1.0", "1.2.0"} {
		rec := rules.VersionRecord{
			RuleID:    "r1",
			Version:   version,
			ChangedAt: time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC),
		}
		if err := store.AppendVersion(ctx, rec); err != nil {
			t.Fatalf("AppendVersion(%s): %v", version, err)
		}
	}

	history, err := store.VersionHistory(ctx, "r1")
	if err != nil {
		t.Fatalf("VersionHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	if history[0].Version != "1.0.0" || history[2].Version != "1.2.0" {
		t.Errorf("history not in append order: %s .. %s", history[0].Version, history[2].Version)
	}

	if _, err := store.GetRule(ctx, "missing"); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("GetRule(missing) = %v, want ErrNotFound", err)
	}
}

func TestMemoryResources(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	patient := map[string]any{"resourceType": "Patient", "id": "p1"}
	if err := store.PutResource(ctx, "Patient", "p1", patient); err != nil {
		t.Fatalf("PutResource: %v", err)
	}

	got, err := store.FindResource(ctx, "Patient", "p1")
	if err != nil {
		t.Fatalf("FindResource: %v", err)
	}
	if got["id"] != "p1" {
		t.Errorf("id = %v, want p1", got["id"])
	}

	if _, err := store.FindResource(ctx, "Patient", "p2"); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("FindResource(p2) = %v, want ErrNotFound", err)
	}

	if err := store.DeleteResource(ctx, "Patient", "p1"); err != nil {
		t.Fatalf("DeleteResource: %v", err)
	}
	if _, err := store.FindResource(ctx, "Patient", "p1"); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("FindResource after delete = %v, want ErrNotFound", err)
	}
}

func TestMemoryResultAppendSemantics(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	for i, score := range []int{40, 80, 95} {
		result := fq.NewResult("Patient", "p1")
		result.Score = score
		rec := ResultRecord{
			ResourceType: "Patient",
			ResourceID:   "p1",
			Hash:         uint64(i + 1),
			Result:       result,
			StoredAt:     base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.SaveResult(ctx, rec); err != nil {
			t.Fatalf("SaveResult(%d): %v", i, err)
		}
	}

	latest, err := store.LatestResult(ctx, "Patient", "p1")
	if err != nil {
		t.Fatalf("LatestResult: %v", err)
	}
	if latest.Result.Score != 95 {
		t.Errorf("latest score = %v, want 95", latest.Result.Score)
	}
	if latest.Hash != 3 {
		t.Errorf("latest hash = %d, want 3", latest.Hash)
	}

	history, err := store.ResultHistory(ctx, "Patient", "p1")
	if err != nil {
		t.Fatalf("ResultHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	if history[0].Result.Score != 95 || history[2].Result.Score != 40 {
		t.Errorf("history not newest first: %v .. %v", history[0].Result.Score, history[2].Result.Score)
	}

	if _, err := store.LatestResult(ctx, "Patient", "p9"); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("LatestResult(p9) = %v, want ErrNotFound", err)
	}
}

func TestMemorySaveResultStampsTime(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	rec := ResultRecord{ResourceType: "Patient", ResourceID: "p1", Result: fq.NewResult("Patient", "p1")}
	if err := store.SaveResult(ctx, rec); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	latest, err := store.LatestResult(ctx, "Patient", "p1")
	if err != nil {
		t.Fatalf("LatestResult: %v", err)
	}
	if latest.StoredAt.IsZero() {
		t.Error("StoredAt not stamped")
	}
}
