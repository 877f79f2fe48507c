package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"fact_reconciler/pkg/core/errs"
	"fact_reconciler/pkg/core/identity"
	"fact_reconciler/pkg/core/pipeline"
)

var _ pipeline.SnapshotStore = (*SnapshotRepo)(nil)

func i64(v int64) *int64 { return &v }

func krSnap(code, periodLabel string, revenue int64, fetchedAt time.Time) *pipeline.FinancialSnapshot {
	return &pipeline.FinancialSnapshot{
		Identity: identity.CompanyIdentity{
			Market:      identity.MarketKR,
			PrimaryCode: code,
			DisplayName: "회사" + code,
		},
		PeriodLabel: periodLabel,
		Revenue:     i64(revenue),
		FetchedAt:   fetchedAt,
	}
}

func TestSnapshotRepoSaveAndLatest(t *testing.T) {
	dir := t.TempDir()
	repo := NewSnapshotRepo(nil, dir)
	ctx := context.Background()

	t0 := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	if err := repo.Save(ctx, krSnap("005930", "FY2023 Annual", 100, t0)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := repo.Save(ctx, krSnap("005930", "FY2024 Q1", 120, t0.Add(time.Hour))); err != nil {
		t.Fatalf("Save: %v", err)
	}

	snap, err := repo.Latest(ctx, identity.MarketKR, "005930")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if snap.PeriodLabel != "FY2024 Q1" {
		t.Errorf("PeriodLabel = %q, want the newest period", snap.PeriodLabel)
	}
	if snap.Revenue == nil || *snap.Revenue != 120 {
		t.Errorf("Revenue = %v, want 120", snap.Revenue)
	}

	// Re-saving the same period replaces it instead of adding a file.
	if err := repo.Save(ctx, krSnap("005930", "FY2024 Q1", 130, t0.Add(2*time.Hour))); err != nil {
		t.Fatalf("Save upsert: %v", err)
	}
	snap, err = repo.Latest(ctx, identity.MarketKR, "005930")
	if err != nil {
		t.Fatalf("Latest after upsert: %v", err)
	}
	if snap.Revenue == nil || *snap.Revenue != 130 {
		t.Errorf("Revenue = %v, want the upserted 130", snap.Revenue)
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(files) != 2 {
		t.Errorf("%d files on disk, want 2 (one per period)", len(files))
	}
}

func TestSnapshotRepoLatestMiss(t *testing.T) {
	repo := NewSnapshotRepo(nil, t.TempDir())
	_, err := repo.Latest(context.Background(), identity.MarketKR, "005930")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestSnapshotRepoKeysAreDisjoint(t *testing.T) {
	dir := t.TempDir()
	repo := NewSnapshotRepo(nil, dir)
	ctx := context.Background()

	now := time.Now()
	if err := repo.Save(ctx, krSnap("005930", "FY2023 Annual", 100, now)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := repo.Save(ctx, krSnap("035720", "FY2023 Annual", 200, now.Add(time.Hour))); err != nil {
		t.Fatalf("Save: %v", err)
	}

	snap, err := repo.Latest(ctx, identity.MarketKR, "005930")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if snap.Identity.PrimaryCode != "005930" || *snap.Revenue != 100 {
		t.Errorf("got %s/%v, want 005930/100", snap.Identity.PrimaryCode, snap.Revenue)
	}

	if _, err := repo.Latest(ctx, identity.MarketUS, "005930"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("cross-market read = %v, want ErrNotFound", err)
	}
}
