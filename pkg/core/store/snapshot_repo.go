package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"fact_reconciler/pkg/core/errs"
	"fact_reconciler/pkg/core/identity"
	"fact_reconciler/pkg/core/pipeline"
)

// SnapshotRepo persists reconciled snapshots keyed by market, code and
// period. Hybrid: DB primary when a pool is configured, JSON files under
// fileDir as the local fallback. Satisfies pipeline.SnapshotStore.
type SnapshotRepo struct {
	pool    *pgxpool.Pool
	fileDir string
}

// NewSnapshotRepo creates a snapshot repo. A nil pool switches to file mode;
// an empty dir with a nil pool defaults to .cache/fact_reconciler/snapshots.
func NewSnapshotRepo(pool *pgxpool.Pool, dir string) *SnapshotRepo {
	if pool == nil && dir == "" {
		dir = filepath.Join(".cache", "fact_reconciler", "snapshots")
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			fmt.Printf("[WARNING] snapshot dir: %v\n", err)
		}
	}
	return &SnapshotRepo{pool: pool, fileDir: dir}
}

// EnsureSchema creates the snapshots table when missing. No-op in file mode.
func (r *SnapshotRepo) EnsureSchema(ctx context.Context) error {
	if r.pool == nil {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS snapshots (
			market       TEXT NOT NULL,
			code         TEXT NOT NULL,
			period_label TEXT NOT NULL,
			data         JSONB NOT NULL,
			fetched_at   TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (market, code, period_label)
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure snapshots schema: %w", err)
	}
	return nil
}

// Save upserts one snapshot under its market+code+period key. When both a
// pool and a file dir are configured the file copy is written as well.
func (r *SnapshotRepo) Save(ctx context.Context, snap *pipeline.FinancialSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if r.pool != nil {
		query := `
			INSERT INTO snapshots (market, code, period_label, data, fetched_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (market, code, period_label)
			DO UPDATE SET data = EXCLUDED.data, fetched_at = EXCLUDED.fetched_at
		`
		_, err := r.pool.Exec(ctx, query,
			string(snap.Identity.Market), snap.Identity.PrimaryCode, snap.PeriodLabel,
			data, snap.FetchedAt)
		if err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
	}

	if r.fileDir != "" {
		path := r.snapshotPath(snap.Identity.Market, snap.Identity.PrimaryCode, snap.PeriodLabel)
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("save snapshot file: %w", err)
		}
	}
	return nil
}

// Latest returns the newest stored snapshot for market+code across all
// periods, errs.ErrNotFound when nothing is stored.
func (r *SnapshotRepo) Latest(ctx context.Context, market identity.Market, code string) (*pipeline.FinancialSnapshot, error) {
	if r.pool != nil {
		query := `
			SELECT data FROM snapshots
			WHERE market = $1 AND code = $2
			ORDER BY fetched_at DESC
			LIMIT 1
		`
		var data []byte
		if err := r.pool.QueryRow(ctx, query, string(market), code).Scan(&data); err != nil {
			return nil, fmt.Errorf("no stored snapshot for %s %s: %w", market, code, errs.ErrNotFound)
		}
		var snap pipeline.FinancialSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("decode stored snapshot: %w", err)
		}
		return &snap, nil
	}

	if r.fileDir == "" {
		return nil, errs.ErrNotFound
	}
	names, err := filepath.Glob(filepath.Join(r.fileDir, fileKey(market, code)+"_*.json"))
	if err != nil || len(names) == 0 {
		return nil, fmt.Errorf("no stored snapshot for %s %s: %w", market, code, errs.ErrNotFound)
	}

	var best *pipeline.FinancialSnapshot
	for _, name := range names {
		data, err := os.ReadFile(name)
		if err != nil {
			continue
		}
		var snap pipeline.FinancialSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			continue
		}
		if best == nil || snap.FetchedAt.After(best.FetchedAt) {
			s := snap
			best = &s
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no stored snapshot for %s %s: %w", market, code, errs.ErrNotFound)
	}
	return best, nil
}

func (r *SnapshotRepo) snapshotPath(market identity.Market, code, periodLabel string) string {
	return filepath.Join(r.fileDir, fileKey(market, code)+"_"+sanitize(periodLabel)+".json")
}

func fileKey(market identity.Market, code string) string {
	return fmt.Sprintf("%s_%s", market, sanitize(code))
}

// sanitize keeps period labels and codes path-safe.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "/", "-")
	return s
}
