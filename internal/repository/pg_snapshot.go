package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/geoquest/platform/internal/domain"
	"github.com/jackc/pgx/v5"
)

// PgSnapshotRepository keeps the state as a single JSONB row in engine_snapshots.
type PgSnapshotRepository struct {
	db DBTX
}

// NewPgSnapshotRepository creates a repository over db.
func NewPgSnapshotRepository(db DBTX) *PgSnapshotRepository {
	return &PgSnapshotRepository{db: db}
}

// Load returns the stored state, or an empty state when no row exists.
func (r *PgSnapshotRepository) Load(ctx context.Context) (*domain.State, error) {
	var raw []byte
	err := r.db.QueryRow(ctx,
		`SELECT state FROM engine_snapshots WHERE id = 1`).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EmptyState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var st domain.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("%w: engine_snapshots: %v", domain.ErrCorruptState, err)
	}
	return normalize(&st), nil
}

// Save upserts the single snapshot row.
func (r *PgSnapshotRepository) Save(ctx context.Context, st *domain.State) error {
	data, err := json.Marshal(normalize(st))
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO engine_snapshots (id, state, saved_at)
		 VALUES (1, $1, now())
		 ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, saved_at = EXCLUDED.saved_at`,
		data)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}
