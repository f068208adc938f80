package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/geoquest/platform/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// SnapshotRepository is the durable store for whole-engine state.
type SnapshotRepository interface {
	// Load returns the last saved state, or an empty state when none exists.
	// Unreadable data yields an error wrapping domain.ErrCorruptState.
	Load(ctx context.Context) (*domain.State, error)

	// Save replaces the stored state with st.
	Save(ctx context.Context, st *domain.State) error
}

// LoadState restores the durable state at startup. Corrupt data is logged and
// replaced by an empty state; any other failure is returned so the caller
// aborts instead of later overwriting a snapshot it could not read.
func LoadState(ctx context.Context, repo SnapshotRepository, logger *slog.Logger) (*domain.State, error) {
	st, err := repo.Load(ctx)
	switch {
	case err == nil:
		return normalize(st), nil
	case errors.Is(err, domain.ErrCorruptState):
		logger.Error("snapshot corrupt, starting from empty state", "error", err)
		return domain.EmptyState(), nil
	default:
		return nil, fmt.Errorf("load state: %w", err)
	}
}

// normalize fills nil maps so callers can range and index freely.
func normalize(st *domain.State) *domain.State {
	if st == nil {
		return domain.EmptyState()
	}
	if st.Riders == nil {
		st.Riders = make(map[string]*domain.Rider)
	}
	if st.Users == nil {
		st.Users = make(map[string]string)
	}
	if st.Challenges == nil {
		st.Challenges = make(map[string]domain.Challenge)
	}
	return st
}
