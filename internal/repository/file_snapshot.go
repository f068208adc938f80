package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/geoquest/platform/internal/domain"
)

// FileSnapshotRepository keeps the state as one JSON document on disk.
type FileSnapshotRepository struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewFileSnapshotRepository creates a repository writing to path.
func NewFileSnapshotRepository(path string) *FileSnapshotRepository {
	return &FileSnapshotRepository{path: path, now: time.Now}
}

// Load reads the snapshot file. A missing file is an empty state.
func (r *FileSnapshotRepository) Load(_ context.Context) (*domain.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.EmptyState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", r.path, err)
	}

	var st domain.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrCorruptState, r.path, err)
	}
	return normalize(&st), nil
}

// Save writes st to a temp file in the same directory and renames it over
// the snapshot, so readers never observe a partial write.
func (r *FileSnapshotRepository) Save(ctx context.Context, st *domain.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st = normalize(st)
	st.SavedAt = r.now().UTC()

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
