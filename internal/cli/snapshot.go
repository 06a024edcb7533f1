package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ppiankov/tariffscope/internal/model"
	"github.com/ppiankov/tariffscope/internal/store"
	"github.com/ppiankov/tariffscope/internal/store/sqlite"
)

// openRepository opens the snapshot database named by the configuration
func openRepository(ctx context.Context, cfg *model.Config) (*sqlite.Repository, error) {
	path, err := expandHome(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	return sqlite.Open(ctx, path)
}

// loadStore returns a store holding the latest persisted snapshot, or an
// empty store when nothing has been extracted yet
func loadStore(ctx context.Context, repo *sqlite.Repository) (*store.Store, error) {
	st := store.New()
	snap, err := repo.LoadLatest(ctx)
	if errors.Is(err, sqlite.ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return nil, err
	}
	st.Publish(snap)
	return st, nil
}

// currentSnapshot loads the latest snapshot for read-only commands
func currentSnapshot(ctx context.Context, cfg *model.Config) (*store.Store, *store.Snapshot, error) {
	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = repo.Close() }()

	st, err := loadStore(ctx, repo)
	if err != nil {
		return nil, nil, err
	}
	snap, err := st.Current()
	if errors.Is(err, store.ErrNoSnapshot) {
		return nil, nil, fmt.Errorf("%w (run 'tariffscope extract' first)", err)
	}
	return st, snap, err
}
