package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/opensource-clinical/riskcalc/internal/domain"
)

// Catalog holds the current snapshot. Reload builds a new snapshot and swaps it
// in; calculations already holding the previous snapshot are unaffected.
type Catalog struct {
	mu       sync.RWMutex
	snapshot *Snapshot
}

// New creates a catalog serving snap, which may be nil until the first Reload.
func New(snap *Snapshot) *Catalog {
	return &Catalog{snapshot: snap}
}

// Snapshot returns the current snapshot.
func (c *Catalog) Snapshot() (*Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.snapshot == nil {
		return nil, ErrNoCatalog
	}
	return c.snapshot, nil
}

// Reload builds bundle and, if it is valid, makes it current. On error the
// current snapshot is kept.
func (c *Catalog) Reload(bundle *domain.CatalogBundle) (*Snapshot, error) {
	snap, err := Build(bundle)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()

	stats := snap.Stats()
	slog.Info("catalog loaded",
		"version", stats.Version,
		"variables", stats.Variables,
		"procedures", stats.Procedures,
		"rules", stats.Rules,
		"models", stats.Models,
		"specialties", stats.Specialties,
	)
	return snap, nil
}

// Seed validates bundle and stores it as the repository's newest catalog
// version, which is returned.
func Seed(ctx context.Context, repo domain.Repository, bundle *domain.CatalogBundle) (int, error) {
	if _, err := Build(bundle); err != nil {
		return 0, fmt.Errorf("invalid catalog: %w", err)
	}

	version, err := repo.SaveCatalog(ctx, bundle)
	if err != nil {
		return 0, fmt.Errorf("failed to save catalog: %w", err)
	}
	bundle.Version = version
	return version, nil
}

// LoadFromRepository reads the newest catalog version from repo.
func LoadFromRepository(ctx context.Context, repo domain.Repository) (*domain.CatalogBundle, error) {
	bundle, err := repo.LatestCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	return bundle, nil
}
