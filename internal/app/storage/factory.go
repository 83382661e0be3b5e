// Package storage creates the persistence backends used by the extractor.
// A factory picks the ledger backend once so every component built from it
// shares the same storage and the same connection pool.
package storage

import (
	"context"
	"fmt"

	"github.com/stacklok/trello-extractor/internal/artifacts"
	"github.com/stacklok/trello-extractor/internal/config"
	"github.com/stacklok/trello-extractor/internal/ledger"
)

// Factory creates storage-dependent components as a family.
type Factory interface {
	// CreateLedgerStore creates the store backing the extraction ledger.
	CreateLedgerStore(ctx context.Context) (ledger.Store, error)

	// CreateArtifactStore creates the local artifact store. Artifacts always
	// live on the filesystem regardless of the ledger backend.
	CreateArtifactStore(ctx context.Context) (*artifacts.Store, error)

	// Cleanup releases any resources held by this factory, such as the
	// database connection pool.
	Cleanup()
}

// NewStorageFactory creates a storage factory based on the configured ledger type.
func NewStorageFactory(ctx context.Context, cfg *config.Config) (Factory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	switch cfg.GetLedgerType() {
	case config.LedgerTypeDatabase:
		return NewDatabaseFactory(ctx, cfg)
	case config.LedgerTypeFile:
		return NewFileFactory(cfg)
	default:
		return nil, fmt.Errorf("unknown ledger type: %s", cfg.GetLedgerType())
	}
}

// newArtifactStore ensures the artifact directory exists and opens a store on it
func newArtifactStore(cfg *config.Config) (*artifacts.Store, error) {
	if err := ensureDir(cfg.Artifacts.GetPath()); err != nil {
		return nil, fmt.Errorf("failed to create artifacts directory %s: %w", cfg.Artifacts.GetPath(), err)
	}
	return artifacts.NewStore(cfg.Artifacts.GetPath(), cfg.Artifacts.GetBatchSize()), nil
}
