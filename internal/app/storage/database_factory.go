package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacklok/trello-extractor/internal/artifacts"
	"github.com/stacklok/trello-extractor/internal/config"
	"github.com/stacklok/trello-extractor/internal/db"
	"github.com/stacklok/trello-extractor/internal/ledger"
)

// DatabaseFactory creates database-backed storage components.
type DatabaseFactory struct {
	config *config.Config
	pool   *pgxpool.Pool
}

var _ Factory = (*DatabaseFactory)(nil)

// NewDatabaseFactory creates a new database-backed storage factory.
// It establishes a connection pool to the configured PostgreSQL database.
func NewDatabaseFactory(ctx context.Context, cfg *config.Config) (*DatabaseFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Database == nil {
		return nil, fmt.Errorf("database configuration is required for database ledger type")
	}

	slog.Info("Creating database-backed storage factory")

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}

	return NewDatabaseFactoryWithPool(cfg, pool), nil
}

// NewDatabaseFactoryWithPool creates a factory on an existing pool. The
// factory takes ownership of the pool and closes it on Cleanup.
func NewDatabaseFactoryWithPool(cfg *config.Config, pool *pgxpool.Pool) *DatabaseFactory {
	return &DatabaseFactory{
		config: cfg,
		pool:   pool,
	}
}

// CreateLedgerStore creates a ledger store backed by the extraction_ledger table
func (d *DatabaseFactory) CreateLedgerStore(_ context.Context) (ledger.Store, error) {
	if d.pool == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}
	slog.Debug("Creating database-backed ledger store")
	return ledger.NewDBStore(d.pool), nil
}

// CreateArtifactStore creates the local artifact store
func (d *DatabaseFactory) CreateArtifactStore(_ context.Context) (*artifacts.Store, error) {
	return newArtifactStore(d.config)
}

// Cleanup closes the database connection pool.
func (d *DatabaseFactory) Cleanup() {
	if d.pool != nil {
		slog.Info("Closing database connection pool")
		d.pool.Close()
	}
}
