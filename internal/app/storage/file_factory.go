package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/stacklok/trello-extractor/internal/artifacts"
	"github.com/stacklok/trello-extractor/internal/config"
	"github.com/stacklok/trello-extractor/internal/ledger"
)

// FileFactory creates file-based storage components.
type FileFactory struct {
	config    *config.Config
	ledgerDir string
}

var _ Factory = (*FileFactory)(nil)

// NewFileFactory creates a new file-based storage factory, creating the
// ledger directory if needed.
func NewFileFactory(cfg *config.Config) (*FileFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	ledgerDir := cfg.GetLedgerPath()
	if err := ensureDir(ledgerDir); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory %s: %w", ledgerDir, err)
	}

	slog.Info("Creating file-based storage factory", "ledger_dir", ledgerDir)

	return &FileFactory{
		config:    cfg,
		ledgerDir: ledgerDir,
	}, nil
}

// CreateLedgerStore creates a ledger store keeping one JSON document per run
func (f *FileFactory) CreateLedgerStore(_ context.Context) (ledger.Store, error) {
	slog.Debug("Creating file-based ledger store")
	return ledger.NewFileStore(f.ledgerDir), nil
}

// CreateArtifactStore creates the local artifact store
func (f *FileFactory) CreateArtifactStore(_ context.Context) (*artifacts.Store, error) {
	return newArtifactStore(f.config)
}

// Cleanup is a no-op for file storage.
func (*FileFactory) Cleanup() {
	slog.Debug("Cleaning up file storage factory (no-op)")
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0750)
}
