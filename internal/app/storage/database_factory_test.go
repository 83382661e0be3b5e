//go:build integration

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/trello-extractor/database"
	"github.com/stacklok/trello-extractor/internal/config"
	"github.com/stacklok/trello-extractor/internal/ledger"
)

func TestDatabaseFactory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool, cleanup := database.SetupTestDBContainer(t, ctx)
	t.Cleanup(cleanup)

	cfg := &config.Config{
		Ledger:    config.LedgerConfig{Type: config.LedgerTypeDatabase},
		Artifacts: config.ArtifactsConfig{Path: filepath.Join(t.TempDir(), "artifacts")},
	}
	factory := NewDatabaseFactoryWithPool(cfg, pool)

	store, err := factory.CreateLedgerStore(ctx)
	require.NoError(t, err)

	state := &ledger.State{Users: ledger.UsersState{Completed: true}}
	require.NoError(t, store.Save(ctx, "org-1/board-1", state))
	loaded, err := store.Load(ctx, "org-1/board-1")
	require.NoError(t, err)
	assert.Equal(t, state, loaded)

	artifactStore, err := factory.CreateArtifactStore(ctx)
	require.NoError(t, err)
	assert.NotNil(t, artifactStore)
}
