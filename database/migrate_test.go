//go:build integration

package database

import (
	"context"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool, cleanupFunc := SetupTestDBContainer(t, ctx)
	t.Cleanup(cleanupFunc)

	connString := pool.Config().ConnString()

	fnames, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	require.NoError(t, err)

	version, dirty, err := GetVersion(connString)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(len(fnames)), version)

	require.NoError(t, MigrateDown(connString, 0))
	version, _, err = GetVersion(connString)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)

	for i := 1; i <= len(fnames); i++ {
		require.NoError(t, MigrateUp(connString, 1))
		version, _, err = GetVersion(connString)
		require.NoError(t, err)
		assert.Equal(t, uint(i), version)
	}
}
