package database

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate_CancelledContext(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/1_init.up.sql":   {Data: []byte("SELECT 1;")},
		"migrations/1_init.down.sql": {Data: []byte("SELECT 1;")},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := Migrate(ctx, fsys, "migrations", "postgres://bridge@127.0.0.1:1/bridge?sslmode=disable")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, MigrationResult{}, result)
}

func TestMigrate_MissingDirectory(t *testing.T) {
	_, err := Migrate(context.Background(), fstest.MapFS{}, "migrations", "postgres://bridge@127.0.0.1:1/bridge")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open migrations")
}
