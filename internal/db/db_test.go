package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"calm-todo/internal/config"
)

func TestOpenSQLitePersistsUsers(t *testing.T) {
	ctx := context.Background()
	cfg := config.StoreConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "calm.db")}

	b, err := Open(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	first, err := b.Users.Register(ctx, "ada", "ada@example.com")
	require.NoError(t, err)
	b.Close()

	b, err = Open(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer b.Close()
	again, err := b.Users.Register(ctx, "ada", "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "mongo"}, zap.NewNop())
	assert.Error(t, err)
}
