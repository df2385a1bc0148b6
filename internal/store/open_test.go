package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"game-session-hub/internal/config"
)

func TestOpen_UnconfiguredIsNotAnError(t *testing.T) {
	a, closeFn, err := Open(context.Background(), &config.StoreConfig{URL: "postgres://localhost/db"}, true)
	require.NoError(t, err)
	defer closeFn()
	assert.False(t, a.Configured())
}

func TestOpen_RejectsBadScheme(t *testing.T) {
	_, _, err := Open(context.Background(), &config.StoreConfig{URL: "mysql://localhost/db", Key: "k"}, false)
	assert.Error(t, err)
}

func TestOpen_UnreachableServerContinuesOffline(t *testing.T) {
	ctx := context.Background()
	cfg := &config.StoreConfig{
		URL:            "postgres://postgres@127.0.0.1:1/gamehub",
		Key:            "secret",
		ConnectTimeout: time.Second,
		Migrate:        true,
	}

	a, closeFn, err := Open(ctx, cfg, true)
	require.NoError(t, err)
	defer closeFn()

	assert.True(t, a.Configured())
	assert.False(t, a.Reachable(ctx))
	assert.Nil(t, a.Insert(ctx, TableRooms, newRoomRow("omok")))
	assert.Empty(t, a.Select(ctx, TableRooms, Query{}))
}
