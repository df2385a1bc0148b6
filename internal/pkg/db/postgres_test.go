package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"game-session-hub/internal/config"
)

func TestNewPool_Unconfigured(t *testing.T) {
	_, err := NewPool(context.Background(), &config.StoreConfig{URL: "postgres://localhost/gamehub"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestNewPool_BadScheme(t *testing.T) {
	_, err := NewPool(context.Background(), &config.StoreConfig{URL: "redis://localhost", Key: "k"})
	assert.Error(t, err)
}
