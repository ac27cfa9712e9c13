package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/sdi-catalog/csw-indexer/pkg/config"
)

func TestIsNilError(t *testing.T) {
	assert.True(t, IsNilError(redis.Nil))
	assert.True(t, IsNilError(fmt.Errorf("cache get: %w", redis.Nil)))
	assert.False(t, IsNilError(errors.New("connection refused")))
	assert.False(t, IsNilError(nil))
}

func TestNewClientFailsWithoutServer(t *testing.T) {
	c, err := NewClient(context.Background(), config.RedisConfig{Addr: "127.0.0.1:1", PoolSize: 1})
	assert.Nil(t, c)
	assert.ErrorContains(t, err, "redis ping failed")
}
