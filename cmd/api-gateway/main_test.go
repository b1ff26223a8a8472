package main

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-student-records/internal/repository"
	"github.com/noah-isme/sma-student-records/internal/service"
	"github.com/noah-isme/sma-student-records/pkg/config"
)

func redisCacheConfig(t *testing.T, srv *miniredis.Miniredis) *config.Config {
	port, err := strconv.Atoi(srv.Port())
	require.NoError(t, err)
	return &config.Config{
		Redis: config.RedisConfig{Host: srv.Host(), Port: port},
		Cache: config.CacheConfig{Enabled: true, Backend: config.CacheBackendRedis, BreakerTimeout: time.Second},
	}
}

func TestBuildCacheRepositoryKeepsRedisWhenUnreachable(t *testing.T) {
	srv := miniredis.RunT(t)
	cfg := redisCacheConfig(t, srv)
	srv.Close()

	repo, client := buildCacheRepository(cfg, nil, zap.NewNop())
	require.NotNil(t, client)
	t.Cleanup(func() { _ = client.Close() })
	_, isMemory := repo.(*repository.MemoryCacheRepository)
	assert.False(t, isMemory)

	cacheSvc := service.NewCacheService(repo, nil, time.Minute, zap.NewNop(), true)
	ctx := context.Background()
	key := service.RecordKey("tenant-1", service.EntityStudent, "s01")

	_, ok := cacheSvc.Pin(ctx, key)
	assert.False(t, ok)

	require.NoError(t, srv.Restart())
	pinned, ok := cacheSvc.Pin(ctx, key)
	require.True(t, ok)
	cacheSvc.Set(ctx, pinned, "Budi", 0)

	var name string
	assert.True(t, cacheSvc.Get(ctx, pinned, &name))
	assert.Equal(t, "Budi", name)
}

func TestBuildCacheRepositoryMemoryOnlyWhenConfigured(t *testing.T) {
	cfg := &config.Config{Cache: config.CacheConfig{Enabled: true, Backend: config.CacheBackendMemory}}

	repo, client := buildCacheRepository(cfg, nil, zap.NewNop())
	assert.Nil(t, client)
	_, isMemory := repo.(*repository.MemoryCacheRepository)
	assert.True(t, isMemory)
}
