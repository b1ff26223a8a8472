package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-student-records/pkg/cache"
	"github.com/noah-isme/sma-student-records/pkg/config"
	appErrors "github.com/noah-isme/sma-student-records/pkg/errors"
)

type cachedStudent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func newRedisCache(t *testing.T) (*CacheRepository, *miniredis.Miniredis) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	breaker := cache.NewBreaker(config.CacheConfig{BreakerMinRequests: 2, BreakerFailureRatio: 0.5, BreakerTimeout: time.Minute}, IsCacheMiss, nil)
	return NewCacheRepository(client, breaker, nil), srv
}

func TestCacheRepositoryRoundTrip(t *testing.T) {
	repo, srv := newRedisCache(t)
	ctx := context.Background()

	var out cachedStudent
	assert.ErrorIs(t, repo.Get(ctx, "sis:t1:student:id:1", &out), appErrors.ErrCacheMiss)

	require.NoError(t, repo.Set(ctx, "sis:t1:student:id:1", cachedStudent{ID: "1", Name: "Budi"}, time.Minute))
	require.NoError(t, repo.Get(ctx, "sis:t1:student:id:1", &out))
	assert.Equal(t, "Budi", out.Name)

	srv.FastForward(2 * time.Minute)
	assert.ErrorIs(t, repo.Get(ctx, "sis:t1:student:id:1", &out), appErrors.ErrCacheMiss)
}

func TestCacheRepositoryDeleteByPatternScopesTenant(t *testing.T) {
	repo, srv := newRedisCache(t)
	ctx := context.Background()

	for _, key := range []string{"sis:t1:student:list:a", "sis:t1:student:list:b", "sis:t1:student:id:1", "sis:t2:student:list:a"} {
		require.NoError(t, repo.Set(ctx, key, cachedStudent{ID: key}, time.Minute))
	}

	require.NoError(t, repo.DeleteByPattern(ctx, "sis:t1:student:list:*"))
	assert.False(t, srv.Exists("sis:t1:student:list:a"))
	assert.False(t, srv.Exists("sis:t1:student:list:b"))
	assert.True(t, srv.Exists("sis:t1:student:id:1"))
	assert.True(t, srv.Exists("sis:t2:student:list:a"))

	require.NoError(t, repo.Delete(ctx, "sis:t1:student:id:1"))
	assert.False(t, srv.Exists("sis:t1:student:id:1"))
}

func TestCacheRepositoryBreakerOpensOnOutage(t *testing.T) {
	repo, srv := newRedisCache(t)
	ctx := context.Background()
	srv.Close()

	var out cachedStudent
	for i := 0; i < 3; i++ {
		err := repo.Get(ctx, "sis:t1:student:id:1", &out)
		require.Error(t, err)
		assert.False(t, errors.Is(err, appErrors.ErrCacheMiss))
	}
	err := repo.Get(ctx, "sis:t1:student:id:1", &out)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestCacheRepositoryMissDoesNotTripBreaker(t *testing.T) {
	repo, _ := newRedisCache(t)
	ctx := context.Background()

	var out cachedStudent
	for i := 0; i < 10; i++ {
		assert.ErrorIs(t, repo.Get(ctx, "missing", &out), appErrors.ErrCacheMiss)
	}
	assert.Equal(t, gobreaker.StateClosed, repo.breaker.State())
}

func TestMemoryCacheRepository(t *testing.T) {
	repo := NewMemoryCacheRepository()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "sis:t1:student:list:a", cachedStudent{ID: "a"}, time.Minute))
	require.NoError(t, repo.Set(ctx, "sis:t1:student:id:1", cachedStudent{ID: "1"}, time.Minute))
	require.NoError(t, repo.Set(ctx, "sis:t2:student:list:a", cachedStudent{ID: "x"}, 0))

	var out cachedStudent
	require.NoError(t, repo.Get(ctx, "sis:t1:student:list:a", &out))
	assert.Equal(t, "a", out.ID)

	require.NoError(t, repo.DeleteByPattern(ctx, "sis:t1:student:list:*"))
	assert.ErrorIs(t, repo.Get(ctx, "sis:t1:student:list:a", &out), appErrors.ErrCacheMiss)
	require.NoError(t, repo.Get(ctx, "sis:t2:student:list:a", &out))

	now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, repo.Get(ctx, "sis:t1:student:id:1", &out), appErrors.ErrCacheMiss)
	require.NoError(t, repo.Get(ctx, "sis:t2:student:list:a", &out))
	assert.Equal(t, 1, repo.Len())
}

func TestCacheRepositoryGenerationCounter(t *testing.T) {
	repo, srv := newRedisCache(t)
	ctx := context.Background()

	seeded, err := repo.Generation(ctx, "sis-gen:t1")
	require.NoError(t, err)
	assert.Positive(t, seeded)

	again, err := repo.Generation(ctx, "sis-gen:t1")
	require.NoError(t, err)
	assert.Equal(t, seeded, again)

	bumped, err := repo.Incr(ctx, "sis-gen:t1")
	require.NoError(t, err)
	assert.Equal(t, seeded+1, bumped)

	// a lost counter is reseeded ahead of every value handed out before
	srv.Del("sis-gen:t1")
	reseeded, err := repo.Generation(ctx, "sis-gen:t1")
	require.NoError(t, err)
	assert.Greater(t, reseeded, bumped)

	fresh, err := repo.Incr(ctx, "sis-gen:t2")
	require.NoError(t, err)
	assert.Greater(t, fresh, int64(1))
}

func TestCacheRepositoryGenerationFailsWhenRedisIsDown(t *testing.T) {
	repo, srv := newRedisCache(t)
	srv.Close()

	_, err := repo.Generation(context.Background(), "sis-gen:t1")
	require.Error(t, err)
	_, err = repo.Incr(context.Background(), "sis-gen:t1")
	require.Error(t, err)
}

func TestMemoryCacheRepositoryCounters(t *testing.T) {
	repo := NewMemoryCacheRepository()
	ctx := context.Background()

	gen, err := repo.Generation(ctx, "sis-gen:t1")
	require.NoError(t, err)
	assert.Zero(t, gen)

	next, err := repo.Incr(ctx, "sis-gen:t1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)

	require.NoError(t, repo.DeleteByPattern(ctx, "sis:t1:*"))
	gen, err = repo.Generation(ctx, "sis-gen:t1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
}
