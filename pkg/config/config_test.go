package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, CacheBackendRedis, cfg.Cache.Backend)
	assert.Equal(t, 10*time.Minute, cfg.Cache.RecordTTL)
	assert.Equal(t, 5*time.Minute, cfg.Cache.ListTTL)
	assert.Equal(t, int64(5*1024*1024), cfg.Import.MaxFileSizeBytes)
	assert.Equal(t, 2000, cfg.Import.MaxRows)
	assert.Equal(t, 6, cfg.Lifetime.Concurrency)
}

func TestFromViperOverrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("CACHE_BACKEND", "MEMORY")
	v.Set("CACHE_LIST_TTL", "not-a-duration")
	v.Set("ALLOWED_ORIGINS", "https://a.sch.id, ,https://b.sch.id")

	cfg := fromViper(v)

	assert.Equal(t, CacheBackendMemory, cfg.Cache.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Cache.ListTTL)
	assert.Equal(t, []string{"https://a.sch.id", "https://b.sch.id"}, cfg.CORS.AllowedOrigins)
}
