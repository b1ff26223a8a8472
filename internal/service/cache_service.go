package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/sma-student-records/pkg/errors"
)

const cacheNamespace = "sis"

// Cache entities.
const (
	EntityStudent   = "student"
	EntityDashboard = "dashboard"
)

// CacheRepository abstracts persistence for cached payloads and the per-tenant generation counters.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPattern(ctx context.Context, pattern string) error
	Generation(ctx context.Context, key string) (int64, error)
	Incr(ctx context.Context, key string) (int64, error)
}

// CacheKey identifies a cached payload. Exactly one of ID or Signature is set for record and list
// keys; both are empty for tenant-wide singletons such as the dashboard summary. Generation is
// filled in by CacheService.Pin.
type CacheKey struct {
	Tenant     string
	Entity     string
	ID         string
	Signature  string
	Generation int64
}

// RecordKey addresses a single record.
func RecordKey(tenant, entity, id string) CacheKey {
	return CacheKey{Tenant: tenant, Entity: entity, ID: id}
}

// ListKey addresses one filtered page of a collection.
func ListKey(tenant, entity, signature string) CacheKey {
	return CacheKey{Tenant: tenant, Entity: entity, Signature: signature}
}

// DashboardKey addresses the tenant dashboard summary.
func DashboardKey(tenant string) CacheKey {
	return CacheKey{Tenant: tenant, Entity: EntityDashboard}
}

// String renders the storage key.
func (k CacheKey) String() string {
	prefix := cacheNamespace + ":" + sanitizeKeyPart(k.Tenant) + ":" + sanitizeKeyPart(k.Entity) +
		":g" + strconv.FormatInt(k.Generation, 10)
	switch {
	case k.ID != "":
		return prefix + ":id:" + sanitizeKeyPart(k.ID)
	case k.Signature != "":
		sum := sha256.Sum256([]byte(k.Signature))
		return prefix + ":list:" + hex.EncodeToString(sum[:])
	default:
		return prefix + ":summary"
	}
}

// TenantPattern matches every cached payload of one tenant, whatever its generation.
func TenantPattern(tenant string) string {
	return cacheNamespace + ":" + sanitizeKeyPart(tenant) + ":*"
}

// generationKey lives outside the tenant key space so a tenant-wide sweep never resets it.
func generationKey(tenant string) string {
	return cacheNamespace + "-gen:" + sanitizeKeyPart(tenant)
}

// sanitizeKeyPart strips separators and glob metacharacters so a key part can never widen a pattern.
func sanitizeKeyPart(part string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ':', '*', '?', '[', ']', '\\', ' ':
			return '_'
		}
		return r
	}, part)
}

// CacheOption customises a CacheService.
type CacheOption func(*CacheService)

// WithStaleWindow sets how long a tenant bypasses the cache after a failed invalidation. It should be at
// least the longest TTL in use so every entry written before the failure has expired when it ends.
func WithStaleWindow(window time.Duration) CacheOption {
	return func(s *CacheService) {
		if window > 0 {
			s.staleWindow = window
		}
	}
}

// CacheService orchestrates cache operations and related metrics. A failing backend degrades to misses.
type CacheService struct {
	repo        CacheRepository
	metrics     *MetricsService
	defaultTTL  time.Duration
	logger      *zap.Logger
	enabled     bool
	staleWindow time.Duration
	now         func() time.Time

	mu         sync.Mutex
	staleUntil map[string]time.Time
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool, opts ...CacheOption) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &CacheService{
		repo:        repo,
		metrics:     metrics,
		defaultTTL:  defaultTTL,
		logger:      logger,
		enabled:     enabled,
		staleWindow: defaultTTL,
		now:         time.Now,
		staleUntil:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Get attempts to retrieve a cached entry and reports whether it was a hit.
func (s *CacheService) Get(ctx context.Context, key CacheKey, dest interface{}) bool {
	if !s.Enabled() || s.isStale(key.Tenant) {
		return false
	}
	rendered := key.String()
	start := time.Now()
	err := s.repo.Get(ctx, rendered, dest)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	if err != nil && !errors.Is(err, appErrors.ErrCacheMiss) {
		s.metrics.RecordCacheError("get")
		s.logger.Warn("cache get failed", zap.String("key", rendered), zap.Error(err))
	}
	return err == nil
}

// Set stores the value in cache. Failures are logged and otherwise ignored.
func (s *CacheService) Set(ctx context.Context, key CacheKey, value interface{}, ttl time.Duration) {
	if !s.Enabled() || s.isStale(key.Tenant) {
		return
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	rendered := key.String()
	start := time.Now()
	err := s.repo.Set(ctx, rendered, value, ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.metrics.RecordCacheError("set")
		s.logger.Warn("cache set failed", zap.String("key", rendered), zap.Error(err))
	}
}

// Pin stamps key with the tenant's current generation. Callers pin before reading the source of
// truth and use the pinned key for both Get and Set, so a value loaded before a concurrent write is
// stored under a generation that Bump has already retired. ok is false when the cache must not be
// used for this request.
func (s *CacheService) Pin(ctx context.Context, key CacheKey) (CacheKey, bool) {
	if !s.Enabled() || s.isStale(key.Tenant) {
		return key, false
	}
	gen, err := s.repo.Generation(ctx, generationKey(key.Tenant))
	if err != nil {
		s.metrics.RecordCacheError("generation")
		s.logger.Warn("cache generation lookup failed", zap.String("tenant", key.Tenant), zap.Error(err))
		return key, false
	}
	key.Generation = gen
	return key, true
}

// Bump retires every entry of the tenant by advancing its generation. On failure the tenant is
// bypassed for the stale window.
func (s *CacheService) Bump(ctx context.Context, tenant string) error {
	if !s.Enabled() {
		return nil
	}
	if _, err := s.repo.Incr(ctx, generationKey(tenant)); err != nil {
		s.metrics.RecordCacheError("bump")
		s.logger.Warn("cache generation bump failed", zap.String("tenant", tenant), zap.Error(err))
		s.markStale(tenant)
		return err
	}
	return nil
}

// Invalidate removes every key of the tenant matching pattern. It reclaims space after a Bump; on
// failure the tenant is still bypassed for the stale window.
func (s *CacheService) Invalidate(ctx context.Context, tenant, pattern string) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.repo.DeleteByPattern(ctx, pattern); err != nil {
		s.metrics.RecordCacheError("invalidate")
		s.logger.Warn("cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
		s.markStale(tenant)
		return err
	}
	return nil
}

func (s *CacheService) markStale(tenant string) {
	s.mu.Lock()
	s.staleUntil[tenant] = s.now().Add(s.staleWindow)
	s.mu.Unlock()
	s.metrics.RecordTenantStale()
}

func (s *CacheService) isStale(tenant string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.staleUntil[tenant]
	if !ok {
		return false
	}
	if s.now().After(until) {
		delete(s.staleUntil, tenant)
		return false
	}
	return true
}
