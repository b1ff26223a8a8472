package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	appErrors "github.com/noah-isme/sma-student-records/pkg/errors"
	"github.com/noah-isme/sma-student-records/pkg/response"
)

const limiterIdleTTL = time.Hour

// TenantRateLimiter keeps one token bucket per institution.
type TenantRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewTenantRateLimiter allows perMinute requests per institution per minute.
// A non-positive perMinute disables limiting.
func NewTenantRateLimiter(perMinute int) *TenantRateLimiter {
	rl := &TenantRateLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Inf,
		burst:    1,
		now:      time.Now,
	}
	if perMinute > 0 {
		rl.limit = rate.Every(time.Minute / time.Duration(perMinute))
		rl.burst = perMinute
	}
	return rl
}

// Allow reports whether the institution may proceed now.
func (rl *TenantRateLimiter) Allow(tenant string) bool {
	now := rl.now()
	rl.mu.Lock()
	entry, ok := rl.limiters[tenant]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[tenant] = entry
	}
	entry.lastAccess = now
	limiter := entry.limiter
	rl.mu.Unlock()
	return limiter.AllowN(now, 1)
}

// Cleanup drops limiters idle for longer than an hour.
func (rl *TenantRateLimiter) Cleanup() {
	threshold := rl.now().Add(-limiterIdleTTL)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for tenant, entry := range rl.limiters {
		if entry.lastAccess.Before(threshold) {
			delete(rl.limiters, tenant)
		}
	}
}

// StartCleanup runs Cleanup every interval until ctx is cancelled.
func (rl *TenantRateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}

// Middleware limits requests by the institution resolved by TenantGuard.
func (rl *TenantRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := TenantID(c)
		if tenant == "" {
			tenant = c.ClientIP()
		}
		if !rl.Allow(tenant) {
			c.Header("Retry-After", "60")
			response.Error(c, appErrors.ErrRateLimited)
			c.Abort()
			return
		}
		c.Next()
	}
}
