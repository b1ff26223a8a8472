package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-student-records/internal/models"
	appErrors "github.com/noah-isme/sma-student-records/pkg/errors"
)

type studentStatsRepository interface {
	Stats(ctx context.Context, instansiID string) (*models.StudentStats, error)
}

// DashboardService composes the institution summary shown on the admin dashboard.
type DashboardService struct {
	stats   studentStatsRepository
	cache   *CacheService
	metrics *MetricsService
	logger  *zap.Logger
	ttl     time.Duration
	now     func() time.Time
}

// NewDashboardService constructs a DashboardService.
func NewDashboardService(stats studentStatsRepository, cache *CacheService, metrics *MetricsService, ttl time.Duration, logger *zap.Logger) *DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &DashboardService{stats: stats, cache: cache, metrics: metrics, logger: logger, ttl: ttl, now: time.Now}
}

// DashboardSummary is the cached dashboard payload.
type DashboardSummary struct {
	Students    models.StudentStats `json:"students"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// Summary returns the institution summary and whether it came from cache.
func (s *DashboardService) Summary(ctx context.Context, instansiID string) (*DashboardSummary, bool, error) {
	key, cacheable := s.cache.Pin(ctx, DashboardKey(instansiID))
	var cached DashboardSummary
	if cacheable && s.cache.Get(ctx, key, &cached) {
		return &cached, true, nil
	}

	start := time.Now()
	stats, err := s.stats.Stats(ctx, instansiID)
	s.metrics.ObserveDBQuery("student_stats", time.Since(start))
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load dashboard")
	}
	summary := &DashboardSummary{Students: *stats, GeneratedAt: s.now().UTC()}
	if cacheable {
		s.cache.Set(ctx, key, summary, s.ttl)
	}
	return summary, false, nil
}
