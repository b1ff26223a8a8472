package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/sma-student-records/internal/models"
	"github.com/noah-isme/sma-student-records/internal/repository"
	appErrors "github.com/noah-isme/sma-student-records/pkg/errors"
)

type studentNIKFinder interface {
	FindByNIK(ctx context.Context, nik, instansiID string) ([]models.Student, error)
}

type lifetimeRepository interface {
	Categories() []repository.LifetimeCategory
	LoadCategory(ctx context.Context, category repository.LifetimeCategory, studentIDs []string) ([]models.LifetimeEntry, error)
}

// LifetimeService assembles every historical record of a person across institutions.
type LifetimeService struct {
	students    studentNIKFinder
	repo        lifetimeRepository
	metrics     *MetricsService
	logger      *zap.Logger
	concurrency int
}

// NewLifetimeService constructs the lifetime aggregator. concurrency bounds parallel category loads.
func NewLifetimeService(students studentNIKFinder, repo lifetimeRepository, metrics *MetricsService, logger *zap.Logger, concurrency int) *LifetimeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &LifetimeService{students: students, repo: repo, metrics: metrics, logger: logger, concurrency: concurrency}
}

// LifetimeData resolves the person by nik, optionally within one institution, and returns every
// related collection sorted oldest first.
func (s *LifetimeService) LifetimeData(ctx context.Context, nik, instansiID string) (*models.LifetimeBundle, error) {
	nik = strings.TrimSpace(nik)
	if nik == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "nik is required")
	}
	records, err := s.students.FindByNIK(ctx, nik, instansiID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if len(records) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}

	primary := primaryRecord(records)
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}

	categories := s.repo.Categories()
	bundle := &models.LifetimeBundle{
		Student: primary,
		Records: records,
		Summary: make(map[string]int, len(categories)),
		Data:    make(map[string][]models.LifetimeEntry, len(categories)),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, category := range categories {
		category := category
		g.Go(func() error {
			start := time.Now()
			entries, err := s.repo.LoadCategory(gctx, category, ids)
			s.metrics.ObserveLifetimeLoad(category.Name, time.Since(start))
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []models.LifetimeEntry{}
			}
			sortLifetimeEntries(entries)
			mu.Lock()
			bundle.Data[category.Name] = entries
			bundle.Summary[category.Name] = len(entries)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("lifetime load failed", zap.String("nik", nik), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lifetime data")
	}
	return bundle, nil
}

// primaryRecord prefers the active record, then the most recently updated one.
func primaryRecord(records []models.Student) models.Student {
	best := records[0]
	for _, r := range records[1:] {
		if r.IsActive != best.IsActive {
			if r.IsActive {
				best = r
			}
			continue
		}
		if r.UpdatedAt.After(best.UpdatedAt) {
			best = r
		}
	}
	return best
}

func sortLifetimeEntries(entries []models.LifetimeEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].SortTime().Before(entries[j].SortTime())
	})
}
