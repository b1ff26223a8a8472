package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-student-records/internal/models"
	"github.com/noah-isme/sma-student-records/internal/repository"
	appErrors "github.com/noah-isme/sma-student-records/pkg/errors"
)

type stubStatsRepo struct {
	calls int
	stats models.StudentStats
	err   error
}

func (s *stubStatsRepo) Stats(ctx context.Context, instansiID string) (*models.StudentStats, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := s.stats
	return &out, nil
}

func TestDashboardSummaryCachedUntilStudentWrite(t *testing.T) {
	cache := NewCacheService(repository.NewMemoryCacheRepository(), nil, time.Minute, nil, true)
	stats := &stubStatsRepo{stats: models.StudentStats{Total: 3, Active: 2, Inactive: 1}}
	dashboard := NewDashboardService(stats, cache, nil, time.Minute, nil)
	students := NewStudentService(StudentServiceParams{Repo: newFakeStudentStore(), Cache: cache})
	ctx := context.Background()

	summary, hit, err := dashboard.Summary(ctx, "tenant-1")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 3, summary.Students.Total)

	_, hit, err = dashboard.Summary(ctx, "tenant-1")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, stats.calls)

	_, err = students.Create(ctx, "tenant-1", studentPayload(testNIK, "Budi"))
	require.NoError(t, err)

	_, hit, err = dashboard.Summary(ctx, "tenant-1")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, stats.calls)
}

func TestDashboardSummaryError(t *testing.T) {
	dashboard := NewDashboardService(&stubStatsRepo{err: errors.New("db down")}, nil, nil, time.Minute, nil)

	_, _, err := dashboard.Summary(context.Background(), "tenant-1")
	assert.ErrorIs(t, err, appErrors.ErrInternal)
}
