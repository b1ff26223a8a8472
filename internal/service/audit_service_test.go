package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-student-records/internal/models"
	"github.com/noah-isme/sma-student-records/pkg/jobs"
)

type stubAuditWriter struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (s *stubAuditWriter) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *log)
	return nil
}

func (s *stubAuditWriter) all() []models.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AuditLog(nil), s.entries...)
}

func TestAuditServiceRecordsThroughQueue(t *testing.T) {
	writer := &stubAuditWriter{}
	svc := NewAuditService(writer, nil)
	queue := jobs.NewQueue("audit", svc.Handle, jobs.QueueConfig{Workers: 1})
	svc.Bind(queue)
	queue.Start(context.Background())

	ctx := WithActor(context.Background(), Actor{UserID: "u1", IPAddress: "10.0.0.1", UserAgent: "test"})
	svc.Record(ctx, models.AuditLog{Action: models.AuditActionStudentCreate, Resource: "student"})
	queue.Stop()

	entries := writer.all()
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].UserID)
	assert.Equal(t, "u1", *entries[0].UserID)
	assert.Equal(t, "10.0.0.1", entries[0].IPAddress)
	assert.NotEmpty(t, entries[0].ID)
}

func TestAuditServiceWithoutQueueIsNoop(t *testing.T) {
	writer := &stubAuditWriter{}
	svc := NewAuditService(writer, nil)
	svc.Record(context.Background(), models.AuditLog{Action: models.AuditActionStudentDelete})
	time.Sleep(5 * time.Millisecond)
	assert.Empty(t, writer.all())
}
