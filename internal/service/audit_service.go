package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-student-records/internal/models"
	"github.com/noah-isme/sma-student-records/pkg/jobs"
)

const auditJobType = "audit_log"

type auditLogWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type auditQueue interface {
	Enqueue(job jobs.Job) error
}

// Actor identifies who performed a request. Handlers attach it to the request context.
type Actor struct {
	UserID    string
	IPAddress string
	UserAgent string
}

type actorKey struct{}

// WithActor returns a context carrying the actor.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext extracts the actor set by WithActor.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}

// AuditService records student writes asynchronously. Audit failures never fail the request.
type AuditService struct {
	writer auditLogWriter
	queue  auditQueue
	logger *zap.Logger
}

// NewAuditService constructs the audit service. Call Bind to attach the queue that runs Handle.
func NewAuditService(writer auditLogWriter, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{writer: writer, logger: logger}
}

// Bind attaches the queue used by Record.
func (s *AuditService) Bind(queue auditQueue) {
	s.queue = queue
}

// Record enqueues an audit entry enriched with the request actor.
func (s *AuditService) Record(ctx context.Context, entry models.AuditLog) {
	if s == nil || s.queue == nil {
		return
	}
	if actor, ok := ActorFromContext(ctx); ok {
		if actor.UserID != "" {
			userID := actor.UserID
			entry.UserID = &userID
		}
		entry.IPAddress = actor.IPAddress
		entry.UserAgent = actor.UserAgent
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if err := s.queue.Enqueue(jobs.Job{ID: entry.ID, Type: auditJobType, Payload: entry}); err != nil {
		s.logger.Warn("audit entry dropped", zap.String("action", entry.Action), zap.Error(err))
	}
}

// Handle persists one queued audit entry. It is the queue handler.
func (s *AuditService) Handle(ctx context.Context, job jobs.Job) error {
	entry, ok := job.Payload.(models.AuditLog)
	if !ok {
		return fmt.Errorf("unexpected audit payload %T", job.Payload)
	}
	return s.writer.CreateAuditLog(ctx, &entry)
}
