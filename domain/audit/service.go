package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/taskweave/taskweave/pkg/logger"
)

// Service records and lists integrity events. Recording is best-effort: a
// failed audit write is logged but never fails the request that triggered it.
type Service struct {
	db  *bun.DB
	log *slog.Logger
}

func NewService(db *bun.DB, log *slog.Logger) *Service {
	return &Service{
		db:  db,
		log: log.With(logger.Scope("audit")),
	}
}

// RecordEdgeRemoved records that cycle resolution discarded a persisted edge.
func (s *Service) RecordEdgeRemoved(ctx context.Context, projectID, sourceTaskID, targetTaskID uuid.UUID) {
	s.record(ctx, &Event{
		ProjectID: projectID,
		EventType: EventEdgeRemoved,
		Payload: map[string]any{
			"source_task_id": sourceTaskID.String(),
			"target_task_id": targetTaskID.String(),
		},
	})
}

// RecordDuplicateRejected records a candidate rejected for semantic overlap
// with an existing task.
func (s *Service) RecordDuplicateRejected(ctx context.Context, projectID uuid.UUID, candidateText, matchedText string, similarity float64) {
	s.record(ctx, &Event{
		ProjectID: projectID,
		EventType: EventDuplicateRejected,
		Payload: map[string]any{
			"candidate_text": candidateText,
			"matched_text":   matchedText,
			"similarity":     similarity,
		},
	})
}

// RecordIntegrityViolation records a cycle found in the persisted graph by
// the periodic sweep.
func (s *Service) RecordIntegrityViolation(ctx context.Context, projectID uuid.UUID, detail string) {
	s.record(ctx, &Event{
		ProjectID: projectID,
		EventType: EventIntegrityViolation,
		Payload: map[string]any{
			"detail": detail,
		},
	})
}

// List returns a project's events, newest first.
func (s *Service) List(ctx context.Context, projectID uuid.UUID, limit int) ([]*Event, error) {
	var events []*Event
	err := s.db.NewSelect().
		Model(&events).
		Where("ae.project_id = ?", projectID).
		Order("ae.created_at DESC", "ae.id DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Service) record(ctx context.Context, event *Event) {
	// The triggering request may already be cancelled or rolled back; the
	// event should still land.
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if _, err := s.db.NewInsert().Model(event).Exec(ctx); err != nil {
		s.log.Error("failed to record audit event",
			slog.String("event_type", event.EventType),
			slog.String("project_id", event.ProjectID.String()),
			logger.Error(err),
		)
	}
}
