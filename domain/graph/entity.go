package graph

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Effort levels a task can carry.
const (
	EffortHigh = "high"
	EffortLow  = "low"
)

// taskIDNamespace is the UUIDv5 namespace for content-derived task ids.
var taskIDNamespace = uuid.MustParse("8f2b7c2e-5a1d-4f7e-9c3a-1d2e4b6a8c0f")

// NewTaskID derives a stable task id from the owning document and the task
// text. The same (document, text) pair always maps to the same id, so editing
// text produces a new identity rather than a mutation.
func NewTaskID(documentID uuid.UUID, text string) uuid.UUID {
	return uuid.NewSHA1(taskIDNamespace, []byte(documentID.String()+"\x00"+strings.TrimSpace(text)))
}

// Task represents a node in the dependency graph. Tasks are immutable after
// insert.
type Task struct {
	bun.BaseModel `bun:"table:tw.tasks,alias:t"`

	ID             uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	ProjectID      uuid.UUID `bun:"project_id,type:uuid,notnull" json:"project_id"`
	DocumentID     uuid.UUID `bun:"document_id,type:uuid,notnull" json:"document_id"`
	Text           string    `bun:"text,notnull" json:"text"`
	EstimatedHours float64   `bun:"estimated_hours,notnull,default:0" json:"estimated_hours"`
	EffortLevel    string    `bun:"effort_level,notnull" json:"effort_level"`
	CreatedAt      time.Time `bun:"created_at,notnull,default:now()" json:"created_at"`

	// Embedding is stored in the vector(768) column via raw SQL; it is never
	// returned to API clients.
	Embedding []float32 `bun:"-" json:"-"`
}

// TaskEdge represents a directed dependency: source must precede target.
type TaskEdge struct {
	bun.BaseModel `bun:"table:tw.task_edges,alias:te"`

	ID           uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ProjectID    uuid.UUID `bun:"project_id,type:uuid,notnull" json:"project_id"`
	SourceTaskID uuid.UUID `bun:"source_task_id,type:uuid,notnull" json:"source_task_id"`
	TargetTaskID uuid.UUID `bun:"target_task_id,type:uuid,notnull" json:"target_task_id"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:now()" json:"created_at"`
}

// Ref returns the edge's (source, target) pair.
func (e *TaskEdge) Ref() EdgeRef {
	return EdgeRef{Source: e.SourceTaskID, Target: e.TargetTaskID}
}

// EdgeRef is a lightweight (source, target) pair used by the in-memory graph
// algorithms. It carries no persistence identity.
type EdgeRef struct {
	Source uuid.UUID
	Target uuid.UUID
}

// SimilarityResult is a transient nearest-neighbor match for a candidate's
// embedding. Never persisted.
type SimilarityResult struct {
	TaskID     uuid.UUID
	TaskText   string
	Similarity float64
}
