package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Event types recorded by the integrity engine.
const (
	EventEdgeRemoved        = "edge_removed"
	EventDuplicateRejected  = "duplicate_rejected"
	EventIntegrityViolation = "integrity_violation"
)

// Event is one integrity event. Events are append-only and survive the
// rollback of the request that produced them.
type Event struct {
	bun.BaseModel `bun:"table:tw.audit_events,alias:ae"`

	ID        uuid.UUID      `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ProjectID uuid.UUID      `bun:"project_id,type:uuid,notnull" json:"project_id"`
	EventType string         `bun:"event_type,notnull" json:"event_type"`
	Payload   map[string]any `bun:"payload,type:jsonb" json:"payload"`
	CreatedAt time.Time      `bun:"created_at,notnull,default:now()" json:"created_at"`
}
