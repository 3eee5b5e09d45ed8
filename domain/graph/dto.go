package graph

import (
	"time"

	"github.com/google/uuid"
)

// CandidateInsertion is one bridging task to insert, together with the edges
// that connect it into the existing graph. Edge endpoints must reference
// tasks that are already persisted.
type CandidateInsertion struct {
	DocumentID     string   `json:"document_id"`
	Text           string   `json:"text"`
	EstimatedHours float64  `json:"estimated_hours"`
	EffortLevel    string   `json:"effort_level"`
	Predecessors   []string `json:"predecessor_ids"`
	Successors     []string `json:"successor_ids"`
}

type InsertBridgingTasksRequest struct {
	Candidates        []CandidateInsertion `json:"candidates"`
	AutoResolveCycles *bool                `json:"auto_resolve_cycles,omitempty"`
}

type RemovedEdge struct {
	SourceTaskID uuid.UUID `json:"source_task_id"`
	TargetTaskID uuid.UUID `json:"target_task_id"`
}

type InsertBridgingTasksResponse struct {
	InsertedTaskIDs []uuid.UUID   `json:"inserted_task_ids"`
	RemovedEdges    []RemovedEdge `json:"removed_edges"`
}

type TaskResponse struct {
	ID             uuid.UUID `json:"id"`
	ProjectID      uuid.UUID `json:"project_id"`
	DocumentID     uuid.UUID `json:"document_id"`
	Text           string    `json:"text"`
	EstimatedHours float64   `json:"estimated_hours"`
	EffortLevel    string    `json:"effort_level"`
	CreatedAt      time.Time `json:"created_at"`
}

type EdgeResponse struct {
	SourceTaskID uuid.UUID `json:"source_task_id"`
	TargetTaskID uuid.UUID `json:"target_task_id"`
	CreatedAt    time.Time `json:"created_at"`
}

type ListTasksResponse struct {
	Tasks []TaskResponse `json:"tasks"`
}

type ListEdgesResponse struct {
	Edges []EdgeResponse `json:"edges"`
}

func toTaskResponse(t *Task) TaskResponse {
	return TaskResponse{
		ID:             t.ID,
		ProjectID:      t.ProjectID,
		DocumentID:     t.DocumentID,
		Text:           t.Text,
		EstimatedHours: t.EstimatedHours,
		EffortLevel:    t.EffortLevel,
		CreatedAt:      t.CreatedAt,
	}
}

func toEdgeResponse(e *TaskEdge) EdgeResponse {
	return EdgeResponse{
		SourceTaskID: e.SourceTaskID,
		TargetTaskID: e.TargetTaskID,
		CreatedAt:    e.CreatedAt,
	}
}
