package graph

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// validateRequest checks request shape before any storage or embedding work.
// All problems are collected into a single ValidationError keyed by field
// path, so a client fixes the whole payload in one round trip.
func validateRequest(req *InsertBridgingTasksRequest) error {
	fields := map[string]string{}

	if len(req.Candidates) == 0 {
		fields["candidates"] = "at least one candidate is required"
	}

	seen := map[uuid.UUID]int{}
	for i := range req.Candidates {
		c := &req.Candidates[i]
		prefix := fmt.Sprintf("candidates[%d]", i)

		text := strings.TrimSpace(c.Text)
		if text == "" {
			fields[prefix+".text"] = "text must not be empty"
		}
		docID, docErr := uuid.Parse(c.DocumentID)
		if docErr != nil {
			fields[prefix+".document_id"] = "must be a valid uuid"
		}
		if c.EstimatedHours < 0 {
			fields[prefix+".estimated_hours"] = "estimated_hours must not be negative"
		}
		switch c.EffortLevel {
		case EffortHigh, EffortLow:
		default:
			fields[prefix+".effort_level"] = fmt.Sprintf("effort_level must be %q or %q", EffortHigh, EffortLow)
		}

		if text != "" && docErr == nil {
			id := NewTaskID(docID, text)
			if prev, dup := seen[id]; dup {
				fields[prefix+".text"] = fmt.Sprintf("identical to candidates[%d]", prev)
			} else {
				seen[id] = i
			}
		}

		for j, raw := range c.Predecessors {
			if _, err := uuid.Parse(raw); err != nil {
				fields[fmt.Sprintf("%s.predecessor_ids[%d]", prefix, j)] = "must be a valid uuid"
			}
		}
		for j, raw := range c.Successors {
			if _, err := uuid.Parse(raw); err != nil {
				fields[fmt.Sprintf("%s.successor_ids[%d]", prefix, j)] = "must be a valid uuid"
			}
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
