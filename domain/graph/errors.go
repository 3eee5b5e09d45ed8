package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/taskweave/taskweave/pkg/apperror"
)

// ValidationError reports malformed candidate input. The caller fixes the
// named fields and resubmits; nothing was read or written beyond validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// AppError converts the error for the HTTP layer.
func (e *ValidationError) AppError() *apperror.Error {
	fields := make(map[string]any, len(e.Fields))
	for k, v := range e.Fields {
		fields[k] = v
	}
	return apperror.ErrValidation.WithDetails(map[string]any{"fields": fields})
}

// DuplicateTaskError reports a candidate whose text is semantically too close
// to an existing task. The caller edits the text to differentiate it, then
// resubmits.
type DuplicateTaskError struct {
	CandidateText string
	MatchedText   string
	Similarity    float64 // rounded to two decimals
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("duplicate task: %q matches existing %q (similarity %.2f)",
		e.CandidateText, e.MatchedText, e.Similarity)
}

// AppError converts the error for the HTTP layer.
func (e *DuplicateTaskError) AppError() *apperror.Error {
	return apperror.ErrDuplicateTask.
		WithMessage(fmt.Sprintf("candidate is too similar to an existing task (similarity %.2f)", e.Similarity)).
		WithDetails(map[string]any{
			"candidate_text": e.CandidateText,
			"matched_text":   e.MatchedText,
			"similarity":     e.Similarity,
		})
}

// CycleDetectedError reports that the insertion would close a dependency
// cycle (or, when PreExisting is set, that the stored graph already contains
// one — an invariant violation the resolver refuses to repair).
type CycleDetectedError struct {
	PathText    string // human-readable chain, e.g. "plan schema → build API → plan schema"
	PreExisting bool
}

func (e *CycleDetectedError) Error() string {
	if e.PreExisting {
		return "existing graph contains a cycle: " + e.PathText
	}
	return "insertion would introduce a cycle: " + e.PathText
}

// AppError converts the error for the HTTP layer.
func (e *CycleDetectedError) AppError() *apperror.Error {
	return apperror.ErrCycleDetected.
		WithMessage(e.Error()).
		WithDetails(map[string]any{"cycle_path": e.PathText})
}
