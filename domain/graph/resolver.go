package graph

import (
	"github.com/google/uuid"
)

// ResolveCycle repairs a cycle by discarding persisted edges, never proposed
// ones: a stale stored relationship is preferred over rejecting fresh input.
//
// The cycle must involve at least one proposed edge. A cycle made purely of
// persisted edges means the stored graph already violates the DAG invariant,
// and the resolver refuses to repair it.
//
// Each round walks the cycle path in order, skips pairs that match a proposed
// edge, and removes the first pair backed by a persisted edge — the
// deterministic tie-break when several edges could break a multi-hop cycle.
// Detection then re-runs on the reduced set. Rounds are bounded by the length
// of the original cycle; if a cycle still remains at the bound, resolution
// fails.
//
// Returns the surviving persisted edges and the removed ones (for audit).
// tasksByID supplies texts for the failure path rendering.
func ResolveCycle(existing []*TaskEdge, cyclePath []uuid.UUID, proposed []EdgeRef, tasksByID map[uuid.UUID]*Task) (updated, removed []*TaskEdge, err error) {
	proposedSet := make(map[EdgeRef]bool, len(proposed))
	for _, p := range proposed {
		proposedSet[p] = true
	}

	byRef := make(map[EdgeRef]*TaskEdge, len(existing))
	for _, e := range existing {
		byRef[e.Ref()] = e
	}

	removedSet := make(map[EdgeRef]bool)
	// The path repeats its closing id, so the cycle length is one less.
	bound := len(cyclePath) - 1
	path := cyclePath

	for round := 0; round < bound; round++ {
		if !pathTouchesProposed(path, proposedSet) {
			// The cycle predates this insertion entirely; removing stored
			// edges to paper over it would hide corruption.
			return nil, nil, &CycleDetectedError{
				PathText:    renderCyclePath(path, tasksByID),
				PreExisting: true,
			}
		}

		target := removableEdge(path, proposedSet, byRef, removedSet)
		if target == nil {
			// Everything left on the cycle is proposed; nothing persisted
			// may be discarded.
			return nil, nil, &CycleDetectedError{
				PathText: renderCyclePath(path, tasksByID),
			}
		}

		removedSet[target.Ref()] = true
		removed = append(removed, target)

		remaining := make([]EdgeRef, 0, len(existing))
		updated = updated[:0]
		for _, e := range existing {
			if removedSet[e.Ref()] {
				continue
			}
			remaining = append(remaining, e.Ref())
			updated = append(updated, e)
		}

		path = DetectCycle(remaining, proposed)
		if path == nil {
			return updated, removed, nil
		}
	}

	return nil, nil, &CycleDetectedError{
		PathText: renderCyclePath(path, tasksByID),
	}
}

// removableEdge returns the first persisted, not-yet-removed edge along the
// cycle path that is not part of the proposal, or nil.
func removableEdge(path []uuid.UUID, proposed map[EdgeRef]bool, byRef map[EdgeRef]*TaskEdge, alreadyRemoved map[EdgeRef]bool) *TaskEdge {
	for i := 0; i+1 < len(path); i++ {
		ref := EdgeRef{Source: path[i], Target: path[i+1]}
		if proposed[ref] || alreadyRemoved[ref] {
			continue
		}
		if e, ok := byRef[ref]; ok {
			return e
		}
	}
	return nil
}

func pathTouchesProposed(path []uuid.UUID, proposed map[EdgeRef]bool) bool {
	for i := 0; i+1 < len(path); i++ {
		if proposed[EdgeRef{Source: path[i], Target: path[i+1]}] {
			return true
		}
	}
	return false
}
