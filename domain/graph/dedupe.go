package graph

import (
	"github.com/google/uuid"

	"github.com/taskweave/taskweave/pkg/mathutil"
)

// bestDuplicate scans nearest-neighbor results for a candidate task and
// returns a DuplicateTaskError for the highest-scoring match at or above the
// threshold. The candidate's own id is skipped so a retried insertion does
// not collide with the row it wrote on a previous attempt.
func bestDuplicate(candidateID uuid.UUID, candidateText string, neighbors []SimilarityResult, threshold float64) *DuplicateTaskError {
	var best *SimilarityResult
	for i := range neighbors {
		n := &neighbors[i]
		if n.TaskID == candidateID {
			continue
		}
		if n.Similarity < threshold {
			continue
		}
		if best == nil || n.Similarity > best.Similarity {
			best = n
		}
	}
	if best == nil {
		return nil
	}
	return &DuplicateTaskError{
		CandidateText: candidateText,
		MatchedText:   best.TaskText,
		Similarity:    mathutil.Round2(best.Similarity),
	}
}

// batchDuplicate compares candidates within a single request against each
// other, since none of them are persisted yet when neighbor search runs.
func batchDuplicate(candidateID uuid.UUID, candidateText string, embedding []float32, prior []batchEntry, threshold float64) *DuplicateTaskError {
	var (
		best      float64
		bestEntry *batchEntry
	)
	for i := range prior {
		p := &prior[i]
		if p.ID == candidateID {
			continue
		}
		sim := mathutil.CosineSimilarity(embedding, p.Embedding)
		if sim < threshold {
			continue
		}
		if bestEntry == nil || sim > best {
			best = sim
			bestEntry = p
		}
	}
	if bestEntry == nil {
		return nil
	}
	return &DuplicateTaskError{
		CandidateText: candidateText,
		MatchedText:   bestEntry.Text,
		Similarity:    mathutil.Round2(best),
	}
}

type batchEntry struct {
	ID        uuid.UUID
	Text      string
	Embedding []float32
}
