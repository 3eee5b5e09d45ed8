package graph

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func persistedEdge(src, dst int) *TaskEdge {
	return &TaskEdge{
		ID:           uuid.NewSHA1(taskIDNamespace, []byte{byte(src), byte(dst)}),
		SourceTaskID: testID(src),
		TargetTaskID: testID(dst),
	}
}

func refsOf(edges []*TaskEdge) []EdgeRef {
	out := make([]EdgeRef, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.Ref())
	}
	return out
}

func TestResolveCycle_RemovesFirstPersistedEdgeInPathOrder(t *testing.T) {
	existing := []*TaskEdge{persistedEdge(1, 2), persistedEdge(2, 3)}
	proposed := []EdgeRef{edge(3, 1)}

	path := DetectCycle(refsOf(existing), proposed)
	require.NotNil(t, path)

	updated, removed, err := ResolveCycle(existing, path, proposed, nil)
	require.NoError(t, err)

	require.Len(t, removed, 1)
	assert.Equal(t, edge(1, 2), removed[0].Ref())

	require.Len(t, updated, 1)
	assert.Equal(t, edge(2, 3), updated[0].Ref())

	assert.Nil(t, DetectCycle(refsOf(updated), proposed), "graph must be acyclic after resolution")
}

func TestResolveCycle_NeverRemovesProposedEdges(t *testing.T) {
	existing := []*TaskEdge{persistedEdge(2, 1)}
	proposed := []EdgeRef{edge(1, 2)}

	path := DetectCycle(refsOf(existing), proposed)
	require.NotNil(t, path)

	updated, removed, err := ResolveCycle(existing, path, proposed, nil)
	require.NoError(t, err)

	require.Len(t, removed, 1)
	assert.Equal(t, edge(2, 1), removed[0].Ref())
	assert.Empty(t, updated)
}

func TestResolveCycle_MultipleCycles(t *testing.T) {
	// Two distinct cycles share the proposed edge 3→1:
	// 1→2→3→1 and 1→4→3→1. Both need a persisted edge removed.
	existing := []*TaskEdge{
		persistedEdge(1, 2),
		persistedEdge(2, 3),
		persistedEdge(1, 4),
		persistedEdge(4, 3),
	}
	proposed := []EdgeRef{edge(3, 1)}

	path := DetectCycle(refsOf(existing), proposed)
	require.NotNil(t, path)

	updated, removed, err := ResolveCycle(existing, path, proposed, nil)
	require.NoError(t, err)

	assert.Len(t, removed, 2)
	assert.Len(t, updated, 2)
	assert.Nil(t, DetectCycle(refsOf(updated), proposed))

	for _, e := range removed {
		assert.NotEqual(t, edge(3, 1), e.Ref(), "a proposed edge must never be removed")
	}
}

func TestResolveCycle_BoundedByCycleLength(t *testing.T) {
	// Three cycles share the proposed edge 1→2. The detected cycle 1→2→1
	// has length two, so at most two removal rounds may run; a third cycle
	// still stands at that point and resolution must give up.
	existing := []*TaskEdge{
		persistedEdge(2, 1),
		persistedEdge(2, 3),
		persistedEdge(3, 1),
		persistedEdge(2, 4),
		persistedEdge(4, 1),
	}
	proposed := []EdgeRef{edge(1, 2)}
	path := []uuid.UUID{testID(1), testID(2), testID(1)}

	updated, removed, err := ResolveCycle(existing, path, proposed, nil)
	assert.Nil(t, updated)
	assert.Nil(t, removed)

	var cycleErr *CycleDetectedError
	require.ErrorAs(t, err, &cycleErr)
	assert.False(t, cycleErr.PreExisting)
}

func TestResolveCycle_PreExistingCycleIsRefused(t *testing.T) {
	// The stored graph already contains 2⇄3; the proposal is elsewhere.
	existing := []*TaskEdge{persistedEdge(2, 3), persistedEdge(3, 2)}
	proposed := []EdgeRef{edge(1, 4)}

	path := DetectCycle(refsOf(existing), proposed)
	require.NotNil(t, path)

	updated, removed, err := ResolveCycle(existing, path, proposed, nil)
	assert.Nil(t, updated)
	assert.Nil(t, removed)

	var cycleErr *CycleDetectedError
	require.ErrorAs(t, err, &cycleErr)
	assert.True(t, cycleErr.PreExisting, "a stored cycle must not be repaired by an insertion")
}

func TestResolveCycle_FailsWhenOnlyProposedEdgesRemain(t *testing.T) {
	// Cycle made of proposed edges only: nothing persisted may be removed.
	proposed := []EdgeRef{edge(1, 2), edge(2, 1)}

	path := DetectCycle(nil, proposed)
	require.NotNil(t, path)

	updated, removed, err := ResolveCycle(nil, path, proposed, nil)
	assert.Nil(t, updated)
	assert.Nil(t, removed)

	var cycleErr *CycleDetectedError
	require.ErrorAs(t, err, &cycleErr)
	assert.False(t, cycleErr.PreExisting)
}

func TestResolveCycle_SelfEdgeProposal(t *testing.T) {
	proposed := []EdgeRef{edge(1, 1)}

	path := DetectCycle(nil, proposed)
	require.NotNil(t, path)
	require.Len(t, path, 2)

	_, _, err := ResolveCycle(nil, path, proposed, nil)
	var cycleErr *CycleDetectedError
	require.ErrorAs(t, err, &cycleErr)
}
