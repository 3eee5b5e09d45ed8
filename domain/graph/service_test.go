package graph

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskweave/taskweave/internal/config"
	"github.com/taskweave/taskweave/pkg/apperror"
	"github.com/taskweave/taskweave/pkg/mathutil"
)

// fakeStore keeps the graph in memory and mimics the repository's
// transactional contract: mutations inside RunInTx only land when the
// callback returns nil.
type fakeStore struct {
	tasks map[uuid.UUID]*Task
	edges []*TaskEdge
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[uuid.UUID]*Task{}}
}

func (s *fakeStore) addTask(t *Task) *Task {
	s.tasks[t.ID] = t
	return t
}

func (s *fakeStore) addEdge(src, dst uuid.UUID) {
	s.edges = append(s.edges, &TaskEdge{
		ID:           uuid.New(),
		SourceTaskID: src,
		TargetTaskID: dst,
	})
}

func (s *fakeStore) TasksByIDs(ctx context.Context, projectID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*Task, error) {
	return (&fakeTx{store: s}).TasksByIDs(ctx, ids)
}

func (s *fakeStore) ListTasks(ctx context.Context, projectID uuid.UUID) ([]*Task, error) {
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return earlierTask(tasks[i], tasks[j]) })
	return tasks, nil
}

func (s *fakeStore) ListEdges(ctx context.Context, projectID uuid.UUID) ([]*TaskEdge, error) {
	return (&fakeTx{store: s}).Edges(ctx)
}

func (s *fakeStore) NearestNeighbors(ctx context.Context, projectID uuid.UUID, embedding []float32, topK int, threshold float64) ([]SimilarityResult, error) {
	return (&fakeTx{store: s}).NearestNeighbors(ctx, embedding, topK, threshold)
}

func (s *fakeStore) ProjectIDs(ctx context.Context) ([]uuid.UUID, error) {
	return nil, nil
}

func (s *fakeStore) RunInTx(ctx context.Context, projectID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	tx := &fakeTx{store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for _, t := range tx.insertedTasks {
		s.tasks[t.ID] = t
	}
	kept := s.edges[:0:0]
	for _, e := range s.edges {
		if !tx.deleted[e.ID] {
			kept = append(kept, e)
		}
	}
	s.edges = append(kept, tx.insertedEdges...)
	return nil
}

type fakeTx struct {
	store         *fakeStore
	insertedTasks []*Task
	insertedEdges []*TaskEdge
	deleted       map[uuid.UUID]bool
}

func (t *fakeTx) Edges(ctx context.Context) ([]*TaskEdge, error) {
	return append([]*TaskEdge(nil), t.store.edges...), nil
}

func (t *fakeTx) TasksByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Task, error) {
	out := map[uuid.UUID]*Task{}
	for _, id := range ids {
		if task, ok := t.store.tasks[id]; ok {
			out[id] = task
		}
	}
	return out, nil
}

func (t *fakeTx) NearestNeighbors(ctx context.Context, embedding []float32, topK int, threshold float64) ([]SimilarityResult, error) {
	var results []SimilarityResult
	for _, task := range t.store.tasks {
		if len(task.Embedding) == 0 {
			continue
		}
		sim := mathutil.CosineSimilarity(embedding, task.Embedding)
		if sim < threshold {
			continue
		}
		results = append(results, SimilarityResult{TaskID: task.ID, TaskText: task.Text, Similarity: sim})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (t *fakeTx) InsertTasksAndEdges(ctx context.Context, tasks []*Task, edges []*TaskEdge) error {
	t.insertedTasks = append(t.insertedTasks, tasks...)
	for _, e := range edges {
		withID := *e
		withID.ID = uuid.New()
		t.insertedEdges = append(t.insertedEdges, &withID)
	}
	return nil
}

func (t *fakeTx) DeleteEdges(ctx context.Context, edges []*TaskEdge) error {
	if t.deleted == nil {
		t.deleted = map[uuid.UUID]bool{}
	}
	for _, e := range edges {
		t.deleted[e.ID] = true
	}
	return nil
}

// fakeEmbedder maps texts to fixed vectors. Texts with no mapping get
// mutually orthogonal vectors so they never collide.
type fakeEmbedder struct {
	vectors  map[string][]float32
	err      error
	disabled bool
	next     int
	calls    int
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.disabled {
		return nil, nil
	}
	out := make([][]float32, 0, len(documents))
	for _, doc := range documents {
		if v, ok := f.vectors[doc]; ok {
			out = append(out, v)
			continue
		}
		v := make([]float32, 16)
		v[f.next%16] = 1
		f.next++
		out = append(out, v)
	}
	return out, nil
}

type auditCall struct {
	event string
	src   uuid.UUID
	dst   uuid.UUID
}

type fakeAudit struct {
	calls []auditCall
}

func (f *fakeAudit) RecordEdgeRemoved(ctx context.Context, projectID, src, dst uuid.UUID) {
	f.calls = append(f.calls, auditCall{event: "edge_removed", src: src, dst: dst})
}

func (f *fakeAudit) RecordDuplicateRejected(ctx context.Context, projectID uuid.UUID, candidateText, matchedText string, similarity float64) {
	f.calls = append(f.calls, auditCall{event: "duplicate_rejected"})
}

func newTestService(store Store, embedder Embedder, audit AuditRecorder) *Service {
	cfg := &config.Config{
		Integrity: config.IntegrityConfig{
			SimilarityThreshold: 0.9,
			DuplicateTopK:       3,
		},
	}
	return NewService(store, embedder, audit, cfg, slog.New(slog.DiscardHandler))
}

func seedChain(store *fakeStore, base time.Time) (a, b, c *Task) {
	a = store.addTask(&Task{ID: testID(1), Text: "plan schema", CreatedAt: base})
	b = store.addTask(&Task{ID: testID(2), Text: "build API", CreatedAt: base.Add(time.Minute)})
	c = store.addTask(&Task{ID: testID(3), Text: "write docs", CreatedAt: base.Add(2 * time.Minute)})
	store.addEdge(a.ID, b.ID)
	store.addEdge(b.ID, c.ID)
	return a, b, c
}

func bridgingRequest(pred, succ *Task) *InsertBridgingTasksRequest {
	c := CandidateInsertion{
		DocumentID:     testID(100).String(),
		Text:           "review API contract",
		EstimatedHours: 1,
		EffortLevel:    EffortHigh,
	}
	if pred != nil {
		c.Predecessors = []string{pred.ID.String()}
	}
	if succ != nil {
		c.Successors = []string{succ.ID.String()}
	}
	return &InsertBridgingTasksRequest{Candidates: []CandidateInsertion{c}}
}

func TestInsertBridgingTasks_Success(t *testing.T) {
	store := newFakeStore()
	a, _, c := seedChain(store, time.Now())
	svc := newTestService(store, &fakeEmbedder{}, &fakeAudit{})

	resp, err := svc.InsertBridgingTasks(context.Background(), uuid.New(), bridgingRequest(a, c))
	require.NoError(t, err)
	require.Len(t, resp.InsertedTaskIDs, 1)
	assert.Empty(t, resp.RemovedEdges)

	newID := resp.InsertedTaskIDs[0]
	assert.Contains(t, store.tasks, newID)
	assert.Len(t, store.edges, 4)

	var haveIn, haveOut bool
	for _, e := range store.edges {
		if e.SourceTaskID == a.ID && e.TargetTaskID == newID {
			haveIn = true
		}
		if e.SourceTaskID == newID && e.TargetTaskID == c.ID {
			haveOut = true
		}
	}
	assert.True(t, haveIn, "predecessor edge missing")
	assert.True(t, haveOut, "successor edge missing")
}

func TestInsertBridgingTasks_EdgeFreeCandidate(t *testing.T) {
	store := newFakeStore()
	seedChain(store, time.Now())
	svc := newTestService(store, &fakeEmbedder{}, &fakeAudit{})

	resp, err := svc.InsertBridgingTasks(context.Background(), uuid.New(), bridgingRequest(nil, nil))
	require.NoError(t, err)
	require.Len(t, resp.InsertedTaskIDs, 1)

	assert.Contains(t, store.tasks, resp.InsertedTaskIDs[0])
	assert.Len(t, store.edges, 2, "no edges may be added")
}

func TestInsertBridgingTasks_RetrySameContentConflicts(t *testing.T) {
	store := newFakeStore()
	a, _, c := seedChain(store, time.Now())
	svc := newTestService(store, &fakeEmbedder{}, &fakeAudit{})

	req := bridgingRequest(a, c)
	_, err := svc.InsertBridgingTasks(context.Background(), uuid.New(), req)
	require.NoError(t, err)

	_, err = svc.InsertBridgingTasks(context.Background(), uuid.New(), req)
	var appErr *apperror.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.ErrConflict.Code, appErr.Code)
}

func TestInsertBridgingTasks_DuplicateRejected(t *testing.T) {
	store := newFakeStore()
	base := time.Now()
	a, _, c := seedChain(store, base)

	vec := []float32{1, 0.02, 0}
	store.addTask(&Task{
		ID:        testID(4),
		Text:      "review the API contract",
		CreatedAt: base,
		Embedding: []float32{1, 0, 0},
	})

	audit := &fakeAudit{}
	embedder := &fakeEmbedder{vectors: map[string][]float32{"review API contract": vec}}
	svc := newTestService(store, embedder, audit)

	tasksBefore := len(store.tasks)
	edgesBefore := len(store.edges)

	_, err := svc.InsertBridgingTasks(context.Background(), uuid.New(), bridgingRequest(a, c))

	var dup *DuplicateTaskError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "review API contract", dup.CandidateText)
	assert.Equal(t, "review the API contract", dup.MatchedText)
	assert.GreaterOrEqual(t, dup.Similarity, 0.9)

	assert.Len(t, store.tasks, tasksBefore, "rejected request must write nothing")
	assert.Len(t, store.edges, edgesBefore)

	require.Len(t, audit.calls, 1)
	assert.Equal(t, "duplicate_rejected", audit.calls[0].event)
}

func TestInsertBridgingTasks_DuplicateWithinBatch(t *testing.T) {
	store := newFakeStore()
	a, _, c := seedChain(store, time.Now())

	vec := []float32{0, 0, 1}
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"ship release notes":     vec,
		"ship the release notes": {0, 0.01, 1},
	}}
	svc := newTestService(store, embedder, &fakeAudit{})

	req := &InsertBridgingTasksRequest{Candidates: []CandidateInsertion{
		{
			DocumentID:   testID(100).String(),
			Text:         "ship release notes",
			EffortLevel:  EffortLow,
			Predecessors: []string{a.ID.String()},
		},
		{
			DocumentID:  testID(101).String(),
			Text:        "ship the release notes",
			EffortLevel: EffortLow,
			Successors:  []string{c.ID.String()},
		},
	}}

	_, err := svc.InsertBridgingTasks(context.Background(), uuid.New(), req)
	var dup *DuplicateTaskError
	require.ErrorAs(t, err, &dup)
	assert.Len(t, store.tasks, 3, "neither candidate may persist")
}

func TestInsertBridgingTasks_CycleRejectedWithoutAutoResolve(t *testing.T) {
	store := newFakeStore()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a, _, c := seedChain(store, base)
	svc := newTestService(store, &fakeEmbedder{}, &fakeAudit{})

	// Predecessor write docs, successor plan schema: closes the chain.
	req := bridgingRequest(c, a)
	edgesBefore := len(store.edges)

	_, err := svc.InsertBridgingTasks(context.Background(), uuid.New(), req)

	var cycleErr *CycleDetectedError
	require.ErrorAs(t, err, &cycleErr)
	assert.False(t, cycleErr.PreExisting)
	assert.Equal(t, "plan schema → build API → write docs → plan schema", cycleErr.PathText)

	assert.Len(t, store.edges, edgesBefore, "rejected request must write nothing")
	assert.Len(t, store.tasks, 3)
}

func TestInsertBridgingTasks_CycleAutoResolved(t *testing.T) {
	store := newFakeStore()
	a, b, c := seedChain(store, time.Now())
	audit := &fakeAudit{}
	svc := newTestService(store, &fakeEmbedder{}, audit)

	req := bridgingRequest(c, a)
	autoResolve := true
	req.AutoResolveCycles = &autoResolve

	resp, err := svc.InsertBridgingTasks(context.Background(), uuid.New(), req)
	require.NoError(t, err)
	require.Len(t, resp.RemovedEdges, 1)

	// First persisted edge along the cycle path gets discarded.
	assert.Equal(t, a.ID, resp.RemovedEdges[0].SourceTaskID)
	assert.Equal(t, b.ID, resp.RemovedEdges[0].TargetTaskID)

	require.Len(t, audit.calls, 1)
	assert.Equal(t, auditCall{event: "edge_removed", src: a.ID, dst: b.ID}, audit.calls[0])

	edges, err := store.ListEdges(context.Background(), uuid.Nil)
	require.NoError(t, err)
	assert.Nil(t, DetectCycle(edgeRefs(edges), nil), "graph must be acyclic after commit")
}

func TestInsertBridgingTasks_PreExistingCycleRefused(t *testing.T) {
	store := newFakeStore()
	base := time.Now()
	a, b, _ := seedChain(store, base)
	d := store.addTask(&Task{ID: testID(5), Text: "standalone", CreatedAt: base})
	store.addEdge(b.ID, a.ID) // stored graph already cyclic

	svc := newTestService(store, &fakeEmbedder{}, &fakeAudit{})

	req := bridgingRequest(d, nil)
	autoResolve := true
	req.AutoResolveCycles = &autoResolve

	_, err := svc.InsertBridgingTasks(context.Background(), uuid.New(), req)

	var cycleErr *CycleDetectedError
	require.ErrorAs(t, err, &cycleErr)
	assert.True(t, cycleErr.PreExisting)
	assert.Len(t, store.tasks, 4, "nothing may persist")
}

func TestInsertBridgingTasks_UnknownEndpoint(t *testing.T) {
	store := newFakeStore()
	seedChain(store, time.Now())
	svc := newTestService(store, &fakeEmbedder{}, &fakeAudit{})

	req := bridgingRequest(&Task{ID: testID(99)}, nil)
	_, err := svc.InsertBridgingTasks(context.Background(), uuid.New(), req)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Fields, "candidates[0].predecessor_ids[0]")
}

func TestInsertBridgingTasks_UnknownEndpointSkipsEmbedding(t *testing.T) {
	store := newFakeStore()
	seedChain(store, time.Now())
	embedder := &fakeEmbedder{}
	svc := newTestService(store, embedder, &fakeAudit{})

	req := bridgingRequest(&Task{ID: testID(99)}, nil)
	_, err := svc.InsertBridgingTasks(context.Background(), uuid.New(), req)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Zero(t, embedder.calls, "embedding provider must not run for a request that fails validation")
}

func TestInsertBridgingTasks_EmbedderFailureIsStorageError(t *testing.T) {
	store := newFakeStore()
	a, _, c := seedChain(store, time.Now())
	svc := newTestService(store, &fakeEmbedder{err: errors.New("quota exceeded")}, &fakeAudit{})

	_, err := svc.InsertBridgingTasks(context.Background(), uuid.New(), bridgingRequest(a, c))

	var appErr *apperror.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.ErrStorage.Code, appErr.Code)
	assert.Len(t, store.tasks, 3)
}

func TestInsertBridgingTasks_EmbeddingsDisabledRejected(t *testing.T) {
	store := newFakeStore()
	a, _, c := seedChain(store, time.Now())
	svc := newTestService(store, &fakeEmbedder{disabled: true}, &fakeAudit{})

	_, err := svc.InsertBridgingTasks(context.Background(), uuid.New(), bridgingRequest(a, c))

	var appErr *apperror.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.ErrEmbeddingsUnavailable.Code, appErr.Code)
	assert.Len(t, store.tasks, 3, "nothing may persist without duplicate detection")
}

func TestInsertBridgingTasks_EmbeddingsDisabledOptIn(t *testing.T) {
	store := newFakeStore()
	a, _, c := seedChain(store, time.Now())

	cfg := &config.Config{
		Integrity: config.IntegrityConfig{
			SimilarityThreshold:    0.9,
			DuplicateTopK:          3,
			AllowMissingEmbeddings: true,
		},
	}
	svc := NewService(store, &fakeEmbedder{disabled: true}, &fakeAudit{}, cfg, slog.New(slog.DiscardHandler))

	resp, err := svc.InsertBridgingTasks(context.Background(), uuid.New(), bridgingRequest(a, c))
	require.NoError(t, err)
	assert.Len(t, resp.InsertedTaskIDs, 1)
}

func TestInsertBridgingTasks_CancelledContext(t *testing.T) {
	store := newFakeStore()
	a, _, c := seedChain(store, time.Now())
	svc := newTestService(store, &fakeEmbedder{}, &fakeAudit{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.InsertBridgingTasks(ctx, uuid.New(), bridgingRequest(a, c))
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, store.tasks, 3, "nothing may persist after cancellation")
}

func TestCheckAcyclic(t *testing.T) {
	store := newFakeStore()
	a, b, _ := seedChain(store, time.Now())
	svc := newTestService(store, &fakeEmbedder{}, &fakeAudit{})

	require.NoError(t, svc.CheckAcyclic(context.Background(), uuid.Nil))

	store.addEdge(b.ID, a.ID)
	err := svc.CheckAcyclic(context.Background(), uuid.Nil)

	var cycleErr *CycleDetectedError
	require.ErrorAs(t, err, &cycleErr)
	assert.True(t, cycleErr.PreExisting)
}
