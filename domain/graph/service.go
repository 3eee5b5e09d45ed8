package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/taskweave/taskweave/internal/config"
	"github.com/taskweave/taskweave/pkg/apperror"
	"github.com/taskweave/taskweave/pkg/logger"
)

// Embedder turns task texts into vectors. A disabled embedder returns
// (nil, nil); the service rejects such requests unless the configuration
// explicitly allows inserting without duplicate detection.
type Embedder interface {
	EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error)
}

// AuditRecorder receives integrity events. Recording happens outside the
// write transaction: rejection events must survive the rollback that caused
// them.
type AuditRecorder interface {
	RecordEdgeRemoved(ctx context.Context, projectID, sourceTaskID, targetTaskID uuid.UUID)
	RecordDuplicateRejected(ctx context.Context, projectID uuid.UUID, candidateText, matchedText string, similarity float64)
}

// Service orchestrates bridging-task insertion. Every request either commits
// all of its tasks and edges or none of them.
type Service struct {
	store    Store
	embedder Embedder
	audit    AuditRecorder
	cfg      config.IntegrityConfig
	log      *slog.Logger
}

func NewService(store Store, embedder Embedder, audit AuditRecorder, cfg *config.Config, log *slog.Logger) *Service {
	return &Service{
		store:    store,
		embedder: embedder,
		audit:    audit,
		cfg:      cfg.Integrity,
		log:      log.With(logger.Scope("graph")),
	}
}

// InsertBridgingTasks validates, deduplicates and cycle-checks the candidates
// and persists them atomically. The snapshot of the existing graph, all
// checks against it and the final writes share one transaction under the
// project's advisory lock, so no concurrent insert can invalidate a check
// between read and write.
func (s *Service) InsertBridgingTasks(ctx context.Context, projectID uuid.UUID, req *InsertBridgingTasksRequest) (*InsertBridgingTasksResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	autoResolve := s.cfg.AutoResolveCycles
	if req.AutoResolveCycles != nil {
		autoResolve = *req.AutoResolveCycles
	}

	plan := buildPlan(projectID, req)

	// Endpoint existence is part of request validation, so it runs before
	// the embedding call: a request naming an unknown task must not spend
	// provider quota. The check repeats inside the transaction against the
	// locked snapshot.
	if err := s.preflightEndpoints(ctx, projectID, plan); err != nil {
		return nil, err
	}

	if err := s.embedCandidates(ctx, plan); err != nil {
		return nil, err
	}

	// Embedding calls can take a while; don't start a transaction for a
	// caller that already gave up.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var removed []*TaskEdge
	err := s.store.RunInTx(ctx, projectID, func(ctx context.Context, tx Tx) error {
		if err := s.checkEndpoints(ctx, tx, plan); err != nil {
			return err
		}
		if err := s.checkDuplicates(ctx, tx, plan); err != nil {
			return err
		}

		existing, err := tx.Edges(ctx)
		if err != nil {
			return err
		}

		removed = nil
		if path := DetectCycle(edgeRefs(existing), plan.proposedRefs); path != nil {
			if !autoResolve {
				return s.cycleError(ctx, tx, path, plan.proposedRefs)
			}
			_, removed, err = s.resolve(ctx, tx, existing, path, plan.proposedRefs)
			if err != nil {
				return err
			}
			if err := tx.DeleteEdges(ctx, removed); err != nil {
				return err
			}
		}

		return tx.InsertTasksAndEdges(ctx, plan.tasks, plan.edges)
	})
	if err != nil {
		s.recordRejection(ctx, projectID, err)
		return nil, err
	}

	resp := &InsertBridgingTasksResponse{
		InsertedTaskIDs: make([]uuid.UUID, 0, len(plan.tasks)),
		RemovedEdges:    make([]RemovedEdge, 0, len(removed)),
	}
	for _, t := range plan.tasks {
		resp.InsertedTaskIDs = append(resp.InsertedTaskIDs, t.ID)
	}
	for _, e := range removed {
		s.audit.RecordEdgeRemoved(ctx, projectID, e.SourceTaskID, e.TargetTaskID)
		resp.RemovedEdges = append(resp.RemovedEdges, RemovedEdge{
			SourceTaskID: e.SourceTaskID,
			TargetTaskID: e.TargetTaskID,
		})
	}

	s.log.Info("bridging tasks inserted",
		slog.String("project_id", projectID.String()),
		slog.Int("tasks", len(plan.tasks)),
		slog.Int("edges", len(plan.edges)),
		slog.Int("edges_removed", len(removed)),
	)
	return resp, nil
}

// ListTasks returns all tasks in a project, oldest first.
func (s *Service) ListTasks(ctx context.Context, projectID uuid.UUID) (*ListTasksResponse, error) {
	tasks, err := s.store.ListTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	resp := &ListTasksResponse{Tasks: make([]TaskResponse, 0, len(tasks))}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, toTaskResponse(t))
	}
	return resp, nil
}

// ListEdges returns all dependency edges in a project, oldest first.
func (s *Service) ListEdges(ctx context.Context, projectID uuid.UUID) (*ListEdgesResponse, error) {
	edges, err := s.store.ListEdges(ctx, projectID)
	if err != nil {
		return nil, err
	}
	resp := &ListEdgesResponse{Edges: make([]EdgeResponse, 0, len(edges))}
	for _, e := range edges {
		resp.Edges = append(resp.Edges, toEdgeResponse(e))
	}
	return resp, nil
}

// ProjectIDs returns every project that has at least one task.
func (s *Service) ProjectIDs(ctx context.Context) ([]uuid.UUID, error) {
	return s.store.ProjectIDs(ctx)
}

// CheckAcyclic verifies the persisted graph contains no cycle. Used by the
// periodic integrity sweep.
func (s *Service) CheckAcyclic(ctx context.Context, projectID uuid.UUID) error {
	edges, err := s.store.ListEdges(ctx, projectID)
	if err != nil {
		return err
	}
	path := DetectCycle(edgeRefs(edges), nil)
	if path == nil {
		return nil
	}
	tasks, err := s.store.TasksByIDs(ctx, projectID, path)
	if err != nil {
		return err
	}
	return &CycleDetectedError{
		PathText:    renderCyclePath(path, tasks),
		PreExisting: true,
	}
}

// insertionPlan is the fully-resolved shape of one request: tasks keyed by
// content-derived id, proposed edges, and the request field that produced
// each referenced endpoint (for error reporting).
type insertionPlan struct {
	tasks        []*Task
	edges        []*TaskEdge
	proposedRefs []EdgeRef
	endpointRefs map[uuid.UUID]string
}

func buildPlan(projectID uuid.UUID, req *InsertBridgingTasksRequest) *insertionPlan {
	plan := &insertionPlan{endpointRefs: map[uuid.UUID]string{}}

	for i := range req.Candidates {
		c := &req.Candidates[i]
		docID := uuid.MustParse(c.DocumentID) // validated already
		text := strings.TrimSpace(c.Text)

		task := &Task{
			ID:             NewTaskID(docID, text),
			ProjectID:      projectID,
			DocumentID:     docID,
			Text:           text,
			EstimatedHours: c.EstimatedHours,
			EffortLevel:    c.EffortLevel,
		}
		plan.tasks = append(plan.tasks, task)

		for j, raw := range c.Predecessors {
			src := uuid.MustParse(raw)
			plan.endpointRefs[src] = fmt.Sprintf("candidates[%d].predecessor_ids[%d]", i, j)
			plan.edges = append(plan.edges, &TaskEdge{
				ProjectID:    projectID,
				SourceTaskID: src,
				TargetTaskID: task.ID,
			})
		}
		for j, raw := range c.Successors {
			dst := uuid.MustParse(raw)
			plan.endpointRefs[dst] = fmt.Sprintf("candidates[%d].successor_ids[%d]", i, j)
			plan.edges = append(plan.edges, &TaskEdge{
				ProjectID:    projectID,
				SourceTaskID: task.ID,
				TargetTaskID: dst,
			})
		}
	}

	for _, e := range plan.edges {
		plan.proposedRefs = append(plan.proposedRefs, e.Ref())
	}
	return plan
}

func (p *insertionPlan) endpointIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(p.endpointRefs))
	for id := range p.endpointRefs {
		ids = append(ids, id)
	}
	return ids
}

func missingEndpoints(plan *insertionPlan, found map[uuid.UUID]*Task) error {
	fields := map[string]string{}
	for id, field := range plan.endpointRefs {
		if _, ok := found[id]; !ok {
			fields[field] = "task not found"
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func (s *Service) embedCandidates(ctx context.Context, plan *insertionPlan) error {
	texts := make([]string, 0, len(plan.tasks))
	for _, t := range plan.tasks {
		texts = append(texts, t.Text)
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return apperror.ErrStorage.
			WithMessage("embedding generation failed").
			WithInternal(fmt.Errorf("embed candidates: %w", err))
	}
	if vectors == nil {
		// Duplicate detection cannot run without vectors. Skipping it is an
		// explicit operator opt-in, never the silent default.
		if !s.cfg.AllowMissingEmbeddings {
			return apperror.ErrEmbeddingsUnavailable.
				WithMessage("embeddings are not configured; duplicate detection cannot run")
		}
		s.log.Warn("embeddings unavailable, inserting without duplicate detection")
		return nil
	}
	if len(vectors) != len(plan.tasks) {
		return apperror.ErrStorage.
			WithMessage("embedding generation failed").
			WithInternal(fmt.Errorf("embed candidates: got %d vectors for %d texts", len(vectors), len(plan.tasks)))
	}
	for i, t := range plan.tasks {
		t.Embedding = vectors[i]
	}
	return nil
}

// preflightEndpoints verifies every referenced endpoint exists before any
// embedding or transaction work starts.
func (s *Service) preflightEndpoints(ctx context.Context, projectID uuid.UUID, plan *insertionPlan) error {
	if len(plan.endpointRefs) == 0 {
		return nil
	}
	found, err := s.store.TasksByIDs(ctx, projectID, plan.endpointIDs())
	if err != nil {
		return err
	}
	return missingEndpoints(plan, found)
}

// checkEndpoints verifies every referenced endpoint exists and no candidate
// id collides with an already-persisted task.
func (s *Service) checkEndpoints(ctx context.Context, tx Tx, plan *insertionPlan) error {
	if len(plan.endpointRefs) > 0 {
		found, err := tx.TasksByIDs(ctx, plan.endpointIDs())
		if err != nil {
			return err
		}
		if err := missingEndpoints(plan, found); err != nil {
			return err
		}
	}

	candidateIDs := make([]uuid.UUID, 0, len(plan.tasks))
	for _, t := range plan.tasks {
		candidateIDs = append(candidateIDs, t.ID)
	}
	existing, err := tx.TasksByIDs(ctx, candidateIDs)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		// Content-derived ids make an exact re-submission land on the same
		// row; surface that as a conflict rather than a constraint error.
		return apperror.ErrConflict.WithMessage("a task with identical content already exists")
	}
	return nil
}

// checkDuplicates rejects any candidate whose text is semantically too close
// to a persisted task or to another candidate in the same request.
func (s *Service) checkDuplicates(ctx context.Context, tx Tx, plan *insertionPlan) error {
	var prior []batchEntry
	for _, t := range plan.tasks {
		if len(t.Embedding) == 0 {
			continue
		}
		neighbors, err := tx.NearestNeighbors(ctx, t.Embedding, s.cfg.DuplicateTopK, s.cfg.SimilarityThreshold)
		if err != nil {
			return err
		}
		if dup := bestDuplicate(t.ID, t.Text, neighbors, s.cfg.SimilarityThreshold); dup != nil {
			return dup
		}
		if dup := batchDuplicate(t.ID, t.Text, t.Embedding, prior, s.cfg.SimilarityThreshold); dup != nil {
			return dup
		}
		prior = append(prior, batchEntry{ID: t.ID, Text: t.Text, Embedding: t.Embedding})
	}
	return nil
}

func (s *Service) resolve(ctx context.Context, tx Tx, existing []*TaskEdge, path []uuid.UUID, proposed []EdgeRef) (keep, removed []*TaskEdge, err error) {
	tasks, err := tx.TasksByIDs(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return ResolveCycle(existing, path, proposed, tasks)
}

func (s *Service) cycleError(ctx context.Context, tx Tx, path []uuid.UUID, proposed []EdgeRef) error {
	tasks, err := tx.TasksByIDs(ctx, path)
	if err != nil {
		return err
	}
	proposedSet := make(map[EdgeRef]bool, len(proposed))
	for _, p := range proposed {
		proposedSet[p] = true
	}
	return &CycleDetectedError{
		PathText:    renderCyclePath(path, tasks),
		PreExisting: !pathTouchesProposed(path, proposedSet),
	}
}

func (s *Service) recordRejection(ctx context.Context, projectID uuid.UUID, err error) {
	var dup *DuplicateTaskError
	if errors.As(err, &dup) {
		s.audit.RecordDuplicateRejected(ctx, projectID, dup.CandidateText, dup.MatchedText, dup.Similarity)
	}
}

func edgeRefs(edges []*TaskEdge) []EdgeRef {
	refs := make([]EdgeRef, 0, len(edges))
	for _, e := range edges {
		refs = append(refs, e.Ref())
	}
	return refs
}
