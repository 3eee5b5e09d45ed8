package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/taskweave/taskweave/internal/database"
	"github.com/taskweave/taskweave/pkg/apperror"
	"github.com/taskweave/taskweave/pkg/pgutils"
)

// Store is the persistence surface the service needs. Reads outside a
// transaction serve list endpoints and neighbor search; all writes go through
// RunInTx so a request's snapshot, checks and mutations share one
// transaction.
type Store interface {
	TasksByIDs(ctx context.Context, projectID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*Task, error)
	ListTasks(ctx context.Context, projectID uuid.UUID) ([]*Task, error)
	ListEdges(ctx context.Context, projectID uuid.UUID) ([]*TaskEdge, error)
	NearestNeighbors(ctx context.Context, projectID uuid.UUID, embedding []float32, topK int, threshold float64) ([]SimilarityResult, error)
	ProjectIDs(ctx context.Context) ([]uuid.UUID, error)
	RunInTx(ctx context.Context, projectID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the transactional slice of the store handed to RunInTx callbacks.
// The project advisory lock is already held when the callback runs.
type Tx interface {
	Edges(ctx context.Context) ([]*TaskEdge, error)
	TasksByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Task, error)
	NearestNeighbors(ctx context.Context, embedding []float32, topK int, threshold float64) ([]SimilarityResult, error)
	InsertTasksAndEdges(ctx context.Context, tasks []*Task, edges []*TaskEdge) error
	DeleteEdges(ctx context.Context, edges []*TaskEdge) error
}

// Repository implements Store on Postgres via bun.
type Repository struct {
	db *bun.DB
}

func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

func (r *Repository) TasksByIDs(ctx context.Context, projectID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*Task, error) {
	return tasksByIDs(ctx, r.db, projectID, ids)
}

func (r *Repository) ListTasks(ctx context.Context, projectID uuid.UUID) ([]*Task, error) {
	var tasks []*Task
	err := r.db.NewSelect().
		Model(&tasks).
		Where("t.project_id = ?", projectID).
		Order("t.created_at ASC", "t.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, storageErr("list tasks", err)
	}
	return tasks, nil
}

func (r *Repository) ListEdges(ctx context.Context, projectID uuid.UUID) ([]*TaskEdge, error) {
	return listEdges(ctx, r.db, projectID)
}

// NearestNeighbors runs a cosine-distance search over the pgvector column.
// Results below the threshold are filtered out server-side; the HNSW index
// keeps this cheap even for large projects.
func (r *Repository) NearestNeighbors(ctx context.Context, projectID uuid.UUID, embedding []float32, topK int, threshold float64) ([]SimilarityResult, error) {
	return nearestNeighbors(ctx, r.db, projectID, embedding, topK, threshold)
}

func nearestNeighbors(ctx context.Context, db bun.IDB, projectID uuid.UUID, embedding []float32, topK int, threshold float64) ([]SimilarityResult, error) {
	vec := pgutils.FormatVector(embedding)

	var rows []struct {
		TaskID   uuid.UUID `bun:"id"`
		TaskText string    `bun:"text"`
		Score    float64   `bun:"score"`
	}
	err := db.NewRaw(`
		SELECT id, text, (1 - (embedding <=> ?::vector)) AS score
		FROM tw.tasks
		WHERE project_id = ?
		  AND embedding IS NOT NULL
		  AND (1 - (embedding <=> ?::vector)) >= ?
		ORDER BY embedding <=> ?::vector
		LIMIT ?`,
		vec, projectID, vec, threshold, vec, topK,
	).Scan(ctx, &rows)
	if err != nil {
		return nil, storageErr("nearest neighbors", err)
	}

	results := make([]SimilarityResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, SimilarityResult{
			TaskID:     row.TaskID,
			TaskText:   row.TaskText,
			Similarity: row.Score,
		})
	}
	return results, nil
}

func (r *Repository) ProjectIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.NewSelect().
		Model((*Task)(nil)).
		ColumnExpr("DISTINCT t.project_id").
		Scan(ctx, &ids)
	if err != nil {
		return nil, storageErr("list project ids", err)
	}
	return ids, nil
}

// RunInTx opens a transaction, takes the project's advisory lock and invokes
// fn with a transactional store. Concurrent writers to the same project
// queue on the lock, so each one sees the graph state left by the previous
// commit.
func (r *Repository) RunInTx(ctx context.Context, projectID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	safeTx, err := database.BeginSafeTx(ctx, r.db)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	defer safeTx.Rollback()

	if err := database.AcquireAdvisoryLock(ctx, safeTx.Tx, "graph:project:"+projectID.String()); err != nil {
		return storageErr("advisory lock", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := fn(ctx, &repoTx{tx: safeTx.Tx, projectID: projectID}); err != nil {
		return err
	}

	if err := safeTx.Commit(); err != nil {
		return storageErr("commit transaction", err)
	}
	return nil
}

type repoTx struct {
	tx        bun.Tx
	projectID uuid.UUID
}

var _ Tx = (*repoTx)(nil)

func (t *repoTx) Edges(ctx context.Context) ([]*TaskEdge, error) {
	return listEdges(ctx, t.tx, t.projectID)
}

func (t *repoTx) TasksByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Task, error) {
	return tasksByIDs(ctx, t.tx, t.projectID, ids)
}

func (t *repoTx) NearestNeighbors(ctx context.Context, embedding []float32, topK int, threshold float64) ([]SimilarityResult, error) {
	return nearestNeighbors(ctx, t.tx, t.projectID, embedding, topK, threshold)
}

func (t *repoTx) InsertTasksAndEdges(ctx context.Context, tasks []*Task, edges []*TaskEdge) error {
	if len(tasks) > 0 {
		if _, err := t.tx.NewInsert().Model(&tasks).Exec(ctx); err != nil {
			if pgutils.IsUniqueViolation(err) {
				return apperror.ErrConflict.
					WithMessage("a task with identical content already exists").
					WithInternal(err)
			}
			return storageErr("insert tasks", err)
		}
		// bun has no native pgvector type, so embeddings go in with a raw
		// cast after the row insert.
		for _, task := range tasks {
			if len(task.Embedding) == 0 {
				continue
			}
			_, err := t.tx.NewUpdate().
				Model((*Task)(nil)).
				Set("embedding = ?::vector", pgutils.FormatVector(task.Embedding)).
				Where("id = ?", task.ID).
				Exec(ctx)
			if err != nil {
				return storageErr("store embedding", err)
			}
		}
	}

	if len(edges) > 0 {
		if _, err := t.tx.NewInsert().Model(&edges).Exec(ctx); err != nil {
			if pgutils.IsUniqueViolation(err) {
				return apperror.ErrConflict.
					WithMessage("dependency edge already exists").
					WithInternal(err)
			}
			return storageErr("insert edges", err)
		}
	}
	return nil
}

func (t *repoTx) DeleteEdges(ctx context.Context, edges []*TaskEdge) error {
	if len(edges) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.ID)
	}
	res, err := t.tx.NewDelete().
		Model((*TaskEdge)(nil)).
		Where("id IN (?)", bun.In(ids)).
		Where("project_id = ?", t.projectID).
		Exec(ctx)
	if err != nil {
		return storageErr("delete edges", err)
	}
	if n, err := res.RowsAffected(); err == nil && n != int64(len(ids)) {
		return storageErr("delete edges", fmt.Errorf("expected %d rows, deleted %d", len(ids), n))
	}
	return nil
}

func tasksByIDs(ctx context.Context, db bun.IDB, projectID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*Task, error) {
	out := make(map[uuid.UUID]*Task, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var tasks []*Task
	err := db.NewSelect().
		Model(&tasks).
		Where("t.project_id = ?", projectID).
		Where("t.id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, storageErr("load tasks", err)
	}
	for _, task := range tasks {
		out[task.ID] = task
	}
	return out, nil
}

func listEdges(ctx context.Context, db bun.IDB, projectID uuid.UUID) ([]*TaskEdge, error) {
	var edges []*TaskEdge
	err := db.NewSelect().
		Model(&edges).
		Where("te.project_id = ?", projectID).
		Order("te.created_at ASC", "te.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, storageErr("list edges", err)
	}
	return edges, nil
}

func storageErr(op string, err error) error {
	return apperror.ErrStorage.
		WithMessage("storage operation failed").
		WithInternal(fmt.Errorf("%s: %w", op, err))
}
