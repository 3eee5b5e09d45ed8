// Command backfill-embeddings generates vectors for tasks that were inserted
// while the embeddings client was disabled. Tasks without a vector are
// invisible to duplicate detection, so a backfill should follow any period of
// degraded operation.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	_ "github.com/jackc/pgx/v5/stdlib"

	appconfig "github.com/taskweave/taskweave/internal/config"
	"github.com/taskweave/taskweave/pkg/embeddings/genai"
	"github.com/taskweave/taskweave/pkg/pgutils"
)

type taskRow struct {
	ID   string
	Text string
}

func main() {
	var (
		batchSize int
		delayMs   int
		dryRun    bool
		projectID string
	)

	flag.IntVar(&batchSize, "batch-size", 100, "Number of tasks per batch")
	flag.IntVar(&delayMs, "delay", 100, "Milliseconds to sleep between batches")
	flag.BoolVar(&dryRun, "dry-run", false, "Print what would be done without writing to DB")
	flag.StringVar(&projectID, "project-id", "", "Filter to a specific project UUID (optional)")
	flag.Parse()

	_ = godotenv.Load(".env")

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if dryRun {
		log.Info("DRY RUN mode enabled — no database writes will occur")
	}

	cfg, err := appconfig.NewConfig()
	if err != nil {
		log.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := run(context.Background(), log, cfg, batchSize, delayMs, dryRun, projectID); err != nil {
		log.Error("backfill failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, cfg *appconfig.Config, batchSize, delayMs int, dryRun bool, projectID string) error {
	if !cfg.Embeddings.IsEnabled() {
		return fmt.Errorf("embeddings are not configured; set GOOGLE_API_KEY")
	}

	db, err := sql.Open("pgx", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	client, err := genai.NewClient(ctx, genai.Config{
		APIKey: cfg.Embeddings.GoogleAPIKey,
		Model:  cfg.Embeddings.Model,
	}, genai.WithLogger(log))
	if err != nil {
		return fmt.Errorf("create embeddings client: %w", err)
	}

	total := 0
	for {
		rows, err := fetchBatch(ctx, db, batchSize, projectID)
		if err != nil {
			return fmt.Errorf("fetch batch: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		texts := make([]string, 0, len(rows))
		for _, r := range rows {
			texts = append(texts, r.Text)
		}

		vectors, err := client.EmbedDocuments(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}
		if len(vectors) != len(rows) {
			return fmt.Errorf("embed batch: got %d vectors for %d tasks", len(vectors), len(rows))
		}

		for i, r := range rows {
			if dryRun {
				log.Info("would update task", slog.String("task_id", r.ID))
				continue
			}
			_, err := db.ExecContext(ctx,
				"UPDATE tw.tasks SET embedding = $1::vector WHERE id = $2",
				pgutils.FormatVector(vectors[i]), r.ID,
			)
			if err != nil {
				return fmt.Errorf("update task %s: %w", r.ID, err)
			}
		}

		total += len(rows)
		log.Info("batch complete", slog.Int("batch", len(rows)), slog.Int("total", total))

		if dryRun {
			// A dry run never shrinks the candidate set; one batch is enough.
			break
		}
		time.Sleep(time.Duration(delayMs) * time.Millisecond)
	}

	log.Info("backfill complete", slog.Int("tasks_updated", total))
	return nil
}

func fetchBatch(ctx context.Context, db *sql.DB, batchSize int, projectID string) ([]taskRow, error) {
	query := `
		SELECT id, text
		FROM tw.tasks
		WHERE embedding IS NULL`
	args := []any{}
	if projectID != "" {
		query += " AND project_id = $1"
		args = append(args, projectID)
	}
	query += fmt.Sprintf(" ORDER BY created_at ASC LIMIT %d", batchSize)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []taskRow
	for rows.Next() {
		var r taskRow
		if err := rows.Scan(&r.ID, &r.Text); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
