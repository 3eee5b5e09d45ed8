// Package main provides the entry point for the Taskweave API server.
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/taskweave/taskweave/domain/audit"
	"github.com/taskweave/taskweave/domain/graph"
	"github.com/taskweave/taskweave/domain/health"
	"github.com/taskweave/taskweave/internal/config"
	"github.com/taskweave/taskweave/internal/database"
	"github.com/taskweave/taskweave/internal/integrity"
	"github.com/taskweave/taskweave/internal/migrate"
	"github.com/taskweave/taskweave/internal/server"
	"github.com/taskweave/taskweave/pkg/embeddings"
	"github.com/taskweave/taskweave/pkg/logger"
)

func main() {
	// Load .env files if present (for local development)
	// Note: Load() won't overwrite existing vars, Overload() will
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	fx.New(
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure modules
		logger.Module,
		config.Module,
		database.Module,
		migrate.Module,
		server.Module,

		// Embeddings client
		embeddings.Module,

		// Domain modules
		health.Module,
		audit.Module,
		graph.Module,

		// Periodic acyclicity sweep
		integrity.Module,
	).Run()
}
