package graph

import (
	"go.uber.org/fx"

	"github.com/taskweave/taskweave/domain/audit"
	"github.com/taskweave/taskweave/pkg/embeddings"
)

var Module = fx.Module("graph",
	fx.Provide(
		NewRepository,
		func(r *Repository) Store { return r },
		func(s *embeddings.Service) Embedder { return s },
		func(a *audit.Service) AuditRecorder { return a },
		NewService,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)
