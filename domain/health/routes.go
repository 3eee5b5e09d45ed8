package health

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes mounts the health endpoints.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.GET("/health", h.Health)
	e.GET("/healthz", h.Healthz)
	e.GET("/readyz", h.Ready)
}
