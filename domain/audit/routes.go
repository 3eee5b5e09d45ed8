package audit

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes mounts the audit endpoints.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.GET("/api/projects/:projectID/audit-events", h.ListEvents)
}
