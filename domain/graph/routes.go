package graph

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes mounts the graph endpoints.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	g := e.Group("/api/projects/:projectID/graph")

	g.POST("/bridging-tasks", h.InsertBridgingTasks)
	g.GET("/tasks", h.ListTasks)
	g.GET("/edges", h.ListEdges)
	g.POST("/integrity-check", h.CheckIntegrity)
}
