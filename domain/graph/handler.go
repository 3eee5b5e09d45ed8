package graph

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/taskweave/taskweave/pkg/apperror"
	"github.com/taskweave/taskweave/pkg/logger"
)

type Handler struct {
	service *Service
	log     *slog.Logger
}

func NewHandler(service *Service, log *slog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With(logger.Scope("graph.handler")),
	}
}

// InsertBridgingTasks handles POST /api/projects/:projectID/graph/bridging-tasks
func (h *Handler) InsertBridgingTasks(c echo.Context) error {
	projectID, err := parseProjectID(c)
	if err != nil {
		return err
	}

	var req InsertBridgingTasksRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid request body").WithInternal(err)
	}

	resp, err := h.service.InsertBridgingTasks(c.Request().Context(), projectID, &req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, resp)
}

// ListTasks handles GET /api/projects/:projectID/graph/tasks
func (h *Handler) ListTasks(c echo.Context) error {
	projectID, err := parseProjectID(c)
	if err != nil {
		return err
	}
	resp, err := h.service.ListTasks(c.Request().Context(), projectID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

// ListEdges handles GET /api/projects/:projectID/graph/edges
func (h *Handler) ListEdges(c echo.Context) error {
	projectID, err := parseProjectID(c)
	if err != nil {
		return err
	}
	resp, err := h.service.ListEdges(c.Request().Context(), projectID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

// CheckIntegrity handles POST /api/projects/:projectID/graph/integrity-check
func (h *Handler) CheckIntegrity(c echo.Context) error {
	projectID, err := parseProjectID(c)
	if err != nil {
		return err
	}
	if err := h.service.CheckAcyclic(c.Request().Context(), projectID); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"acyclic": true})
}

func parseProjectID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("projectID"))
	if err != nil {
		return uuid.Nil, apperror.ErrBadRequest.WithMessage("projectID must be a valid uuid")
	}
	return id, nil
}

// toHTTPError maps domain errors onto the shared HTTP error type. Anything
// unrecognized passes through for the central handler to mask.
func toHTTPError(err error) error {
	if conv, ok := err.(interface{ AppError() *apperror.Error }); ok {
		return conv.AppError()
	}
	return err
}
