package audit

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/taskweave/taskweave/pkg/apperror"
	"github.com/taskweave/taskweave/pkg/mathutil"
)

const defaultListLimit = 100

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type ListEventsResponse struct {
	Events []*Event `json:"events"`
}

// ListEvents handles GET /api/projects/:projectID/audit-events
func (h *Handler) ListEvents(c echo.Context) error {
	projectID, err := uuid.Parse(c.Param("projectID"))
	if err != nil {
		return apperror.ErrBadRequest.WithMessage("projectID must be a valid uuid")
	}

	rawLimit, _ := strconv.Atoi(c.QueryParam("limit"))
	limit := mathutil.ClampLimit(rawLimit, defaultListLimit, 1000)

	events, err := h.service.List(c.Request().Context(), projectID, limit)
	if err != nil {
		return apperror.ErrStorage.WithMessage("failed to list audit events").WithInternal(err)
	}
	if events == nil {
		events = []*Event{}
	}
	return c.JSON(http.StatusOK, ListEventsResponse{Events: events})
}
