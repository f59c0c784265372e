package auditevent

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"github.com/careshield/careshield/pkg/pagination"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the audit query API on g. Callers gate g with the
// admin role; the trail itself contains PHI field names and actor IDs.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/audit-events", h.Search)
	g.GET("/audit-events/:id", h.GetByID)
}

func (h *Handler) Search(c echo.Context) error {
	params := SearchParams{
		UserID:        c.QueryParam("user_id"),
		CorrelationID: c.QueryParam("correlation_id"),
		Action:        c.QueryParam("action"),
		ResourceType:  c.QueryParam("resource_type"),
	}
	if v := c.QueryParam("min_risk"); v != "" {
		minRisk, err := strconv.Atoi(v)
		if err != nil || minRisk < 0 || minRisk > 100 {
			return echo.NewHTTPError(http.StatusBadRequest, "min_risk must be an integer between 0 and 100")
		}
		params.MinRiskScore = minRisk
	}
	if c.QueryParam("failures") == "true" {
		params.OnlyFailures = true
	}

	page := pagination.FromContext(c)
	events, total, err := h.service.Search(c.Request().Context(), params, page.Limit, page.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "audit trail query failed")
	}

	return c.JSON(http.StatusOK, pagination.NewResponse(events, total, page.Limit, page.Offset))
}

func (h *Handler) GetByID(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid audit event id")
	}

	ev, err := h.service.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "audit event not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "audit trail query failed")
	}

	return c.JSON(http.StatusOK, ev)
}
