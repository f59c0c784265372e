// Package sanitizer exposes the PHI detection service over HTTP: callers
// submit free text and get back the anonymized copy plus every detected
// entity.
package sanitizer

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/careshield/careshield/internal/platform/audit"
	"github.com/careshield/careshield/internal/platform/hipaa"
	"github.com/careshield/careshield/internal/platform/middleware"
)

// maxScanTextBytes bounds a single scan request. Clinical notes fit well under
// this; anything larger should be chunked by the caller.
const maxScanTextBytes = 512 * 1024

type ScanRequest struct {
	Text string `json:"text"`
}

type Handler struct {
	detector *hipaa.Detector
}

func NewHandler(detector *hipaa.Detector) *Handler {
	return &Handler{detector: detector}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/phi/scan", h.Scan)
}

func (h *Handler) Scan(c echo.Context) error {
	var req ScanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}
	if len(req.Text) > maxScanTextBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "text exceeds scan size limit")
	}

	// Scanning free text is PHI access regardless of the HTTP verb.
	c.Set(middleware.AuditActionKey, audit.ActionPHIAccess)

	result := h.detector.Scan(req.Text)
	return c.JSON(http.StatusOK, result)
}
