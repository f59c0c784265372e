package sanitizer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/careshield/careshield/internal/platform/audit"
	"github.com/careshield/careshield/internal/platform/hipaa"
	"github.com/careshield/careshield/internal/platform/middleware"
)

func newScanServer() *echo.Echo {
	e := echo.New()
	h := NewHandler(hipaa.NewDetector(zerolog.Nop()))
	h.RegisterRoutes(e.Group("/api/v1"))
	return e
}

func postScan(e *echo.Echo, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/phi/scan", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestScan_ReturnsDetections(t *testing.T) {
	e := newScanServer()

	rec := postScan(e, `{"text":"Patient John Smith, SSN 123-45-6789"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result hipaa.ScanResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}

	if result.RiskLevel != hipaa.RiskHigh {
		t.Errorf("risk = %s", result.RiskLevel)
	}
	if !result.RequiresReview {
		t.Error("expected review flag")
	}
	if strings.Contains(result.Anonymized, "123-45-6789") {
		t.Errorf("anonymized leaks SSN: %q", result.Anonymized)
	}
	if len(result.Entities) < 2 {
		t.Errorf("entities = %+v", result.Entities)
	}
}

func TestScan_EmptyTextRejected(t *testing.T) {
	e := newScanServer()

	if rec := postScan(e, `{"text":""}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty text: expected 400, got %d", rec.Code)
	}
	if rec := postScan(e, `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing text: expected 400, got %d", rec.Code)
	}
}

func TestScan_InvalidBodyRejected(t *testing.T) {
	e := newScanServer()

	if rec := postScan(e, `{not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestScan_OversizedTextRejected(t *testing.T) {
	e := newScanServer()

	huge, err := json.Marshal(map[string]string{"text": strings.Repeat("x", maxScanTextBytes+1)})
	if err != nil {
		t.Fatal(err)
	}
	if rec := postScan(e, string(huge)); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func TestScan_MarksRequestAsPHIAccess(t *testing.T) {
	e := echo.New()
	h := NewHandler(hipaa.NewDetector(zerolog.Nop()))

	var action any
	g := e.Group("/api/v1")
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			action = c.Get(middleware.AuditActionKey)
			return err
		}
	})
	h.RegisterRoutes(g)

	postScan(e, `{"text":"note about 123-45-6789"}`)
	if action != audit.ActionPHIAccess {
		t.Errorf("audit action = %v, want PHI_ACCESS", action)
	}
}
