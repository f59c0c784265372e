package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/careshield/careshield/internal/platform/audit"
	"github.com/careshield/careshield/internal/platform/hipaa"
)

type eventSink struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (s *eventSink) record(ctx context.Context, event *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *eventSink) byPhase(phase audit.Phase) []*audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*audit.Event
	for _, ev := range s.events {
		if ev.Phase == phase {
			out = append(out, ev)
		}
	}
	return out
}

func newAuditTestServer(t *testing.T) (*echo.Echo, *eventSink, *audit.Pipeline) {
	t.Helper()

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	svc, err := hipaa.NewEncryptionService(hex.EncodeToString(key), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	registry, err := hipaa.NewRegistry(svc, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	sink := &eventSink{}
	pipeline := audit.NewPipeline(audit.RecorderFunc(sink.record), zerolog.Nop(), 64)

	e := echo.New()
	e.Use(Correlation())
	e.Use(Audit(zerolog.Nop(), pipeline, registry))
	return e, sink, pipeline
}

func drain(t *testing.T, p *audit.Pipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Close(ctx); err != nil {
		t.Fatalf("drain pipeline: %v", err)
	}
}

func TestAudit_TwoPhaseEvents(t *testing.T) {
	e, sink, pipeline := newAuditTestServer(t)
	e.GET("/api/v1/patient-records/:id", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"data": map[string]any{
				"id":        c.Param("id"),
				"ssn":       "[encrypted]",
				"last_name": "[encrypted]",
				"status":    "active",
			},
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patient-records/p-77", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	drain(t, pipeline)

	pre := sink.byPhase(audit.PhasePre)
	post := sink.byPhase(audit.PhasePost)
	if len(pre) != 1 || len(post) != 1 {
		t.Fatalf("got %d pre and %d post events, want 1 each", len(pre), len(post))
	}

	if pre[0].CorrelationID == "" || pre[0].CorrelationID != post[0].CorrelationID {
		t.Errorf("correlation mismatch: pre %q post %q", pre[0].CorrelationID, post[0].CorrelationID)
	}
	if pre[0].ResponseStatus != 0 {
		t.Errorf("pre event carries a response status: %d", pre[0].ResponseStatus)
	}

	p := post[0]
	if p.Action != audit.ActionRead {
		t.Errorf("action = %s", p.Action)
	}
	if p.ResourceType != "patient-records" {
		t.Errorf("resource type = %s", p.ResourceType)
	}
	if p.ResourceID == nil || *p.ResourceID != "p-77" {
		t.Errorf("resource ID = %v", p.ResourceID)
	}
	if p.ResponseStatus != http.StatusOK || !p.Success {
		t.Errorf("status = %d success = %v", p.ResponseStatus, p.Success)
	}
	if len(p.FieldsAccessed) != 2 || p.FieldsAccessed[0] != "last_name" || p.FieldsAccessed[1] != "ssn" {
		t.Errorf("fields accessed = %v", p.FieldsAccessed)
	}
	if want := audit.RiskScore(audit.ActionRead, 2, true); p.RiskScore != want {
		t.Errorf("risk = %d, want %d", p.RiskScore, want)
	}
	if p.SecurityLevel != audit.SecurityLevelPHIProtected {
		t.Errorf("security level = %s", p.SecurityLevel)
	}
}

func TestAudit_ListResponseEnumeratesFields(t *testing.T) {
	e, sink, pipeline := newAuditTestServer(t)
	e.GET("/api/v1/patient-records", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"data": []any{
				map[string]any{"id": "p-1", "ssn": "[encrypted]", "status": "active"},
				map[string]any{"id": "p-2", "last_name": "[encrypted]"},
			},
			"total": 2,
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patient-records", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	drain(t, pipeline)

	post := sink.byPhase(audit.PhasePost)
	if len(post) != 1 {
		t.Fatalf("got %d post events", len(post))
	}
	p := post[0]

	// The union of mapped fields across all listed records, sorted.
	if len(p.FieldsAccessed) != 2 || p.FieldsAccessed[0] != "last_name" || p.FieldsAccessed[1] != "ssn" {
		t.Errorf("fields accessed = %v", p.FieldsAccessed)
	}
	if p.SecurityLevel != audit.SecurityLevelPHIProtected {
		t.Errorf("security level = %s", p.SecurityLevel)
	}
	if want := audit.RiskScore(audit.ActionRead, 2, true); p.RiskScore != want {
		t.Errorf("risk = %d, want %d", p.RiskScore, want)
	}
}

func TestAudit_EmptyListResponseIsStandard(t *testing.T) {
	e, sink, pipeline := newAuditTestServer(t)
	e.GET("/api/v1/patient-records", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"data": []any{}, "total": 0})
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patient-records", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	drain(t, pipeline)

	post := sink.byPhase(audit.PhasePost)
	if len(post) != 1 {
		t.Fatalf("got %d post events", len(post))
	}
	if len(post[0].FieldsAccessed) != 0 {
		t.Errorf("fields accessed = %v", post[0].FieldsAccessed)
	}
	if post[0].SecurityLevel != audit.SecurityLevelStandard {
		t.Errorf("security level = %s", post[0].SecurityLevel)
	}
}

func TestAudit_ResponseBodyUnchanged(t *testing.T) {
	e, _, pipeline := newAuditTestServer(t)
	const body = `{"data":{"note":"exact bytes matter","ssn":"x"}}` + "\n"
	e.GET("/api/v1/patient-records/p-1", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"data": map[string]any{"ssn": "x", "note": "exact bytes matter"},
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patient-records/p-1", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	drain(t, pipeline)

	if rec.Body.String() != body {
		t.Errorf("body altered by audit interception:\n got %q\nwant %q", rec.Body.String(), body)
	}
}

func TestAudit_HandlerFailure(t *testing.T) {
	e, sink, pipeline := newAuditTestServer(t)
	e.GET("/api/v1/patient-records/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusInternalServerError, "boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patient-records/p-1", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	drain(t, pipeline)

	post := sink.byPhase(audit.PhasePost)
	if len(post) != 1 {
		t.Fatalf("got %d post events", len(post))
	}
	p := post[0]
	if p.Success {
		t.Error("failed request marked successful")
	}
	if p.ResponseStatus != http.StatusInternalServerError {
		t.Errorf("status = %d", p.ResponseStatus)
	}
	if want := audit.RiskScore(audit.ActionRead, 0, false); p.RiskScore != want {
		t.Errorf("risk = %d, want %d", p.RiskScore, want)
	}
}

func TestAudit_ActionOverride(t *testing.T) {
	e, sink, pipeline := newAuditTestServer(t)
	e.GET("/api/v1/patient-records", func(c echo.Context) error {
		c.Set(AuditActionKey, audit.ActionExport)
		return c.JSON(http.StatusOK, map[string]any{"data": []any{}})
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patient-records", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	drain(t, pipeline)

	post := sink.byPhase(audit.PhasePost)
	if len(post) != 1 || post[0].Action != audit.ActionExport {
		t.Fatalf("action override not applied: %+v", post)
	}
}

func TestAudit_FailedLoginReclassified(t *testing.T) {
	e, sink, pipeline := newAuditTestServer(t)
	e.POST("/api/v1/auth/login", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusUnauthorized, "bad credentials")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	drain(t, pipeline)

	post := sink.byPhase(audit.PhasePost)
	if len(post) != 1 {
		t.Fatalf("got %d post events", len(post))
	}
	if post[0].Action != audit.ActionFailedLogin {
		t.Errorf("action = %s, want FAILED_LOGIN", post[0].Action)
	}
	if post[0].RiskScore != 100 {
		t.Errorf("risk = %d, want 100", post[0].RiskScore)
	}
}

func TestAudit_ExportPathAction(t *testing.T) {
	e, sink, pipeline := newAuditTestServer(t)
	e.GET("/api/v1/patient-records/:id/export", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"data": map[string]any{"ssn": "x"}})
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patient-records/p-1/export", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	drain(t, pipeline)

	post := sink.byPhase(audit.PhasePost)
	if len(post) != 1 || post[0].Action != audit.ActionExport {
		t.Fatalf("export path not classified as EXPORT: %+v", post)
	}
}

func TestAudit_IgnoresNonAPIPaths(t *testing.T) {
	e, sink, pipeline := newAuditTestServer(t)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	drain(t, pipeline)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 0 {
		t.Errorf("health check generated %d audit events", len(sink.events))
	}
}

func TestAudit_UnmappedResourceIsStandard(t *testing.T) {
	e, sink, pipeline := newAuditTestServer(t)
	e.GET("/api/v1/settings", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"theme": "dark"})
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/settings", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	drain(t, pipeline)

	post := sink.byPhase(audit.PhasePost)
	if len(post) != 1 {
		t.Fatalf("got %d post events", len(post))
	}
	if len(post[0].FieldsAccessed) != 0 {
		t.Errorf("fields accessed = %v", post[0].FieldsAccessed)
	}
	if post[0].SecurityLevel != audit.SecurityLevelStandard {
		t.Errorf("security level = %s", post[0].SecurityLevel)
	}
}
