package auditevent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/careshield/careshield/internal/platform/audit"
)

// memRepo is an in-memory Repo for handler and service tests.
type memRepo struct {
	events []*audit.Event
}

func (m *memRepo) Insert(ctx context.Context, ev *audit.Event) error {
	m.events = append(m.events, ev)
	return nil
}

func (m *memRepo) GetByID(ctx context.Context, id uuid.UUID) (*audit.Event, error) {
	for _, ev := range m.events {
		if ev.ID == id {
			return ev, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memRepo) Search(ctx context.Context, params SearchParams, limit, offset int) ([]*audit.Event, int, error) {
	var matched []*audit.Event
	for _, ev := range m.events {
		if params.Action != "" && string(ev.Action) != params.Action {
			continue
		}
		if params.MinRiskScore > 0 && ev.RiskScore < params.MinRiskScore {
			continue
		}
		if params.OnlyFailures && ev.Success {
			continue
		}
		matched = append(matched, ev)
	}
	total := len(matched)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func seedEvents(repo *memRepo) {
	for i := 0; i < 3; i++ {
		repo.events = append(repo.events, &audit.Event{
			ID:            uuid.New(),
			CorrelationID: "corr-seed",
			Phase:         audit.PhasePost,
			Action:        audit.ActionRead,
			RiskScore:     30,
			Success:       true,
			CreatedAt:     time.Now().UTC(),
		})
	}
	repo.events = append(repo.events, &audit.Event{
		ID:            uuid.New(),
		CorrelationID: "corr-seed",
		Phase:         audit.PhasePost,
		Action:        audit.ActionExport,
		RiskScore:     90,
		Success:       false,
		CreatedAt:     time.Now().UTC(),
	})
}

func newAuditServer(repo *memRepo) *echo.Echo {
	e := echo.New()
	h := NewHandler(NewService(repo, zerolog.Nop()))
	h.RegisterRoutes(e.Group("/api/v1"))
	return e
}

func TestSearch_ReturnsPaginatedEvents(t *testing.T) {
	repo := &memRepo{}
	seedEvents(repo)
	e := newAuditServer(repo)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit-events?limit=2", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data    []*audit.Event `json:"data"`
		Total   int            `json:"total"`
		HasMore bool           `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 4 {
		t.Errorf("total = %d", resp.Total)
	}
	if len(resp.Data) != 2 {
		t.Errorf("page size = %d", len(resp.Data))
	}
	if !resp.HasMore {
		t.Error("expected has_more")
	}
}

func TestSearch_FilterByActionAndRisk(t *testing.T) {
	repo := &memRepo{}
	seedEvents(repo)
	e := newAuditServer(repo)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit-events?action=EXPORT&min_risk=70", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var resp struct {
		Data  []*audit.Event `json:"data"`
		Total int            `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 {
		t.Errorf("total = %d, want 1", resp.Total)
	}
	if len(resp.Data) == 1 && resp.Data[0].Action != audit.ActionExport {
		t.Errorf("action = %s", resp.Data[0].Action)
	}
}

func TestSearch_InvalidMinRisk(t *testing.T) {
	e := newAuditServer(&memRepo{})

	for _, q := range []string{"min_risk=abc", "min_risk=-1", "min_risk=101"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/audit-events?"+q, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, rec.Code)
		}
	}
}

func TestGetByID(t *testing.T) {
	repo := &memRepo{}
	seedEvents(repo)
	e := newAuditServer(repo)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit-events/"+repo.events[0].ID.String(), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var ev audit.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.ID != repo.events[0].ID {
		t.Errorf("id = %s", ev.ID)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	e := newAuditServer(&memRepo{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit-events/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetByID_InvalidID(t *testing.T) {
	e := newAuditServer(&memRepo{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit-events/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestService_RecordSatisfiesPipelineRecorder(t *testing.T) {
	repo := &memRepo{}
	var _ audit.Recorder = NewService(repo, zerolog.Nop())

	svc := NewService(repo, zerolog.Nop())
	ev := &audit.Event{ID: uuid.New(), CorrelationID: "c-1", Action: audit.ActionCreate}
	if err := svc.Record(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if len(repo.events) != 1 {
		t.Errorf("stored %d events", len(repo.events))
	}
}
