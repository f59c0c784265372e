package auditevent

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careshield/careshield/internal/platform/audit"
)

// Service exposes the audit trail. Its Record method satisfies audit.Recorder
// so the service can sit directly behind the async pipeline.
type Service struct {
	repo   Repo
	logger zerolog.Logger
}

func NewService(repo Repo, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Record persists a single audit event. Called from the pipeline worker, never
// from a request goroutine.
func (s *Service) Record(ctx context.Context, event *audit.Event) error {
	return s.repo.Insert(ctx, event)
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*audit.Event, error) {
	ev, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get audit event %s: %w", id, err)
	}
	return ev, nil
}

func (s *Service) Search(ctx context.Context, params SearchParams, limit, offset int) ([]*audit.Event, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}
