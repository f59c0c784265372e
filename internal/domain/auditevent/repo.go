// Package auditevent persists and queries the security audit trail. Writes
// arrive through the async audit pipeline; reads serve the admin query API.
package auditevent

import (
	"context"

	"github.com/google/uuid"

	"github.com/careshield/careshield/internal/platform/audit"
)

// SearchParams filters audit trail queries. Zero values mean "no filter".
type SearchParams struct {
	UserID        string
	CorrelationID string
	Action        string
	ResourceType  string
	MinRiskScore  int
	OnlyFailures  bool
}

// Repo is the storage interface for audit events.
type Repo interface {
	Insert(ctx context.Context, ev *audit.Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*audit.Event, error)
	Search(ctx context.Context, params SearchParams, limit, offset int) ([]*audit.Event, int, error)
}
