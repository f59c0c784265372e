package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action classifies the audited operation.
type Action string

const (
	ActionCreate      Action = "CREATE"
	ActionRead        Action = "READ"
	ActionUpdate      Action = "UPDATE"
	ActionDelete      Action = "DELETE"
	ActionLogin       Action = "LOGIN"
	ActionLogout      Action = "LOGOUT"
	ActionFailedLogin Action = "FAILED_LOGIN"
	ActionExport      Action = "EXPORT"
	ActionPrint       Action = "PRINT"
	ActionPHIAccess   Action = "PHI_ACCESS"
)

// Phase distinguishes the best-effort pre-operation event, emitted before the
// handler runs, from the durable post-operation event emitted after the
// response is intercepted.
type Phase string

const (
	PhasePre  Phase = "pre"
	PhasePost Phase = "post"
)

// Security levels for an audited response.
const (
	SecurityLevelPHIProtected = "phi-protected"
	SecurityLevelStandard     = "standard"
)

// Event is one audit record in a request's lifecycle. Two are created per
// sensitive request: the pre-phase event carries no response data; the
// post-phase event is the durable one. Events are never mutated after
// creation.
type Event struct {
	ID             uuid.UUID `json:"id"`
	UserID         *string   `json:"user_id,omitempty"`
	CorrelationID  string    `json:"correlation_id"`
	Phase          Phase     `json:"phase"`
	Action         Action    `json:"action"`
	ResourceType   string    `json:"resource_type"`
	ResourceID     *string   `json:"resource_id,omitempty"`
	FieldsAccessed []string  `json:"fields_accessed,omitempty"`
	RequestMethod  string    `json:"request_method"`
	RequestPath    string    `json:"request_path"`
	ResponseStatus int       `json:"response_status"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	RiskScore      int       `json:"risk_score"`
	SecurityLevel  string    `json:"security_level"`
	Success        bool      `json:"success"`
	Details        *string   `json:"details,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// baseActionWeights are the starting risk contribution per action.
var baseActionWeights = map[Action]int{
	ActionFailedLogin: 70,
	ActionExport:      80,
	ActionPrint:       70,
	ActionDelete:      60,
	ActionPHIAccess:   50,
	ActionUpdate:      40,
	ActionCreate:      30,
	ActionRead:        20,
	ActionLogin:       10,
	ActionLogout:      5,
}

// defaultActionWeight applies to actions outside the known set.
const defaultActionWeight = 20

// BaseWeight returns the action's base risk contribution.
func (a Action) BaseWeight() int {
	if w, ok := baseActionWeights[a]; ok {
		return w
	}
	return defaultActionWeight
}

// RiskScore computes the 0-100 risk score for an audited operation:
// base action weight, plus 5 per PHI field in the response, plus 30 when the
// operation failed.
func RiskScore(action Action, phiFieldCount int, success bool) int {
	score := action.BaseWeight() + 5*phiFieldCount
	if !success {
		score += 30
	}
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// SecurityLevelFor returns "phi-protected" when any mapped PHI field was
// present in the response, "standard" otherwise.
func SecurityLevelFor(phiFieldCount int) string {
	if phiFieldCount > 0 {
		return SecurityLevelPHIProtected
	}
	return SecurityLevelStandard
}
