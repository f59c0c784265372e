package auditevent

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careshield/careshield/internal/platform/audit"
)

type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

const auditCols = `id, user_id, correlation_id, phase, action, resource_type, resource_id,
	fields_accessed, request_method, request_path, response_status, response_time_ms,
	risk_score, security_level, success, details, created_at`

func scanEvent(row pgx.Row) (*audit.Event, error) {
	var ev audit.Event
	err := row.Scan(
		&ev.ID, &ev.UserID, &ev.CorrelationID, &ev.Phase, &ev.Action, &ev.ResourceType, &ev.ResourceID,
		&ev.FieldsAccessed, &ev.RequestMethod, &ev.RequestPath, &ev.ResponseStatus, &ev.ResponseTimeMs,
		&ev.RiskScore, &ev.SecurityLevel, &ev.Success, &ev.Details, &ev.CreatedAt,
	)
	return &ev, err
}

func (r *RepoPG) Insert(ctx context.Context, ev *audit.Event) error {
	const q = `INSERT INTO audit_event (` + auditCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := r.pool.Exec(ctx, q,
		ev.ID, ev.UserID, ev.CorrelationID, ev.Phase, ev.Action, ev.ResourceType, ev.ResourceID,
		ev.FieldsAccessed, ev.RequestMethod, ev.RequestPath, ev.ResponseStatus, ev.ResponseTimeMs,
		ev.RiskScore, ev.SecurityLevel, ev.Success, ev.Details, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*audit.Event, error) {
	q := fmt.Sprintf("SELECT %s FROM audit_event WHERE id = $1", auditCols)
	return scanEvent(r.pool.QueryRow(ctx, q, id))
}

func (r *RepoPG) Search(ctx context.Context, params SearchParams, limit, offset int) ([]*audit.Event, int, error) {
	where := []string{}
	args := []interface{}{}
	idx := 1

	if params.UserID != "" {
		where = append(where, fmt.Sprintf("user_id = $%d", idx))
		args = append(args, params.UserID)
		idx++
	}
	if params.CorrelationID != "" {
		where = append(where, fmt.Sprintf("correlation_id = $%d", idx))
		args = append(args, params.CorrelationID)
		idx++
	}
	if params.Action != "" {
		where = append(where, fmt.Sprintf("action = $%d", idx))
		args = append(args, params.Action)
		idx++
	}
	if params.ResourceType != "" {
		where = append(where, fmt.Sprintf("resource_type = $%d", idx))
		args = append(args, params.ResourceType)
		idx++
	}
	if params.MinRiskScore > 0 {
		where = append(where, fmt.Sprintf("risk_score >= $%d", idx))
		args = append(args, params.MinRiskScore)
		idx++
	}
	if params.OnlyFailures {
		where = append(where, "success = FALSE")
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	countQ := fmt.Sprintf("SELECT COUNT(*) FROM audit_event %s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit events: %w", err)
	}

	q := fmt.Sprintf("SELECT %s FROM audit_event %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		auditCols, whereClause, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var items []*audit.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan audit event: %w", err)
		}
		items = append(items, ev)
	}
	return items, total, rows.Err()
}
