package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/choptalini/chatbot/internal/store"
)

func (s *Store) CreateAction(ctx context.Context, a *store.Action) (store.ActionID, error) {
	if len(a.RequestData) > store.MaxRequestDataBytes {
		return 0, store.ErrRequestDataTooLarge
	}
	requestData := a.RequestData
	if requestData == nil {
		requestData = []byte("{}")
	}
	priority := a.Priority
	if priority == "" {
		priority = store.PriorityMedium
	}

	var id store.ActionID
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO actions (tenant_id, chatbot_id, contact_id, request_type, request_details, request_data, priority, status, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8)
		 RETURNING id`,
		int64(a.TenantID), int64(a.ChatbotID), int64(a.ContactID), a.RequestType, a.RequestDetails,
		requestData, priority, a.ExpiresAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("pg: create action: %w", err)
	}
	return id, nil
}

func (s *Store) Action(ctx context.Context, tenantID store.TenantID, actionID store.ActionID) (*store.Action, error) {
	var a store.Action
	var requestData, responseData []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, chatbot_id, contact_id, request_type, request_details, request_data, priority,
			status, user_response, response_data, created_at, resolved_at, expires_at
		 FROM actions WHERE tenant_id = $1 AND id = $2`,
		int64(tenantID), int64(actionID),
	).Scan(
		&a.ID, &a.TenantID, &a.ChatbotID, &a.ContactID, &a.RequestType, &a.RequestDetails, &requestData,
		&a.Priority, &a.Status, &a.UserResponse, &responseData, &a.CreatedAt, &a.ResolvedAt, &a.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: action: %w", err)
	}
	a.RequestData = requestData
	a.ResponseData = responseData
	return &a, nil
}

// ResolveAction transitions a pending Action to approved/denied. The update
// only matches a row still in status 'pending'; when no row matches (an
// already-resolved or unknown action) it returns ErrActionAlreadyResolved
// and changes nothing.
func (s *Store) ResolveAction(ctx context.Context, tenantID store.TenantID, actionID store.ActionID, status store.ActionStatus, userResponse string, responseData []byte) error {
	if responseData == nil {
		responseData = []byte("{}")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE actions SET status = $1, user_response = $2, response_data = $3, resolved_at = now()
		 WHERE tenant_id = $4 AND id = $5 AND status = 'pending'`,
		status, userResponse, responseData, int64(tenantID), int64(actionID),
	)
	if err != nil {
		return fmt.Errorf("pg: resolve action: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("pg: rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrActionAlreadyResolved
	}
	return nil
}

// UpdateActionIndicatorMessage marks the action_indicator transcript
// message for this action resolved, so the conversation view reflects the
// operator's decision instead of showing a perpetually "pending" card.
func (s *Store) UpdateActionIndicatorMessage(ctx context.Context, tenantID store.TenantID, actionID store.ActionID, status store.ActionStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = 'delivered', metadata = metadata || jsonb_build_object('action_status', $1::text)
		 WHERE tenant_id = $2 AND message_type = 'action_indicator' AND (metadata->>'action_id')::bigint = $3`,
		status, int64(tenantID), int64(actionID),
	)
	if err != nil {
		return fmt.Errorf("pg: update action indicator message: %w", err)
	}
	return nil
}

// ExpireStaleActions cancels every pending Action whose expires_at has
// passed. Run once a day by the maintenance scheduler; it does not scope by
// tenant because it sweeps every tenant in one statement.
func (s *Store) ExpireStaleActions(ctx context.Context, asOf time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE actions SET status = 'cancelled', resolved_at = $1
		 WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at <= $1`,
		asOf,
	)
	if err != nil {
		return 0, fmt.Errorf("pg: expire stale actions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pg: rows affected: %w", err)
	}
	return n, nil
}
