package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/choptalini/chatbot/internal/store"
)

func (s *Store) insertMessage(ctx context.Context, msg *store.Message) (store.MessageID, error) {
	metadata := msg.Metadata
	if metadata == nil {
		metadata = []byte("{}")
	}
	var providerMessageID interface{}
	if msg.ProviderMessageID != "" {
		providerMessageID = msg.ProviderMessageID
	}

	var id store.MessageID
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO messages (provider_message_id, contact_id, tenant_id, chatbot_id, direction, message_type,
			content_text, content_url, status, metadata, user_sent, ai_processed, processing_duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (provider_message_id) DO NOTHING
		 RETURNING id`,
		providerMessageID, int64(msg.ContactID), int64(msg.TenantID), int64(msg.ChatbotID),
		msg.Direction, msg.MessageType, msg.ContentText, msg.ContentURL, msg.Status, metadata,
		msg.UserSent, msg.AIProcessed, msg.ProcessingDurationMS,
	).Scan(&id)
	if err == sql.ErrNoRows {
		// provider_message_id collision: treat as the idempotent redelivery
		// spec.md §8 calls for, not a failure.
		return 0, store.ErrDuplicateProviderMessageID
	}
	if err != nil {
		return 0, fmt.Errorf("pg: insert message: %w", err)
	}
	return id, nil
}

func (s *Store) InsertIncomingMessage(ctx context.Context, msg *store.Message) (store.MessageID, error) {
	msg.Direction = store.DirectionIncoming
	return s.insertMessage(ctx, msg)
}

func (s *Store) InsertOutgoingMessage(ctx context.Context, msg *store.Message) (store.MessageID, error) {
	msg.Direction = store.DirectionOutgoing
	return s.insertMessage(ctx, msg)
}

func (s *Store) InsertManualMessage(ctx context.Context, msg *store.Message) (store.MessageID, error) {
	msg.Direction = store.DirectionManual
	return s.insertMessage(ctx, msg)
}

func (s *Store) InsertInternalMessage(ctx context.Context, msg *store.Message) (store.MessageID, error) {
	msg.Direction = store.DirectionInternal
	return s.insertMessage(ctx, msg)
}

func (s *Store) UpdateMessageStatus(ctx context.Context, tenantID store.TenantID, messageID store.MessageID, status store.MessageStatus, errText string) error {
	metadata := []byte("{}")
	if errText != "" {
		metadata = []byte(fmt.Sprintf(`{"error": %q}`, errText))
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = $1, metadata = metadata || $2::jsonb WHERE tenant_id = $3 AND id = $4`,
		status, metadata, int64(tenantID), int64(messageID),
	)
	if err != nil {
		return fmt.Errorf("pg: update message status: %w", err)
	}
	return nil
}

// UpdateMessageStatusByProviderID updates a message by its BSP-assigned id
// rather than the primary key, for delivery-status webhook callbacks
// (spec.md §7) which never carry our internal MessageID.
func (s *Store) UpdateMessageStatusByProviderID(ctx context.Context, providerMessageID string, status store.MessageStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = $1 WHERE provider_message_id = $2`,
		status, providerMessageID,
	)
	if err != nil {
		return fmt.Errorf("pg: update message status by provider id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("pg: rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) MessageByID(ctx context.Context, tenantID store.TenantID, messageID store.MessageID) (*store.Message, error) {
	var m store.Message
	var metadata []byte
	var providerMessageID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, provider_message_id, contact_id, tenant_id, chatbot_id, direction, message_type,
			content_text, content_url, status, sent_at, metadata, user_sent, ai_processed, processing_duration_ms
		 FROM messages WHERE tenant_id = $1 AND id = $2`,
		int64(tenantID), int64(messageID),
	).Scan(
		&m.ID, &providerMessageID, &m.ContactID, &m.TenantID, &m.ChatbotID, &m.Direction, &m.MessageType,
		&m.ContentText, &m.ContentURL, &m.Status, &m.SentAt, &metadata, &m.UserSent, &m.AIProcessed, &m.ProcessingDurationMS,
	)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: message by id: %w", err)
	}
	m.ProviderMessageID = providerMessageID.String
	m.Metadata = metadata
	return &m, nil
}
