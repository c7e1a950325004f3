package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/choptalini/chatbot/internal/store"
)

// GetOrCreateContact looks up a Contact by (tenant, phone number), creating
// one with a fresh ThreadID on first contact. A phone number identifies one
// Contact per tenant regardless of which chatbot first answered it (spec.md
// §3's (tenant_id, phone_number) invariant), so chatbotID here only seeds
// which chatbot owns a brand-new row. ThreadID is a nanoid rather than the
// phone number itself so the Agent's own memory key never leaks a contact's
// real number into logs or provider-side storage.
func (s *Store) GetOrCreateContact(ctx context.Context, tenantID store.TenantID, chatbotID store.ChatbotID, phoneNumber, displayName string) (*store.Contact, error) {
	c, err := s.contactByPhone(ctx, tenantID, phoneNumber)
	if err == nil {
		return c, nil
	}
	if err != store.ErrNotFound {
		return nil, err
	}

	threadID, err := gonanoid.New(21)
	if err != nil {
		return nil, fmt.Errorf("pg: generate thread id: %w", err)
	}

	var id store.ContactID
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO contacts (tenant_id, chatbot_id, phone_number, display_name, thread_id, last_interaction)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (tenant_id, phone_number) DO UPDATE SET phone_number = EXCLUDED.phone_number
		 RETURNING id`,
		int64(tenantID), int64(chatbotID), phoneNumber, displayName, threadID,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("pg: create contact: %w", err)
	}

	return s.Contact(ctx, tenantID, id)
}

func (s *Store) contactByPhone(ctx context.Context, tenantID store.TenantID, phoneNumber string) (*store.Contact, error) {
	return s.scanContact(ctx,
		`SELECT id, tenant_id, chatbot_id, phone_number, display_name, thread_id, paused, paused_at, paused_by, last_interaction, custom_fields
		 FROM contacts WHERE tenant_id = $1 AND phone_number = $2`,
		int64(tenantID), phoneNumber,
	)
}

func (s *Store) Contact(ctx context.Context, tenantID store.TenantID, contactID store.ContactID) (*store.Contact, error) {
	return s.scanContact(ctx,
		`SELECT id, tenant_id, chatbot_id, phone_number, display_name, thread_id, paused, paused_at, paused_by, last_interaction, custom_fields
		 FROM contacts WHERE tenant_id = $1 AND id = $2`,
		int64(tenantID), int64(contactID),
	)
}

func (s *Store) scanContact(ctx context.Context, query string, args ...interface{}) (*store.Contact, error) {
	var c store.Contact
	var customFields []byte
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&c.ID, &c.TenantID, &c.ChatbotID, &c.PhoneNumber, &c.DisplayName, &c.ThreadID,
		&c.Paused, &c.PausedAt, &c.PausedBy, &c.LastInteraction, &customFields,
	)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: contact: %w", err)
	}
	c.CustomFields = customFields
	return &c, nil
}

func (s *Store) TouchLastInteraction(ctx context.Context, tenantID store.TenantID, contactID store.ContactID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET last_interaction = $1 WHERE tenant_id = $2 AND id = $3`,
		at, int64(tenantID), int64(contactID),
	)
	if err != nil {
		return fmt.Errorf("pg: touch last interaction: %w", err)
	}
	return nil
}

func (s *Store) IsPaused(ctx context.Context, tenantID store.TenantID, contactID store.ContactID) (bool, error) {
	var paused bool
	err := s.db.QueryRowContext(ctx,
		`SELECT paused FROM contacts WHERE tenant_id = $1 AND id = $2`,
		int64(tenantID), int64(contactID),
	).Scan(&paused)
	if err == sql.ErrNoRows {
		return false, store.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("pg: is paused: %w", err)
	}
	return paused, nil
}

func (s *Store) SetPaused(ctx context.Context, tenantID store.TenantID, contactID store.ContactID, paused bool, by string) error {
	var pausedAt interface{}
	if paused {
		pausedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET paused = $1, paused_at = $2, paused_by = $3 WHERE tenant_id = $4 AND id = $5`,
		paused, pausedAt, by, int64(tenantID), int64(contactID),
	)
	if err != nil {
		return fmt.Errorf("pg: set paused: %w", err)
	}
	return nil
}
