package store

import (
	"context"
	"time"
)

// ChangeEvent is a row-level change notification delivered from the
// database-level change-notification mechanism (Postgres LISTEN/NOTIFY in
// the pg implementation) to the Broadcast Hub.
type ChangeEvent struct {
	Name      string // e.g. "message.incoming", "contact.paused"
	TenantID  TenantID
	Payload   []byte // raw JSON snapshot
}

// ChangeSubscriber receives change notifications. Implementations must
// never block the publisher; a slow subscriber should buffer internally.
type ChangeSubscriber func(ChangeEvent)

// Store is the narrow persistence interface the core depends on. It wraps
// a relational database with JSON columns and an async change-notification
// subscription. Every method that mutates state takes a TenantID and must
// reject writes whose tenant_id does not match the row being written,
// per spec.md §3's ownership invariant.
type Store interface {
	// Tenants / Chatbots (read-mostly; loaded at startup by config, but the
	// Store is the source of truth for the router's fallback lookups and
	// for tool-layer validation).
	ChatbotBySenderMSISDN(ctx context.Context, senderMSISDN string) (*Chatbot, error)
	ChatbotByID(ctx context.Context, tenantID TenantID, chatbotID ChatbotID) (*Chatbot, error)
	Tenant(ctx context.Context, id TenantID) (*Tenant, error)
	Limits(ctx context.Context, id TenantID) (*Limits, error)

	// Contacts
	GetOrCreateContact(ctx context.Context, tenantID TenantID, chatbotID ChatbotID, phoneNumber, displayName string) (*Contact, error)
	Contact(ctx context.Context, tenantID TenantID, contactID ContactID) (*Contact, error)
	TouchLastInteraction(ctx context.Context, tenantID TenantID, contactID ContactID, at time.Time) error
	IsPaused(ctx context.Context, tenantID TenantID, contactID ContactID) (bool, error)
	SetPaused(ctx context.Context, tenantID TenantID, contactID ContactID, paused bool, by string) error

	// Messages
	InsertIncomingMessage(ctx context.Context, msg *Message) (MessageID, error)
	InsertOutgoingMessage(ctx context.Context, msg *Message) (MessageID, error)
	InsertManualMessage(ctx context.Context, msg *Message) (MessageID, error)
	InsertInternalMessage(ctx context.Context, msg *Message) (MessageID, error)
	UpdateMessageStatus(ctx context.Context, tenantID TenantID, messageID MessageID, status MessageStatus, errText string) error
	UpdateMessageStatusByProviderID(ctx context.Context, providerMessageID string, status MessageStatus) error
	MessageByID(ctx context.Context, tenantID TenantID, messageID MessageID) (*Message, error)

	// Actions
	CreateAction(ctx context.Context, a *Action) (ActionID, error)
	Action(ctx context.Context, tenantID TenantID, actionID ActionID) (*Action, error)
	ResolveAction(ctx context.Context, tenantID TenantID, actionID ActionID, status ActionStatus, userResponse string, responseData []byte) error
	UpdateActionIndicatorMessage(ctx context.Context, tenantID TenantID, actionID ActionID, status ActionStatus) error

	// Usage
	IncrementUsage(ctx context.Context, tenantID TenantID, day time.Time) (*UsageCounter, error)
	UsageToday(ctx context.Context, tenantID TenantID, day time.Time) (*UsageCounter, error)
	EnsureUsageRow(ctx context.Context, tenantID TenantID, day time.Time) error
	UsageMonth(ctx context.Context, tenantID TenantID, month time.Time) (int64, error)

	// Knowledge base
	UpsertKnowledgeEntry(ctx context.Context, e *KnowledgeEntry) error

	// Maintenance: cross-tenant sweeps run by the scheduler, not by request
	// handlers. Neither takes a TenantID; ChatbotBySenderMSISDN and
	// UpdateMessageStatusByProviderID likewise key on an MSISDN or a
	// provider message id instead.
	ExpireStaleActions(ctx context.Context, asOf time.Time) (int64, error)
	TenantIDs(ctx context.Context) ([]TenantID, error)

	// Change notifications: Subscribe registers subscriber for all tenants
	// (filtering by tenant_id happens at the Broadcast Hub, not here).
	// Listen runs until ctx is cancelled; it is typically run in its own
	// goroutine by the caller.
	Subscribe(sub ChangeSubscriber)
	Listen(ctx context.Context) error

	Close() error
}
