package store

import "time"

// Direction is the Message.direction enum from spec.md §3.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
	DirectionManual   Direction = "manual"
	DirectionInternal Direction = "internal"
)

// MessageType is the Message.message_type enum.
type MessageType string

const (
	MessageTypeText            MessageType = "text"
	MessageTypeImage           MessageType = "image"
	MessageTypeAudio           MessageType = "audio"
	MessageTypeDocument        MessageType = "document"
	MessageTypeLocation        MessageType = "location"
	MessageTypeTemplate        MessageType = "template"
	MessageTypeActionIndicator MessageType = "action_indicator"
)

// MessageStatus mirrors BSP delivery states plus our own failure state.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// ActionPriority is the Action.priority enum.
type ActionPriority string

const (
	PriorityLow    ActionPriority = "low"
	PriorityMedium ActionPriority = "medium"
	PriorityHigh   ActionPriority = "high"
)

// ActionStatus is the Action.status enum.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionApproved  ActionStatus = "approved"
	ActionDenied    ActionStatus = "denied"
	ActionCancelled ActionStatus = "cancelled"
)

// Tenant is a read-mostly business account. Created out-of-band.
type Tenant struct {
	ID                TenantID
	DisplayName       string
	DailyOutboundCap  int64 // 0 = unlimited
	MonthlyOutboundCap int64
	FeatureFlags      map[string]bool
}

// Chatbot is a child of Tenant, uniquely keyed by SenderMSISDN.
type Chatbot struct {
	ID           ChatbotID
	TenantID     TenantID
	SenderMSISDN string
	Instructions string
	Active       bool
	AgentID      AgentID
}

// Contact is a conversational counterparty within a tenant.
type Contact struct {
	ID              ContactID
	TenantID        TenantID
	ChatbotID       ChatbotID
	PhoneNumber     string
	DisplayName     string
	ThreadID        ThreadID
	Paused          bool
	PausedAt        *time.Time
	PausedBy        string
	LastInteraction time.Time
	CustomFields    []byte // raw JSON
}

// Message is one logical envelope on the transcript.
type Message struct {
	ID                 MessageID
	ProviderMessageID   string // opaque BSP id; unique when present
	ContactID           ContactID
	TenantID            TenantID
	ChatbotID           ChatbotID
	Direction           Direction
	MessageType         MessageType
	ContentText         string
	ContentURL          string
	Status              MessageStatus
	SentAt              time.Time
	Metadata            []byte // raw JSON
	UserSent            bool
	AIProcessed         bool
	ProcessingDurationMS int64
}

// Action is a human-in-the-loop request raised by an agent tool.
type Action struct {
	ID             ActionID
	TenantID       TenantID
	ChatbotID      ChatbotID
	ContactID      ContactID
	RequestType    string // free-form classification, <=100 chars
	RequestDetails string // <=2000 chars
	RequestData    []byte // raw JSON, <=10KiB
	Priority       ActionPriority
	Status         ActionStatus
	UserResponse   string
	ResponseData   []byte
	CreatedAt      time.Time
	ResolvedAt     *time.Time
	ExpiresAt      *time.Time
}

// UsageCounter is a per-tenant, per-calendar-day outbound throughput row.
type UsageCounter struct {
	TenantID      TenantID
	Date          time.Time // truncated to day, UTC
	OutboundCount int64
	CampaignCount int64
}

// KnowledgeEntry is a per-chatbot Q/A pair populated from catalog events.
type KnowledgeEntry struct {
	TenantID  TenantID
	ChatbotID ChatbotID
	Category  string
	Question  string
	Answer    string
	IsActive  bool
}

// Limits are the subscription-derived caps used by usage enforcement.
type Limits struct {
	DailyOutboundCap   int64 // 0 = unlimited
	MonthlyOutboundCap int64
	FeatureFlags       map[string]bool
}

const (
	MaxRequestTypeLen    = 100
	MaxRequestDetailsLen = 2000
	MaxRequestDataBytes  = 10 * 1024 // 10 KiB, inclusive boundary per spec §8
)
