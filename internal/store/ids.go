// Package store abstracts the relational database: contacts, messages,
// actions, usage counters, and knowledge-base rows. Every write carries a
// tenant-scoped identifier so that a missing tenant check is a compile-time
// error rather than a runtime one.
package store

import "fmt"

// TenantID identifies a Tenant. It is never constructed from raw tool
// arguments — only from config or a routed event.
type TenantID int64

func (t TenantID) String() string { return fmt.Sprintf("tenant:%d", int64(t)) }

// ChatbotID identifies a Chatbot (child of a Tenant).
type ChatbotID int64

// ContactID identifies a Contact (conversational counterparty).
type ContactID int64

// MessageID identifies a persisted Message row.
type MessageID int64

// ActionID identifies a human-in-the-loop Action row.
type ActionID int64

// AgentID identifies an entry in the agent registry (internal/agent.Registry).
type AgentID string

// ThreadID is the opaque, stable string an Agent uses to key its own
// conversation memory. One per (tenant, contact); never regenerated.
type ThreadID string
