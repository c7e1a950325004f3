// Package pg is the Postgres-backed store.Store implementation: a thin
// database/sql layer over the jackc/pgx/v5 stdlib driver for CRUD, plus a
// dedicated pgx.Conn held open for LISTEN/NOTIFY so row-level change events
// reach the Broadcast Hub without polling (spec.md §4.9).
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/choptalini/chatbot/internal/store"
)

// Store implements store.Store against Postgres.
type Store struct {
	db  *sql.DB
	dsn string

	subMu sync.RWMutex
	subs  []store.ChangeSubscriber
}

// Open connects to Postgres and verifies reachability with a ping. The
// ping failure is what turns into exit code 2 at the CLI boundary
// (spec.md §6: "store unreachable at startup").
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}

	return &Store{db: db, dsn: dsn}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Subscribe registers sub for every change event; tenant filtering happens
// downstream at the Broadcast Hub.
func (s *Store) Subscribe(sub store.ChangeSubscriber) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subs = append(s.subs, sub)
}

func (s *Store) publish(ev store.ChangeEvent) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, sub := range s.subs {
		sub(ev)
	}
}

type notifyPayload struct {
	Name     string          `json:"name"`
	TenantID store.TenantID  `json:"tenant_id"`
	Payload  json.RawMessage `json:"payload"`
}

// Listen opens a dedicated LISTEN connection and forwards every
// chatbot_events notification to registered subscribers until ctx is
// cancelled. A dropped connection is retried with backoff rather than
// ending the listen loop, since ingress keeps accepting traffic while the
// change-notification path reconnects.
func (s *Store) Listen(ctx context.Context) error {
	backoffDelay := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.listenOnce(ctx); err != nil {
			slog.Warn("pg: listen connection dropped, retrying", "error", err, "retry_in", backoffDelay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoffDelay):
			}
			backoffDelay *= 2
			if backoffDelay > maxBackoff {
				backoffDelay = maxBackoff
			}
			continue
		}
		backoffDelay = time.Second
	}
}

func (s *Store) listenOnce(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN chatbot_events"); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for notification: %w", err)
		}

		var p notifyPayload
		if err := json.Unmarshal([]byte(notification.Payload), &p); err != nil {
			slog.Warn("pg: malformed notification payload, dropping", "error", err)
			continue
		}
		s.publish(store.ChangeEvent{Name: p.Name, TenantID: p.TenantID, Payload: p.Payload})
	}
}

func (s *Store) Tenant(ctx context.Context, id store.TenantID) (*store.Tenant, error) {
	var t store.Tenant
	var flags []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, daily_outbound_cap, monthly_outbound_cap, feature_flags FROM tenants WHERE id = $1`,
		int64(id),
	).Scan(&t.ID, &t.DisplayName, &t.DailyOutboundCap, &t.MonthlyOutboundCap, &flags)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: tenant: %w", err)
	}
	if err := json.Unmarshal(flags, &t.FeatureFlags); err != nil {
		return nil, fmt.Errorf("pg: tenant feature_flags: %w", err)
	}
	return &t, nil
}

func (s *Store) Limits(ctx context.Context, id store.TenantID) (*store.Limits, error) {
	t, err := s.Tenant(ctx, id)
	if err != nil {
		return nil, err
	}
	return &store.Limits{
		DailyOutboundCap:   t.DailyOutboundCap,
		MonthlyOutboundCap: t.MonthlyOutboundCap,
		FeatureFlags:       t.FeatureFlags,
	}, nil
}

// TenantIDs lists every tenant id known to the store. Used by the
// maintenance scheduler to pre-warm tomorrow's usage_counters row per
// tenant ahead of the first request that would otherwise have to create it.
func (s *Store) TenantIDs(ctx context.Context) ([]store.TenantID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tenants`)
	if err != nil {
		return nil, fmt.Errorf("pg: tenant ids: %w", err)
	}
	defer rows.Close()

	var ids []store.TenantID
	for rows.Next() {
		var id store.TenantID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pg: scan tenant id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) ChatbotBySenderMSISDN(ctx context.Context, senderMSISDN string) (*store.Chatbot, error) {
	return s.scanChatbot(ctx, `SELECT id, tenant_id, sender_msisdn, instructions, active, agent_id
		FROM chatbots WHERE sender_msisdn = $1`, senderMSISDN)
}

func (s *Store) ChatbotByID(ctx context.Context, tenantID store.TenantID, chatbotID store.ChatbotID) (*store.Chatbot, error) {
	return s.scanChatbot(ctx, `SELECT id, tenant_id, sender_msisdn, instructions, active, agent_id
		FROM chatbots WHERE tenant_id = $1 AND id = $2`, int64(tenantID), int64(chatbotID))
}

func (s *Store) scanChatbot(ctx context.Context, query string, args ...interface{}) (*store.Chatbot, error) {
	var c store.Chatbot
	err := s.db.QueryRowContext(ctx, query, args...).
		Scan(&c.ID, &c.TenantID, &c.SenderMSISDN, &c.Instructions, &c.Active, &c.AgentID)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: chatbot: %w", err)
	}
	return &c, nil
}
