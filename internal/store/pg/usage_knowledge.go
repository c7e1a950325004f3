package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/choptalini/chatbot/internal/store"
)

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *Store) IncrementUsage(ctx context.Context, tenantID store.TenantID, day time.Time) (*store.UsageCounter, error) {
	d := truncateToDay(day)
	var u store.UsageCounter
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO usage_counters (tenant_id, day, outbound_count, campaign_count)
		 VALUES ($1, $2, 1, 0)
		 ON CONFLICT (tenant_id, day) DO UPDATE SET outbound_count = usage_counters.outbound_count + 1
		 RETURNING tenant_id, day, outbound_count, campaign_count`,
		int64(tenantID), d,
	).Scan(&u.TenantID, &u.Date, &u.OutboundCount, &u.CampaignCount)
	if err != nil {
		return nil, fmt.Errorf("pg: increment usage: %w", err)
	}
	return &u, nil
}

// EnsureUsageRow pre-creates a zero-valued usage_counters row for the given
// tenant/day if one doesn't already exist. The maintenance scheduler uses
// this to pre-warm tomorrow's row, rather than IncrementUsage, which always
// bumps outbound_count by one.
func (s *Store) EnsureUsageRow(ctx context.Context, tenantID store.TenantID, day time.Time) error {
	d := truncateToDay(day)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_counters (tenant_id, day, outbound_count, campaign_count)
		 VALUES ($1, $2, 0, 0)
		 ON CONFLICT (tenant_id, day) DO NOTHING`,
		int64(tenantID), d,
	)
	if err != nil {
		return fmt.Errorf("pg: ensure usage row: %w", err)
	}
	return nil
}

func (s *Store) UsageToday(ctx context.Context, tenantID store.TenantID, day time.Time) (*store.UsageCounter, error) {
	d := truncateToDay(day)
	var u store.UsageCounter
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, day, outbound_count, campaign_count FROM usage_counters WHERE tenant_id = $1 AND day = $2`,
		int64(tenantID), d,
	).Scan(&u.TenantID, &u.Date, &u.OutboundCount, &u.CampaignCount)
	if err == sql.ErrNoRows {
		return &store.UsageCounter{TenantID: tenantID, Date: d}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pg: usage today: %w", err)
	}
	return &u, nil
}

// UsageMonth sums outbound_count across every day in month's calendar month,
// the aggregate usage.Enforcer needs to check the monthly cap alongside the
// daily one.
func (s *Store) UsageMonth(ctx context.Context, tenantID store.TenantID, month time.Time) (int64, error) {
	start := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(outbound_count) FROM usage_counters WHERE tenant_id = $1 AND day >= $2 AND day < $3`,
		int64(tenantID), start, end,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("pg: usage month: %w", err)
	}
	return total.Int64, nil
}

func (s *Store) UpsertKnowledgeEntry(ctx context.Context, e *store.KnowledgeEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_entries (tenant_id, chatbot_id, category, question, answer, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (tenant_id, chatbot_id, question)
		 DO UPDATE SET category = EXCLUDED.category, answer = EXCLUDED.answer, is_active = EXCLUDED.is_active`,
		int64(e.TenantID), int64(e.ChatbotID), e.Category, e.Question, e.Answer, e.IsActive,
	)
	if err != nil {
		return fmt.Errorf("pg: upsert knowledge entry: %w", err)
	}
	return nil
}
