// Package scheduler runs the broker's daily maintenance sweep: expiring
// stale pending Actions and pre-warming tomorrow's usage_counters rows.
// It is intentionally tiny — one cron expression, one job — unlike the
// job-queue-backed cron lane the chat-agent side of this codebase grew
// for user-scheduled reminders.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/choptalini/chatbot/internal/store"
)

// Scheduler evaluates a single cron expression once a minute and runs the
// maintenance job whenever it comes due.
type Scheduler struct {
	expr string
	st   store.Store

	stop chan struct{}
	done chan struct{}
}

// New builds a Scheduler for the given 5-field cron expression (e.g.
// "17 3 * * *"). It does not start ticking until Start is called.
func New(expr string, st store.Store) *Scheduler {
	return &Scheduler{
		expr: expr,
		st:   st,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start runs the minute-resolution check loop until ctx is cancelled or
// Stop is called. It should be launched in its own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	due, err := gronx.IsDue(s.expr, now)
	if err != nil {
		slog.Error("scheduler: invalid maintenance cron expression", "expr", s.expr, "error", err)
		return
	}
	if !due {
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	s.runMaintenance(jobCtx, now)
}

// Stop ends the check loop and blocks until Start's goroutine has returned.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

// runMaintenance expires Actions past their expires_at and pre-creates
// tomorrow's usage_counters row for every tenant, so the first outbound
// send of the new day isn't the one paying for the row insert.
func (s *Scheduler) runMaintenance(ctx context.Context, now time.Time) {
	expired, err := s.st.ExpireStaleActions(ctx, now)
	if err != nil {
		slog.Error("scheduler: expire stale actions failed", "error", err)
	} else if expired > 0 {
		slog.Info("scheduler: expired stale actions", "count", expired)
	}

	tenantIDs, err := s.st.TenantIDs(ctx)
	if err != nil {
		slog.Error("scheduler: list tenants failed", "error", err)
		return
	}

	tomorrow := now.Add(24 * time.Hour)
	for _, id := range tenantIDs {
		if err := s.st.EnsureUsageRow(ctx, id, tomorrow); err != nil {
			slog.Warn("scheduler: pre-warm usage counter failed", "tenant_id", id, "error", err)
			continue
		}
	}
	slog.Debug("scheduler: maintenance sweep complete", "tenants", len(tenantIDs))
}
