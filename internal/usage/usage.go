// Package usage enforces the per-tenant daily/monthly outbound caps from
// spec.md §4.7. Pre-check is advisory — it may read state up to one
// concurrent message stale — and is backed by a Redis cache to keep the
// hot dispatch path off Postgres; post-increment is always authoritative
// against the Store.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/choptalini/chatbot/internal/store"
)

// Decision is the result of a pre-send check.
type Decision struct {
	Allowed bool
	Reason  string // set when Allowed is false
}

// Enforcer gates outbound sends against the Tenant's subscription caps.
type Enforcer struct {
	store store.Store
	rdb   *redis.Client // nil disables the advisory cache; Store is always consulted on increment
}

// New creates an Enforcer. rdb may be nil, in which case PreCheck always
// falls through to the Store (still advisory, just without the extra hop
// saved).
func New(st store.Store, rdb *redis.Client) *Enforcer {
	return &Enforcer{store: st, rdb: rdb}
}

// PreCheck reports whether tenantID appears to have outbound budget left
// under both its daily and its monthly cap. It never blocks incoming
// processing: dispatch.Pool persists the incoming messages first and, on a
// false Decision, ends the Turn without invoking the agent.
func (e *Enforcer) PreCheck(ctx context.Context, tenantID store.TenantID) (Decision, error) {
	limits, err := e.store.Limits(ctx, tenantID)
	if err != nil {
		return Decision{}, fmt.Errorf("usage: load limits: %w", err)
	}

	now := time.Now()

	if limits.DailyOutboundCap > 0 {
		count, err := e.cachedCount(ctx, tenantID, truncateToDay(now))
		if err != nil {
			return Decision{}, err
		}
		if count >= limits.DailyOutboundCap {
			return Decision{Allowed: false, Reason: "daily_outbound_cap_reached"}, nil
		}
	}

	if limits.MonthlyOutboundCap > 0 {
		monthCount, err := e.cachedMonthCount(ctx, tenantID, now)
		if err != nil {
			return Decision{}, err
		}
		if monthCount >= limits.MonthlyOutboundCap {
			return Decision{Allowed: false, Reason: "monthly_outbound_cap_reached"}, nil
		}
	}

	return Decision{Allowed: true}, nil
}

// Increment records one outbound send and returns the authoritative
// counter row. It always hits the Store; the Redis cache is refreshed
// opportunistically so the next PreCheck sees a fresher value.
func (e *Enforcer) Increment(ctx context.Context, tenantID store.TenantID) (*store.UsageCounter, error) {
	today := truncateToDay(time.Now())

	counter, err := e.store.IncrementUsage(ctx, tenantID, today)
	if err != nil {
		return nil, fmt.Errorf("usage: increment: %w", err)
	}

	if e.rdb != nil {
		key := cacheKey(tenantID, today)
		e.rdb.Set(ctx, key, counter.OutboundCount, 2*time.Hour)
		e.rdb.Del(ctx, monthCacheKey(tenantID, today))
	}

	return counter, nil
}

func (e *Enforcer) cachedMonthCount(ctx context.Context, tenantID store.TenantID, day time.Time) (int64, error) {
	if e.rdb == nil {
		return e.store.UsageMonth(ctx, tenantID, day)
	}

	key := monthCacheKey(tenantID, day)
	val, err := e.rdb.Get(ctx, key).Int64()
	if err == nil {
		return val, nil
	}
	if err != redis.Nil {
		return e.store.UsageMonth(ctx, tenantID, day)
	}

	count, err := e.store.UsageMonth(ctx, tenantID, day)
	if err != nil {
		return 0, fmt.Errorf("usage: load monthly counter: %w", err)
	}
	e.rdb.Set(ctx, key, count, 2*time.Hour)
	return count, nil
}

func (e *Enforcer) cachedCount(ctx context.Context, tenantID store.TenantID, day time.Time) (int64, error) {
	if e.rdb == nil {
		return e.storeCount(ctx, tenantID, day)
	}

	key := cacheKey(tenantID, day)
	val, err := e.rdb.Get(ctx, key).Int64()
	if err == nil {
		return val, nil
	}
	if err != redis.Nil {
		// Redis hiccup: fall back to the authoritative source rather than fail the pre-check.
		return e.storeCount(ctx, tenantID, day)
	}

	count, err := e.storeCount(ctx, tenantID, day)
	if err != nil {
		return 0, err
	}
	e.rdb.Set(ctx, key, count, 2*time.Hour)
	return count, nil
}

func (e *Enforcer) storeCount(ctx context.Context, tenantID store.TenantID, day time.Time) (int64, error) {
	counter, err := e.store.UsageToday(ctx, tenantID, day)
	if err != nil {
		return 0, fmt.Errorf("usage: load counter: %w", err)
	}
	return counter.OutboundCount, nil
}

func cacheKey(tenantID store.TenantID, day time.Time) string {
	return fmt.Sprintf("usage:%d:%s", int64(tenantID), day.Format("2006-01-02"))
}

func monthCacheKey(tenantID store.TenantID, day time.Time) string {
	return fmt.Sprintf("usage:month:%d:%s", int64(tenantID), day.Format("2006-01"))
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
