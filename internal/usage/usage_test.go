package usage

import (
	"context"
	"testing"
	"time"

	"github.com/choptalini/chatbot/internal/store"
)

type fakeUsageStore struct {
	store.Store
	limits     *store.Limits
	counter    *store.UsageCounter
	monthCount int64
}

func (f *fakeUsageStore) Limits(ctx context.Context, id store.TenantID) (*store.Limits, error) {
	return f.limits, nil
}

func (f *fakeUsageStore) UsageToday(ctx context.Context, id store.TenantID, day time.Time) (*store.UsageCounter, error) {
	return f.counter, nil
}

func (f *fakeUsageStore) IncrementUsage(ctx context.Context, id store.TenantID, day time.Time) (*store.UsageCounter, error) {
	f.counter.OutboundCount++
	return f.counter, nil
}

func (f *fakeUsageStore) UsageMonth(ctx context.Context, id store.TenantID, month time.Time) (int64, error) {
	return f.monthCount, nil
}

func TestEnforcer_PreCheck_UnlimitedWhenCapZero(t *testing.T) {
	fs := &fakeUsageStore{limits: &store.Limits{DailyOutboundCap: 0}, counter: &store.UsageCounter{}}
	e := New(fs, nil)

	decision, err := e.PreCheck(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Error("expected unlimited tenant to always be allowed")
	}
}

func TestEnforcer_PreCheck_BlocksAtCap(t *testing.T) {
	fs := &fakeUsageStore{
		limits:  &store.Limits{DailyOutboundCap: 5},
		counter: &store.UsageCounter{OutboundCount: 5},
	}
	e := New(fs, nil)

	decision, err := e.PreCheck(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Error("expected tenant at cap to be blocked")
	}
	if decision.Reason == "" {
		t.Error("expected a reason when blocked")
	}
}

func TestEnforcer_PreCheck_BlocksAtMonthlyCapEvenUnderDailyCap(t *testing.T) {
	fs := &fakeUsageStore{
		limits:     &store.Limits{DailyOutboundCap: 1000, MonthlyOutboundCap: 50},
		counter:    &store.UsageCounter{OutboundCount: 1},
		monthCount: 50,
	}
	e := New(fs, nil)

	decision, err := e.PreCheck(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Error("expected tenant at monthly cap to be blocked despite daily headroom")
	}
	if decision.Reason != "monthly_outbound_cap_reached" {
		t.Errorf("Reason = %q, want monthly_outbound_cap_reached", decision.Reason)
	}
}

func TestEnforcer_Increment_AlwaysHitsStore(t *testing.T) {
	fs := &fakeUsageStore{
		limits:  &store.Limits{DailyOutboundCap: 10},
		counter: &store.UsageCounter{OutboundCount: 3},
	}
	e := New(fs, nil)

	counter, err := e.Increment(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counter.OutboundCount != 4 {
		t.Errorf("OutboundCount = %d, want 4", counter.OutboundCount)
	}
}
