package playbook

import (
	"context"
	"testing"
	"time"

	"guardbot/internal/modules/audit"
	"guardbot/internal/storage"
	"guardbot/internal/utils/clocktest"

	"go.uber.org/zap"
)

func newEngine(t *testing.T) (*Engine, *clocktest.Clock, *storage.Store) {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	engine := New(audit.NewLogger(store, zap.NewNop()))
	clock := clocktest.New(time.Unix(1000, 0))
	engine.WithClock(clock)
	return engine, clock, store
}

func TestPlaybookTrigger(t *testing.T) {
	engine, _, _ := newEngine(t)
	ctx := context.Background()

	if !engine.TriggerLockdown(ctx, "g1", "5 joins in 5m") {
		t.Fatalf("expected trigger")
	}
	if engine.TriggerLockdown(ctx, "g1", "again") {
		t.Fatalf("expected second trigger to be a no-op")
	}
	state := engine.IsLockdown("g1")
	if !state.Lockdown || state.Reason != "5 joins in 5m" || !state.Since.Equal(time.Unix(1000, 0)) {
		t.Fatalf("unexpected state %+v", state)
	}
	if engine.IsLockdown("g2").Lockdown {
		t.Fatalf("expected other community unaffected")
	}
}

func TestTriggerLeavesAuditToCaller(t *testing.T) {
	engine, _, store := newEngine(t)
	ctx := context.Background()

	engine.TriggerLockdown(ctx, "g1", "raid")
	logs, err := store.ListAuditLogs(ctx, "g1", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 0 {
		t.Fatalf("expected no audit entry from trigger, got %d", len(logs))
	}
}

func TestLockdownHasNoAutoExpiry(t *testing.T) {
	engine, clock, _ := newEngine(t)
	ctx := context.Background()

	engine.TriggerLockdown(ctx, "g1", "raid")
	clock.Advance(30 * 24 * time.Hour)
	if !engine.IsLockdown("g1").Lockdown {
		t.Fatalf("expected lockdown to persist until cleared")
	}
	if clock.Pending() != 0 {
		t.Fatalf("expected no scheduled exit")
	}
}

func TestClearLockdown(t *testing.T) {
	engine, _, store := newEngine(t)
	ctx := context.Background()

	if engine.ClearLockdown(ctx, "g1") {
		t.Fatalf("expected clear without lockdown to be a no-op")
	}
	engine.TriggerLockdown(ctx, "g1", "raid")
	if !engine.ClearLockdown(ctx, "g1") {
		t.Fatalf("expected clear")
	}
	if engine.IsLockdown("g1").Lockdown {
		t.Fatalf("expected lockdown cleared")
	}

	logs, err := store.ListAuditLogs(ctx, "g1", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Event != audit.EventRaidCleared {
		t.Fatalf("expected only the clear entry, got %+v", logs)
	}
}
