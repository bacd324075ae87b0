package audit

import (
	"context"
	"errors"
	"testing"

	"guardbot/internal/storage"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type memorySink struct {
	logs []storage.AuditLog
	err  error
}

func (m *memorySink) AddAuditLog(_ context.Context, log storage.AuditLog) error {
	if m.err != nil {
		return m.err
	}
	m.logs = append(m.logs, log)
	return nil
}

func TestLogStoresAndNotifies(t *testing.T) {
	sink := &memorySink{}
	logger := NewLogger(sink, zap.NewNop())

	var notified []storage.AuditLog
	logger.AddNotifier(func(_ context.Context, entry storage.AuditLog) {
		notified = append(notified, entry)
	})

	logger.Log(context.Background(), LevelWarn, "g1", "u1", EventSpam, "3 messages")

	if len(sink.logs) != 1 || sink.logs[0].Event != EventSpam {
		t.Fatalf("expected stored spam entry, got %+v", sink.logs)
	}
	if len(notified) != 1 || notified[0].GuildID != "g1" {
		t.Fatalf("expected notifier to receive entry, got %+v", notified)
	}
	if sink.logs[0].CreatedAt.IsZero() {
		t.Fatalf("expected timestamp")
	}
}

func TestLogLevels(t *testing.T) {
	core, recorded := observer.New(zap.InfoLevel)
	logger := NewLogger(&memorySink{err: errors.New("disk full")}, zap.New(core))

	logger.Log(context.Background(), LevelCrit, "g1", "u1", EventNuke, "role deletions")

	var sawError, sawStoreWarn bool
	for _, entry := range recorded.All() {
		if entry.Message == "audit" && entry.Level == zap.ErrorLevel {
			sawError = true
		}
		if entry.Message == "audit store failed" {
			sawStoreWarn = true
		}
	}
	if !sawError {
		t.Fatalf("expected CRIT entry logged at error level")
	}
	if !sawStoreWarn {
		t.Fatalf("expected store failure to be logged")
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Log(context.Background(), LevelInfo, "g1", "", EventRaid, "")
}
