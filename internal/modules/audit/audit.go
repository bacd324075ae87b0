package audit

import (
	"context"
	"time"

	"guardbot/internal/storage"

	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

// Event names recorded in the audit trail.
const (
	EventSpam           = "spam"
	EventThreadSpam     = "thread_spam"
	EventRaid           = "raid"
	EventRaidCleared    = "raid_cleared"
	EventDeniedBot      = "denied_bot"
	EventNuke           = "nuke"
	EventPhotosensitive = "photosensitive"
	EventNGWord         = "ngword"
	EventInsult         = "insult"
	EventRemediation    = "remediation_failed"
)

type Sink interface {
	AddAuditLog(ctx context.Context, log storage.AuditLog) error
}

type Logger struct {
	sink   Sink
	logger *zap.Logger
	now    func() time.Time
	notify []func(context.Context, storage.AuditLog)
}

func NewLogger(sink Sink, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{sink: sink, logger: logger, now: time.Now}
}

// AddNotifier registers a callback that mirrors every entry, typically to
// the community's log channel or a metrics counter. Register before
// logging starts.
func (l *Logger) AddNotifier(notify func(context.Context, storage.AuditLog)) {
	l.notify = append(l.notify, notify)
}

func (l *Logger) Log(ctx context.Context, level, guildID, userID, event, details string) {
	if l == nil {
		return
	}
	entry := storage.AuditLog{
		GuildID:   guildID,
		UserID:    userID,
		Level:     level,
		Event:     event,
		Details:   details,
		CreatedAt: l.now(),
	}
	if l.sink != nil {
		if err := l.sink.AddAuditLog(ctx, entry); err != nil {
			l.logger.Warn("audit store failed", zap.String("event", event), zap.Error(err))
		}
	}
	for _, notify := range l.notify {
		notify(ctx, entry)
	}

	fields := []zap.Field{
		zap.String("level", level),
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.String("event", event),
		zap.String("details", details),
	}
	switch level {
	case LevelCrit:
		l.logger.Error("audit", fields...)
	case LevelWarn:
		l.logger.Warn("audit", fields...)
	default:
		l.logger.Info("audit", fields...)
	}
}
