package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"guardbot/internal/storage"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const maxLogMessage = 1900

type logChannelAPI interface {
	FindTextChannel(ctx context.Context, guildID, name string) (string, bool, error)
	CreateLogChannel(ctx context.Context, guildID, name, botID string) (string, error)
	SendMessage(ctx context.Context, channelID, content string) (string, error)
}

type settingsStore interface {
	GetGuildSettings(ctx context.Context, guildID string, defaults storage.GuildSettings) (storage.GuildSettings, error)
	UpdateGuildSettings(ctx context.Context, guildID string, defaults storage.GuildSettings, mutate func(*storage.GuildSettings) error) (storage.GuildSettings, error)
}

// logSink mirrors audit entries to a per-community channel that is created
// on first use.
type logSink struct {
	api      logChannelAPI
	settings settingsStore
	defaults storage.GuildSettings
	name     string
	logger   *zap.Logger

	group    singleflight.Group
	mu       sync.Mutex
	selfID   string
	channels map[string]string
}

func newLogSink(api logChannelAPI, settings settingsStore, defaults storage.GuildSettings, name string, logger *zap.Logger) *logSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &logSink{
		api:      api,
		settings: settings,
		defaults: defaults,
		name:     name,
		logger:   logger,
		channels: make(map[string]string),
	}
}

func (s *logSink) setSelf(userID string) {
	s.mu.Lock()
	s.selfID = userID
	s.mu.Unlock()
}

func (s *logSink) Notify(ctx context.Context, entry storage.AuditLog) {
	if entry.GuildID == "" {
		return
	}
	channelID, err := s.channel(ctx, entry.GuildID)
	if err != nil {
		s.logger.Warn("log channel unavailable", zap.String("guild_id", entry.GuildID), zap.Error(err))
		return
	}
	if _, err := s.api.SendMessage(ctx, channelID, formatEntry(entry)); err != nil {
		s.forget(entry.GuildID, channelID)
		s.logger.Warn("log channel send failed", zap.String("guild_id", entry.GuildID), zap.Error(err))
	}
}

func (s *logSink) channel(ctx context.Context, guildID string) (string, error) {
	if id, ok := s.cached(guildID); ok {
		return id, nil
	}
	v, err, _ := s.group.Do(guildID, func() (interface{}, error) {
		if id, ok := s.cached(guildID); ok {
			return id, nil
		}
		id, err := s.resolve(ctx, guildID)
		if err != nil {
			return "", err
		}
		s.mu.Lock()
		s.channels[guildID] = id
		s.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *logSink) resolve(ctx context.Context, guildID string) (string, error) {
	settings, err := s.settings.GetGuildSettings(ctx, guildID, s.defaults)
	if err != nil {
		return "", fmt.Errorf("load settings: %w", err)
	}
	if settings.LogChannelID != "" {
		return settings.LogChannelID, nil
	}

	id, found, err := s.api.FindTextChannel(ctx, guildID, s.name)
	if err != nil {
		return "", fmt.Errorf("find log channel: %w", err)
	}
	if !found {
		s.mu.Lock()
		selfID := s.selfID
		s.mu.Unlock()
		if id, err = s.api.CreateLogChannel(ctx, guildID, s.name, selfID); err != nil {
			return "", fmt.Errorf("create log channel: %w", err)
		}
		s.logger.Info("log channel created", zap.String("guild_id", guildID), zap.String("channel_id", id))
	}

	_, err = s.settings.UpdateGuildSettings(ctx, guildID, s.defaults, func(settings *storage.GuildSettings) error {
		settings.LogChannelID = id
		return nil
	})
	if err != nil {
		s.logger.Warn("log channel not persisted", zap.String("guild_id", guildID), zap.Error(err))
	}
	return id, nil
}

func (s *logSink) cached(guildID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.channels[guildID]
	return id, ok
}

// forget drops a channel that was deleted or is no longer writable so the
// next entry resolves it again.
func (s *logSink) forget(guildID, channelID string) {
	s.mu.Lock()
	if s.channels[guildID] == channelID {
		delete(s.channels, guildID)
	}
	s.mu.Unlock()

	_, err := s.settings.UpdateGuildSettings(context.Background(), guildID, s.defaults, func(settings *storage.GuildSettings) error {
		if settings.LogChannelID != channelID {
			return errNoChange
		}
		settings.LogChannelID = ""
		return nil
	})
	if err != nil && !errors.Is(err, errNoChange) {
		s.logger.Warn("log channel reset failed", zap.String("guild_id", guildID), zap.Error(err))
	}
}

func formatEntry(entry storage.AuditLog) string {
	text := fmt.Sprintf("**[%s] %s**", entry.Level, entry.Event)
	if entry.UserID != "" {
		text += fmt.Sprintf(" <@%s>", entry.UserID)
	}
	if entry.Details != "" {
		text += "\n" + entry.Details
	}
	if utf8.RuneCountInString(text) > maxLogMessage {
		runes := []rune(text)
		text = string(runes[:maxLogMessage]) + "..."
	}
	return text
}
