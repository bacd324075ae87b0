package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"guardbot/internal/policy"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const settingsKey = "settings"

// Backend persists JSON documents keyed by (guild, key) and the audit log.
type Backend interface {
	GetDocument(ctx context.Context, guildID, key string) ([]byte, error)
	PutDocument(ctx context.Context, guildID, key string, value []byte) error
	ListDocuments(ctx context.Context, key string) (map[string][]byte, error)
	AddAuditLog(ctx context.Context, log AuditLog) error
	ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]AuditLog, error)
	CleanupAuditLogs(ctx context.Context, cutoff time.Time) error
	Migrate() error
	Close() error
}

type Store struct {
	backend Backend
	mu      sync.RWMutex
	cache   map[string]cachedSettings
	writes  sync.Mutex
}

// cachedSettings remembers absent documents too, so defaults are applied
// per call rather than frozen in the cache.
type cachedSettings struct {
	settings GuildSettings
	found    bool
}

type GuildSettings struct {
	GuildID      string                       `json:"-"`
	LogChannelID string                       `json:"log_channel_id,omitempty"`
	GifDetector  bool                         `json:"gif_detector"`
	ImageURLScan bool                         `json:"image_url_scan"`
	InsultFilter bool                         `json:"insult_filter"`
	Exemptions   map[policy.Category][]string `json:"exemptions,omitempty"`
	NGWords      NGWordRuleset                `json:"ngwords"`
	ThreadSpam   ThreadSpamOverride           `json:"thread_spam"`
}

type NGWordRuleset struct {
	CaseSensitive  bool     `json:"case_sensitive"`
	CheckEdits     bool     `json:"check_edits"`
	Words          []string `json:"words,omitempty"`
	ExceptionRoles []string `json:"exception_roles,omitempty"`
	DMOnHit        bool     `json:"dm_on_hit"`
	Punishment     int      `json:"punishment"`
}

// ThreadSpamOverride holds per-community thread limits; zero keeps the default.
type ThreadSpamOverride struct {
	Operations     int `json:"operations,omitempty"`
	WindowSeconds  int `json:"window_seconds,omitempty"`
	TimeoutMinutes int `json:"timeout_minutes,omitempty"`
}

type AuditLog struct {
	ID        int64     `json:"id"`
	GuildID   string    `json:"guild_id"`
	UserID    string    `json:"user_id"`
	Level     string    `json:"level"`
	Event     string    `json:"event"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}

// New opens a sqlite store at dbPath.
func New(dbPath string) (*Store, error) {
	return Open("sqlite", dbPath)
}

// Open selects a backend by driver name: sqlite, postgres or bolt.
func Open(driver, dsn string) (*Store, error) {
	var (
		backend Backend
		err     error
	)
	switch driver {
	case "sqlite", "postgres":
		backend, err = openSQL(driver, dsn)
	case "bolt":
		backend, err = openBolt(dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	return NewWithBackend(backend), nil
}

func NewWithBackend(backend Backend) *Store {
	return &Store{backend: backend, cache: make(map[string]cachedSettings)}
}

func (s *Store) Close() {
	if s.backend != nil {
		_ = s.backend.Close()
	}
}

func (s *Store) Migrate() error {
	return s.backend.Migrate()
}

// Load reads every settings document into the cache.
func (s *Store) Load(ctx context.Context) (int, error) {
	docs, err := s.backend.ListDocuments(ctx, settingsKey)
	if err != nil {
		return 0, err
	}
	loaded := make(map[string]GuildSettings, len(docs))
	for guildID, raw := range docs {
		var settings GuildSettings
		if err := json.Unmarshal(raw, &settings); err != nil {
			return 0, fmt.Errorf("decode settings for %s: %w", guildID, err)
		}
		settings.GuildID = guildID
		loaded[guildID] = settings
	}
	s.mu.Lock()
	for guildID, settings := range loaded {
		s.cache[guildID] = cachedSettings{settings: settings, found: true}
	}
	s.mu.Unlock()
	return len(loaded), nil
}

func (s *Store) GetGuildSettings(ctx context.Context, guildID string, defaults GuildSettings) (GuildSettings, error) {
	s.mu.RLock()
	cached, ok := s.cache[guildID]
	s.mu.RUnlock()
	if !ok {
		var err error
		cached, err = s.fetch(ctx, guildID)
		if err != nil {
			return GuildSettings{}, err
		}
	}
	if !cached.found {
		result := defaults.clone()
		result.GuildID = guildID
		return result, nil
	}
	return cached.settings.clone(), nil
}

func (s *Store) fetch(ctx context.Context, guildID string) (cachedSettings, error) {
	raw, err := s.backend.GetDocument(ctx, guildID, settingsKey)
	if err != nil {
		return cachedSettings{}, err
	}
	entry := cachedSettings{}
	if raw != nil {
		if err := json.Unmarshal(raw, &entry.settings); err != nil {
			return cachedSettings{}, fmt.Errorf("decode settings for %s: %w", guildID, err)
		}
		entry.settings.GuildID = guildID
		entry.found = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if raced, ok := s.cache[guildID]; ok {
		return raced, nil
	}
	s.cache[guildID] = entry
	return entry, nil
}

func (s *Store) UpsertGuildSettings(ctx context.Context, settings GuildSettings) error {
	if settings.GuildID == "" {
		return fmt.Errorf("upsert settings: missing guild id")
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	if err := s.backend.PutDocument(ctx, settings.GuildID, settingsKey, raw); err != nil {
		return err
	}
	s.mu.Lock()
	s.cache[settings.GuildID] = cachedSettings{settings: settings.clone(), found: true}
	s.mu.Unlock()
	return nil
}

// UpdateGuildSettings applies mutate to the current settings and persists the
// result. Updates are serialised so concurrent edits are not lost. A mutate
// error aborts the write.
func (s *Store) UpdateGuildSettings(ctx context.Context, guildID string, defaults GuildSettings, mutate func(*GuildSettings) error) (GuildSettings, error) {
	s.writes.Lock()
	defer s.writes.Unlock()

	settings, err := s.GetGuildSettings(ctx, guildID, defaults)
	if err != nil {
		return GuildSettings{}, err
	}
	if err := mutate(&settings); err != nil {
		return GuildSettings{}, err
	}
	settings.GuildID = guildID
	if err := s.UpsertGuildSettings(ctx, settings); err != nil {
		return GuildSettings{}, err
	}
	return settings.clone(), nil
}

// ExemptRoles implements policy.Source.
func (s *Store) ExemptRoles(ctx context.Context, guildID string, category policy.Category) ([]string, error) {
	settings, err := s.GetGuildSettings(ctx, guildID, GuildSettings{})
	if err != nil {
		return nil, err
	}
	return settings.Exemptions[category], nil
}

func (s *Store) AddAuditLog(ctx context.Context, log AuditLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	return s.backend.AddAuditLog(ctx, log)
}

func (s *Store) ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]AuditLog, error) {
	return s.backend.ListAuditLogs(ctx, guildID, since)
}

func (s *Store) CleanupAuditLogs(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	return s.backend.CleanupAuditLogs(ctx, cutoff)
}

func (g GuildSettings) clone() GuildSettings {
	out := g
	if g.Exemptions != nil {
		out.Exemptions = make(map[policy.Category][]string, len(g.Exemptions))
		for category, roles := range g.Exemptions {
			out.Exemptions[category] = append([]string(nil), roles...)
		}
	}
	out.NGWords.Words = append([]string(nil), g.NGWords.Words...)
	out.NGWords.ExceptionRoles = append([]string(nil), g.NGWords.ExceptionRoles...)
	return out
}
