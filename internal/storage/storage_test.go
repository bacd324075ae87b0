package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"guardbot/internal/policy"
)

func newMemoryStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func newBoltStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open("bolt", filepath.Join(t.TempDir(), "guardbot.db"))
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestUpsertGuildSettings(t *testing.T) {
	for name, store := range map[string]*Store{"sqlite": newMemoryStore(t), "bolt": newBoltStore(t)} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			settings := GuildSettings{
				GuildID:      "g1",
				LogChannelID: "c1",
				GifDetector:  true,
				Exemptions:   map[policy.Category][]string{policy.CategorySpam: {"r1"}},
				NGWords:      NGWordRuleset{Words: []string{"foo"}, Punishment: 3},
			}
			if err := store.UpsertGuildSettings(ctx, settings); err != nil {
				t.Fatalf("upsert guild settings: %v", err)
			}

			settings.LogChannelID = "c2"
			if err := store.UpsertGuildSettings(ctx, settings); err != nil {
				t.Fatalf("update guild settings: %v", err)
			}

			got, err := store.GetGuildSettings(ctx, "g1", GuildSettings{})
			if err != nil {
				t.Fatalf("get guild settings: %v", err)
			}
			if got.LogChannelID != "c2" {
				t.Fatalf("expected channel c2, got %q", got.LogChannelID)
			}
			if !got.GifDetector || got.NGWords.Punishment != 3 || len(got.NGWords.Words) != 1 {
				t.Fatalf("unexpected settings %+v", got)
			}
		})
	}
}

func TestGetGuildSettingsDefaults(t *testing.T) {
	store := newMemoryStore(t)
	got, err := store.GetGuildSettings(context.Background(), "g9", GuildSettings{InsultFilter: true})
	if err != nil {
		t.Fatalf("get guild settings: %v", err)
	}
	if got.GuildID != "g9" || !got.InsultFilter {
		t.Fatalf("expected defaults for g9, got %+v", got)
	}
}

func TestLoadSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guardbot.db")
	ctx := context.Background()

	first, err := Open("bolt", path)
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	if err := first.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := first.UpsertGuildSettings(ctx, GuildSettings{GuildID: "g1", ImageURLScan: true}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	first.Close()

	second, err := Open("bolt", path)
	if err != nil {
		t.Fatalf("reopen bolt: %v", err)
	}
	defer second.Close()
	count, err := second.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 loaded document, got %d", count)
	}
	got, err := second.GetGuildSettings(ctx, "g1", GuildSettings{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.ImageURLScan {
		t.Fatalf("expected image url scan to persist")
	}
}

func TestReturnedSettingsAreCopies(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()
	_ = store.UpsertGuildSettings(ctx, GuildSettings{
		GuildID:    "g1",
		Exemptions: map[policy.Category][]string{policy.CategorySpam: {"r1"}},
	})

	got, _ := store.GetGuildSettings(ctx, "g1", GuildSettings{})
	got.Exemptions[policy.CategorySpam][0] = "mutated"

	again, _ := store.GetGuildSettings(ctx, "g1", GuildSettings{})
	if again.Exemptions[policy.CategorySpam][0] != "r1" {
		t.Fatalf("cache was mutated through returned settings")
	}
}

func TestExemptRoles(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()
	_ = store.UpsertGuildSettings(ctx, GuildSettings{
		GuildID:    "g1",
		Exemptions: map[policy.Category][]string{policy.CategoryProfanity: {"r2"}},
	})

	roles, err := store.ExemptRoles(ctx, "g1", policy.CategoryProfanity)
	if err != nil {
		t.Fatalf("exempt roles: %v", err)
	}
	if len(roles) != 1 || roles[0] != "r2" {
		t.Fatalf("expected [r2], got %v", roles)
	}
	roles, _ = store.ExemptRoles(ctx, "g1", policy.CategorySpam)
	if len(roles) != 0 {
		t.Fatalf("expected no spam exemptions, got %v", roles)
	}
}

func TestAuditLogs(t *testing.T) {
	for name, store := range map[string]*Store{"sqlite": newMemoryStore(t), "bolt": newBoltStore(t)} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			_ = store.AddAuditLog(ctx, AuditLog{GuildID: "g1", Level: "WARN", Event: "spam", CreatedAt: now.Add(-time.Hour)})
			_ = store.AddAuditLog(ctx, AuditLog{GuildID: "g1", Level: "CRIT", Event: "nuke", CreatedAt: now})
			_ = store.AddAuditLog(ctx, AuditLog{GuildID: "g2", Level: "INFO", Event: "raid", CreatedAt: now})
			_ = store.AddAuditLog(ctx, AuditLog{GuildID: "g1", Level: "INFO", Event: "old", CreatedAt: now.AddDate(0, 0, -40)})

			logs, err := store.ListAuditLogs(ctx, "g1", now.Add(-2*time.Hour))
			if err != nil {
				t.Fatalf("list audit logs: %v", err)
			}
			if len(logs) != 2 || logs[0].Event != "nuke" {
				t.Fatalf("expected newest-first g1 logs, got %+v", logs)
			}

			if err := store.CleanupAuditLogs(ctx, 30); err != nil {
				t.Fatalf("cleanup: %v", err)
			}
			logs, _ = store.ListAuditLogs(ctx, "g1", now.AddDate(0, 0, -60))
			if len(logs) != 2 {
				t.Fatalf("expected old log removed, got %d logs", len(logs))
			}
		})
	}
}

func TestRebind(t *testing.T) {
	b := &sqlBackend{dialect: "postgres"}
	got := b.rebind("SELECT a FROM t WHERE x = ? AND y = ?")
	if got != "SELECT a FROM t WHERE x = $1 AND y = $2" {
		t.Fatalf("unexpected rebind %q", got)
	}
	if (&sqlBackend{dialect: "sqlite"}).rebind("?") != "?" {
		t.Fatalf("sqlite queries must stay unchanged")
	}
}

func TestDefaultsAreNotFrozenByFirstCaller(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	first, _ := store.GetGuildSettings(ctx, "g1", GuildSettings{})
	if first.GifDetector {
		t.Fatalf("expected empty defaults")
	}
	second, _ := store.GetGuildSettings(ctx, "g1", GuildSettings{GifDetector: true})
	if !second.GifDetector {
		t.Fatalf("expected caller defaults applied for absent document")
	}
}

func TestUpdateGuildSettingsSerialisesEdits(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()
	defaults := GuildSettings{GifDetector: true}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.UpdateGuildSettings(ctx, "g1", defaults, func(s *GuildSettings) error {
				s.NGWords.Words = append(s.NGWords.Words, string(rune('a'+i)))
				return nil
			})
			if err != nil {
				t.Errorf("update: %v", err)
			}
		}(i)
	}
	wg.Wait()

	settings, err := store.GetGuildSettings(ctx, "g1", GuildSettings{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(settings.NGWords.Words) != 10 || !settings.GifDetector {
		t.Fatalf("expected 10 words on top of defaults, got %+v", settings)
	}

	abort := errors.New("abort")
	if _, err := store.UpdateGuildSettings(ctx, "g1", defaults, func(s *GuildSettings) error {
		s.NGWords.Words = nil
		return abort
	}); !errors.Is(err, abort) {
		t.Fatalf("expected mutate error, got %v", err)
	}
	settings, _ = store.GetGuildSettings(ctx, "g1", GuildSettings{})
	if len(settings.NGWords.Words) != 10 {
		t.Fatalf("expected aborted update to leave settings untouched")
	}
}
