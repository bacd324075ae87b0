package ngword

import (
	"context"
	"sync"
	"testing"
	"time"

	"guardbot/internal/modules/audit"
	"guardbot/internal/policy"
	"guardbot/internal/remediation"
	"guardbot/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type fakeEnforcer struct {
	mu       sync.Mutex
	deleted  []string
	delayed  []time.Duration
	dms      []string
	levels   []int
	replies  []string
	replyErr error
}

func (f *fakeEnforcer) DeleteMessage(_ context.Context, _, _, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeEnforcer) DeleteMessageAfter(_, _, _ string, delay time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delayed = append(f.delayed, delay)
}

func (f *fakeEnforcer) DirectMessage(_ context.Context, _, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dms = append(f.dms, text)
	return nil
}

func (f *fakeEnforcer) Punish(_ context.Context, _, _ string, level int, _ string) (remediation.Punishment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.levels = append(f.levels, level)
	return remediation.PunishmentFor(level), nil
}

func (f *fakeEnforcer) Reply(_ context.Context, _, _, _, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, text)
	return "reply", f.replyErr
}

type staticSettings storage.GuildSettings

func (s staticSettings) GetGuildSettings(_ context.Context, guildID string, _ storage.GuildSettings) (storage.GuildSettings, error) {
	settings := storage.GuildSettings(s)
	settings.GuildID = guildID
	return settings, nil
}

type staticExemptions map[policy.Category][]string

func (s staticExemptions) IsExempt(_ context.Context, _ string, roles []string, category policy.Category) bool {
	return policy.Exempt(s, roles, category)
}

type memorySink struct {
	mu      sync.Mutex
	entries []storage.AuditLog
}

func (m *memorySink) AddAuditLog(_ context.Context, log storage.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, log)
	return nil
}

var testConfig = Config{
	InsultWords: []string{"idiot", "kill yourself", "バカ"},
	InsultReply: "Please keep it respectful.",
	DeleteDelay: 3 * time.Second,
}

func newTestModule(settings storage.GuildSettings, exempt staticExemptions) (*Module, *fakeEnforcer, *memorySink) {
	enforcer := &fakeEnforcer{}
	sink := &memorySink{}
	module := New(testConfig, enforcer, exempt, staticSettings(settings), audit.NewLogger(sink, zap.NewNop()), zap.NewNop())
	return module, enforcer, sink
}

func message(content string, roles ...string) *discordgo.Message {
	return &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		GuildID:   "g1",
		Content:   content,
		Author:    &discordgo.User{ID: "u1"},
		Member:    &discordgo.Member{Roles: roles},
	}
}

func TestFirstMatch(t *testing.T) {
	words := []string{"spoiler", "Secret", ""}
	if word, ok := FirstMatch(words, "this is a SECRET", false); !ok || word != "Secret" {
		t.Fatalf("expected case-insensitive match, got %q %v", word, ok)
	}
	if _, ok := FirstMatch(words, "this is a SECRET", true); ok {
		t.Fatalf("expected case-sensitive miss")
	}
	if word, ok := FirstMatch(words, "Secret spoiler", true); !ok || word != "spoiler" {
		t.Fatalf("expected list order to win, got %q", word)
	}
	if word, ok := FirstMatch([]string{"abc"}, "ＡＢＣ", false); !ok || word != "abc" {
		t.Fatalf("expected full-width text to fold, got %q %v", word, ok)
	}
}

func TestInsultMatcher(t *testing.T) {
	matcher := NewInsultMatcher([]string{"idiot", "バカ", " "})
	if word, ok := matcher.Match("You IDIOT"); !ok || word != "idiot" {
		t.Fatalf("expected idiot, got %q %v", word, ok)
	}
	if word, ok := matcher.Match("お前バカだな"); !ok || word != "バカ" {
		t.Fatalf("expected katakana match, got %q %v", word, ok)
	}
	if word, ok := matcher.Match("ＩＤＩＯＴ!"); !ok || word != "idiot" {
		t.Fatalf("expected full-width text to fold, got %q %v", word, ok)
	}
	if _, ok := matcher.Match("have a nice day"); ok {
		t.Fatalf("expected no match")
	}
	if _, ok := NewInsultMatcher(nil).Match("idiot"); ok {
		t.Fatalf("expected empty matcher to never match")
	}
}

func TestNGWordDeletesAndPunishes(t *testing.T) {
	settings := storage.GuildSettings{NGWords: storage.NGWordRuleset{Words: []string{"badword"}, DMOnHit: true, Punishment: 3}}
	module, enforcer, sink := newTestModule(settings, nil)

	result := module.HandleMessage(context.Background(), message("this has a BADWORD in it"))
	if result.Word != "badword" || result.Punishment.Kind != remediation.PunishTimeout || result.Punishment.Duration != 5*time.Minute {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(enforcer.deleted) != 1 || len(enforcer.dms) != 1 || len(enforcer.levels) != 1 || enforcer.levels[0] != 3 {
		t.Fatalf("expected delete, dm and punishment level 3, got %+v", enforcer)
	}
	if len(sink.entries) != 1 || sink.entries[0].Event != audit.EventNGWord || sink.entries[0].Level != audit.LevelWarn {
		t.Fatalf("expected warn ngword audit entry, got %+v", sink.entries)
	}
}

func TestNGWordLowLevelOnlyDeletes(t *testing.T) {
	settings := storage.GuildSettings{NGWords: storage.NGWordRuleset{Words: []string{"badword"}, Punishment: 1}}
	module, enforcer, sink := newTestModule(settings, nil)

	result := module.HandleMessage(context.Background(), message("badword"))
	if result.Punishment.Kind != remediation.PunishNone {
		t.Fatalf("expected no punishment, got %v", result.Punishment)
	}
	if len(enforcer.deleted) != 1 || len(enforcer.dms) != 0 {
		t.Fatalf("expected delete without dm")
	}
	if sink.entries[0].Level != audit.LevelInfo {
		t.Fatalf("expected info level, got %s", sink.entries[0].Level)
	}
}

func TestNGWordEditsRequireCheckEdits(t *testing.T) {
	settings := storage.GuildSettings{NGWords: storage.NGWordRuleset{Words: []string{"badword"}}, InsultFilter: true}
	module, enforcer, _ := newTestModule(settings, nil)

	if result := module.HandleMessageUpdate(context.Background(), message("badword idiot")); result.Word != "" || result.Insult != "" {
		t.Fatalf("expected edits to be ignored, got %+v", result)
	}

	settings.NGWords.CheckEdits = true
	module, enforcer, _ = newTestModule(settings, nil)
	result := module.HandleMessageUpdate(context.Background(), message("badword idiot"))
	if result.Word != "badword" || result.Insult != "" {
		t.Fatalf("expected only the ng-word layer on edits, got %+v", result)
	}
	if len(enforcer.deleted) != 1 || len(enforcer.replies) != 0 {
		t.Fatalf("unexpected enforcer calls %+v", enforcer)
	}
}

func TestExceptionRolesSkipNGWordsOnly(t *testing.T) {
	settings := storage.GuildSettings{
		InsultFilter: true,
		NGWords:      storage.NGWordRuleset{Words: []string{"badword"}, ExceptionRoles: []string{"trusted"}},
	}
	module, enforcer, _ := newTestModule(settings, nil)

	result := module.HandleMessage(context.Background(), message("badword idiot", "trusted"))
	if result.Word != "" || result.Insult != "idiot" {
		t.Fatalf("expected insult layer only, got %+v", result)
	}
	if len(enforcer.deleted) != 0 || len(enforcer.delayed) != 1 {
		t.Fatalf("expected delayed delete only, got %+v", enforcer)
	}
}

func TestProfanityExemptionSkipsEverything(t *testing.T) {
	settings := storage.GuildSettings{
		InsultFilter: true,
		NGWords:      storage.NGWordRuleset{Words: []string{"idiot", "badword"}, Punishment: 9},
	}
	exempt := staticExemptions{policy.CategoryProfanity: {"mod"}}
	module, enforcer, sink := newTestModule(settings, exempt)

	for _, content := range []string{"idiot", "badword", "kill yourself", "IDIOT badword"} {
		result := module.HandleMessage(context.Background(), message(content, "member", "mod"))
		if !result.Exempt || result.Word != "" || result.Insult != "" {
			t.Fatalf("expected exempt member to be skipped for %q, got %+v", content, result)
		}
	}
	if len(enforcer.deleted)+len(enforcer.delayed)+len(enforcer.levels)+len(enforcer.replies) != 0 {
		t.Fatalf("expected no remediation for exempt member, got %+v", enforcer)
	}
	if len(sink.entries) != 0 {
		t.Fatalf("expected exempt members to be skipped silently")
	}
}

func TestInsultRepliesThenDeletesLater(t *testing.T) {
	module, enforcer, sink := newTestModule(storage.GuildSettings{InsultFilter: true}, nil)

	result := module.HandleMessage(context.Background(), message("you are an Idiot"))
	if result.Insult != "idiot" {
		t.Fatalf("expected insult match, got %+v", result)
	}
	if len(enforcer.replies) != 1 || enforcer.replies[0] != testConfig.InsultReply {
		t.Fatalf("expected admonition reply, got %v", enforcer.replies)
	}
	if len(enforcer.delayed) != 1 || enforcer.delayed[0] != 3*time.Second || len(enforcer.deleted) != 0 {
		t.Fatalf("expected a delayed delete, got %+v", enforcer)
	}
	if len(sink.entries) != 1 || sink.entries[0].Event != audit.EventInsult {
		t.Fatalf("expected insult audit entry, got %+v", sink.entries)
	}
}

func TestInsultToggleOff(t *testing.T) {
	module, enforcer, _ := newTestModule(storage.GuildSettings{}, nil)
	if result := module.HandleMessage(context.Background(), message("idiot")); result.Insult != "" {
		t.Fatalf("expected insult filter to be off, got %+v", result)
	}
	if len(enforcer.replies) != 0 {
		t.Fatalf("expected no reply")
	}
}

func TestBothLayersCanHitOneMessage(t *testing.T) {
	settings := storage.GuildSettings{InsultFilter: true, NGWords: storage.NGWordRuleset{Words: []string{"idiot"}}}
	module, enforcer, sink := newTestModule(settings, nil)

	result := module.HandleMessage(context.Background(), message("idiot"))
	if result.Word != "idiot" || result.Insult != "idiot" {
		t.Fatalf("expected both layers to match, got %+v", result)
	}
	if len(enforcer.deleted) != 1 || len(enforcer.delayed) != 1 || len(sink.entries) != 2 {
		t.Fatalf("unexpected calls %+v entries=%d", enforcer, len(sink.entries))
	}
}
