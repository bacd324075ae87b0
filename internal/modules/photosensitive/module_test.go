package photosensitive

import (
	"context"
	"image/color"
	"sync"
	"testing"
	"time"

	"guardbot/internal/modules/audit"
	"guardbot/internal/policy"
	"guardbot/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type remote struct {
	meta Meta
	data []byte
	err  error
}

type fakeSource struct {
	mu      sync.Mutex
	remotes map[string]remote
	heads   []string
	gets    []string
}

func (f *fakeSource) Head(_ context.Context, rawURL string) (Meta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heads = append(f.heads, rawURL)
	r, ok := f.remotes[rawURL]
	if !ok {
		return Meta{}, ErrInaccessible
	}
	return r.meta, nil
}

func (f *fakeSource) Get(_ context.Context, rawURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, rawURL)
	r, ok := f.remotes[rawURL]
	if !ok {
		return nil, ErrInaccessible
	}
	return r.data, r.err
}

type fakeEnforcer struct {
	mu      sync.Mutex
	deleted []string
	muted   []time.Duration
	posted  []string
}

func (f *fakeEnforcer) DeleteMessage(_ context.Context, _, _, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeEnforcer) MuteFor(_ context.Context, _, _ string, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = append(f.muted, d)
	return nil
}

func (f *fakeEnforcer) PostTransient(_ context.Context, _, _, text string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, text)
	return nil
}

type staticExemptions map[policy.Category][]string

func (s staticExemptions) IsExempt(_ context.Context, _ string, roles []string, category policy.Category) bool {
	return policy.Exempt(s, roles, category)
}

type memorySink struct {
	mu      sync.Mutex
	entries []string
}

func (m *memorySink) AddAuditLog(_ context.Context, log storage.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, log.Event)
	return nil
}

func flashingGIF(t *testing.T) []byte {
	var colors []color.Color
	for i := 0; i < 10; i++ {
		if i%2 == 0 {
			colors = append(colors, color.RGBA{0, 0, 0, 255})
		} else {
			colors = append(colors, color.RGBA{0, 255, 255, 255})
		}
	}
	return solidGIF(t, colors, 8, 2)
}

func calmGIF(t *testing.T) []byte {
	return solidGIF(t, []color.Color{color.RGBA{90, 90, 90, 255}, color.RGBA{92, 92, 92, 255}}, 8, 10)
}

func newTestModule(source *fakeSource, exempt staticExemptions) (*Module, *fakeEnforcer, *memorySink) {
	enforcer := &fakeEnforcer{}
	sink := &memorySink{}
	cfg := Config{Limits: testLimits, Classifier: DefaultClassifier(), MuteFor: 10 * time.Minute, WarningTTL: 10 * time.Second}
	module := New(cfg, source, enforcer, exempt, audit.NewLogger(sink, zap.NewNop()), zap.NewNop())
	return module, enforcer, sink
}

func imageMessage(content string, attachments ...*discordgo.MessageAttachment) *discordgo.Message {
	return &discordgo.Message{
		ID:          "m1",
		ChannelID:   "c1",
		GuildID:     "g1",
		Content:     content,
		Author:      &discordgo.User{ID: "u1"},
		Member:      &discordgo.Member{Roles: []string{"r1"}},
		Attachments: attachments,
	}
}

func TestFlashingAttachmentIsRemoved(t *testing.T) {
	data := flashingGIF(t)
	source := &fakeSource{remotes: map[string]remote{
		"https://cdn.test/flash.gif": {data: data},
	}}
	module, enforcer, sink := newTestModule(source, nil)

	msg := imageMessage("", &discordgo.MessageAttachment{URL: "https://cdn.test/flash.gif", Filename: "flash.gif", ContentType: "image/gif", Size: len(data)})
	verdict, flagged := module.HandleMessage(context.Background(), msg, false)
	if !flagged || verdict.Reason != ReasonFlashing {
		t.Fatalf("expected flashing verdict, got %+v", verdict)
	}
	if len(enforcer.deleted) != 1 || len(enforcer.muted) != 1 || enforcer.muted[0] != 10*time.Minute {
		t.Fatalf("expected delete and 10m mute, got %+v", enforcer)
	}
	if len(enforcer.posted) != 1 || len(sink.entries) != 1 || sink.entries[0] != audit.EventPhotosensitive {
		t.Fatalf("expected warning and audit entry, got %v %v", enforcer.posted, sink.entries)
	}
	if len(source.heads) != 0 {
		t.Fatalf("expected attachments to skip the metadata check")
	}
}

func TestOversizedAttachmentIsNotFetched(t *testing.T) {
	source := &fakeSource{}
	module, enforcer, _ := newTestModule(source, nil)

	msg := imageMessage("", &discordgo.MessageAttachment{URL: "https://cdn.test/big.gif", Filename: "big.gif", Size: 16 << 20})
	verdict, flagged := module.HandleMessage(context.Background(), msg, false)
	if !flagged || verdict.Reason != ReasonOversized {
		t.Fatalf("expected oversized verdict, got %+v", verdict)
	}
	if len(source.gets) != 0 || len(enforcer.deleted) != 1 {
		t.Fatalf("expected no download and one delete, got gets=%v", source.gets)
	}
}

func TestScanStopsAtFirstDangerousImage(t *testing.T) {
	data := flashingGIF(t)
	source := &fakeSource{remotes: map[string]remote{
		"https://cdn.test/calm.gif": {data: calmGIF(t)},
		"https://cdn.test/a.gif":    {data: data},
		"https://cdn.test/b.gif":    {data: data},
	}}
	module, enforcer, _ := newTestModule(source, nil)

	msg := imageMessage("",
		&discordgo.MessageAttachment{URL: "https://cdn.test/notes.txt", Filename: "notes.txt", ContentType: "text/plain"},
		&discordgo.MessageAttachment{URL: "https://cdn.test/calm.gif", Filename: "calm.gif"},
		&discordgo.MessageAttachment{URL: "https://cdn.test/a.gif", Filename: "a.gif"},
		&discordgo.MessageAttachment{URL: "https://cdn.test/b.gif", Filename: "b.gif"},
	)
	if _, flagged := module.HandleMessage(context.Background(), msg, false); !flagged {
		t.Fatalf("expected message to be flagged")
	}
	if len(source.gets) != 2 || source.gets[1] != "https://cdn.test/a.gif" {
		t.Fatalf("expected scan to stop after a.gif, got %v", source.gets)
	}
	if len(enforcer.deleted) != 1 {
		t.Fatalf("expected one remediation, got %d", len(enforcer.deleted))
	}
}

func TestSafeImagesPass(t *testing.T) {
	source := &fakeSource{remotes: map[string]remote{
		"https://cdn.test/calm.gif":  {data: calmGIF(t)},
		"https://cdn.test/photo.png": {},
	}}
	module, enforcer, _ := newTestModule(source, nil)

	msg := imageMessage("",
		&discordgo.MessageAttachment{URL: "https://cdn.test/calm.gif", Filename: "calm.gif", ContentType: "image/gif"},
		&discordgo.MessageAttachment{URL: "https://cdn.test/photo.png", Filename: "photo.png", ContentType: "image/png", Size: 2048},
	)
	if verdict, flagged := module.HandleMessage(context.Background(), msg, false); flagged {
		t.Fatalf("expected safe images to pass, got %+v", verdict)
	}
	if len(source.gets) != 1 || len(enforcer.deleted) != 0 {
		t.Fatalf("expected only the gif to be downloaded, got %v", source.gets)
	}
}

func TestExemptMemberIsSkipped(t *testing.T) {
	source := &fakeSource{remotes: map[string]remote{"https://cdn.test/flash.gif": {data: flashingGIF(t)}}}
	module, enforcer, _ := newTestModule(source, staticExemptions{policy.CategoryPhotosensitive: {"r1"}})

	msg := imageMessage("", &discordgo.MessageAttachment{URL: "https://cdn.test/flash.gif", Filename: "flash.gif"})
	if _, flagged := module.HandleMessage(context.Background(), msg, false); flagged {
		t.Fatalf("expected exempt member to be skipped")
	}
	if len(source.gets) != 0 || len(enforcer.deleted) != 0 {
		t.Fatalf("expected no work for exempt member")
	}
}

func TestImageURLScanning(t *testing.T) {
	source := &fakeSource{remotes: map[string]remote{
		"https://site.test/page":      {meta: Meta{ContentType: "text/html"}},
		"https://cdn.test/slow.gif":   {meta: Meta{ContentType: "image/gif", Size: 1024}, err: ErrTimeout},
		"https://cdn.test/unused.gif": {meta: Meta{ContentType: "image/gif"}},
	}}
	module, enforcer, _ := newTestModule(source, nil)
	content := "look https://gone.test/x.gif https://site.test/page https://cdn.test/slow.gif https://cdn.test/unused.gif"

	if _, flagged := module.HandleMessage(context.Background(), imageMessage(content), false); flagged {
		t.Fatalf("expected urls to be ignored when scanning is off")
	}
	if len(source.heads) != 0 {
		t.Fatalf("expected no metadata checks when scanning is off")
	}

	verdict, flagged := module.HandleMessage(context.Background(), imageMessage(content), true)
	if !flagged || verdict.Reason != ReasonFetchTimeout {
		t.Fatalf("expected the failed gif download to be dangerous, got %+v", verdict)
	}
	if len(source.heads) != 3 || len(source.gets) != 1 {
		t.Fatalf("expected three heads and one get, got %v %v", source.heads, source.gets)
	}
	if len(enforcer.deleted) != 1 {
		t.Fatalf("expected message to be deleted")
	}
}

func TestImageURLIsFetchedAsPosted(t *testing.T) {
	posted := "https://cdn.test/flash.gif?utm_source=chat&b=2&a=1#frag"
	source := &fakeSource{remotes: map[string]remote{
		posted:                       {meta: Meta{ContentType: "image/gif"}, data: flashingGIF(t)},
		"https://cdn.test/flash.gif": {meta: Meta{ContentType: "image/gif"}, data: calmGIF(t)},
	}}
	module, _, _ := newTestModule(source, nil)

	verdict, flagged := module.HandleMessage(context.Background(), imageMessage("see "+posted), true)
	if !flagged || verdict.Reason != ReasonFlashing {
		t.Fatalf("expected the posted link to be analyzed and flagged, got %+v", verdict)
	}
	if len(source.heads) != 1 || source.heads[0] != posted {
		t.Fatalf("expected head on %s, got %v", posted, source.heads)
	}
	if len(source.gets) != 1 || source.gets[0] != posted {
		t.Fatalf("expected get on %s, got %v", posted, source.gets)
	}
}

func TestUntypedGIFLinkIsAnalyzedByExtension(t *testing.T) {
	source := &fakeSource{remotes: map[string]remote{
		"https://cdn.test/a.gif":    {meta: Meta{ContentType: "application/octet-stream"}, data: flashingGIF(t)},
		"https://cdn.test/file":     {meta: Meta{ContentType: "application/octet-stream"}, data: flashingGIF(t)},
		"https://cdn.test/page.gif": {meta: Meta{ContentType: "text/html"}, data: flashingGIF(t)},
	}}
	module, _, _ := newTestModule(source, nil)

	_, flagged := module.HandleMessage(context.Background(), imageMessage("https://cdn.test/file https://cdn.test/page.gif"), true)
	if flagged || len(source.gets) != 0 {
		t.Fatalf("expected untyped links without an image extension and typed non-images to be skipped, gets=%v", source.gets)
	}
	verdict, flagged := module.HandleMessage(context.Background(), imageMessage("https://cdn.test/a.gif"), true)
	if !flagged || verdict.Reason != ReasonFlashing {
		t.Fatalf("expected the untyped gif link to be analyzed, got %+v", verdict)
	}
}

func TestBotsAreIgnored(t *testing.T) {
	source := &fakeSource{}
	module, _, _ := newTestModule(source, nil)
	msg := imageMessage("", &discordgo.MessageAttachment{URL: "https://cdn.test/big.gif", Filename: "big.gif", Size: 16 << 20})
	msg.Author.Bot = true
	if _, flagged := module.HandleMessage(context.Background(), msg, false); flagged {
		t.Fatalf("expected bot message to be ignored")
	}
}
