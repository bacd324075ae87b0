package photosensitive

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"guardbot/internal/modules/audit"
	"guardbot/internal/policy"
	"guardbot/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const maxURLCandidates = 5

type Config struct {
	Limits     Limits
	Classifier Classifier
	MuteFor    time.Duration
	WarningTTL time.Duration
}

// Source fetches remote images.
type Source interface {
	Head(ctx context.Context, rawURL string) (Meta, error)
	Get(ctx context.Context, rawURL string) ([]byte, error)
}

type Enforcer interface {
	DeleteMessage(ctx context.Context, guildID, channelID, messageID string) error
	MuteFor(ctx context.Context, guildID, userID string, d time.Duration) error
	PostTransient(ctx context.Context, guildID, channelID, text string, ttl time.Duration) error
}

type Exemptions interface {
	IsExempt(ctx context.Context, guildID string, memberRoles []string, category policy.Category) bool
}

type candidate struct {
	url         string
	contentType string
	size        int64
	attachment  bool
}

type Module struct {
	cfg      Config
	analyzer *Analyzer
	source   Source
	enforcer Enforcer
	policy   Exemptions
	audit    *audit.Logger
	logger   *zap.Logger
}

func New(cfg Config, source Source, enforcer Enforcer, exemptions Exemptions, auditLogger *audit.Logger, logger *zap.Logger) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Module{
		cfg:      cfg,
		analyzer: NewAnalyzer(cfg.Limits, cfg.Classifier),
		source:   source,
		enforcer: enforcer,
		policy:   exemptions,
		audit:    auditLogger,
		logger:   logger,
	}
}

// HandleMessage scans attachments and, when scanURLs is set, image links in
// the text. It stops at the first dangerous candidate.
func (m *Module) HandleMessage(ctx context.Context, msg *discordgo.Message, scanURLs bool) (Verdict, bool) {
	if msg == nil || msg.Author == nil || msg.Author.Bot || msg.GuildID == "" {
		return Verdict{}, false
	}
	var roles []string
	if msg.Member != nil {
		roles = msg.Member.Roles
	}
	if m.policy != nil && m.policy.IsExempt(ctx, msg.GuildID, roles, policy.CategoryPhotosensitive) {
		return Verdict{}, false
	}

	for _, c := range m.candidates(msg, scanURLs) {
		verdict, ok := m.inspect(ctx, c)
		if !ok || !verdict.Dangerous {
			continue
		}
		m.remediate(ctx, msg, c, verdict)
		return verdict, true
	}
	return Verdict{}, false
}

func (m *Module) candidates(msg *discordgo.Message, scanURLs bool) []candidate {
	var out []candidate
	for _, att := range msg.Attachments {
		if att == nil {
			continue
		}
		contentType := mediaType(att.ContentType)
		if contentType == "" {
			contentType = typeByExtension(att.Filename)
		}
		if !strings.HasPrefix(contentType, "image/") {
			continue
		}
		out = append(out, candidate{url: att.URL, contentType: contentType, size: int64(att.Size), attachment: true})
	}
	if !scanURLs {
		return out
	}
	urls := utils.ExtractImageURLs(msg.Content)
	if len(urls) > maxURLCandidates {
		urls = urls[:maxURLCandidates]
	}
	for _, u := range urls {
		out = append(out, candidate{url: u})
	}
	return out
}

// inspect reports ok=false when the candidate was skipped rather than judged.
func (m *Module) inspect(ctx context.Context, c candidate) (Verdict, bool) {
	if !c.attachment {
		meta, err := m.source.Head(ctx, c.url)
		if err != nil {
			m.logger.Debug("image url skipped", zap.String("url", c.url), zap.Error(err))
			return Verdict{}, false
		}
		switch {
		case meta.IsImage():
			c.contentType = meta.ContentType
		case untyped(meta.ContentType) && utils.HasImageExtension(c.url):
			c.contentType = typeByExtension(urlPath(c.url))
		default:
			return Verdict{}, false
		}
		c.size = meta.Size
	}

	if v, bad := m.analyzer.CheckSize(c.size); bad {
		return v, true
	}
	if c.contentType != "image/gif" {
		return Verdict{}, true
	}

	data, err := m.source.Get(ctx, c.url)
	if err != nil {
		reason := ReasonFetch
		switch {
		case errors.Is(err, ErrTooLarge):
			reason = ReasonOversized
		case errors.Is(err, ErrTimeout):
			reason = ReasonFetchTimeout
		}
		m.logger.Info("gif fetch failed", zap.String("url", c.url), zap.Error(err))
		return Verdict{Dangerous: true, Reason: reason}, true
	}
	return m.analyzer.AnalyzeGIF(data), true
}

func (m *Module) remediate(ctx context.Context, msg *discordgo.Message, c candidate, verdict Verdict) {
	guildID, userID := msg.GuildID, msg.Author.ID
	_ = m.enforcer.DeleteMessage(ctx, guildID, msg.ChannelID, msg.ID)
	_ = m.enforcer.MuteFor(ctx, guildID, userID, m.cfg.MuteFor)

	warning := fmt.Sprintf("<@%s> your message was removed because an image was flagged as hazardous (%s). You are muted for %s.",
		userID, verdict.Summary(), m.cfg.MuteFor)
	_ = m.enforcer.PostTransient(ctx, guildID, msg.ChannelID, warning, m.cfg.WarningTTL)

	details := fmt.Sprintf("%s url=%s channel=%s message=%s", verdict.Summary(), c.url, msg.ChannelID, msg.ID)
	m.audit.Log(ctx, audit.LevelWarn, guildID, userID, audit.EventPhotosensitive, details)
}

// untyped reports whether a server declined to name the media type.
func untyped(contentType string) bool {
	switch contentType {
	case "", "application/octet-stream", "binary/octet-stream":
		return true
	}
	return false
}

func urlPath(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Path
}

func typeByExtension(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".gif":
		return "image/gif"
	case ".png", ".apng":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return ""
	}
}
