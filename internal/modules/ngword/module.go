package ngword

import (
	"context"
	"fmt"
	"time"

	"guardbot/internal/modules/audit"
	"guardbot/internal/policy"
	"guardbot/internal/remediation"
	"guardbot/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Config struct {
	InsultWords []string
	InsultReply string
	DeleteDelay time.Duration
}

type Enforcer interface {
	DeleteMessage(ctx context.Context, guildID, channelID, messageID string) error
	DeleteMessageAfter(guildID, channelID, messageID string, delay time.Duration)
	DirectMessage(ctx context.Context, guildID, userID, text string) error
	Punish(ctx context.Context, guildID, userID string, level int, reason string) (remediation.Punishment, error)
	Reply(ctx context.Context, guildID, channelID, messageID, text string) (string, error)
}

type Exemptions interface {
	IsExempt(ctx context.Context, guildID string, memberRoles []string, category policy.Category) bool
}

type Settings interface {
	GetGuildSettings(ctx context.Context, guildID string, defaults storage.GuildSettings) (storage.GuildSettings, error)
}

type Result struct {
	Exempt     bool
	Word       string
	Punishment remediation.Punishment
	Insult     string
}

type Module struct {
	cfg      Config
	insults  *InsultMatcher
	enforcer Enforcer
	policy   Exemptions
	settings Settings
	audit    *audit.Logger
	logger   *zap.Logger
}

func New(cfg Config, enforcer Enforcer, exemptions Exemptions, settings Settings, auditLogger *audit.Logger, logger *zap.Logger) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Module{
		cfg:      cfg,
		insults:  NewInsultMatcher(cfg.InsultWords),
		enforcer: enforcer,
		policy:   exemptions,
		settings: settings,
		audit:    auditLogger,
		logger:   logger,
	}
}

// HandleMessage runs the configured NG-word rules and, when the community
// enables it, the fixed insult list.
func (m *Module) HandleMessage(ctx context.Context, msg *discordgo.Message) Result {
	return m.handle(ctx, msg, false)
}

// HandleMessageUpdate runs only the NG-word rules and only for communities
// that check edits.
func (m *Module) HandleMessageUpdate(ctx context.Context, msg *discordgo.Message) Result {
	return m.handle(ctx, msg, true)
}

func (m *Module) handle(ctx context.Context, msg *discordgo.Message, edit bool) Result {
	if msg == nil || msg.Author == nil || msg.Author.Bot || msg.GuildID == "" || msg.Content == "" {
		return Result{}
	}
	var roles []string
	if msg.Member != nil {
		roles = msg.Member.Roles
	}
	if m.policy != nil && m.policy.IsExempt(ctx, msg.GuildID, roles, policy.CategoryProfanity) {
		return Result{Exempt: true}
	}

	settings, err := m.settings.GetGuildSettings(ctx, msg.GuildID, storage.GuildSettings{})
	if err != nil {
		m.logger.Warn("ngword settings lookup failed", zap.String("guild_id", msg.GuildID), zap.Error(err))
		return Result{}
	}

	var result Result
	rules := settings.NGWords
	if (!edit || rules.CheckEdits) && !policy.HasAny(roles, rules.ExceptionRoles) {
		if word, ok := FirstMatch(rules.Words, msg.Content, rules.CaseSensitive); ok {
			result.Word = word
			result.Punishment = m.punish(ctx, msg, rules, word)
		}
	}
	if !edit && settings.InsultFilter {
		if word, ok := m.insults.Match(msg.Content); ok {
			result.Insult = word
			m.admonish(ctx, msg, word)
		}
	}
	return result
}

func (m *Module) punish(ctx context.Context, msg *discordgo.Message, rules storage.NGWordRuleset, word string) remediation.Punishment {
	guildID, userID := msg.GuildID, msg.Author.ID
	_ = m.enforcer.DeleteMessage(ctx, guildID, msg.ChannelID, msg.ID)
	if rules.DMOnHit {
		text := fmt.Sprintf("Your message was removed because it contains a blocked word: %q", word)
		_ = m.enforcer.DirectMessage(ctx, guildID, userID, text)
	}

	punishment, _ := m.enforcer.Punish(ctx, guildID, userID, rules.Punishment, "ng-word: "+word)

	level := audit.LevelInfo
	if punishment.Kind != remediation.PunishNone {
		level = audit.LevelWarn
	}
	details := fmt.Sprintf("word=%q level=%d punishment=%s channel=%s message=%s",
		word, rules.Punishment, punishment, msg.ChannelID, msg.ID)
	m.audit.Log(ctx, level, guildID, userID, audit.EventNGWord, details)
	return punishment
}

func (m *Module) admonish(ctx context.Context, msg *discordgo.Message, word string) {
	guildID := msg.GuildID
	if _, err := m.enforcer.Reply(ctx, guildID, msg.ChannelID, msg.ID, m.cfg.InsultReply); err != nil {
		m.logger.Debug("insult reply failed", zap.String("guild_id", guildID), zap.Error(err))
	}
	m.enforcer.DeleteMessageAfter(guildID, msg.ChannelID, msg.ID, m.cfg.DeleteDelay)

	details := fmt.Sprintf("word=%q channel=%s message=%s", word, msg.ChannelID, msg.ID)
	m.audit.Log(ctx, audit.LevelInfo, guildID, msg.Author.ID, audit.EventInsult, details)
}
