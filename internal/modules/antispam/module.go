package antispam

import (
	"context"
	"fmt"
	"strings"
	"time"

	"guardbot/internal/modules/audit"
	"guardbot/internal/policy"
	"guardbot/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Config struct {
	Messages   int
	Window     time.Duration
	Similarity float64
	WarningTTL time.Duration
}

// Enforcer is the remediation surface used on a spam verdict.
type Enforcer interface {
	DeleteMessage(ctx context.Context, guildID, channelID, messageID string) error
	Mute(ctx context.Context, guildID, userID string) error
	PostTransient(ctx context.Context, guildID, channelID, text string, ttl time.Duration) error
}

type Exemptions interface {
	IsExempt(ctx context.Context, guildID string, memberRoles []string, category policy.Category) bool
}

type Result struct {
	Spam    bool
	Exempt  bool
	Similar int
}

type Module struct {
	cfg      Config
	tracker  *utils.Tracker[utils.ActorKey, string]
	locks    *utils.KeyedMutex[utils.ActorKey]
	enforcer Enforcer
	policy   Exemptions
	audit    *audit.Logger
	logger   *zap.Logger
	clock    utils.Clock
}

func New(cfg Config, enforcer Enforcer, exemptions Exemptions, auditLogger *audit.Logger, logger *zap.Logger) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Module{
		cfg:      cfg,
		tracker:  utils.NewTracker[utils.ActorKey, string](),
		locks:    utils.NewKeyedMutex[utils.ActorKey](),
		enforcer: enforcer,
		policy:   exemptions,
		audit:    auditLogger,
		logger:   logger,
		clock:    utils.RealClock(),
	}
}

func (m *Module) WithClock(clock utils.Clock) {
	m.clock = clock
}

// HandleMessage evaluates a guild message from a human author.
func (m *Module) HandleMessage(ctx context.Context, msg *discordgo.Message) Result {
	if msg == nil || msg.Author == nil || msg.Author.Bot || msg.GuildID == "" {
		return Result{}
	}
	var roles []string
	if msg.Member != nil {
		roles = msg.Member.Roles
	}
	if m.policy != nil && m.policy.IsExempt(ctx, msg.GuildID, roles, policy.CategorySpam) {
		return Result{Exempt: true}
	}
	if strings.TrimSpace(msg.Content) == "" {
		return Result{}
	}

	similar := m.evaluate(msg.GuildID, msg.Author.ID, msg.Content)
	if similar < m.cfg.Messages {
		return Result{Similar: similar}
	}

	m.remediate(ctx, msg, similar)
	return Result{Spam: true, Similar: similar}
}

// evaluate records content and counts window entries similar to it,
// the new entry included.
func (m *Module) evaluate(guildID, userID, content string) int {
	key := utils.ActorKey{GuildID: guildID, ActorID: userID}
	unlock := m.locks.Lock(key)
	defer unlock.Unlock()

	window := m.tracker.Record(key, m.clock.Now(), m.cfg.Window, content)
	similar := 0
	for _, entry := range window {
		if Similarity(entry.Payload, content) >= m.cfg.Similarity {
			similar++
		}
	}
	return similar
}

func (m *Module) remediate(ctx context.Context, msg *discordgo.Message, similar int) {
	guildID, userID := msg.GuildID, msg.Author.ID
	_ = m.enforcer.DeleteMessage(ctx, guildID, msg.ChannelID, msg.ID)
	_ = m.enforcer.Mute(ctx, guildID, userID)

	warning := fmt.Sprintf("<@%s> has been muted for sending repeated messages.", userID)
	_ = m.enforcer.PostTransient(ctx, guildID, msg.ChannelID, warning, m.cfg.WarningTTL)

	details := fmt.Sprintf("similar=%d threshold=%d window=%s similarity>=%.2f", similar, m.cfg.Messages, m.cfg.Window, m.cfg.Similarity)
	m.audit.Log(ctx, audit.LevelWarn, guildID, userID, audit.EventSpam, details)
}

// Window exposes the tracked entries for an actor.
func (m *Module) Window(guildID, userID string) []utils.Entry[string] {
	return m.tracker.Current(utils.ActorKey{GuildID: guildID, ActorID: userID}, m.clock.Now(), m.cfg.Window)
}
