package threadspam

import (
	"context"
	"fmt"
	"time"

	"guardbot/internal/modules/audit"
	"guardbot/internal/policy"
	"guardbot/internal/storage"
	"guardbot/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Config struct {
	Operations int
	Window     time.Duration
	Timeout    time.Duration
}

type Enforcer interface {
	Timeout(ctx context.Context, guildID, userID string, d time.Duration, reason string) error
}

type Exemptions interface {
	IsExempt(ctx context.Context, guildID string, memberRoles []string, category policy.Category) bool
}

// Members resolves a thread owner to a guild member.
type Members interface {
	Member(ctx context.Context, guildID, userID string) (*discordgo.Member, error)
}

// Settings supplies per-community overrides.
type Settings interface {
	GetGuildSettings(ctx context.Context, guildID string, defaults storage.GuildSettings) (storage.GuildSettings, error)
}

type Module struct {
	cfg      Config
	tracker  *utils.Tracker[utils.ActorKey, string]
	locks    *utils.KeyedMutex[utils.ActorKey]
	enforcer Enforcer
	policy   Exemptions
	members  Members
	settings Settings
	audit    *audit.Logger
	logger   *zap.Logger
	clock    utils.Clock
}

func New(cfg Config, enforcer Enforcer, exemptions Exemptions, members Members, settings Settings, auditLogger *audit.Logger, logger *zap.Logger) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Module{
		cfg:      cfg,
		tracker:  utils.NewTracker[utils.ActorKey, string](),
		locks:    utils.NewKeyedMutex[utils.ActorKey](),
		enforcer: enforcer,
		policy:   exemptions,
		members:  members,
		settings: settings,
		audit:    auditLogger,
		logger:   logger,
		clock:    utils.RealClock(),
	}
}

func (m *Module) WithClock(clock utils.Clock) {
	m.clock = clock
}

func (m *Module) HandleThreadCreate(ctx context.Context, thread *discordgo.Channel) bool {
	if thread == nil {
		return false
	}
	return m.record(ctx, thread, "create")
}

// HandleThreadUpdate counts updates that change the name, archived or locked
// state. An unknown previous state counts as a change.
func (m *Module) HandleThreadUpdate(ctx context.Context, thread, before *discordgo.Channel) bool {
	if thread == nil || !Changed(before, thread) {
		return false
	}
	return m.record(ctx, thread, "update")
}

func Changed(before, after *discordgo.Channel) bool {
	if before == nil {
		return true
	}
	if before.Name != after.Name {
		return true
	}
	var wasArchived, wasLocked, isArchived, isLocked bool
	if before.ThreadMetadata != nil {
		wasArchived, wasLocked = before.ThreadMetadata.Archived, before.ThreadMetadata.Locked
	}
	if after.ThreadMetadata != nil {
		isArchived, isLocked = after.ThreadMetadata.Archived, after.ThreadMetadata.Locked
	}
	return wasArchived != isArchived || wasLocked != isLocked
}

func (m *Module) record(ctx context.Context, thread *discordgo.Channel, op string) bool {
	guildID, ownerID := thread.GuildID, thread.OwnerID
	if guildID == "" || ownerID == "" || m.members == nil {
		return false
	}
	member, err := m.members.Member(ctx, guildID, ownerID)
	if err != nil || member == nil || member.User == nil {
		m.logger.Debug("thread owner unresolved", zap.String("guild_id", guildID), zap.String("user_id", ownerID), zap.Error(err))
		return false
	}
	if member.User.Bot {
		return false
	}
	if m.policy != nil && m.policy.IsExempt(ctx, guildID, member.Roles, policy.CategoryThreadSpam) {
		return false
	}

	limits := m.limits(ctx, guildID)
	key := utils.ActorKey{GuildID: guildID, ActorID: ownerID}
	unlock := m.locks.Lock(key)
	count := len(m.tracker.Record(key, m.clock.Now(), limits.Window, op))
	breached := count >= limits.Operations
	if breached {
		m.tracker.Reset(key)
	}
	unlock.Unlock()

	if !breached {
		return false
	}

	reason := fmt.Sprintf("thread spam: %d operations in %s", count, limits.Window)
	_ = m.enforcer.Timeout(ctx, guildID, ownerID, limits.Timeout, reason)
	details := fmt.Sprintf("operations=%d threshold=%d window=%s timeout=%s last=%s thread=%s", count, limits.Operations, limits.Window, limits.Timeout, op, thread.ID)
	m.audit.Log(ctx, audit.LevelWarn, guildID, ownerID, audit.EventThreadSpam, details)
	return true
}

// limits applies non-zero community overrides over the defaults.
func (m *Module) limits(ctx context.Context, guildID string) Config {
	limits := m.cfg
	if m.settings == nil {
		return limits
	}
	settings, err := m.settings.GetGuildSettings(ctx, guildID, storage.GuildSettings{})
	if err != nil {
		m.logger.Warn("thread spam settings failed", zap.String("guild_id", guildID), zap.Error(err))
		return limits
	}
	override := settings.ThreadSpam
	if override.Operations > 0 {
		limits.Operations = override.Operations
	}
	if override.WindowSeconds > 0 {
		limits.Window = time.Duration(override.WindowSeconds) * time.Second
	}
	if override.TimeoutMinutes > 0 {
		limits.Timeout = time.Duration(override.TimeoutMinutes) * time.Minute
	}
	return limits
}
