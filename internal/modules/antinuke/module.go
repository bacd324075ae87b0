package antinuke

import (
	"context"
	"fmt"
	"sync"
	"time"

	"guardbot/internal/modules/audit"
	"guardbot/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Action string

const (
	ActionRoleCreate    Action = "role_create"
	ActionRoleDelete    Action = "role_delete"
	ActionChannelCreate Action = "channel_create"
	ActionChannelDelete Action = "channel_delete"
)

func (a Action) auditType() discordgo.AuditLogAction {
	switch a {
	case ActionRoleCreate:
		return discordgo.AuditLogActionRoleCreate
	case ActionRoleDelete:
		return discordgo.AuditLogActionRoleDelete
	case ActionChannelCreate:
		return discordgo.AuditLogActionChannelCreate
	default:
		return discordgo.AuditLogActionChannelDelete
	}
}

func (a Action) isRole() bool {
	return a == ActionRoleCreate || a == ActionRoleDelete
}

type Config struct {
	Window         time.Duration
	RoleActions    int
	ChannelActions int
}

// Attributor resolves who performed an audited action and whether that
// actor is a bot. Implementations are best effort.
type Attributor interface {
	Attribute(ctx context.Context, guildID string, action discordgo.AuditLogAction, targetID string) (string, bool, error)
}

type Enforcer interface {
	Ban(ctx context.Context, guildID, userID, reason string) error
	Restrict(ctx context.Context, guildID, userID string) error
}

type Result struct {
	ActorID    string
	Roles      int
	Channels   int
	Triggered  bool
	Banned     bool
	Restricted bool
}

type Module struct {
	cfg        Config
	roles      *utils.Tracker[utils.ActorKey, Action]
	channels   *utils.Tracker[utils.ActorKey, Action]
	locks      *utils.KeyedMutex[utils.ActorKey]
	attributor Attributor
	enforcer   Enforcer
	audit      *audit.Logger
	logger     *zap.Logger
	clock      utils.Clock

	mu     sync.RWMutex
	selfID string
}

func New(cfg Config, attributor Attributor, enforcer Enforcer, auditLogger *audit.Logger, logger *zap.Logger) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Module{
		cfg:        cfg,
		roles:      utils.NewTracker[utils.ActorKey, Action](),
		channels:   utils.NewTracker[utils.ActorKey, Action](),
		locks:      utils.NewKeyedMutex[utils.ActorKey](),
		attributor: attributor,
		enforcer:   enforcer,
		audit:      auditLogger,
		logger:     logger,
		clock:      utils.RealClock(),
	}
}

func (m *Module) WithClock(clock utils.Clock) {
	m.clock = clock
}

// SetSelf excludes the running bot's own setup actions.
func (m *Module) SetSelf(userID string) {
	m.mu.Lock()
	m.selfID = userID
	m.mu.Unlock()
}

func (m *Module) self() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selfID
}

// HandleAction attributes a role or channel change and counts it against a
// bot actor.
func (m *Module) HandleAction(ctx context.Context, guildID string, action Action, targetID string) Result {
	if guildID == "" || m.attributor == nil {
		return Result{}
	}
	actorID, isBot, err := m.attributor.Attribute(ctx, guildID, action.auditType(), targetID)
	if err != nil {
		m.logger.Debug("audit attribution failed", zap.String("guild_id", guildID), zap.String("action", string(action)), zap.Error(err))
		return Result{}
	}
	if actorID == "" || !isBot || actorID == m.self() {
		return Result{ActorID: actorID}
	}
	return m.Record(ctx, guildID, actorID, action, targetID)
}

// Record counts an action already attributed to a bot actor.
func (m *Module) Record(ctx context.Context, guildID, actorID string, action Action, targetID string) Result {
	key := utils.ActorKey{GuildID: guildID, ActorID: actorID}
	now := m.clock.Now()

	unlock := m.locks.Lock(key)
	var roles, channels int
	if action.isRole() {
		roles = len(m.roles.Record(key, now, m.cfg.Window, action))
		channels = m.channels.Len(key, now, m.cfg.Window)
	} else {
		channels = len(m.channels.Record(key, now, m.cfg.Window, action))
		roles = m.roles.Len(key, now, m.cfg.Window)
	}
	result := Result{ActorID: actorID, Roles: roles, Channels: channels}
	result.Triggered = roles >= m.cfg.RoleActions || channels >= m.cfg.ChannelActions
	if result.Triggered {
		m.roles.Reset(key)
		m.channels.Reset(key)
	}
	unlock.Unlock()

	if !result.Triggered {
		return result
	}

	evidence := fmt.Sprintf("role_actions=%d/%d channel_actions=%d/%d window=%s last=%s target=%s",
		roles, m.cfg.RoleActions, channels, m.cfg.ChannelActions, m.cfg.Window, action, targetID)
	if err := m.enforcer.Ban(ctx, guildID, actorID, "nuke bot: "+evidence); err == nil {
		result.Banned = true
	} else if err := m.enforcer.Restrict(ctx, guildID, actorID); err == nil {
		result.Restricted = true
	}

	outcome := "banned"
	switch {
	case result.Restricted:
		outcome = "ban failed, application restricted"
	case !result.Banned:
		outcome = "ban and restriction failed"
	}
	m.audit.Log(ctx, audit.LevelCrit, guildID, actorID, audit.EventNuke, evidence+" outcome="+outcome)
	return result
}
