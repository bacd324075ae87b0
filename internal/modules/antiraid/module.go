package antiraid

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"guardbot/internal/modules/audit"
	"guardbot/internal/playbook"
	"guardbot/internal/remediation"
	"guardbot/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Config struct {
	Baseline   time.Duration
	Window     time.Duration
	Multiplier float64
	Floor      int
	DeniedBots []string
}

// Threshold is max(baselineJoins/hours(Baseline)*hours(Window)*Multiplier, Floor).
func (c Config) Threshold(baselineJoins int) float64 {
	rate := float64(baselineJoins) / c.Baseline.Hours() * c.Window.Hours()
	return math.Max(rate*c.Multiplier, float64(c.Floor))
}

type Enforcer interface {
	EnsureRole(ctx context.Context, guildID string, kind remediation.RoleKind) (string, error)
	TagRole(ctx context.Context, guildID, userID string, kind remediation.RoleKind) error
	Ban(ctx context.Context, guildID, userID, reason string) error
}

type Lockdown interface {
	TriggerLockdown(ctx context.Context, guildID, reason string) bool
	IsLockdown(guildID string) playbook.State
}

type Members interface {
	Member(ctx context.Context, guildID, userID string) (*discordgo.Member, error)
}

type Result struct {
	Triggered   bool
	Tagged      int
	DeniedBot   bool
	JoinsWindow int
	Threshold   float64
}

type Module struct {
	cfg      Config
	denied   map[string]struct{}
	enforcer Enforcer
	lockdown Lockdown
	members  Members
	audit    *audit.Logger
	logger   *zap.Logger
	clock    utils.Clock

	mu        sync.Mutex
	histories map[string]*utils.JoinHistory
	locks     *utils.KeyedMutex[string]
}

func New(cfg Config, enforcer Enforcer, lockdown Lockdown, members Members, auditLogger *audit.Logger, logger *zap.Logger) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	denied := make(map[string]struct{}, len(cfg.DeniedBots))
	for _, id := range cfg.DeniedBots {
		denied[id] = struct{}{}
	}
	return &Module{
		cfg:       cfg,
		denied:    denied,
		enforcer:  enforcer,
		lockdown:  lockdown,
		members:   members,
		audit:     auditLogger,
		logger:    logger,
		clock:     utils.RealClock(),
		histories: make(map[string]*utils.JoinHistory),
		locks:     utils.NewKeyedMutex[string](),
	}
}

func (m *Module) WithClock(clock utils.Clock) {
	m.clock = clock
}

func (m *Module) HandleJoin(ctx context.Context, member *discordgo.Member) Result {
	if member == nil || member.User == nil || member.GuildID == "" {
		return Result{}
	}
	guildID, userID := member.GuildID, member.User.ID
	if member.User.Bot {
		return m.checkBot(ctx, guildID, member.User)
	}

	unlock := m.locks.Lock(guildID)
	now := m.clock.Now()
	history := m.history(guildID)
	history.Add(now, userID)
	joins := history.CountWithin(now, m.cfg.Window)
	threshold := m.cfg.Threshold(history.Total(now))
	result := Result{JoinsWindow: joins, Threshold: threshold}

	if m.lockdown.IsLockdown(guildID).Lockdown {
		unlock.Unlock()
		if m.enforcer.TagRole(ctx, guildID, userID, remediation.KindRaidGuard) == nil {
			result.Tagged = 1
		}
		return result
	}
	if float64(joins) < threshold {
		unlock.Unlock()
		return result
	}

	if _, err := m.enforcer.EnsureRole(ctx, guildID, remediation.KindRaidGuard); err != nil {
		m.logger.Warn("raid guard role unavailable", zap.String("guild_id", guildID), zap.Error(err))
	}
	reason := fmt.Sprintf("%d joins in %s (threshold %.1f)", joins, m.cfg.Window, threshold)
	if !m.lockdown.TriggerLockdown(ctx, guildID, reason) {
		unlock.Unlock()
		return result
	}
	recent := history.Since(now, m.cfg.Window)
	unlock.Unlock()

	result.Triggered = true
	result.Tagged = m.tagRecent(ctx, guildID, recent)

	details := fmt.Sprintf("Raid lockdown active: %s. %d recent joiners received the raid guard role and new joiners will too. "+
		"Review the tagged members, then run /raid clear to end the lockdown; roles already granted are not removed.", reason, result.Tagged)
	m.audit.Log(ctx, audit.LevelCrit, guildID, userID, audit.EventRaid, details)
	return result
}

func (m *Module) checkBot(ctx context.Context, guildID string, user *discordgo.User) Result {
	if _, ok := m.denied[user.ID]; !ok {
		return Result{}
	}
	_ = m.enforcer.Ban(ctx, guildID, user.ID, "known dangerous bot")
	m.audit.Log(ctx, audit.LevelCrit, guildID, user.ID, audit.EventDeniedBot, fmt.Sprintf("banned denied bot %s (%s)", user.Username, user.ID))
	return Result{DeniedBot: true}
}

func (m *Module) tagRecent(ctx context.Context, guildID string, userIDs []string) int {
	roleID, err := m.enforcer.EnsureRole(ctx, guildID, remediation.KindRaidGuard)
	if err != nil {
		return 0
	}
	seen := make(map[string]struct{}, len(userIDs))
	tagged := 0
	for _, userID := range userIDs {
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		if m.hasRole(ctx, guildID, userID, roleID) {
			continue
		}
		if m.enforcer.TagRole(ctx, guildID, userID, remediation.KindRaidGuard) == nil {
			tagged++
		}
	}
	return tagged
}

func (m *Module) hasRole(ctx context.Context, guildID, userID, roleID string) bool {
	if m.members == nil {
		return false
	}
	member, err := m.members.Member(ctx, guildID, userID)
	if err != nil || member == nil {
		return false
	}
	for _, id := range member.Roles {
		if id == roleID {
			return true
		}
	}
	return false
}

func (m *Module) history(guildID string) *utils.JoinHistory {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.histories[guildID]
	if history == nil {
		history = utils.NewJoinHistory(m.cfg.Baseline)
		m.histories[guildID] = history
	}
	return history
}
