package remediation

import (
	"context"
	"errors"
	"sync"
	"time"

	"guardbot/internal/utils"

	"go.uber.org/zap"
)

const deletedMemory = 10 * time.Minute

// Actions applies moderation actions. Every failure is logged and counted
// before it is returned so callers may ignore it.
type Actions struct {
	platform Platform
	roles    *Roles
	clock    utils.Clock
	logger   *zap.Logger
	failures FailureRecorder
	ladder   Ladder

	mu      sync.Mutex
	deleted map[string]time.Time
}

func NewActions(platform Platform, roles *Roles, logger *zap.Logger) *Actions {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Actions{
		platform: platform,
		roles:    roles,
		clock:    utils.RealClock(),
		logger:   logger,
		ladder:   DefaultLadder,
		deleted:  make(map[string]time.Time),
	}
}

func (a *Actions) WithClock(clock utils.Clock) {
	a.clock = clock
}

func (a *Actions) WithFailureRecorder(recorder FailureRecorder) {
	a.failures = recorder
}

func (a *Actions) WithLadder(ladder Ladder) {
	a.ladder = ladder
}

func (a *Actions) Roles() *Roles {
	return a.roles
}

// DeleteMessage is idempotent: a message already removed, by us or anyone
// else, counts as deleted.
func (a *Actions) DeleteMessage(ctx context.Context, guildID, channelID, messageID string) error {
	if !a.claimDelete(messageID) {
		return nil
	}
	err := a.platform.DeleteMessage(ctx, channelID, messageID)
	if err == nil || errors.Is(err, ErrUnknownMessage) {
		return nil
	}
	a.releaseDelete(messageID)
	return a.fail("delete_message", guildID, "", err)
}

func (a *Actions) DeleteMessageAfter(guildID, channelID, messageID string, delay time.Duration) {
	a.clock.AfterFunc(delay, func() {
		_ = a.DeleteMessage(context.Background(), guildID, channelID, messageID)
	})
}

func (a *Actions) Mute(ctx context.Context, guildID, userID string) error {
	return a.TagRole(ctx, guildID, userID, KindMute)
}

func (a *Actions) Unmute(ctx context.Context, guildID, userID string) error {
	roleID, err := a.roles.Ensure(ctx, guildID, KindMute)
	if err != nil {
		return a.fail("unmute", guildID, userID, err)
	}
	if err := a.platform.RemoveMemberRole(ctx, guildID, userID, roleID); err != nil {
		return a.fail("unmute", guildID, userID, err)
	}
	return nil
}

// MuteFor mutes now and schedules the unmute.
func (a *Actions) MuteFor(ctx context.Context, guildID, userID string, d time.Duration) error {
	if err := a.Mute(ctx, guildID, userID); err != nil {
		return err
	}
	a.clock.AfterFunc(d, func() {
		_ = a.Unmute(context.Background(), guildID, userID)
	})
	return nil
}

func (a *Actions) Timeout(ctx context.Context, guildID, userID string, d time.Duration, reason string) error {
	until := a.clock.Now().Add(d)
	if err := a.platform.TimeoutMember(ctx, guildID, userID, until, reason); err != nil {
		return a.fail("timeout", guildID, userID, err)
	}
	return nil
}

func (a *Actions) Kick(ctx context.Context, guildID, userID, reason string) error {
	if err := a.platform.KickMember(ctx, guildID, userID, reason); err != nil {
		return a.fail("kick", guildID, userID, err)
	}
	return nil
}

func (a *Actions) Ban(ctx context.Context, guildID, userID, reason string) error {
	if err := a.platform.BanMember(ctx, guildID, userID, reason); err != nil {
		return a.fail("ban", guildID, userID, err)
	}
	return nil
}

// Restrict grants the application-restriction role.
func (a *Actions) Restrict(ctx context.Context, guildID, userID string) error {
	return a.TagRole(ctx, guildID, userID, KindAppRestrict)
}

// EnsureRole resolves the remediation role without granting it.
func (a *Actions) EnsureRole(ctx context.Context, guildID string, kind RoleKind) (string, error) {
	id, err := a.roles.Ensure(ctx, guildID, kind)
	if err != nil {
		return "", a.fail("ensure_"+string(kind), guildID, "", err)
	}
	return id, nil
}

func (a *Actions) TagRole(ctx context.Context, guildID, userID string, kind RoleKind) error {
	action := "tag_" + string(kind)
	roleID, err := a.roles.Ensure(ctx, guildID, kind)
	if err != nil {
		return a.fail(action, guildID, userID, err)
	}
	if err := a.platform.AddMemberRole(ctx, guildID, userID, roleID); err != nil {
		return a.fail(action, guildID, userID, err)
	}
	return nil
}

// Punish applies the ladder action for level and returns what was applied.
func (a *Actions) Punish(ctx context.Context, guildID, userID string, level int, reason string) (Punishment, error) {
	p := a.ladder.For(level)
	var err error
	switch p.Kind {
	case PunishTimeout:
		err = a.Timeout(ctx, guildID, userID, p.Duration, reason)
	case PunishKick:
		err = a.Kick(ctx, guildID, userID, reason)
	case PunishBan:
		err = a.Ban(ctx, guildID, userID, reason)
	}
	return p, err
}

// PostTransient sends text and deletes it after ttl.
func (a *Actions) PostTransient(ctx context.Context, guildID, channelID, text string, ttl time.Duration) error {
	id, err := a.platform.SendMessage(ctx, channelID, text)
	if err != nil {
		return a.fail("post_transient", guildID, "", err)
	}
	a.DeleteMessageAfter(guildID, channelID, id, ttl)
	return nil
}

// Reply answers messageID, falling back to a plain message when the reply
// reference is rejected.
func (a *Actions) Reply(ctx context.Context, guildID, channelID, messageID, text string) (string, error) {
	id, err := a.platform.ReplyMessage(ctx, channelID, messageID, text)
	if err == nil {
		return id, nil
	}
	a.logger.Debug("reply failed, sending plain message", zap.String("channel_id", channelID), zap.Error(err))
	id, err = a.platform.SendMessage(ctx, channelID, text)
	if err != nil {
		return "", a.fail("reply", guildID, "", err)
	}
	return id, nil
}

func (a *Actions) DirectMessage(ctx context.Context, guildID, userID, text string) error {
	if err := a.platform.DirectMessage(ctx, userID, text); err != nil {
		return a.fail("direct_message", guildID, userID, err)
	}
	return nil
}

func (a *Actions) claimDelete(messageID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.clock.Now()
	for id, at := range a.deleted {
		if now.Sub(at) >= deletedMemory {
			delete(a.deleted, id)
		}
	}
	if _, done := a.deleted[messageID]; done {
		return false
	}
	a.deleted[messageID] = now
	return true
}

func (a *Actions) releaseDelete(messageID string) {
	a.mu.Lock()
	delete(a.deleted, messageID)
	a.mu.Unlock()
}

func (a *Actions) fail(action, guildID, userID string, err error) error {
	a.logger.Warn("remediation failed",
		zap.String("action", action),
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.Error(err),
	)
	if a.failures != nil {
		a.failures.RemediationFailed(action)
	}
	return err
}
