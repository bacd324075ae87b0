package remediation

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type RoleKind string

const (
	KindMute        RoleKind = "mute"
	KindRaidGuard   RoleKind = "raid_guard"
	KindAppRestrict RoleKind = "app_restrict"
)

// RoleSpec names a remediation role and the channel permissions it denies.
type RoleSpec struct {
	Name     string
	Deny     int64
	Channels []ChannelKind
}

const (
	muteDeny = discordgo.PermissionSendMessages |
		discordgo.PermissionAddReactions |
		discordgo.PermissionVoiceSpeak |
		discordgo.PermissionSendMessagesInThreads |
		discordgo.PermissionCreatePublicThreads |
		discordgo.PermissionCreatePrivateThreads

	raidGuardDeny = discordgo.PermissionSendMessages |
		discordgo.PermissionAddReactions |
		discordgo.PermissionSendMessagesInThreads |
		discordgo.PermissionCreatePublicThreads |
		discordgo.PermissionCreatePrivateThreads

	appRestrictDeny = discordgo.PermissionManageChannels |
		discordgo.PermissionManageRoles |
		discordgo.PermissionManageWebhooks |
		discordgo.PermissionUseSlashCommands
)

var allChannels = []ChannelKind{ChannelText, ChannelVoice, ChannelCategory}

// DefaultSpecs builds the role table from configured role names.
func DefaultSpecs(muteName, raidGuardName, appRestrictName string) map[RoleKind]RoleSpec {
	return map[RoleKind]RoleSpec{
		KindMute:        {Name: muteName, Deny: muteDeny, Channels: allChannels},
		KindRaidGuard:   {Name: raidGuardName, Deny: raidGuardDeny, Channels: allChannels},
		KindAppRestrict: {Name: appRestrictName, Deny: appRestrictDeny, Channels: allChannels},
	}
}

// Roles resolves remediation roles per community. The first resolution looks
// the role up by name and creates it only when absent; concurrent first use
// shares one resolution.
type Roles struct {
	platform Platform
	specs    map[RoleKind]RoleSpec
	logger   *zap.Logger

	group singleflight.Group
	mu    sync.RWMutex
	memo  map[string]string
}

func NewRoles(platform Platform, specs map[RoleKind]RoleSpec, logger *zap.Logger) *Roles {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Roles{
		platform: platform,
		specs:    specs,
		logger:   logger,
		memo:     make(map[string]string),
	}
}

func memoKey(guildID string, kind RoleKind) string {
	return guildID + "/" + string(kind)
}

// Ensure returns the role id for kind in guildID.
func (r *Roles) Ensure(ctx context.Context, guildID string, kind RoleKind) (string, error) {
	key := memoKey(guildID, kind)
	if id, ok := r.cached(key); ok {
		return id, nil
	}
	spec, ok := r.specs[kind]
	if !ok {
		return "", fmt.Errorf("unknown role kind %q", kind)
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		if id, ok := r.cached(key); ok {
			return id, nil
		}
		id, err := r.resolve(ctx, guildID, spec)
		if err != nil {
			return "", err
		}
		r.mu.Lock()
		r.memo[key] = id
		r.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Cached returns the memoised role id without touching the platform.
func (r *Roles) Cached(guildID string, kind RoleKind) (string, bool) {
	return r.cached(memoKey(guildID, kind))
}

// Forget drops any memo pointing at roleID, typically after the role was deleted.
func (r *Roles) Forget(guildID, roleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for kind := range r.specs {
		key := memoKey(guildID, kind)
		if r.memo[key] == roleID {
			delete(r.memo, key)
		}
	}
}

func (r *Roles) cached(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.memo[key]
	return id, ok
}

func (r *Roles) resolve(ctx context.Context, guildID string, spec RoleSpec) (string, error) {
	roles, err := r.platform.GuildRoles(ctx, guildID)
	if err != nil {
		return "", fmt.Errorf("list roles: %w", err)
	}
	for _, role := range roles {
		if role.Name == spec.Name {
			r.wire(ctx, guildID, role.ID, spec)
			return role.ID, nil
		}
	}

	role, err := r.platform.CreateRole(ctx, guildID, spec.Name)
	if err != nil {
		return "", fmt.Errorf("create role %s: %w", spec.Name, err)
	}
	r.logger.Info("remediation role created", zap.String("guild_id", guildID), zap.String("role", spec.Name), zap.String("role_id", role.ID))
	r.wire(ctx, guildID, role.ID, spec)
	return role.ID, nil
}

// wire applies the deny overrides on every matching channel. A channel that
// refuses the override is logged and skipped.
func (r *Roles) wire(ctx context.Context, guildID, roleID string, spec RoleSpec) {
	channels, err := r.platform.GuildChannels(ctx, guildID)
	if err != nil {
		r.logger.Warn("list channels failed", zap.String("guild_id", guildID), zap.Error(err))
		return
	}
	for _, channel := range channels {
		if !kindIn(channel.Kind, spec.Channels) {
			continue
		}
		if err := r.platform.DenyRole(ctx, channel.ID, roleID, spec.Deny); err != nil {
			r.logger.Warn("channel override failed",
				zap.String("guild_id", guildID),
				zap.String("channel_id", channel.ID),
				zap.String("role", spec.Name),
				zap.Error(err),
			)
		}
	}
}

func kindIn(kind ChannelKind, kinds []ChannelKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
