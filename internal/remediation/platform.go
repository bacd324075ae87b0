// Package remediation owns the moderation side effects shared by every
// detector: lazily created remediation roles and the actions applied to
// members and messages.
package remediation

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownMessage is returned by a Platform when the message is already gone.
var ErrUnknownMessage = errors.New("unknown message")

type ChannelKind int

const (
	ChannelOther ChannelKind = iota
	ChannelText
	ChannelVoice
	ChannelCategory
)

type Role struct {
	ID   string
	Name string
}

type Channel struct {
	ID   string
	Kind ChannelKind
}

// Platform is the subset of the chat platform's REST surface used for
// remediation.
type Platform interface {
	GuildRoles(ctx context.Context, guildID string) ([]Role, error)
	CreateRole(ctx context.Context, guildID, name string) (Role, error)
	GuildChannels(ctx context.Context, guildID string) ([]Channel, error)
	DenyRole(ctx context.Context, channelID, roleID string, deny int64) error
	AddMemberRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveMemberRole(ctx context.Context, guildID, userID, roleID string) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	SendMessage(ctx context.Context, channelID, content string) (string, error)
	ReplyMessage(ctx context.Context, channelID, messageID, content string) (string, error)
	DirectMessage(ctx context.Context, userID, content string) error
	TimeoutMember(ctx context.Context, guildID, userID string, until time.Time, reason string) error
	KickMember(ctx context.Context, guildID, userID, reason string) error
	BanMember(ctx context.Context, guildID, userID, reason string) error
}

// FailureRecorder counts failed remediation calls by action.
type FailureRecorder interface {
	RemediationFailed(action string)
}
