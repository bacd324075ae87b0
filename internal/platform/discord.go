// Package platform adapts a discordgo session to the interfaces the
// detectors and remediation layer consume.
package platform

import (
	"context"
	"errors"
	"time"

	"guardbot/internal/remediation"

	"github.com/bwmarrin/discordgo"
)

type Discord struct {
	session *discordgo.Session
}

func NewDiscord(session *discordgo.Session) *Discord {
	return &Discord{session: session}
}

func (d *Discord) GuildRoles(ctx context.Context, guildID string) ([]remediation.Role, error) {
	roles, err := d.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]remediation.Role, 0, len(roles))
	for _, role := range roles {
		if role == nil {
			continue
		}
		out = append(out, remediation.Role{ID: role.ID, Name: role.Name})
	}
	return out, nil
}

func (d *Discord) CreateRole(ctx context.Context, guildID, name string) (remediation.Role, error) {
	perms := int64(0)
	mentionable := false
	role, err := d.session.GuildRoleCreate(guildID, &discordgo.RoleParams{
		Name:        name,
		Permissions: &perms,
		Mentionable: &mentionable,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return remediation.Role{}, err
	}
	return remediation.Role{ID: role.ID, Name: role.Name}, nil
}

func (d *Discord) GuildChannels(ctx context.Context, guildID string) ([]remediation.Channel, error) {
	channels, err := d.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]remediation.Channel, 0, len(channels))
	for _, channel := range channels {
		if channel == nil {
			continue
		}
		out = append(out, remediation.Channel{ID: channel.ID, Kind: ChannelKind(channel.Type)})
	}
	return out, nil
}

// ChannelKind groups discord channel types the way remediation roles are wired.
func ChannelKind(t discordgo.ChannelType) remediation.ChannelKind {
	switch t {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews, discordgo.ChannelTypeGuildForum:
		return remediation.ChannelText
	case discordgo.ChannelTypeGuildVoice, discordgo.ChannelTypeGuildStageVoice:
		return remediation.ChannelVoice
	case discordgo.ChannelTypeGuildCategory:
		return remediation.ChannelCategory
	default:
		return remediation.ChannelOther
	}
}

func (d *Discord) DenyRole(ctx context.Context, channelID, roleID string, deny int64) error {
	return d.session.ChannelPermissionSet(channelID, roleID, discordgo.PermissionOverwriteTypeRole, 0, deny, discordgo.WithContext(ctx))
}

func (d *Discord) AddMemberRole(ctx context.Context, guildID, userID, roleID string) error {
	return d.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx))
}

func (d *Discord) RemoveMemberRole(ctx context.Context, guildID, userID, roleID string) error {
	return d.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx))
}

func (d *Discord) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return mapError(d.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

func (d *Discord) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	msg, err := d.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (d *Discord) ReplyMessage(ctx context.Context, channelID, messageID, content string) (string, error) {
	msg, err := d.session.ChannelMessageSendReply(channelID, content, &discordgo.MessageReference{
		MessageID: messageID,
		ChannelID: channelID,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (d *Discord) DirectMessage(ctx context.Context, userID, content string) error {
	channel, err := d.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return err
	}
	_, err = d.session.ChannelMessageSend(channel.ID, content, discordgo.WithContext(ctx))
	return err
}

func (d *Discord) TimeoutMember(ctx context.Context, guildID, userID string, until time.Time, reason string) error {
	return d.session.GuildMemberTimeout(guildID, userID, &until, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
}

func (d *Discord) KickMember(ctx context.Context, guildID, userID, reason string) error {
	return d.session.GuildMemberDeleteWithReason(guildID, userID, reason, discordgo.WithContext(ctx))
}

func (d *Discord) BanMember(ctx context.Context, guildID, userID, reason string) error {
	return d.session.GuildBanCreateWithReason(guildID, userID, reason, 0, discordgo.WithContext(ctx))
}

// Member prefers the state cache and falls back to REST.
func (d *Discord) Member(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	if d.session.State != nil {
		if member, err := d.session.State.Member(guildID, userID); err == nil {
			return member, nil
		}
	}
	return d.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
}

// FindTextChannel returns the first text channel called name.
func (d *Discord) FindTextChannel(ctx context.Context, guildID, name string) (string, bool, error) {
	channels, err := d.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", false, err
	}
	for _, channel := range channels {
		if channel != nil && channel.Type == discordgo.ChannelTypeGuildText && channel.Name == name {
			return channel.ID, true, nil
		}
	}
	return "", false, nil
}

// CreateLogChannel creates a text channel hidden from @everyone and open to
// the bot user.
func (d *Discord) CreateLogChannel(ctx context.Context, guildID, name, botID string) (string, error) {
	overwrites := []*discordgo.PermissionOverwrite{
		{ID: guildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
	}
	if botID != "" {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID:    botID,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: discordgo.PermissionViewChannel | discordgo.PermissionSendMessages | discordgo.PermissionEmbedLinks,
		})
	}
	channel, err := d.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:                 name,
		Type:                 discordgo.ChannelTypeGuildText,
		Topic:                "Moderation log",
		PermissionOverwrites: overwrites,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return channel.ID, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownMessage {
		return remediation.ErrUnknownMessage
	}
	return err
}
