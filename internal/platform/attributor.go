package platform

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	auditLookupLimit = 5
	auditFreshness   = 30 * time.Second
)

// AuditLogAttributor finds who performed a privileged action by reading the
// most recent matching audit-log entry. It is a best-effort heuristic: a
// near-simultaneous action of the same type may be attributed instead.
type AuditLogAttributor struct {
	session *discordgo.Session
	now     func() time.Time
}

func NewAuditLogAttributor(session *discordgo.Session) *AuditLogAttributor {
	return &AuditLogAttributor{session: session, now: time.Now}
}

// Attribute returns the actor id and whether it is a bot. An empty id means
// no fresh entry matched.
func (a *AuditLogAttributor) Attribute(ctx context.Context, guildID string, action discordgo.AuditLogAction, targetID string) (string, bool, error) {
	logs, err := a.session.GuildAuditLog(guildID, "", "", int(action), auditLookupLimit, discordgo.WithContext(ctx))
	if err != nil {
		return "", false, err
	}
	if logs == nil {
		return "", false, nil
	}
	actorID := freshActor(logs.AuditLogEntries, targetID, a.now())
	if actorID == "" {
		return "", false, nil
	}
	return actorID, a.isBot(guildID, actorID, logs.Users), nil
}

func freshActor(entries []*discordgo.AuditLogEntry, targetID string, now time.Time) string {
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		if targetID != "" && entry.TargetID != targetID {
			continue
		}
		ts, err := discordgo.SnowflakeTimestamp(entry.ID)
		if err == nil && now.Sub(ts) > auditFreshness {
			continue
		}
		return entry.UserID
	}
	return ""
}

func (a *AuditLogAttributor) isBot(guildID, userID string, users []*discordgo.User) bool {
	for _, user := range users {
		if user != nil && user.ID == userID {
			return user.Bot
		}
	}
	if a.session.State != nil {
		if member, err := a.session.State.Member(guildID, userID); err == nil && member.User != nil {
			return member.User.Bot
		}
	}
	if user, err := a.session.User(userID); err == nil && user != nil {
		return user.Bot
	}
	return false
}
