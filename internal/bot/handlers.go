package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"guardbot/internal/policy"
	"guardbot/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	colorInfo  = 0x5865F2
	colorError = 0xED4245
)

type commandOptions map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) commandOptions {
	out := make(commandOptions, len(options))
	for _, opt := range options {
		out[opt.Name] = opt
	}
	return out
}

func (o commandOptions) str(name string) string {
	if opt, ok := o[name]; ok && opt.Type == discordgo.ApplicationCommandOptionString {
		return opt.StringValue()
	}
	return ""
}

func (o commandOptions) on(name string) bool {
	return o.str(name) == "on"
}

func (o commandOptions) role(name string) string {
	if opt, ok := o[name]; ok && opt.Type == discordgo.ApplicationCommandOptionRole {
		return opt.RoleValue(nil, "").ID
	}
	return ""
}

func (o commandOptions) integer(name string) (int, bool) {
	if opt, ok := o[name]; ok && opt.Type == discordgo.ApplicationCommandOptionInteger {
		return int(opt.IntValue()), true
	}
	return 0, false
}

// splitSubcommand returns the subcommand name and its options, or "" and the
// top-level options for commands without subcommands.
func splitSubcommand(options []*discordgo.ApplicationCommandInteractionDataOption) (string, commandOptions) {
	if len(options) == 1 && options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		return options[0].Name, optionMap(options[0].Options)
	}
	return "", optionMap(options)
}

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	defer b.recoverHandler("interaction_create")
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if interaction.GuildID == "" {
		b.respond(session, interaction, "This command only works in a server.", true)
		return
	}

	ctx := context.Background()
	data := interaction.ApplicationCommandData()
	sub, opts := splitSubcommand(data.Options)

	var reply string
	switch data.Name {
	case "raid":
		reply = b.handleRaidCommand(ctx, interaction, sub)
	case "detector":
		reply = b.handleDetectorCommand(ctx, interaction, opts)
	case "exempt":
		reply = b.handleExemptCommand(ctx, interaction, sub, opts)
	case "ngword":
		reply = b.handleNGWordCommand(ctx, interaction, sub, opts)
	case "report":
		b.respondEmbed(session, interaction, b.handleReportCommand(ctx, interaction, opts), true)
		return
	default:
		reply = "Unknown command."
	}
	b.respond(session, interaction, reply, true)
}

func (b *Bot) handleRaidCommand(ctx context.Context, interaction *discordgo.InteractionCreate, sub string) string {
	guildID := interaction.GuildID
	switch sub {
	case "status":
		state := b.playbook.IsLockdown(guildID)
		if !state.Lockdown {
			return "Raid lockdown is not active."
		}
		return fmt.Sprintf("Raid lockdown active since <t:%d:R>: %s", state.Since.Unix(), state.Reason)
	case "clear":
		if !b.playbook.ClearLockdown(ctx, guildID) {
			return "Raid lockdown was not active."
		}
		return "Raid lockdown cleared. Raid-guard roles stay on tagged members until removed."
	default:
		return "Unknown subcommand."
	}
}

func (b *Bot) handleDetectorCommand(ctx context.Context, interaction *discordgo.InteractionCreate, opts commandOptions) string {
	name, on := opts.str("name"), opts.on("state")
	err := b.updateSettings(ctx, interaction.GuildID, func(settings *storage.GuildSettings) error {
		return setDetector(settings, name, on)
	})
	if err != nil {
		return b.commandError("detector", err)
	}
	return fmt.Sprintf("Detector %s is now %s.", name, onOff(on))
}

func (b *Bot) handleExemptCommand(ctx context.Context, interaction *discordgo.InteractionCreate, sub string, opts commandOptions) string {
	guildID := interaction.GuildID
	rawCategory := opts.str("category")
	category, ok := policy.ParseCategory(rawCategory)
	if !ok && (sub != "list" || rawCategory != "") {
		return fmt.Sprintf("Unknown category %q.", rawCategory)
	}
	roleID := opts.role("role")

	switch sub {
	case "add":
		err := b.updateSettings(ctx, guildID, func(settings *storage.GuildSettings) error {
			return addExemption(settings, category, roleID)
		})
		if errors.Is(err, errNoChange) {
			return fmt.Sprintf("<@&%s> is already exempt from %s.", roleID, category)
		}
		if err != nil {
			return b.commandError("exempt add", err)
		}
		return fmt.Sprintf("<@&%s> is now exempt from %s.", roleID, category)
	case "remove":
		err := b.updateSettings(ctx, guildID, func(settings *storage.GuildSettings) error {
			return removeExemption(settings, category, roleID)
		})
		if errors.Is(err, errNoChange) {
			return fmt.Sprintf("<@&%s> was not exempt from %s.", roleID, category)
		}
		if err != nil {
			return b.commandError("exempt remove", err)
		}
		return fmt.Sprintf("<@&%s> is no longer exempt from %s.", roleID, category)
	case "list":
		settings := b.guildSettings(ctx, guildID)
		categories := policy.Categories
		if ok {
			categories = []policy.Category{category}
		}
		return formatExemptions(settings, categories)
	default:
		return "Unknown subcommand."
	}
}

func (b *Bot) handleNGWordCommand(ctx context.Context, interaction *discordgo.InteractionCreate, sub string, opts commandOptions) string {
	guildID := interaction.GuildID
	var (
		mutate func(*storage.GuildSettings) error
		done   string
	)
	switch sub {
	case "list":
		return formatRuleset(b.guildSettings(ctx, guildID).NGWords)
	case "add":
		word := opts.str("word")
		mutate = func(s *storage.GuildSettings) error { return addWord(s, word) }
		done = fmt.Sprintf("Added %q.", word)
	case "remove":
		word := opts.str("word")
		mutate = func(s *storage.GuildSettings) error { return removeWord(s, word) }
		done = fmt.Sprintf("Removed %q.", word)
	case "punish":
		level, _ := opts.integer("level")
		mutate = func(s *storage.GuildSettings) error { return setPunishment(s, level) }
		done = fmt.Sprintf("Punishment level set to %d.", level)
	case "dm":
		on := opts.on("state")
		mutate = func(s *storage.GuildSettings) error { s.NGWords.DMOnHit = on; return nil }
		done = fmt.Sprintf("DM on hit is now %s.", onOff(on))
	case "case":
		on := opts.on("state")
		mutate = func(s *storage.GuildSettings) error { s.NGWords.CaseSensitive = on; return nil }
		done = fmt.Sprintf("Case-sensitive matching is now %s.", onOff(on))
	case "edits":
		on := opts.on("state")
		mutate = func(s *storage.GuildSettings) error { s.NGWords.CheckEdits = on; return nil }
		done = fmt.Sprintf("Edit checking is now %s.", onOff(on))
	case "exception":
		roleID, on := opts.role("role"), opts.on("state")
		mutate = func(s *storage.GuildSettings) error { return setException(s, roleID, on) }
		done = fmt.Sprintf("<@&%s> exception is now %s.", roleID, onOff(on))
	default:
		return "Unknown subcommand."
	}

	err := b.updateSettings(ctx, guildID, mutate)
	if errors.Is(err, errNoChange) {
		return "Nothing changed."
	}
	if err != nil {
		return b.commandError("ngword "+sub, err)
	}
	return done
}

func (b *Bot) handleReportCommand(ctx context.Context, interaction *discordgo.InteractionCreate, opts commandOptions) *discordgo.MessageEmbed {
	period := opts.str("period")
	since := time.Now().Add(-24 * time.Hour)
	if period == "week" {
		since = time.Now().Add(-7 * 24 * time.Hour)
	}
	report, err := b.analytics.Report(ctx, interaction.GuildID, since)
	if err != nil {
		return b.commandEmbed("Moderation report", b.commandError("report", err), colorError, nil)
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Period", Value: period, Inline: true},
		{Name: "Entries", Value: fmt.Sprintf("%d", report.Total), Inline: true},
	}
	return b.commandEmbed("Moderation report", "```\n"+report.String()+"\n```", colorInfo, fields)
}

func (b *Bot) updateSettings(ctx context.Context, guildID string, mutate func(*storage.GuildSettings) error) error {
	_, err := b.store.UpdateGuildSettings(ctx, guildID, b.defaultSettings(), mutate)
	return err
}

func (b *Bot) commandError(command string, err error) string {
	b.logger.Warn("command failed", zap.String("command", command), zap.Error(err))
	return "Failed: " + err.Error()
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
	if err != nil {
		b.logger.Warn("interaction respond failed", zap.Error(err))
	}
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
	if err != nil {
		b.logger.Warn("interaction respond failed", zap.Error(err))
	}
}

func (b *Bot) commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func formatExemptions(settings storage.GuildSettings, categories []policy.Category) string {
	var b strings.Builder
	for _, category := range categories {
		roles := settings.Exemptions[category]
		if len(roles) == 0 {
			fmt.Fprintf(&b, "%s: none\n", category)
			continue
		}
		mentions := make([]string, 0, len(roles))
		for _, id := range roles {
			mentions = append(mentions, "<@&"+id+">")
		}
		fmt.Fprintf(&b, "%s: %s\n", category, strings.Join(mentions, ", "))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func formatRuleset(rules storage.NGWordRuleset) string {
	words := "none"
	if len(rules.Words) > 0 {
		quoted := make([]string, 0, len(rules.Words))
		for _, w := range rules.Words {
			quoted = append(quoted, fmt.Sprintf("%q", w))
		}
		words = strings.Join(quoted, ", ")
	}
	return fmt.Sprintf("Words: %s\nPunishment level: %d\nCase sensitive: %s\nCheck edits: %s\nDM on hit: %s\nException roles: %d",
		words, rules.Punishment, onOff(rules.CaseSensitive), onOff(rules.CheckEdits), onOff(rules.DMOnHit), len(rules.ExceptionRoles))
}
