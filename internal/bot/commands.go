package bot

import (
	"guardbot/internal/policy"

	"github.com/bwmarrin/discordgo"
)

var manageGuild int64 = discordgo.PermissionManageServer

func onOffChoices() []*discordgo.ApplicationCommandOptionChoice {
	return []*discordgo.ApplicationCommandOptionChoice{
		{Name: "on", Value: "on"},
		{Name: "off", Value: "off"},
	}
}

func categoryOption(required bool) *discordgo.ApplicationCommandOption {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(policy.Categories))
	for _, category := range policy.Categories {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: string(category), Value: string(category)})
	}
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "category",
		Description: "Detector category",
		Required:    required,
		Choices:     choices,
	}
}

func roleOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionRole,
		Name:        "role",
		Description: "Role",
		Required:    true,
	}
}

func wordOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "word",
		Description: "Word or phrase",
		Required:    true,
	}
}

func stateOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "state",
		Description: "on or off",
		Required:    true,
		Choices:     onOffChoices(),
	}
}

func subcommand(name, description string, options ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: description,
		Options:     options,
	}
}

func commandDefinitions() []*discordgo.ApplicationCommand {
	minLevel, maxLevel := float64(0), float64(9)
	return []*discordgo.ApplicationCommand{
		{
			Name:                     "raid",
			Description:              "Raid lockdown state",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("status", "Show lockdown state"),
				subcommand("clear", "Lift the raid lockdown"),
			},
		},
		{
			Name:                     "detector",
			Description:              "Toggle a detector for this server",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "name",
					Description: "Detector",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "gif", Value: detectorGIF},
						{Name: "insult", Value: detectorInsult},
						{Name: "imageurl", Value: detectorImageURL},
					},
				},
				stateOption(),
			},
		},
		{
			Name:                     "exempt",
			Description:              "Manage detector exemption roles",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("add", "Exempt a role", categoryOption(true), roleOption()),
				subcommand("remove", "Remove an exemption", categoryOption(true), roleOption()),
				subcommand("list", "List exemptions", categoryOption(false)),
			},
		},
		{
			Name:                     "ngword",
			Description:              "Manage the NG-word ruleset",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("add", "Add a word", wordOption()),
				subcommand("remove", "Remove a word", wordOption()),
				subcommand("list", "Show the ruleset"),
				subcommand("punish", "Set the punishment level", &discordgo.ApplicationCommandOption{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "level",
					Description: "0-1 delete only, 2-7 timeout, 8 kick, 9 ban",
					Required:    true,
					MinValue:    &minLevel,
					MaxValue:    maxLevel,
				}),
				subcommand("dm", "DM the author on a hit", stateOption()),
				subcommand("case", "Match case sensitively", stateOption()),
				subcommand("edits", "Check edited messages", stateOption()),
				subcommand("exception", "Toggle a role that bypasses the ruleset", roleOption(), stateOption()),
			},
		},
		{
			Name:                     "report",
			Description:              "Moderation summary",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "period",
					Description: "day or week",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "day", Value: "day"},
						{Name: "week", Value: "week"},
					},
				},
			},
		},
	}
}

func (b *Bot) registerCommands() error {
	commands := commandDefinitions()
	appID := b.session.State.User.ID
	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		for _, cmd := range commands {
			if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
				return err
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand)
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{})
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		_ = b.session.ApplicationCommandDelete(appID, "", cmd.ID)
	}
	return nil
}
