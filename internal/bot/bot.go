package bot

import (
	"context"
	"fmt"
	"runtime/debug"

	"guardbot/internal/analytics"
	"guardbot/internal/config"
	"guardbot/internal/metrics"
	"guardbot/internal/modules/antinuke"
	"guardbot/internal/modules/antiraid"
	"guardbot/internal/modules/antispam"
	"guardbot/internal/modules/audit"
	"guardbot/internal/modules/ngword"
	"guardbot/internal/modules/photosensitive"
	"guardbot/internal/modules/threadspam"
	"guardbot/internal/platform"
	"guardbot/internal/playbook"
	"guardbot/internal/policy"
	"guardbot/internal/remediation"
	"guardbot/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Bot struct {
	cfg       config.Config
	logger    *zap.Logger
	store     *storage.Store
	playbook  *playbook.Engine
	audit     *audit.Logger
	analytics *analytics.Service
	session   *discordgo.Session
	discord   *platform.Discord
	actions   *remediation.Actions
	logs      *logSink

	antispam       *antispam.Module
	threadspam     *threadspam.Module
	antiraid       *antiraid.Module
	antinuke       *antinuke.Module
	photosensitive *photosensitive.Module
	ngword         *ngword.Module
	messages       messagePipeline
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, playbookEngine *playbook.Engine, auditLogger *audit.Logger, analyticsService *analytics.Service, counters *metrics.Metrics) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent

	discord := platform.NewDiscord(session)
	roles := remediation.NewRoles(discord, remediation.DefaultSpecs(cfg.Roles.Mute, cfg.Roles.RaidGuard, cfg.Roles.AppRestrict), logger)
	actions := remediation.NewActions(discord, roles, logger)
	actions.WithLadder(remediation.LadderFromMinutes(cfg.NGWord.TimeoutMinutes))
	if counters != nil {
		actions.WithFailureRecorder(counters)
	}
	exemptions := policy.New(store, logger)

	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		playbook:  playbookEngine,
		audit:     auditLogger,
		analytics: analyticsService,
		session:   session,
		discord:   discord,
		actions:   actions,
	}
	b.logs = newLogSink(discord, store, b.defaultSettings(), cfg.LogChannel.Name, logger)

	b.antispam = antispam.New(antispam.Config{
		Messages:   cfg.Spam.Messages,
		Window:     cfg.Spam.Window(),
		Similarity: cfg.Spam.Similarity,
		WarningTTL: cfg.Spam.WarningTTL(),
	}, actions, exemptions, auditLogger, logger)
	b.threadspam = threadspam.New(threadspam.Config{
		Operations: cfg.ThreadSpam.Operations,
		Window:     cfg.ThreadSpam.Window(),
		Timeout:    cfg.ThreadSpam.Timeout(),
	}, actions, exemptions, discord, b.settings(), auditLogger, logger)
	b.antiraid = antiraid.New(antiraid.Config{
		Baseline:   cfg.Raid.Baseline(),
		Window:     cfg.Raid.Window(),
		Multiplier: cfg.Raid.Multiplier,
		Floor:      cfg.Raid.Floor,
		DeniedBots: cfg.Raid.DeniedBots,
	}, actions, playbookEngine, discord, auditLogger, logger)
	b.antinuke = antinuke.New(antinuke.Config{
		Window:         cfg.Nuke.Window(),
		RoleActions:    cfg.Nuke.RoleActions,
		ChannelActions: cfg.Nuke.ChannelActions,
	}, platform.NewAuditLogAttributor(session), actions, auditLogger, logger)

	ps := cfg.Photosensitive
	limits := photosensitive.Limits{
		MaxBytes:         ps.MaxBytes,
		MaxDownloadBytes: ps.MaxDownloadBytes,
		FetchTimeout:     ps.FetchTimeout(),
		MaxDimension:     ps.MaxDimension,
		MaxFrames:        ps.MaxFrames,
		ScanFrameCap:     ps.ScanFrameCap,
		MaxDecodedPixels: ps.MaxDecodedPixels,
	}
	b.photosensitive = photosensitive.New(photosensitive.Config{
		Limits:     limits,
		Classifier: photosensitive.DefaultClassifier(),
		MuteFor:    ps.MuteFor(),
		WarningTTL: ps.WarningTTL(),
	}, photosensitive.NewFetcher(limits.FetchTimeout, limits.MaxDownloadBytes), actions, exemptions, auditLogger, logger)
	b.ngword = ngword.New(ngword.Config{
		InsultWords: cfg.Insult.Words,
		InsultReply: cfg.Insult.Reply,
		DeleteDelay: cfg.Insult.DeleteDelay(),
	}, actions, exemptions, b.settings(), auditLogger, logger)

	b.messages = messagePipeline{
		spam:     b.antispam,
		images:   b.photosensitive,
		words:    b.ngword,
		settings: b.guildSettings,
	}

	if auditLogger != nil {
		auditLogger.AddNotifier(b.logs.Notify)
	}
	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onMessageUpdate)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onRoleCreate)
	b.session.AddHandler(b.onRoleDelete)
	b.session.AddHandler(b.onChannelCreate)
	b.session.AddHandler(b.onChannelDelete)
	b.session.AddHandler(b.onThreadCreate)
	b.session.AddHandler(b.onThreadUpdate)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}
	return b.registerCommands()
}

func (b *Bot) Close() {
	if b.session != nil {
		_ = b.session.Close()
	}
}

// recoverHandler keeps a panicking detector from taking down the gateway
// loop. Deferred at the top of every handler.
func (b *Bot) recoverHandler(event string) {
	if r := recover(); r != nil {
		b.logger.Error("handler panic",
			zap.String("event", event),
			zap.String("panic", fmt.Sprint(r)),
			zap.ByteString("stack", debug.Stack()),
		)
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	defer b.recoverHandler("ready")
	if event.User == nil {
		return
	}
	b.antinuke.SetSelf(event.User.ID)
	b.logs.setSelf(event.User.ID)
	b.logger.Info("discord ready", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	defer b.recoverHandler("message_create")
	if msg.Message == nil || msg.Author == nil || msg.Author.Bot || msg.GuildID == "" {
		return
	}
	ctx := context.Background()
	b.withMember(ctx, msg.Message)
	b.messages.run(ctx, msg.Message)
}

func (b *Bot) onMessageUpdate(session *discordgo.Session, msg *discordgo.MessageUpdate) {
	defer b.recoverHandler("message_update")
	if msg.Message == nil || msg.Author == nil || msg.Author.Bot || msg.GuildID == "" {
		return
	}
	ctx := context.Background()
	b.withMember(ctx, msg.Message)
	b.ngword.HandleMessageUpdate(ctx, msg.Message)
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	defer b.recoverHandler("member_add")
	if event.Member == nil || event.GuildID == "" {
		return
	}
	b.antiraid.HandleJoin(context.Background(), event.Member)
}

func (b *Bot) onRoleCreate(session *discordgo.Session, event *discordgo.GuildRoleCreate) {
	defer b.recoverHandler("role_create")
	if event.GuildID == "" || event.Role == nil {
		return
	}
	b.antinuke.HandleAction(context.Background(), event.GuildID, antinuke.ActionRoleCreate, event.Role.ID)
}

func (b *Bot) onRoleDelete(session *discordgo.Session, event *discordgo.GuildRoleDelete) {
	defer b.recoverHandler("role_delete")
	if event.GuildID == "" || event.RoleID == "" {
		return
	}
	b.actions.Roles().Forget(event.GuildID, event.RoleID)
	b.antinuke.HandleAction(context.Background(), event.GuildID, antinuke.ActionRoleDelete, event.RoleID)
}

func (b *Bot) onChannelCreate(session *discordgo.Session, event *discordgo.ChannelCreate) {
	defer b.recoverHandler("channel_create")
	if event.Channel == nil || event.GuildID == "" {
		return
	}
	b.antinuke.HandleAction(context.Background(), event.GuildID, antinuke.ActionChannelCreate, event.ID)
}

func (b *Bot) onChannelDelete(session *discordgo.Session, event *discordgo.ChannelDelete) {
	defer b.recoverHandler("channel_delete")
	if event.Channel == nil || event.GuildID == "" {
		return
	}
	b.logs.forget(event.GuildID, event.ID)
	b.antinuke.HandleAction(context.Background(), event.GuildID, antinuke.ActionChannelDelete, event.ID)
}

func (b *Bot) onThreadCreate(session *discordgo.Session, event *discordgo.ThreadCreate) {
	defer b.recoverHandler("thread_create")
	if event.Channel == nil || event.GuildID == "" {
		return
	}
	b.threadspam.HandleThreadCreate(context.Background(), event.Channel)
}

func (b *Bot) onThreadUpdate(session *discordgo.Session, event *discordgo.ThreadUpdate) {
	defer b.recoverHandler("thread_update")
	if event.Channel == nil || event.GuildID == "" {
		return
	}
	b.threadspam.HandleThreadUpdate(context.Background(), event.Channel, event.BeforeUpdate)
}

// withMember fills in the author's member record when the gateway omitted
// it, so role exemptions can be evaluated.
func (b *Bot) withMember(ctx context.Context, msg *discordgo.Message) {
	if msg.Member != nil {
		return
	}
	member, err := b.discord.Member(ctx, msg.GuildID, msg.Author.ID)
	if err != nil {
		b.logger.Debug("member lookup failed", zap.String("guild_id", msg.GuildID), zap.String("user_id", msg.Author.ID), zap.Error(err))
		return
	}
	msg.Member = member
}

func (b *Bot) defaultSettings() storage.GuildSettings {
	return storage.GuildSettings{
		GifDetector:  b.cfg.Defaults.GifDetector,
		ImageURLScan: b.cfg.Defaults.ImageURLScan,
		InsultFilter: b.cfg.Defaults.InsultFilter,
	}
}

// defaultedSettings resolves settings against the configured community
// defaults, whatever the caller passes.
type defaultedSettings struct {
	store    *storage.Store
	defaults storage.GuildSettings
}

func (d defaultedSettings) GetGuildSettings(ctx context.Context, guildID string, _ storage.GuildSettings) (storage.GuildSettings, error) {
	return d.store.GetGuildSettings(ctx, guildID, d.defaults)
}

func (b *Bot) settings() defaultedSettings {
	return defaultedSettings{store: b.store, defaults: b.defaultSettings()}
}

func (b *Bot) guildSettings(ctx context.Context, guildID string) storage.GuildSettings {
	settings, err := b.store.GetGuildSettings(ctx, guildID, b.defaultSettings())
	if err != nil {
		b.logger.Warn("settings lookup failed", zap.String("guild_id", guildID), zap.Error(err))
		settings = b.defaultSettings()
		settings.GuildID = guildID
	}
	return settings
}
