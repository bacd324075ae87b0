package bot

import (
	"context"

	"guardbot/internal/modules/antispam"
	"guardbot/internal/modules/ngword"
	"guardbot/internal/modules/photosensitive"
	"guardbot/internal/storage"

	"github.com/bwmarrin/discordgo"
)

type spamFilter interface {
	HandleMessage(ctx context.Context, msg *discordgo.Message) antispam.Result
}

type imageFilter interface {
	HandleMessage(ctx context.Context, msg *discordgo.Message, scanURLs bool) (photosensitive.Verdict, bool)
}

type wordFilter interface {
	HandleMessage(ctx context.Context, msg *discordgo.Message) ngword.Result
}

// messagePipeline runs the message detectors in order: spam, hazardous
// images, then NG-words and insults. A spam hit or a removed image ends the
// run because the message is already gone.
type messagePipeline struct {
	spam     spamFilter
	images   imageFilter
	words    wordFilter
	settings func(ctx context.Context, guildID string) storage.GuildSettings
}

func (p messagePipeline) run(ctx context.Context, msg *discordgo.Message) {
	if result := p.spam.HandleMessage(ctx, msg); result.Spam {
		return
	}

	settings := p.settings(ctx, msg.GuildID)
	if settings.GifDetector {
		if _, flagged := p.images.HandleMessage(ctx, msg, settings.ImageURLScan); flagged {
			return
		}
	}
	p.words.HandleMessage(ctx, msg)
}
