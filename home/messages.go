package home

import (
	"bytes"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/cadence/proc"
	"github.com/leeineian/cadence/sys"
)

var laughingGifs = []string{
	"https://tenor.com/view/haha-kid-laugh-laughing-gif-10594705",
	"https://tenor.com/view/lmao-dead-weak-lol-lmfao-gif-16296952",
	"https://tenor.com/view/baby-toddler-laughing-laugh-toppling-gif-23850035",
}

var laughKeywords = []string{"haha", "lmao"}

func init() {
	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "rembg",
		Description: "Removes the background from an image",
	}, func(event *events.ApplicationCommandInteractionCreate) {
		sys.Respond(event, sys.MsgImageUsage, false)
	})

	sys.RegisterMessageCreateHandler(handleKeywordMessage)
}

// messageAction is what a plain message asks of the bot.
type messageAction int

const (
	actionNone messageAction = iota
	actionLaugh
	actionRemoveBackground
	actionLaughAndRemoveBackground
)

func classifyMessage(content string) messageAction {
	content = strings.ToLower(content)
	if strings.Contains(content, "http") {
		return actionNone
	}
	laugh := false
	for _, k := range laughKeywords {
		if strings.Contains(content, k) {
			laugh = true
			break
		}
	}
	rembg := strings.Contains(content, "!rembg")
	switch {
	case laugh && rembg:
		return actionLaughAndRemoveBackground
	case laugh:
		return actionLaugh
	case rembg:
		return actionRemoveBackground
	default:
		return actionNone
	}
}

func handleKeywordMessage(event *events.MessageCreate) {
	if event.Message.Author.Bot {
		return
	}
	action := classifyMessage(event.Message.Content)
	if action == actionLaugh || action == actionLaughAndRemoveBackground {
		sendText(event, sys.RandomChoice(laughingGifs))
	}
	if action == actionRemoveBackground || action == actionLaughAndRemoveBackground {
		removeBackground(event)
	}
}

func removeBackground(event *events.MessageCreate) {
	if len(event.Message.Attachments) == 0 {
		sendText(event, sys.ErrImageNoAttachment)
		return
	}
	att := event.Message.Attachments[0]

	png, err := proc.NewBackgroundRemover().Process(sys.AppContext, att.URL, att.Filename)
	if err != nil {
		sys.LogImage(sys.MsgImageLogFail, err)
		sendText(event, sys.GenericFailure("remove the background"))
		return
	}
	_, err = event.Client().Rest.CreateMessage(event.ChannelID,
		discord.NewMessageCreateBuilder().
			AddFiles(discord.NewFile("output.png", "", bytes.NewReader(png))).
			Build(),
		rest.WithCtx(sys.AppContext))
	if err != nil {
		sys.LogImage(sys.MsgImageLogFail, err)
	}
}

func sendText(event *events.MessageCreate, text string) {
	if err := sendChannelText(event.Client().Rest, event.ChannelID, text); err != nil {
		sys.LogError(sys.MsgRespondFail, err)
	}
}

func sendChannelText(r rest.Rest, channelID snowflake.ID, text string) error {
	_, err := r.CreateMessage(channelID, discord.NewMessageCreateBuilder().SetContent(text).Build(), rest.WithCtx(sys.AppContext))
	return err
}
