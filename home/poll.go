package home

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/cadence/proc"
	"github.com/leeineian/cadence/sys"
	"github.com/samber/lo"
)

const (
	pollMaxOptions  = 10
	pollMinOptions  = 2
	pollMaxQuestion = 256
)

var pollReactions = []string{"1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣", "🔟"}

var optionOrdinals = []string{"First", "Second", "Third", "Fourth", "Fifth", "Sixth", "Seventh", "Eighth", "Ninth", "Tenth"}

func init() {
	opts := []discord.ApplicationCommandOption{
		discord.ApplicationCommandOptionString{Name: "question", Description: "Poll question", Required: true},
	}
	for i, ord := range optionOrdinals {
		desc := ord + " option"
		if i >= pollMinOptions {
			desc += " (optional)"
		}
		opts = append(opts, discord.ApplicationCommandOptionString{
			Name:        fmt.Sprintf("option%d", i+1),
			Description: desc,
			Required:    i < pollMinOptions,
		})
	}

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "poll",
		Description: "Create a poll",
		Options:     opts,
	}, handlePoll)
}

// validatePoll checks a poll and returns its options with blanks dropped.
func validatePoll(question string, options []string) ([]string, error) {
	if strings.TrimSpace(question) == "" {
		return nil, proc.Notice(sys.ErrPollNoQuestion)
	}
	if len(options) > pollMaxOptions {
		return nil, proc.Notice(sys.ErrPollTooManyOptions)
	}
	cleaned := lo.FilterMap(options, func(o string, _ int) (string, bool) {
		o = strings.TrimSpace(o)
		return o, o != ""
	})
	if len(cleaned) < pollMinOptions {
		return nil, proc.Notice(sys.ErrPollTooFewOptions)
	}
	if utf8.RuneCountInString(question) > pollMaxQuestion {
		return nil, proc.Notice(sys.ErrPollQuestionTooLong)
	}
	return cleaned, nil
}

func pollBody(options []string) string {
	lines := lo.Map(options, func(o string, i int) string {
		return pollReactions[i] + " " + o
	})
	return strings.Join(lines, "\n")
}

func handlePoll(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	question := data.String("question")
	var raw []string
	for i := 1; i <= pollMaxOptions; i++ {
		if o, ok := data.OptString(fmt.Sprintf("option%d", i)); ok {
			raw = append(raw, o)
		}
	}

	options, err := validatePoll(question, raw)
	if err != nil {
		sys.Respond(event, err.Error(), false)
		return
	}

	sys.Defer(event, false)
	client := event.Client()
	msg, err := client.Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(),
		discord.NewMessageUpdateBuilder().
			SetContent(fmt.Sprintf(sys.MsgPollHeader, question)).
			AddEmbeds(discord.NewEmbedBuilder().SetDescription(pollBody(options)).Build()).
			Build())
	if err != nil {
		sys.LogError(sys.MsgRespondFail, err)
		return
	}
	for _, r := range pollReactions[:len(options)] {
		if err := client.Rest.AddReaction(msg.ChannelID, msg.ID, r); err != nil {
			sys.LogWarn(sys.MsgPollLogReactFail, r, err)
		}
	}
}
