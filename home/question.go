package home

import (
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/cadence/proc"
	"github.com/leeineian/cadence/sys"
)

func init() {
	choices := make([]discord.ApplicationCommandOptionChoiceString, 0, len(proc.AIModels))
	for _, m := range proc.AIModels {
		choices = append(choices, discord.ApplicationCommandOptionChoiceString{Name: m, Value: m})
	}

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "question",
		Description: "Ask a question and the bot will try to answer it",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionString{
				Name:        "question",
				Description: "Prompt for the model",
				Required:    true,
			},
			discord.ApplicationCommandOptionString{
				Name:        "model",
				Description: "Model to use (optional)",
				Choices:     choices,
			},
		},
	}, handleQuestion)
}

func handleQuestion(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	question := data.String("question")
	model, _ := data.OptString("model")

	if !sys.CheckCooldown(event, sys.QuestionCooldown) {
		return
	}
	if strings.TrimSpace(question) == "" {
		sys.Respond(event, sys.ErrAIEmptyQuestion, false)
		return
	}
	ai := proc.GetAI()
	if ai == nil {
		sys.Respond(event, sys.MsgAIDisabled, true)
		return
	}

	sys.Defer(event, false)
	sys.LogAI(sys.MsgAIAsking, event.User().Username, sys.Truncate(question, 80))

	answer := ai.Generate(sys.AppContext, question, model)
	chunks := sys.ChunkMessage(answer)
	if len(chunks) == 0 {
		sys.EditResponse(event, sys.GenericFailure("generate a response"))
		return
	}
	sys.EditResponse(event, chunks[0])
	for _, c := range chunks[1:] {
		sys.Followup(event, c)
	}
}
