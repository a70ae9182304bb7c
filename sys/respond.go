package sys

import (
	"bytes"
	"fmt"
	"math"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
)

// Respond answers an interaction with a single text container.
func Respond(event *events.ApplicationCommandInteractionCreate, text string, ephemeral bool) {
	err := event.CreateMessage(discord.NewMessageCreateBuilder().
		SetIsComponentsV2(true).
		AddComponents(discord.NewContainer(discord.NewTextDisplay(text))).
		SetEphemeral(ephemeral).
		Build())
	if err != nil {
		LogError(MsgRespondFail, err)
	}
}

// Defer acknowledges an interaction whose answer will arrive through EditResponse.
func Defer(event *events.ApplicationCommandInteractionCreate, ephemeral bool) {
	if err := event.DeferCreateMessage(ephemeral); err != nil {
		LogError(MsgRespondFail, err)
	}
}

// EditResponse replaces the deferred or original response text.
func EditResponse(event *events.ApplicationCommandInteractionCreate, text string) {
	_, err := event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(),
		discord.NewMessageUpdateBuilder().
			SetIsComponentsV2(true).
			AddComponents(discord.NewContainer(discord.NewTextDisplay(text))).
			Build())
	if err != nil {
		LogError(MsgRespondFail, err)
	}
}

// EditResponseWithFile replaces the deferred response with text and one attachment.
func EditResponseWithFile(event *events.ApplicationCommandInteractionCreate, text, name string, data []byte) {
	_, err := event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(),
		discord.NewMessageUpdateBuilder().
			SetContent(text).
			AddFiles(discord.NewFile(name, "", bytes.NewReader(data))).
			Build())
	if err != nil {
		LogError(MsgRespondFail, err)
	}
}

// Followup sends an additional message after the first response.
func Followup(event *events.ApplicationCommandInteractionCreate, text string) {
	_, err := event.Client().Rest.CreateFollowupMessage(event.ApplicationID(), event.Token(),
		discord.NewMessageCreateBuilder().
			SetIsComponentsV2(true).
			AddComponents(discord.NewContainer(discord.NewTextDisplay(text))).
			Build())
	if err != nil {
		LogError(MsgRespondFail, err)
	}
}

// GenericFailure is the catch-all answer for errors the user can't act on.
func GenericFailure(action string) string {
	return fmt.Sprintf(MsgGenericFailure, action)
}

// CheckCooldown consumes a use for the invoking user, answering ephemerally when limited.
func CheckCooldown(event *events.ApplicationCommandInteractionCreate, c *Cooldown) bool {
	ok, wait := c.Allow(event.User().ID)
	if !ok {
		Respond(event, fmt.Sprintf(MsgCooldown, math.Ceil(wait.Seconds())), true)
	}
	return ok
}
