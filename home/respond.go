package home

import (
	"context"
	"errors"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/cadence/proc"
	"github.com/leeineian/cadence/sys"
)

// outcome turns an operation result into the text the user sees.
// Notices are shown as-is; anything else is logged and replaced by the generic failure for action.
func outcome(log func(string, ...any), action, text string, err error) string {
	var n proc.Notice
	switch {
	case errors.As(err, &n):
		return string(n)
	case err != nil:
		log(sys.MsgGenericError, err)
		return sys.GenericFailure(action)
	default:
		return text
	}
}

// reply answers immediately, or edits the deferred response when deferred is set.
func reply(event *events.ApplicationCommandInteractionCreate, deferred bool, text string) {
	if deferred {
		sys.EditResponse(event, text)
		return
	}
	sys.Respond(event, text, false)
}

var guildOnly = []discord.InteractionContextType{discord.InteractionContextTypeGuild}

func contextWithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(sys.AppContext, d)
}
