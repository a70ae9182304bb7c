package home

import (
	"fmt"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/rest"
	"github.com/leeineian/cadence/sys"
)

const welcomeColor = 0x00ff00

func init() {
	sys.RegisterGuildJoinHandler(handleGuildJoin)
	sys.RegisterMemberJoinHandler(handleMemberJoin)
}

func handleGuildJoin(event *events.GuildJoin) {
	ch := event.Guild.SystemChannelID
	if ch == nil {
		return
	}
	if err := sendChannelText(event.Client().Rest, *ch, sys.MsgGuildIntro); err != nil {
		sys.LogError(sys.MsgRespondFail, err)
	}
}

func handleMemberJoin(event *events.GuildMemberJoin) {
	guild, ok := event.Client().Caches.Guild(event.GuildID)
	if !ok || guild.SystemChannelID == nil {
		return
	}
	embed := discord.NewEmbedBuilder().
		SetTitle(sys.MsgMemberWelcome).
		SetDescription(fmt.Sprintf(sys.MsgMemberWelcomeDsc, event.Member.User.ID, guild.Name)).
		SetColor(welcomeColor).
		Build()
	_, err := event.Client().Rest.CreateMessage(*guild.SystemChannelID,
		discord.NewMessageCreateBuilder().AddEmbeds(embed).Build(),
		rest.WithCtx(sys.AppContext))
	if err != nil {
		sys.LogError(sys.MsgRespondFail, err)
	}
}
