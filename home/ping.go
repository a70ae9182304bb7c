package home

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/cadence/proc"
	"github.com/leeineian/cadence/sys"
	"github.com/samber/lo"
)

func init() {
	adminPerm := discord.PermissionAdministrator

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "ping",
		Description: "Check bot latency",
	}, handlePing)

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "help",
		Description: "List every command",
	}, handleHelp)

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:                     "sync",
		Description:              "Re-register slash commands (Admin Only)",
		DefaultMemberPermissions: omit.New(&adminPerm),
		Contexts:                 guildOnly,
	}, handleSync)

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:                     "status",
		Description:              "Show bot resource usage (Admin Only)",
		DefaultMemberPermissions: omit.New(&adminPerm),
	}, handleStatus)
}

func handlePing(event *events.ApplicationCommandInteractionCreate) {
	latency := event.Client().Gateway.Latency()
	if latency <= 0 {
		latency = time.Since(snowflake.ID(event.ID()).Time())
	}
	sys.Respond(event, fmt.Sprintf(sys.MsgPingPong, latency.Milliseconds()), false)
}

func handleHelp(event *events.ApplicationCommandInteractionCreate) {
	sys.Respond(event, sys.Truncate(helpText(sys.RegisteredCommands()), sys.MessageLimit), true)
}

func helpText(cmds []discord.SlashCommandCreate) string {
	slices.SortFunc(cmds, func(a, b discord.SlashCommandCreate) int { return cmp.Compare(a.Name, b.Name) })
	lines := lo.Map(cmds, func(c discord.SlashCommandCreate, _ int) string {
		return fmt.Sprintf(sys.MsgHelpItem, c.Name, c.Description)
	})
	return sys.MsgHelpHeader + strings.Join(lines, "")
}

func handleSync(event *events.ApplicationCommandInteractionCreate) {
	sys.Defer(event, true)
	guildID := ""
	if sys.GlobalConfig != nil {
		guildID = sys.GlobalConfig.GuildID
	}
	if err := sys.RegisterCommands(event.Client(), guildID, true); err != nil {
		sys.LogLoader(sys.MsgBotRegisterFail, err)
		sys.EditResponse(event, sys.GenericFailure("sync the commands"))
		return
	}
	sys.EditResponse(event, sys.MsgSyncDone)
}

func handleStatus(event *events.ApplicationCommandInteractionCreate) {
	sys.Respond(event, proc.CurrentStatus().String(), true)
}
