package home

import (
	"errors"
	"fmt"
	"strings"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/cadence/proc"
	"github.com/leeineian/cadence/sys"
)

const defaultReminderChannel = "reminders"

func init() {
	indexOpt := discord.ApplicationCommandOptionInt{
		Name:        "index",
		Description: "Number of the reminder",
		Required:    true,
	}

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "reminder",
		Description: "Manage reminders",
		Contexts:    guildOnly,
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "set",
				Description: "Set a reminder for a specified date and time (format: YYYY-MM-DD HH:MM)",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{Name: "date", Description: "Date in YYYY-MM-DD format", Required: true},
					discord.ApplicationCommandOptionString{Name: "time", Description: "Time in HH:MM (24-hour) format", Required: true},
					discord.ApplicationCommandOptionString{Name: "title", Description: "Reminder title", Required: true},
					discord.ApplicationCommandOptionString{Name: "message", Description: "Reminder message", Required: true},
					discord.ApplicationCommandOptionString{Name: "channel", Description: "Channel name (defaults to #reminders if it exists, otherwise this channel)"},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "list",
				Description: "List all upcoming reminders",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "delete",
				Description: "Delete a specific reminder by its index",
				Options:     []discord.ApplicationCommandOption{indexOpt},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "delete-all",
				Description: "Delete all reminders",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "modify",
				Description: "Modify a reminder by its index. Fields left empty remain unchanged",
				Options: []discord.ApplicationCommandOption{
					indexOpt,
					discord.ApplicationCommandOptionString{Name: "date", Description: "New date in YYYY-MM-DD format"},
					discord.ApplicationCommandOptionString{Name: "time", Description: "New time in HH:MM (24-hour) format"},
					discord.ApplicationCommandOptionString{Name: "title", Description: "New title"},
					discord.ApplicationCommandOptionString{Name: "message", Description: "New message"},
					discord.ApplicationCommandOptionString{Name: "channel", Description: "New channel name"},
				},
			},
		},
	}, handleReminder)
}

func handleReminder(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	if data.SubCommandName == nil || event.GuildID() == nil {
		return
	}
	guildID := *event.GuildID()
	ctx := sys.AppContext
	r := proc.Reminders()

	var text string
	switch *data.SubCommandName {
	case "set":
		channelName, _ := data.OptString("channel")
		rem, err := r.Create(ctx, guildID, proc.ReminderInput{
			Date:      data.String("date"),
			Time:      data.String("time"),
			Title:     data.String("title"),
			Message:   data.String("message"),
			ChannelID: reminderChannel(event.Client(), guildID, channelName, event.Channel().ID()),
		})
		if err == nil {
			text = fmt.Sprintf(sys.MsgReminderSet, rem.Title, rem.Message, formatRemindAt(rem))
		}
		text = reminderOutcome(sys.ErrReminderSetFail, text, err)

	case "list":
		list, err := r.List(ctx, guildID)
		if err == nil {
			text = formatReminderList(list)
		}
		text = reminderOutcome(sys.ErrReminderListFail, text, err)

	case "delete":
		rem, err := r.Delete(ctx, guildID, data.Int("index"))
		if err == nil {
			text = fmt.Sprintf(sys.MsgReminderDeleted, rem.Title)
		}
		text = reminderOutcome(sys.ErrReminderDeleteFail, text, err)

	case "delete-all":
		n, err := r.DeleteAll(ctx, guildID)
		text = sys.MsgReminderAllDeleted
		if n == 0 {
			text = sys.MsgReminderNoneToDelete
		}
		text = reminderOutcome(sys.ErrReminderDeleteFail, text, err)

	case "modify":
		var c proc.ReminderChanges
		c.Date = optString(data, "date")
		c.Time = optString(data, "time")
		c.Title = optString(data, "title")
		c.Message = optString(data, "message")
		if name := optString(data, "channel"); name != nil {
			id := reminderChannel(event.Client(), guildID, *name, event.Channel().ID())
			c.ChannelID = &id
		}
		rem, err := r.Modify(ctx, guildID, data.Int("index"), c)
		if err == nil {
			text = fmt.Sprintf(sys.MsgReminderModified, rem.Title, rem.Message, formatRemindAt(rem))
		}
		text = reminderOutcome(sys.ErrReminderModifyFail, text, err)
	}
	sys.Respond(event, text, false)
}

// reminderOutcome shows notices verbatim and maps other failures to the fixed per-action text.
func reminderOutcome(failure, text string, err error) string {
	if err == nil {
		return text
	}
	var n proc.Notice
	if errors.As(err, &n) {
		return string(n)
	}
	sys.LogReminder(sys.MsgGenericError, err)
	return failure
}

func optString(data discord.SlashCommandInteractionData, name string) *string {
	v, ok := data.OptString(name)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}

// reminderChannel picks the named channel, then a channel called "reminders", then fallback.
func reminderChannel(client *bot.Client, guildID snowflake.ID, name string, fallback snowflake.ID) snowflake.ID {
	name = strings.TrimPrefix(strings.TrimSpace(name), "#")
	var named, reminders snowflake.ID
	for ch := range client.Caches.Channels() {
		if ch.GuildID() != guildID || ch.Type() != discord.ChannelTypeGuildText {
			continue
		}
		if name != "" && strings.EqualFold(ch.Name(), name) {
			named = ch.ID()
		}
		if strings.EqualFold(ch.Name(), defaultReminderChannel) {
			reminders = ch.ID()
		}
	}
	switch {
	case named != 0:
		return named
	case reminders != 0:
		return reminders
	default:
		return fallback
	}
}

func formatRemindAt(r *sys.Reminder) string {
	return r.RemindAt.Local().Format(proc.ReminderLayout)
}

func formatReminderList(list []*sys.Reminder) string {
	if len(list) == 0 {
		return sys.MsgReminderNone
	}
	var sb strings.Builder
	for i, r := range list {
		fmt.Fprintf(&sb, sys.MsgReminderListItem, i+1, formatRemindAt(r), r.Title, r.Message)
	}
	return sys.Truncate(sb.String(), sys.MessageLimit)
}
