package home

import (
	"context"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/cadence/proc"
	"github.com/leeineian/cadence/sys"
)

type musicCommand struct {
	name, description, action string
	options                   []discord.ApplicationCommandOption
	needsVoice, cooldown      bool
	deferred                  bool
	run                       func(ctx context.Context, s *proc.Session, event *events.ApplicationCommandInteractionCreate, voice voiceChannel) (string, error)
}

type voiceChannel struct {
	ID   snowflake.ID
	Name string
}

func songOption(required bool) discord.ApplicationCommandOption {
	return discord.ApplicationCommandOptionString{
		Name:         "song",
		Description:  "Song name or YouTube URL",
		Required:     required,
		Autocomplete: true,
	}
}

func indexOption(name, description string) discord.ApplicationCommandOption {
	return discord.ApplicationCommandOptionInt{Name: name, Description: description, Required: true}
}

var musicCommands = []musicCommand{
	{
		name: "play", description: "Play a song", action: "play the song",
		options:    []discord.ApplicationCommandOption{songOption(false)},
		needsVoice: true, cooldown: true, deferred: true,
		run: func(ctx context.Context, s *proc.Session, event *events.ApplicationCommandInteractionCreate, vc voiceChannel) (string, error) {
			song, _ := event.SlashCommandInteractionData().OptString("song")
			return s.Play(ctx, proc.PlayRequest{
				Query:            song,
				VoiceChannelID:   vc.ID,
				VoiceChannelName: vc.Name,
				TextChannelID:    event.Channel().ID(),
				Progress:         func(text string) { sys.EditResponse(event, text) },
			})
		},
	},
	{
		name: "queue", description: "Add a song to the playlist", action: "add the song to the playlist",
		options:    []discord.ApplicationCommandOption{songOption(true)},
		needsVoice: true, cooldown: true, deferred: true,
		run: func(ctx context.Context, s *proc.Session, event *events.ApplicationCommandInteractionCreate, _ voiceChannel) (string, error) {
			return s.Enqueue(ctx, event.SlashCommandInteractionData().String("song"))
		},
	},
	{
		name: "clear", description: "Clear the playlist", action: "clear the playlist",
		run: func(_ context.Context, s *proc.Session, _ *events.ApplicationCommandInteractionCreate, _ voiceChannel) (string, error) {
			return s.Clear(), nil
		},
	},
	{
		name: "playlist", description: "Display the playlist", action: "display the playlist",
		run: func(_ context.Context, s *proc.Session, _ *events.ApplicationCommandInteractionCreate, _ voiceChannel) (string, error) {
			return s.Playlist()
		},
	},
	{
		name: "pause", description: "Pause the current song", action: "pause the song", needsVoice: true,
		run: func(_ context.Context, s *proc.Session, _ *events.ApplicationCommandInteractionCreate, _ voiceChannel) (string, error) {
			return s.Pause()
		},
	},
	{
		name: "resume", description: "Resume the current song", action: "resume the song", needsVoice: true,
		run: func(_ context.Context, s *proc.Session, _ *events.ApplicationCommandInteractionCreate, _ voiceChannel) (string, error) {
			return s.Resume()
		},
	},
	{
		name: "skip", description: "Skip the current song", action: "skip the song", needsVoice: true,
		run: func(_ context.Context, s *proc.Session, _ *events.ApplicationCommandInteractionCreate, _ voiceChannel) (string, error) {
			return s.Skip()
		},
	},
	{
		name: "stop", description: "Stop playing music, clear the playlist, and disconnect from the voice channel", action: "stop the music", needsVoice: true,
		run: func(ctx context.Context, s *proc.Session, _ *events.ApplicationCommandInteractionCreate, _ voiceChannel) (string, error) {
			return s.Stop(ctx)
		},
	},
	{
		name: "swap", description: "Swap two songs in the playlist", action: "swap the songs", needsVoice: true,
		options: []discord.ApplicationCommandOption{
			indexOption("index1", "Number of the first song in the playlist"),
			indexOption("index2", "Number of the second song in the playlist"),
		},
		run: func(_ context.Context, s *proc.Session, event *events.ApplicationCommandInteractionCreate, _ voiceChannel) (string, error) {
			data := event.SlashCommandInteractionData()
			return s.Swap(data.Int("index1"), data.Int("index2"))
		},
	},
	{
		name: "remove", description: "Remove a song from the playlist", action: "remove the song", needsVoice: true,
		options: []discord.ApplicationCommandOption{indexOption("index", "Number of the song to remove from the playlist")},
		run: func(_ context.Context, s *proc.Session, event *events.ApplicationCommandInteractionCreate, _ voiceChannel) (string, error) {
			return s.Remove(event.SlashCommandInteractionData().Int("index"))
		},
	},
	{
		name: "restart", description: "Restart the current song", action: "restart the song", needsVoice: true,
		run: func(_ context.Context, s *proc.Session, _ *events.ApplicationCommandInteractionCreate, _ voiceChannel) (string, error) {
			return s.Restart()
		},
	},
}

func init() {
	for _, c := range musicCommands {
		sys.RegisterCommand(discord.SlashCommandCreate{
			Name:        c.name,
			Description: c.description,
			Contexts:    guildOnly,
			Options:     c.options,
		}, c.handle)
	}
	sys.RegisterAutocompleteHandler("play", handleSongAutocomplete)
	sys.RegisterAutocompleteHandler("queue", handleSongAutocomplete)
}

func (c musicCommand) handle(event *events.ApplicationCommandInteractionCreate) {
	m := proc.GetMusic()
	if m == nil || event.GuildID() == nil {
		sys.Respond(event, sys.GenericFailure(c.action), true)
		return
	}

	var vc voiceChannel
	if c.needsVoice {
		var ok bool
		if vc, ok = callerVoiceChannel(event); !ok {
			sys.Respond(event, sys.ErrMusicNotInVoice, true)
			return
		}
	}
	if c.cooldown && !sys.CheckCooldown(event, sys.MusicCooldown) {
		return
	}
	if c.deferred {
		sys.Defer(event, false)
	}

	text, err := c.run(sys.AppContext, m.Session(*event.GuildID()), event, vc)
	reply(event, c.deferred, outcome(sys.LogMusic, c.action, text, err))
}

// callerVoiceChannel looks up the invoking member's voice channel in the cache.
func callerVoiceChannel(event *events.ApplicationCommandInteractionCreate) (voiceChannel, bool) {
	client := event.Client()
	state, ok := client.Caches.VoiceState(*event.GuildID(), event.User().ID)
	if !ok || state.ChannelID == nil {
		return voiceChannel{}, false
	}
	vc := voiceChannel{ID: *state.ChannelID, Name: state.ChannelID.String()}
	if ch, ok := client.Caches.Channel(vc.ID); ok {
		vc.Name = ch.Name()
	}
	return vc, true
}

func handleSongAutocomplete(event *events.AutocompleteInteractionCreate) {
	f := event.Data.Focused()
	q := strings.TrimSpace(f.String())
	if f.Name != "song" || q == "" || strings.HasPrefix(q, "http") {
		_ = event.AutocompleteResult(nil)
		return
	}
	entries, err := proc.Suggest(q, 25)
	if err != nil {
		sys.LogMusic(sys.MsgMusicLogAutocomplete, err)
		_ = event.AutocompleteResult(nil)
		return
	}
	choices := make([]discord.AutocompleteChoice, 0, len(entries))
	for _, e := range entries {
		choices = append(choices, discord.AutocompleteChoiceString{
			Name:  sys.Truncate(e.Title, 100),
			Value: e.URL(),
		})
	}
	_ = event.AutocompleteResult(choices)
}
