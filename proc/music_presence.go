package proc

import (
	"context"
	"fmt"
	"slices"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/cadence/sys"
)

// BotDisconnected handles the bot being removed from voice by something other than Stop.
func (m *Music) BotDisconnected(ctx context.Context, guildID snowflake.ID) {
	s, ok := m.Lookup(guildID)
	if !ok || !s.Connected() {
		return
	}
	_, name := s.VoiceChannel()
	sys.LogMusic(sys.MsgMusicLogForcedLeave, guildID, name)
	if ch, ok := m.LastCommandChannel(guildID); ok {
		m.notify(ctx, guildID, ch, fmt.Sprintf(sys.MsgMusicDisconnected, name))
	}
	s.Reset(ctx)
}

// LeftAlone stops playback and disconnects once nobody else is listening.
func (m *Music) LeftAlone(ctx context.Context, guildID snowflake.ID) {
	s, ok := m.Lookup(guildID)
	if !ok || !s.Connected() {
		return
	}
	sys.LogMusic(sys.MsgMusicLogAlone, guildID)
	s.Reset(ctx)
}

type voiceAction int

const (
	voiceIgnore voiceAction = iota
	voiceBotMoved
	voiceBotLeft
	voiceAlone
)

// voiceActionFor decides what a voice state update means for a session connected to channelID.
// states is the guild's cached voice states after the update.
func voiceActionFor(botID, channelID snowflake.ID, update discord.VoiceState, states []discord.VoiceState) voiceAction {
	if channelID == 0 {
		return voiceIgnore
	}
	if update.UserID == botID {
		switch {
		case update.ChannelID == nil:
			return voiceBotLeft
		case *update.ChannelID != channelID:
			return voiceBotMoved
		default:
			return voiceIgnore
		}
	}
	if listeners(botID, channelID, states) == 0 {
		return voiceAlone
	}
	return voiceIgnore
}

// listeners counts everyone other than the bot in a voice channel, other bots included.
func listeners(botID, channelID snowflake.ID, states []discord.VoiceState) int {
	n := 0
	for _, state := range states {
		if state.UserID != botID && state.ChannelID != nil && *state.ChannelID == channelID {
			n++
		}
	}
	return n
}

// handleVoiceState applies one voice state update to the guild's session.
// channelName resolves a channel's display name when the bot is moved.
func (m *Music) handleVoiceState(ctx context.Context, botID snowflake.ID, update discord.VoiceState, states []discord.VoiceState, channelName func(snowflake.ID) string) {
	s, ok := m.Lookup(update.GuildID)
	if !ok || !s.Connected() {
		return
	}
	channelID, _ := s.VoiceChannel()

	switch voiceActionFor(botID, channelID, update, states) {
	case voiceBotLeft:
		m.BotDisconnected(ctx, update.GuildID)
	case voiceBotMoved:
		name := channelName(*update.ChannelID)
		s.setVoiceChannel(*update.ChannelID, name)
		sys.LogMusic(sys.MsgMusicLogMoved, update.GuildID, name)
	case voiceAlone:
		m.LeftAlone(ctx, update.GuildID)
	}
}

// OnVoiceStateUpdate reacts to voice membership changes in guilds with an open session.
func (m *Music) OnVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	client := event.Client()
	guildID := event.VoiceState.GuildID
	if _, ok := m.Lookup(guildID); !ok {
		return
	}
	states := slices.Collect(client.Caches.VoiceStates(guildID))
	m.handleVoiceState(context.Background(), client.ID(), event.VoiceState, states, func(id snowflake.ID) string {
		if ch, ok := client.Caches.Channel(id); ok {
			return ch.Name()
		}
		return id.String()
	})
}
