package proc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/cadence/sys"
	"github.com/samber/lo"
)

// Notice is a refusal whose text is shown to the user as-is.
type Notice string

func (n Notice) Error() string { return string(n) }

// QueueEntry is a playable video: an opaque YouTube id and its display title.
type QueueEntry struct {
	ID    string
	Title string
}

func (e QueueEntry) URL() string { return watchURL(e.ID) }

// Downloader fetches the audio of an entry into a new file under dir and returns its path.
type Downloader interface {
	Download(ctx context.Context, entry QueueEntry, dir string) (string, error)
}

// Player is a voice connection able to stream one local file at a time.
type Player interface {
	Open(ctx context.Context, channelID snowflake.ID) error
	Close(ctx context.Context)
	// Stream blocks until the file has been played, or ctx is canceled.
	Stream(ctx context.Context, path string) error
	SetPaused(paused bool)
}

// Notifier posts a plain message to a text channel.
type Notifier interface {
	Notify(ctx context.Context, channelID snowflake.ID, text string) error
}

type State int

const (
	StateIdle State = iota
	StateConnecting
	StatePlaying
	StatePaused
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateDisconnected:
		return "disconnected"
	default:
		return "idle"
	}
}

type MusicConfig struct {
	Resolver    *Resolver
	Downloader  Downloader
	Notifier    Notifier
	NewPlayer   func(guildID snowflake.ID) Player
	DownloadDir string
}

// Music owns one Session per guild.
type Music struct {
	cfg  MusicConfig
	base context.Context

	mu                 sync.Mutex
	sessions           map[snowflake.ID]*Session
	lastCommandChannel map[snowflake.ID]snowflake.ID
}

// NewMusic creates a manager whose play loops live as long as ctx.
func NewMusic(ctx context.Context, cfg MusicConfig) *Music {
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = sys.DefaultDownloadDir
	}
	return &Music{
		cfg:                cfg,
		base:               ctx,
		sessions:           make(map[snowflake.ID]*Session),
		lastCommandChannel: make(map[snowflake.ID]snowflake.ID),
	}
}

// Session returns the guild's session, creating an idle one if needed.
func (m *Music) Session(guildID snowflake.ID) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[guildID]
	if !ok {
		s = &Session{GuildID: guildID, m: m}
		s.resumed = sync.NewCond(&s.mu)
		m.sessions[guildID] = s
	}
	return s
}

// Lookup returns the guild's session without creating one.
func (m *Music) Lookup(guildID snowflake.ID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[guildID]
	return s, ok
}

// ActiveSessions counts guilds with an open voice connection.
func (m *Music) ActiveSessions() int {
	m.mu.Lock()
	sessions := lo.Values(m.sessions)
	m.mu.Unlock()
	return lo.CountBy(sessions, func(s *Session) bool { return s.Connected() })
}

func (m *Music) LastCommandChannel(guildID snowflake.ID) (snowflake.ID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.lastCommandChannel[guildID]
	return id, ok
}

func (m *Music) setLastCommandChannel(guildID, channelID snowflake.ID) {
	m.mu.Lock()
	m.lastCommandChannel[guildID] = channelID
	m.mu.Unlock()
}

// Shutdown stops every session.
func (m *Music) Shutdown(ctx context.Context) {
	m.mu.Lock()
	sessions := lo.Values(m.sessions)
	m.mu.Unlock()
	for _, s := range sessions {
		s.Reset(ctx)
	}
}

func (m *Music) notify(ctx context.Context, guildID, channelID snowflake.ID, text string) {
	if m.cfg.Notifier == nil || channelID == 0 {
		return
	}
	if err := m.cfg.Notifier.Notify(ctx, channelID, text); err != nil {
		sys.LogMusic(sys.MsgMusicLogNotifyFail, guildID, err)
	}
}

// Session is the playback state of one guild. All fields are guarded by mu.
type Session struct {
	GuildID snowflake.ID
	m       *Music

	mu      sync.Mutex
	resumed *sync.Cond

	player       Player
	queue        []QueueEntry
	current      *QueueEntry
	paused       bool
	streaming    bool
	connecting   bool
	disconnected bool
	loopActive   bool
	// gen changes whenever the session is reset, so a stale loop can tell it no longer owns the state.
	gen          uint64
	cancelLoop   context.CancelFunc
	cancelStream context.CancelFunc

	voiceChannelID   snowflake.ID
	voiceChannelName string
	textChannelID    snowflake.ID
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.player == nil && s.connecting:
		return StateConnecting
	case s.player == nil && s.disconnected:
		return StateDisconnected
	case s.player == nil:
		return StateIdle
	case s.paused:
		return StatePaused
	case s.loopActive:
		return StatePlaying
	default:
		return StateIdle
	}
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player != nil
}

func (s *Session) VoiceChannel() (snowflake.ID, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voiceChannelID, s.voiceChannelName
}

func (s *Session) setVoiceChannel(id snowflake.ID, name string) {
	s.mu.Lock()
	s.voiceChannelID = id
	s.voiceChannelName = name
	s.mu.Unlock()
}

// Queue returns a copy of the pending entries.
func (s *Session) Queue() []QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]QueueEntry(nil), s.queue...)
}

func (s *Session) Current() (QueueEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return QueueEntry{}, false
	}
	return *s.current, true
}

// --- Coordinator operations ---

// Enqueue resolves query and appends it to the playlist.
func (s *Session) Enqueue(ctx context.Context, query string) (string, error) {
	entry, err := s.resolve(ctx, query)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.queue = append(s.queue, entry)
	s.mu.Unlock()
	sys.LogMusic(sys.MsgMusicLogQueued, s.GuildID, entry.Title, entry.ID)
	return fmt.Sprintf(sys.MsgMusicAdded, entry.Title), nil
}

func (s *Session) resolve(ctx context.Context, query string) (QueueEntry, error) {
	entry, err := s.m.cfg.Resolver.Resolve(ctx, query)
	if errors.Is(err, ErrNotFound) {
		return QueueEntry{}, Notice(sys.ErrMusicNotFound)
	}
	return entry, err
}

type PlayRequest struct {
	Query            string
	VoiceChannelID   snowflake.ID
	VoiceChannelName string
	TextChannelID    snowflake.ID
	// Progress, when set, receives interim status while the query is resolved.
	Progress func(text string)
}

// Play connects to the caller's channel and starts the play loop.
// A query is only resolved and queued when the playlist is empty.
func (s *Session) Play(ctx context.Context, req PlayRequest) (string, error) {
	s.mu.Lock()
	switch {
	case s.player != nil && s.paused:
		s.mu.Unlock()
		return "", Notice(fmt.Sprintf(sys.ErrMusicPausedElsewhere, s.voiceChannelName))
	case s.loopActive || s.connecting:
		name := s.voiceChannelName
		s.mu.Unlock()
		return "", Notice(fmt.Sprintf(sys.ErrMusicAlreadyPlaying, name))
	case s.player != nil && s.voiceChannelID != req.VoiceChannelID:
		s.mu.Unlock()
		return "", Notice(sys.ErrMusicDifferentChannel)
	case len(s.queue) == 0 && strings.TrimSpace(req.Query) == "":
		s.mu.Unlock()
		return "", Notice(sys.ErrMusicEmptyPlaylist)
	}
	// Claim the loop before releasing the lock so a concurrent Play is refused.
	s.loopActive = true
	gen := s.gen
	needsSong := len(s.queue) == 0
	s.textChannelID = req.TextChannelID
	s.mu.Unlock()
	s.m.setLastCommandChannel(s.GuildID, req.TextChannelID)

	release := func() {
		s.mu.Lock()
		if s.gen == gen {
			s.loopActive = false
		}
		s.mu.Unlock()
	}

	reply := sys.MsgMusicStarting
	if needsSong {
		if req.Progress != nil {
			req.Progress(sys.MsgMusicSearching)
		}
		entry, err := s.resolve(ctx, req.Query)
		if err != nil {
			release()
			return "", err
		}
		s.mu.Lock()
		s.queue = append(s.queue, entry)
		s.mu.Unlock()
		sys.LogMusic(sys.MsgMusicLogQueued, s.GuildID, entry.Title, entry.ID)
		reply = fmt.Sprintf(sys.MsgMusicAdded, entry.Title)
	}

	if err := s.connect(ctx, req.VoiceChannelID, req.VoiceChannelName); err != nil {
		sys.LogMusic(sys.MsgMusicLogConnectFail, s.GuildID, err)
		release()
		return "", Notice(sys.ErrMusicConnectFailed)
	}

	s.mu.Lock()
	if s.gen != gen {
		// Stopped while connecting.
		s.mu.Unlock()
		return reply, nil
	}
	loopCtx, cancel := context.WithCancel(s.m.base)
	s.cancelLoop = cancel
	s.mu.Unlock()

	sys.SafeGo(func() { s.run(loopCtx, gen) })
	return reply, nil
}

func (s *Session) Pause() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player == nil || !s.streaming {
		return "", Notice(sys.ErrMusicNotPlaying)
	}
	if s.paused {
		return "", Notice(sys.ErrMusicAlreadyPaused)
	}
	s.paused = true
	s.player.SetPaused(true)
	return sys.MsgMusicPaused, nil
}

func (s *Session) Resume() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.player != nil && s.paused:
		s.paused = false
		s.player.SetPaused(false)
		s.resumed.Broadcast()
		return sys.MsgMusicResumed, nil
	case s.player != nil && s.streaming:
		return "", Notice(sys.ErrMusicNotPaused)
	default:
		return "", Notice(sys.ErrMusicNotPlaying)
	}
}

// Skip ends the current stream; the loop moves on, or disconnects if nothing is queued.
func (s *Session) Skip() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playingLocked() {
		return "", Notice(sys.ErrMusicNotPlaying)
	}
	s.endStreamLocked()
	if len(s.queue) > 0 {
		return sys.MsgMusicSkippedNext, nil
	}
	return sys.MsgMusicSkipped, nil
}

// Restart puts the current entry back at the front and ends the stream so it plays again.
func (s *Session) Restart() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player == nil || !s.streaming || s.current == nil {
		return "", Notice(sys.ErrMusicNotPlaying)
	}
	if s.paused {
		return "", Notice(sys.ErrMusicResumeFirst)
	}
	s.queue = append([]QueueEntry{*s.current}, s.queue...)
	s.endStreamLocked()
	return sys.MsgMusicRestarting, nil
}

// endStreamLocked cancels the running stream and marks it over right away, so a repeated
// skip or restart is refused until the loop starts the next entry.
func (s *Session) endStreamLocked() {
	s.cancelStream()
	s.cancelStream = nil
	s.streaming = false
	s.current = nil
}

// Stop ends playback, clears the playlist and disconnects.
func (s *Session) Stop(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.player == nil && !s.connecting {
		s.mu.Unlock()
		return "", Notice(sys.ErrMusicNotPlaying)
	}
	p := s.resetLocked(false)
	s.mu.Unlock()

	if p != nil {
		p.Close(ctx)
	}
	return sys.MsgMusicStopped, nil
}

// Reset tears the session down without a reply, marking it disconnected.
func (s *Session) Reset(ctx context.Context) {
	s.mu.Lock()
	p := s.resetLocked(true)
	s.mu.Unlock()
	if p != nil {
		p.Close(ctx)
	}
}

// resetLocked clears all state and returns the player the caller must close.
func (s *Session) resetLocked(disconnected bool) Player {
	p := s.player
	s.player = nil
	s.queue = nil
	s.current = nil
	s.paused = false
	s.streaming = false
	s.loopActive = false
	s.disconnected = disconnected
	s.gen++
	if s.cancelStream != nil {
		s.cancelStream()
		s.cancelStream = nil
	}
	if s.cancelLoop != nil {
		s.cancelLoop()
		s.cancelLoop = nil
	}
	s.resumed.Broadcast()
	return p
}

func (s *Session) Swap(i, j int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return "", Notice(sys.ErrMusicPlaylistEmpty)
	}
	if !s.validIndexLocked(i) || !s.validIndexLocked(j) {
		return "", Notice(sys.ErrMusicInvalidIndex)
	}
	s.queue[i-1], s.queue[j-1] = s.queue[j-1], s.queue[i-1]
	return fmt.Sprintf(sys.MsgMusicSwapped, s.queue[i-1].Title, s.queue[j-1].Title, s.playlistLocked()), nil
}

func (s *Session) Remove(i int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return "", Notice(sys.ErrMusicPlaylistEmpty)
	}
	if !s.validIndexLocked(i) {
		return "", Notice(sys.ErrMusicInvalidIndex)
	}
	removed := s.queue[i-1]
	s.queue = append(s.queue[:i-1:i-1], s.queue[i:]...)
	return fmt.Sprintf(sys.MsgMusicRemoved, removed.Title, s.playlistLocked()), nil
}

func (s *Session) Clear() string {
	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()
	return sys.MsgMusicCleared
}

func (s *Session) Playlist() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return "", Notice(sys.ErrMusicPlaylistEmpty)
	}
	return s.playlistLocked(), nil
}

func (s *Session) playingLocked() bool {
	return s.player != nil && s.streaming && !s.paused && s.cancelStream != nil
}

func (s *Session) validIndexLocked(i int) bool {
	return i >= 1 && i <= len(s.queue)
}

func (s *Session) playlistLocked() string {
	return FormatPlaylist(s.queue)
}

// FormatPlaylist renders entries as a numbered list.
func FormatPlaylist(entries []QueueEntry) string {
	if len(entries) == 0 {
		return sys.MsgMusicPlaylistEmpty
	}
	var sb strings.Builder
	sb.WriteString(sys.MsgMusicPlaylistHeader)
	for i, e := range entries {
		fmt.Fprintf(&sb, sys.MsgMusicPlaylistItem, i+1, e.Title)
	}
	return sb.String()
}
