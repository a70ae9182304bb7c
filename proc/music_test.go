package proc

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leeineian/cadence/sys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testGuild = 1
	testVoice = 10
	testText  = 20
)

func playRequest(query string) PlayRequest {
	return PlayRequest{Query: query, VoiceChannelID: testVoice, VoiceChannelName: "General", TextChannelID: testText}
}

func TestPlaylistOperations(t *testing.T) {
	h := newMusicHarness(t)
	ctx := context.Background()
	s := h.music.Session(testGuild)

	_, err := s.Playlist()
	requireNotice(t, err, sys.ErrMusicPlaylistEmpty)
	_, err = s.Swap(1, 2)
	requireNotice(t, err, sys.ErrMusicPlaylistEmpty)
	_, err = s.Remove(1)
	requireNotice(t, err, sys.ErrMusicPlaylistEmpty)

	for _, q := range []string{"song a", "song b", "song c"} {
		reply, err := s.Enqueue(ctx, q)
		require.NoError(t, err)
		assert.Contains(t, reply, "added to the playlist")
	}

	reply, err := s.Swap(1, 3)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf(sys.MsgMusicSwapped, "Song C", "Song A",
		"New playlist:\n1. Song C\n2. Song B\n3. Song A\n"), reply)

	_, err = s.Swap(0, 1)
	requireNotice(t, err, sys.ErrMusicInvalidIndex)
	_, err = s.Swap(1, 4)
	requireNotice(t, err, sys.ErrMusicInvalidIndex)

	reply, err = s.Remove(2)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf(sys.MsgMusicRemoved, "Song B", "New playlist:\n1. Song C\n2. Song A\n"), reply)
	_, err = s.Remove(3)
	requireNotice(t, err, sys.ErrMusicInvalidIndex)

	list, err := s.Playlist()
	require.NoError(t, err)
	assert.Equal(t, "New playlist:\n1. Song C\n2. Song A\n", list)

	assert.Equal(t, sys.MsgMusicCleared, s.Clear())
	assert.Empty(t, s.Queue())
}

func TestEnqueueRefusals(t *testing.T) {
	h := newMusicHarness(t)
	ctx := context.Background()
	s := h.music.Session(testGuild)

	_, err := s.Enqueue(ctx, "   ")
	requireNotice(t, err, sys.ErrMusicEmptyQuery)
	_, err = s.Enqueue(ctx, "https://example.com/video")
	requireNotice(t, err, sys.ErrMusicInvalidURL)
	_, err = s.Enqueue(ctx, "nothing matches this")
	requireNotice(t, err, sys.ErrMusicNotFound)
	assert.Empty(t, s.Queue())

	reply, err := s.Enqueue(ctx, "https://youtu.be/xyz")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf(sys.MsgMusicAdded, "Title of xyz"), reply)
}

func TestControlsWithoutPlayback(t *testing.T) {
	h := newMusicHarness(t)
	ctx := context.Background()
	s := h.music.Session(testGuild)

	_, err := s.Pause()
	requireNotice(t, err, sys.ErrMusicNotPlaying)
	_, err = s.Resume()
	requireNotice(t, err, sys.ErrMusicNotPlaying)
	_, err = s.Skip()
	requireNotice(t, err, sys.ErrMusicNotPlaying)
	_, err = s.Restart()
	requireNotice(t, err, sys.ErrMusicNotPlaying)
	_, err = s.Stop(ctx)
	requireNotice(t, err, sys.ErrMusicNotPlaying)
	_, err = s.Play(ctx, playRequest(""))
	requireNotice(t, err, sys.ErrMusicEmptyPlaylist)

	assert.Equal(t, StateIdle, s.State())
	assert.Zero(t, h.music.ActiveSessions())
}

func TestPlayPauseResumeSkip(t *testing.T) {
	h := newMusicHarness(t)
	ctx := context.Background()
	s := h.music.Session(testGuild)

	var progress []string
	req := playRequest("song a")
	req.Progress = func(text string) { progress = append(progress, text) }

	reply, err := s.Play(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf(sys.MsgMusicAdded, "Song A"), reply)
	assert.Equal(t, []string{sys.MsgMusicSearching}, progress)

	path := h.voice.waitStarted(t)
	assert.FileExists(t, path)
	assert.Equal(t, StatePlaying, s.State())
	assert.Equal(t, 1, h.music.ActiveSessions())
	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "Song A", cur.Title)
	assert.Contains(t, h.notifier.messages(), sentMessage{testText, fmt.Sprintf(sys.MsgMusicNowPlaying, "Song A", "General")})

	_, err = s.Play(ctx, playRequest("song b"))
	requireNotice(t, err, fmt.Sprintf(sys.ErrMusicAlreadyPlaying, "General"))

	reply, err = s.Pause()
	require.NoError(t, err)
	assert.Equal(t, sys.MsgMusicPaused, reply)
	assert.True(t, h.voice.last().isPaused())
	assert.Equal(t, StatePaused, s.State())

	_, err = s.Pause()
	requireNotice(t, err, sys.ErrMusicAlreadyPaused)
	_, err = s.Skip()
	requireNotice(t, err, sys.ErrMusicNotPlaying)
	_, err = s.Restart()
	requireNotice(t, err, sys.ErrMusicResumeFirst)
	_, err = s.Play(ctx, playRequest("song b"))
	requireNotice(t, err, fmt.Sprintf(sys.ErrMusicPausedElsewhere, "General"))

	reply, err = s.Resume()
	require.NoError(t, err)
	assert.Equal(t, sys.MsgMusicResumed, reply)
	assert.False(t, h.voice.last().isPaused())
	_, err = s.Resume()
	requireNotice(t, err, sys.ErrMusicNotPaused)

	reply, err = s.Skip()
	require.NoError(t, err)
	assert.Equal(t, sys.MsgMusicSkipped, reply)

	player := h.voice.last()
	require.Eventually(t, func() bool {
		return player.isClosed() && !s.Connected() && s.State() == StateIdle
	}, 2*time.Second, 10*time.Millisecond)
	assert.NoFileExists(t, path)
}

func TestQueueAdvancesToNextEntry(t *testing.T) {
	h := newMusicHarness(t)
	ctx := context.Background()
	s := h.music.Session(testGuild)

	_, err := s.Enqueue(ctx, "song a")
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, "song b")
	require.NoError(t, err)

	// A query is ignored while the playlist has entries.
	reply, err := s.Play(ctx, playRequest("song c"))
	require.NoError(t, err)
	assert.Equal(t, sys.MsgMusicStarting, reply)

	first := h.voice.waitStarted(t)
	assert.Contains(t, first, "aaa")
	assert.Equal(t, []QueueEntry{{ID: "bbb", Title: "Song B"}}, s.Queue())

	reply, err = s.Skip()
	require.NoError(t, err)
	assert.Equal(t, sys.MsgMusicSkippedNext, reply)

	second := h.voice.waitStarted(t)
	assert.Contains(t, second, "bbb")

	h.voice.end(t)
	require.Eventually(t, func() bool { return !s.Connected() }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, h.downloader.count("ccc"))
	assert.Equal(t, 1, h.voice.count(), "one connection serves the whole playlist")
}

func TestRestartReplaysCurrentEntry(t *testing.T) {
	h := newMusicHarness(t)
	ctx := context.Background()
	s := h.music.Session(testGuild)

	_, err := s.Play(ctx, playRequest("song a"))
	require.NoError(t, err)
	h.voice.waitStarted(t)

	reply, err := s.Restart()
	require.NoError(t, err)
	assert.Equal(t, sys.MsgMusicRestarting, reply)

	again := h.voice.waitStarted(t)
	assert.Contains(t, again, "aaa")
	assert.Equal(t, 2, h.downloader.count("aaa"))
	assert.Empty(t, s.Queue())
}

func TestRepeatedRestartReplaysOnce(t *testing.T) {
	h := newMusicHarness(t)
	ctx := context.Background()
	s := h.music.Session(testGuild)

	_, err := s.Play(ctx, playRequest("song a"))
	require.NoError(t, err)
	h.voice.waitStarted(t)

	h.downloader.hold()
	reply, err := s.Restart()
	require.NoError(t, err)
	assert.Equal(t, sys.MsgMusicRestarting, reply)
	_, err = s.Restart()
	requireNotice(t, err, sys.ErrMusicNotPlaying)
	h.downloader.release()

	assert.Contains(t, h.voice.waitStarted(t), "aaa")
	assert.Empty(t, s.Queue())

	// The replay is the last entry, so finishing it drains the loop.
	h.voice.end(t)
	require.Eventually(t, func() bool { return !s.Connected() }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, h.downloader.count("aaa"))
}

func TestRepeatedSkipSkipsOnce(t *testing.T) {
	h := newMusicHarness(t)
	ctx := context.Background()
	s := h.music.Session(testGuild)

	_, err := s.Play(ctx, playRequest("song a"))
	require.NoError(t, err)
	h.voice.waitStarted(t)
	_, err = s.Enqueue(ctx, "song b")
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, "song c")
	require.NoError(t, err)

	h.downloader.hold()
	reply, err := s.Skip()
	require.NoError(t, err)
	assert.Equal(t, sys.MsgMusicSkippedNext, reply)
	_, err = s.Skip()
	requireNotice(t, err, sys.ErrMusicNotPlaying)
	_, err = s.Pause()
	requireNotice(t, err, sys.ErrMusicNotPlaying)
	h.downloader.release()

	assert.Contains(t, h.voice.waitStarted(t), "bbb")
	assert.Equal(t, []QueueEntry{{ID: "ccc", Title: "Song C"}}, s.Queue())

	reply, err = s.Skip()
	require.NoError(t, err)
	assert.Equal(t, sys.MsgMusicSkippedNext, reply)
	assert.Contains(t, h.voice.waitStarted(t), "ccc")
}

func TestStopClearsAndDisconnects(t *testing.T) {
	h := newMusicHarness(t)
	ctx := context.Background()
	s := h.music.Session(testGuild)

	_, err := s.Play(ctx, playRequest("song a"))
	require.NoError(t, err)
	h.voice.waitStarted(t)
	_, err = s.Enqueue(ctx, "song b")
	require.NoError(t, err)

	reply, err := s.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, sys.MsgMusicStopped, reply)
	assert.Empty(t, s.Queue())
	assert.True(t, h.voice.last().isClosed())
	assert.Equal(t, StateIdle, s.State())
	_, ok := s.Current()
	assert.False(t, ok)

	_, err = s.Stop(ctx)
	requireNotice(t, err, sys.ErrMusicNotPlaying)

	// The session is usable again after a stop.
	_, err = s.Play(ctx, playRequest("song c"))
	require.NoError(t, err)
	assert.Contains(t, h.voice.waitStarted(t), "ccc")
}

func TestDownloadFailureMovesOn(t *testing.T) {
	h := newMusicHarness(t)
	ctx := context.Background()
	s := h.music.Session(testGuild)
	h.downloader.fail["bad"] = true

	_, err := s.Enqueue(ctx, "bad song")
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, "song a")
	require.NoError(t, err)

	_, err = s.Play(ctx, playRequest(""))
	require.NoError(t, err)

	assert.Contains(t, h.voice.waitStarted(t), "aaa")
	assert.Contains(t, h.notifier.texts(), sys.MsgMusicDownloadFailed)
}

func TestConnectFailure(t *testing.T) {
	h := newMusicHarness(t)
	h.voice.openErr = fmt.Errorf("voice gateway unavailable")
	ctx := context.Background()
	s := h.music.Session(testGuild)

	_, err := s.Play(ctx, playRequest("song a"))
	requireNotice(t, err, sys.ErrMusicConnectFailed)
	assert.True(t, h.voice.last().isClosed())
	assert.False(t, s.Connected())

	// The failed attempt released the session.
	h.voice.openErr = nil
	_, err = s.Play(ctx, playRequest(""))
	require.NoError(t, err)
	h.voice.waitStarted(t)
}

func TestBotDisconnectedNotifiesAndResets(t *testing.T) {
	h := newMusicHarness(t)
	ctx := context.Background()
	s := h.music.Session(testGuild)

	_, err := s.Play(ctx, playRequest("song a"))
	require.NoError(t, err)
	h.voice.waitStarted(t)

	h.music.BotDisconnected(ctx, testGuild)

	assert.Equal(t, StateDisconnected, s.State())
	assert.Contains(t, h.notifier.messages(), sentMessage{testText, fmt.Sprintf(sys.MsgMusicDisconnected, "General")})
	assert.True(t, h.voice.last().isClosed())

	// Nothing more to announce once the session is gone.
	before := len(h.notifier.messages())
	h.music.BotDisconnected(ctx, testGuild)
	assert.Len(t, h.notifier.messages(), before)
}

func TestLeftAloneStopsSilently(t *testing.T) {
	h := newMusicHarness(t)
	ctx := context.Background()
	s := h.music.Session(testGuild)

	_, err := s.Play(ctx, playRequest("song a"))
	require.NoError(t, err)
	h.voice.waitStarted(t)
	before := len(h.notifier.messages())

	h.music.LeftAlone(ctx, testGuild)
	assert.False(t, s.Connected())
	assert.Len(t, h.notifier.messages(), before)
}

func TestClearDownloads(t *testing.T) {
	h := newMusicHarness(t)
	dir := h.music.cfg.DownloadDir
	path, err := h.downloader.Download(context.Background(), QueueEntry{ID: "left"}, dir)
	require.NoError(t, err)

	h.music.ClearDownloads()
	assert.NoFileExists(t, path)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "playing", StatePlaying.String())
	assert.Equal(t, "paused", StatePaused.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
}
