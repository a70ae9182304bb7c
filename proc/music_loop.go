package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
	"github.com/leeineian/cadence/sys"
	"github.com/lrstanley/go-ytdlp"
)

// connect opens the voice connection unless one already exists.
func (s *Session) connect(ctx context.Context, channelID snowflake.ID, channelName string) error {
	s.mu.Lock()
	if s.player != nil {
		s.mu.Unlock()
		return nil
	}
	s.connecting = true
	gen := s.gen
	s.mu.Unlock()

	p := s.m.cfg.NewPlayer(s.GuildID)
	err := p.Open(ctx, channelID)

	s.mu.Lock()
	s.connecting = false
	if err != nil || s.gen != gen {
		s.mu.Unlock()
		p.Close(context.Background())
		return err
	}
	s.player = p
	s.disconnected = false
	s.voiceChannelID = channelID
	s.voiceChannelName = channelName
	s.mu.Unlock()

	sys.LogVoice(sys.MsgVoiceJoined, s.GuildID, channelName)
	return nil
}

// run plays queued entries one after another until the playlist drains or the session is reset.
func (s *Session) run(ctx context.Context, gen uint64) {
	for {
		entry, p, ok := s.next(gen)
		if !ok {
			return
		}
		s.playEntry(ctx, gen, p, entry)
	}
}

// next waits out a pause and pops the head of the playlist into current.
// On an empty playlist it disconnects and returns false.
func (s *Session) next(gen uint64) (QueueEntry, Player, bool) {
	s.mu.Lock()
	for s.gen == gen && s.paused && len(s.queue) > 0 {
		s.resumed.Wait()
	}
	if s.gen != gen || s.player == nil {
		s.mu.Unlock()
		return QueueEntry{}, nil, false
	}
	if len(s.queue) == 0 {
		p := s.resetLocked(false)
		s.mu.Unlock()
		sys.LogMusic(sys.MsgMusicLogLoopDrained, s.GuildID)
		if p != nil {
			p.Close(context.Background())
		}
		return QueueEntry{}, nil, false
	}
	entry := s.queue[0]
	s.queue = s.queue[1:]
	s.current = &entry
	p := s.player
	s.mu.Unlock()
	return entry, p, true
}

// playEntry downloads, streams and then removes one entry's audio file.
func (s *Session) playEntry(ctx context.Context, gen uint64, p Player, entry QueueEntry) {
	dlCtx, cancel := context.WithTimeout(ctx, sys.Timeouts.Download)
	path, err := s.m.cfg.Downloader.Download(dlCtx, entry, s.m.cfg.DownloadDir)
	timedOut := errors.Is(dlCtx.Err(), context.DeadlineExceeded)
	cancel()
	if path != "" {
		defer removeFile(path)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		sys.LogMusic(sys.MsgMusicLogDownloadFail, s.GuildID, entry.ID, err)
		msg := sys.MsgMusicDownloadFailed
		if timedOut {
			msg = sys.MsgMusicDownloadTimeout
		}
		s.notify(msg)
		return
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	streamCtx, cancelStream := context.WithCancel(ctx)
	s.streaming = true
	s.cancelStream = cancelStream
	channelName := s.voiceChannelName
	s.mu.Unlock()

	s.notify(fmt.Sprintf(sys.MsgMusicNowPlaying, entry.Title, channelName))
	sys.LogMusic(sys.MsgMusicLogPlaying, s.GuildID, entry.Title, entry.ID)

	err = p.Stream(streamCtx, path)
	if err != nil && streamCtx.Err() == nil {
		sys.LogMusic(sys.MsgMusicLogStreamFail, s.GuildID, entry.ID, err)
	}
	cancelStream()

	s.mu.Lock()
	if s.gen == gen {
		s.streaming = false
		s.cancelStream = nil
		s.paused = false
		s.current = nil
	}
	s.mu.Unlock()
}

func (s *Session) notify(text string) {
	s.mu.Lock()
	channelID := s.textChannelID
	s.mu.Unlock()
	s.m.notify(s.m.base, s.GuildID, channelID, text)
}

func removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		sys.LogDebug(sys.MsgMusicLogCleanupFail, path, err)
	}
}

// --- Backends ---

// YTDLPDownloader saves the best audio-only format under a random file name.
type YTDLPDownloader struct{}

func (YTDLPDownloader) Download(ctx context.Context, entry QueueEntry, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	name := uuid.NewString()
	res, err := ytdlp.New().
		Format("bestaudio[ext=webm]/bestaudio").
		Output(filepath.Join(dir, name+".%(ext)s")).
		Print("after_move:filepath").
		NoSimulate().
		NoPlaylist().
		NoPart().
		NoWarnings().
		IgnoreConfig().
		Run(ctx, entry.URL())

	// The file may exist even when yt-dlp failed late, so report it for cleanup either way.
	path := downloadedPath(dir, name, res)
	if err != nil {
		if ctx.Err() != nil {
			return path, ctx.Err()
		}
		return path, err
	}
	if path == "" {
		return "", fmt.Errorf("yt-dlp produced no file for %s", entry.ID)
	}
	return path, nil
}

func downloadedPath(dir, name string, res *ytdlp.Result) string {
	if res != nil {
		lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
		if last := strings.TrimSpace(lines[len(lines)-1]); last != "" {
			return last
		}
	}
	matches, _ := filepath.Glob(filepath.Join(dir, name+".*"))
	if len(matches) > 0 {
		return matches[0]
	}
	return ""
}

// RestNotifier posts notifications through the Discord REST API.
type RestNotifier struct {
	Client *bot.Client
}

func (n RestNotifier) Notify(ctx context.Context, channelID snowflake.ID, text string) error {
	_, err := n.Client.Rest.CreateMessage(channelID,
		discord.NewMessageCreateBuilder().SetContent(text).Build(),
		rest.WithCtx(ctx))
	return err
}

// ClearDownloads removes audio files left behind by an earlier process.
func (m *Music) ClearDownloads() {
	entries, err := os.ReadDir(m.cfg.DownloadDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			removeFile(filepath.Join(m.cfg.DownloadDir, e.Name()))
		}
	}
}
