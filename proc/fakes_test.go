package proc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/cadence/sys"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	channel snowflake.ID
	text    string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, channelID snowflake.ID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentMessage{channelID, text})
	return nil
}

func (n *fakeNotifier) setErr(err error) {
	n.mu.Lock()
	n.err = err
	n.mu.Unlock()
}

func (n *fakeNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

func (n *fakeNotifier) texts() []string {
	var out []string
	for _, m := range n.messages() {
		out = append(out, m.text)
	}
	return out
}

// fakeSearcher answers from a fixed table.
type fakeSearcher struct {
	mu      sync.Mutex
	results map[string]QueueEntry
	fails   int
	calls   int
}

func (s *fakeSearcher) Search(_ context.Context, query string) (QueueEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fails > 0 {
		s.fails--
		return QueueEntry{}, false, sys.ErrTransient
	}
	e, ok := s.results[query]
	return e, ok, nil
}

type fakeTitles struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeTitles) Title(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "Title of " + id, nil
}

// fakeDownloader writes an empty file per entry, failing for ids listed in fail.
// While held, downloads wait until release.
type fakeDownloader struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls map[string]int
	held  chan struct{}
}

func (d *fakeDownloader) Download(ctx context.Context, e QueueEntry, dir string) (string, error) {
	d.mu.Lock()
	held := d.held
	d.mu.Unlock()
	if held != nil {
		select {
		case <-held:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.calls == nil {
		d.calls = make(map[string]int)
	}
	d.calls[e.ID]++
	if d.fail[e.ID] {
		return "", errors.New("download failed")
	}
	path := filepath.Join(dir, e.ID+".webm")
	return path, os.WriteFile(path, nil, 0644)
}

func (d *fakeDownloader) hold() {
	d.mu.Lock()
	d.held = make(chan struct{})
	d.mu.Unlock()
}

func (d *fakeDownloader) release() {
	d.mu.Lock()
	close(d.held)
	d.held = nil
	d.mu.Unlock()
}

func (d *fakeDownloader) count(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[id]
}

// fakeVoice hands out players that stream until told to finish or canceled.
type fakeVoice struct {
	mu      sync.Mutex
	players []*fakePlayer
	openErr error
	started chan string
	finish  chan struct{}
}

func newFakeVoice() *fakeVoice {
	return &fakeVoice{started: make(chan string, 16), finish: make(chan struct{})}
}

func (v *fakeVoice) NewPlayer(snowflake.ID) Player {
	v.mu.Lock()
	defer v.mu.Unlock()
	p := &fakePlayer{voice: v, openErr: v.openErr}
	v.players = append(v.players, p)
	return p
}

func (v *fakeVoice) last() *fakePlayer {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.players) == 0 {
		return nil
	}
	return v.players[len(v.players)-1]
}

func (v *fakeVoice) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.players)
}

func (v *fakeVoice) waitStarted(t *testing.T) string {
	t.Helper()
	select {
	case path := <-v.started:
		return path
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not start")
		return ""
	}
}

// end finishes the running stream normally.
func (v *fakeVoice) end(t *testing.T) {
	t.Helper()
	select {
	case v.finish <- struct{}{}:
	case <-time.After(2 * time.Second):
		t.Fatal("no stream to finish")
	}
}

type fakePlayer struct {
	voice   *fakeVoice
	openErr error

	mu      sync.Mutex
	channel snowflake.ID
	closed  bool
	paused  bool
}

func (p *fakePlayer) Open(_ context.Context, channelID snowflake.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channel = channelID
	return p.openErr
}

func (p *fakePlayer) Close(context.Context) {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *fakePlayer) Stream(ctx context.Context, path string) error {
	p.voice.started <- path
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.voice.finish:
		return nil
	}
}

func (p *fakePlayer) SetPaused(paused bool) {
	p.mu.Lock()
	p.paused = paused
	p.mu.Unlock()
}

func (p *fakePlayer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePlayer) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

type musicHarness struct {
	music      *Music
	voice      *fakeVoice
	notifier   *fakeNotifier
	downloader *fakeDownloader
	searcher   *fakeSearcher
	titles     *fakeTitles
}

func newMusicHarness(t *testing.T) *musicHarness {
	t.Helper()
	h := &musicHarness{
		voice:      newFakeVoice(),
		notifier:   &fakeNotifier{},
		downloader: &fakeDownloader{fail: map[string]bool{}},
		searcher: &fakeSearcher{results: map[string]QueueEntry{
			"song a":   {ID: "aaa", Title: "Song A"},
			"song b":   {ID: "bbb", Title: "Song B"},
			"song c":   {ID: "ccc", Title: "Song C"},
			"bad song": {ID: "bad", Title: "Bad Song"},
		}},
		titles: &fakeTitles{},
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.music = NewMusic(ctx, MusicConfig{
		Resolver:    &Resolver{Searcher: h.searcher, Titles: h.titles, Retry: sys.RetryPolicy{}},
		Downloader:  h.downloader,
		Notifier:    h.notifier,
		NewPlayer:   h.voice.NewPlayer,
		DownloadDir: t.TempDir(),
	})
	t.Cleanup(func() {
		h.music.Shutdown(context.Background())
		cancel()
	})
	return h
}

func requireNotice(t *testing.T, err error, text string) {
	t.Helper()
	var n Notice
	require.ErrorAs(t, err, &n)
	require.Equal(t, text, string(n))
}
