package proc

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/leeineian/cadence/sys"
	"github.com/lrstanley/go-ytdlp"
	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"
)

var (
	watchURLPattern = regexp.MustCompile(`^https?://(?:www\.)?youtube\.com/watch\?v=[\w-]+$`)
	shortURLPattern = regexp.MustCompile(`^https?://youtu\.be/[\w-]+$`)
)

// ErrNotFound is returned when a search yields no video.
var ErrNotFound = errors.New("no video found")

// Searcher finds the first video matching a free-text query.
type Searcher interface {
	Search(ctx context.Context, query string) (entry QueueEntry, ok bool, err error)
}

// TitleFetcher looks up the title of a known video id.
type TitleFetcher interface {
	Title(ctx context.Context, videoID string) (string, error)
}

// Resolver turns a query or YouTube URL into a QueueEntry.
type Resolver struct {
	Searcher Searcher
	Titles   TitleFetcher
	Retry    sys.RetryPolicy
}

func NewResolver() *Resolver {
	return &Resolver{
		Searcher: &YouTubeSearcher{client: ytsearch.NewClient(nil)},
		Titles:   YTDLPTitles{},
		Retry:    sys.DefaultRetry,
	}
}

func (r *Resolver) Resolve(ctx context.Context, query string) (QueueEntry, error) {
	q := strings.TrimSpace(query)
	switch {
	case q == "":
		return QueueEntry{}, Notice(sys.ErrMusicEmptyQuery)
	case watchURLPattern.MatchString(q):
		return r.byID(ctx, q[strings.Index(q, "=")+1:]), nil
	case shortURLPattern.MatchString(q):
		return r.byID(ctx, q[strings.LastIndex(q, "/")+1:]), nil
	case strings.HasPrefix(q, "http"):
		return QueueEntry{}, Notice(sys.ErrMusicInvalidURL)
	}

	type result struct {
		entry QueueEntry
		ok    bool
	}
	res, err := sys.Retry(ctx, r.Retry.WithTimeout(sys.Timeouts.Search), func(ctx context.Context) (result, error) {
		e, ok, err := r.Searcher.Search(ctx, q)
		return result{e, ok}, err
	})
	if err != nil {
		sys.LogMusic(sys.MsgMusicLogSearchFail, q, err)
		return QueueEntry{}, err
	}
	if !res.ok {
		return QueueEntry{}, ErrNotFound
	}
	return res.entry, nil
}

// byID never fails: a missing title falls back to the id.
func (r *Resolver) byID(ctx context.Context, id string) QueueEntry {
	title, err := sys.Retry(ctx, r.Retry.WithTimeout(sys.Timeouts.Title), func(ctx context.Context) (string, error) {
		return r.Titles.Title(ctx, id)
	})
	if err != nil || strings.TrimSpace(title) == "" {
		if err != nil {
			sys.LogMusic(sys.MsgMusicLogTitleFail, id, err)
		}
		title = id
	}
	return QueueEntry{ID: id, Title: title}
}

// --- YouTube backends ---

type YouTubeSearcher struct {
	client *ytsearch.Client
}

func (s *YouTubeSearcher) Search(ctx context.Context, query string) (QueueEntry, bool, error) {
	res, err := s.client.Search(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return QueueEntry{}, false, ctx.Err()
		}
		return QueueEntry{}, false, err
	}
	for _, v := range res.Results {
		if v.VideoID != "" {
			return QueueEntry{ID: v.VideoID, Title: v.Title}, true, nil
		}
	}
	return QueueEntry{}, false, nil
}

type YTDLPTitles struct{}

func (YTDLPTitles) Title(ctx context.Context, videoID string) (string, error) {
	res, err := ytdlp.New().
		Print("%(title)s").
		NoWarnings().
		IgnoreConfig().
		Run(ctx, "--skip-download", watchURL(videoID))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if res != nil && isRateLimited(res.Stderr) {
			return "", errors.Join(sys.ErrTransient, err)
		}
		return "", err
	}
	return strings.TrimSpace(strings.SplitN(res.Stdout, "\n", 2)[0]), nil
}

// Suggest lists up to limit YouTube Music tracks for autocomplete. Titles carry the first artist.
func Suggest(query string, limit int) ([]QueueEntry, error) {
	res, err := ytmusic.TrackSearch(query).Next()
	if err != nil {
		return nil, err
	}
	var out []QueueEntry
	for _, t := range res.Tracks {
		if t.VideoID == "" {
			continue
		}
		title := t.Title
		if len(t.Artists) > 0 {
			title += " - " + t.Artists[0].Name
		}
		out = append(out, QueueEntry{ID: t.VideoID, Title: title})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func isRateLimited(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "429") || strings.Contains(s, "too many requests")
}

func watchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}
