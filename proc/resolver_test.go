package proc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leeineian/cadence/sys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResolver() (*Resolver, *fakeSearcher, *fakeTitles) {
	s := &fakeSearcher{results: map[string]QueueEntry{"lofi": {ID: "lofi123", Title: "Lofi Beats"}}}
	ti := &fakeTitles{}
	return &Resolver{
		Searcher: s,
		Titles:   ti,
		Retry:    sys.RetryPolicy{Retries: 2, Delay: time.Millisecond, Backoff: 1},
	}, s, ti
}

func TestResolveURLs(t *testing.T) {
	cases := []struct {
		query string
		id    string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"http://youtube.com/watch?v=abc_-1", "abc_-1"},
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"  https://youtu.be/xyz  ", "xyz"},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			r, s, ti := testResolver()
			e, err := r.Resolve(context.Background(), tc.query)
			require.NoError(t, err)
			assert.Equal(t, QueueEntry{ID: tc.id, Title: "Title of " + tc.id}, e)
			assert.Zero(t, s.calls, "URLs never search")
			assert.Equal(t, 1, ti.calls)
		})
	}
}

func TestResolveURLFallsBackToID(t *testing.T) {
	r, _, ti := testResolver()
	ti.err = errors.New("private video")
	e, err := r.Resolve(context.Background(), "https://youtu.be/secret")
	require.NoError(t, err)
	assert.Equal(t, QueueEntry{ID: "secret", Title: "secret"}, e)
	assert.Equal(t, 1, ti.calls, "permanent failures are not retried")
}

func TestResolveRejectsOtherURLs(t *testing.T) {
	r, s, _ := testResolver()
	for _, q := range []string{
		"https://vimeo.com/123",
		"https://www.youtube.com/playlist?list=PL1",
		"https://www.youtube.com/watch?v=abc&t=10",
	} {
		_, err := r.Resolve(context.Background(), q)
		requireNotice(t, err, sys.ErrMusicInvalidURL)
	}
	assert.Zero(t, s.calls)
}

func TestResolveSearch(t *testing.T) {
	r, s, ti := testResolver()
	e, err := r.Resolve(context.Background(), "lofi")
	require.NoError(t, err)
	assert.Equal(t, "Lofi Beats", e.Title)
	assert.Equal(t, "https://www.youtube.com/watch?v=lofi123", e.URL())
	assert.Equal(t, 1, s.calls)
	assert.Zero(t, ti.calls)

	_, err = r.Resolve(context.Background(), "unknown")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolveSearchRetriesTransientFailures(t *testing.T) {
	r, s, _ := testResolver()
	s.fails = 2
	e, err := r.Resolve(context.Background(), "lofi")
	require.NoError(t, err)
	assert.Equal(t, "lofi123", e.ID)
	assert.Equal(t, 3, s.calls)

	s.calls, s.fails = 0, 5
	_, err = r.Resolve(context.Background(), "lofi")
	require.ErrorIs(t, err, sys.ErrTransient)
	assert.Equal(t, 3, s.calls)
}

func TestIsRateLimited(t *testing.T) {
	assert.True(t, isRateLimited("ERROR: HTTP Error 429: Too Many Requests"))
	assert.True(t, isRateLimited("too many requests"))
	assert.False(t, isRateLimited("ERROR: Video unavailable"))
}
