package sys

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcd...", Truncate("abcdefghij", 7))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
	assert.Equal(t, "ab...yz", TruncateCenter("abcdefghijklmnopqrstuvwxyz", 7))
}

func TestChunkMessage(t *testing.T) {
	assert.Nil(t, ChunkMessage(""))

	text := strings.Repeat("é", MessageLimit*2+5)
	chunks := ChunkMessage(text)
	assert.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), MessageLimit)
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "42s", FormatDuration(42*time.Second))
	assert.Equal(t, "3m 5s", FormatDuration(3*time.Minute+5*time.Second))
	assert.Equal(t, "2h 1m", FormatDuration(2*time.Hour+time.Minute))
	assert.Equal(t, "1d 2h 3m", FormatDuration(26*time.Hour+3*time.Minute))
}
