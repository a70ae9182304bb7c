package proc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPresenceOptions(t *testing.T) {
	quiet := PresenceOptions(PresenceSnapshot{Uptime: 42 * time.Second})
	assert.Equal(t, []string{"/play", "uptime 42s"}, quiet)

	busy := PresenceOptions(PresenceSnapshot{
		MusicSessions: 3,
		Reminders:     1,
		Uptime:        2*time.Hour + 5*time.Minute,
		Latency:       87 * time.Millisecond,
	})
	assert.Equal(t, []string{
		"/play",
		"music in 3 server(s)",
		"1 pending reminder(s)",
		"uptime 2h 5m",
		"ping 87ms",
	}, busy)
}

func TestPickPresenceAvoidsRepeats(t *testing.T) {
	opts := []string{"a", "b"}
	for range 20 {
		assert.Equal(t, "b", pickPresence(opts, "a"))
	}
	assert.Equal(t, "only", pickPresence([]string{"only"}, "only"))
	assert.Contains(t, opts, pickPresence(opts, ""))
}

func TestRotationInterval(t *testing.T) {
	for range 50 {
		d := rotationInterval()
		assert.GreaterOrEqual(t, d, 15*time.Second)
		assert.LessOrEqual(t, d, 60*time.Second)
	}
}
