package proc

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/gateway"
	"github.com/leeineian/cadence/sys"
	"github.com/samber/lo"
)

var presenceOnce sync.Once

func init() {
	sys.OnClientReady(func(ctx context.Context, client *bot.Client) {
		presenceOnce.Do(func() {
			sys.RegisterDaemon(sys.LogPresence, func(ctx context.Context) (bool, func(), func()) {
				ctx, cancel := context.WithCancel(ctx)
				r := &presenceRotator{client: client}
				return true, func() { r.run(ctx) }, cancel
			})
		})
	})
}

// rotationInterval picks 15 to 60 seconds.
func rotationInterval() time.Duration {
	return time.Duration(15+rand.IntN(46)) * time.Second
}

// PresenceSnapshot is what the rotating "Listening to ..." activity can talk about.
type PresenceSnapshot struct {
	MusicSessions int
	Reminders     int
	Uptime        time.Duration
	Latency       time.Duration
}

// PresenceOptions lists the activity texts for a snapshot, skipping the ones with nothing to say.
func PresenceOptions(s PresenceSnapshot) []string {
	opts := []string{sys.MsgPresencePlay}
	if s.MusicSessions > 0 {
		opts = append(opts, fmt.Sprintf(sys.MsgPresenceMusic, s.MusicSessions))
	}
	if s.Reminders > 0 {
		opts = append(opts, fmt.Sprintf(sys.MsgPresenceReminders, s.Reminders))
	}
	opts = append(opts, fmt.Sprintf(sys.MsgPresenceUptime, sys.FormatDuration(s.Uptime)))
	if s.Latency > 0 {
		opts = append(opts, fmt.Sprintf(sys.MsgPresencePing, s.Latency.Milliseconds()))
	}
	return opts
}

// pickPresence chooses randomly among opts, avoiding last unless it is the only choice.
func pickPresence(opts []string, last string) string {
	fresh := lo.Without(opts, last)
	if len(fresh) == 0 {
		return last
	}
	return sys.RandomChoice(fresh)
}

type presenceRotator struct {
	client *bot.Client
	last   string
}

func (r *presenceRotator) run(ctx context.Context) {
	for {
		next := rotationInterval()
		r.update(ctx, next)
		select {
		case <-time.After(next):
		case <-ctx.Done():
			return
		}
	}
}

func (r *presenceRotator) snapshot() PresenceSnapshot {
	s := PresenceSnapshot{
		Uptime:    time.Since(sys.StartupTime),
		Latency:   r.client.Gateway.Latency(),
		Reminders: Reminders().Pending(),
	}
	if m := GetMusic(); m != nil {
		s.MusicSessions = m.ActiveSessions()
	}
	return s
}

func (r *presenceRotator) update(ctx context.Context, next time.Duration) {
	text := pickPresence(PresenceOptions(r.snapshot()), r.last)
	err := r.client.SetPresence(ctx,
		gateway.WithOnlineStatus(discord.OnlineStatusOnline),
		gateway.WithListeningActivity(text),
	)
	if err != nil {
		sys.LogPresence(sys.MsgPresenceUpdateFail, err)
		return
	}
	r.last = text
	sys.LogDebug(sys.MsgPresenceRotated, text, next)
}
