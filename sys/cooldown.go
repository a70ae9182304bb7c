package sys

import (
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"golang.org/x/time/rate"
)

// Cooldown limits how often each user may invoke a command family.
type Cooldown struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[snowflake.ID]*rate.Limiter
	now      func() time.Time
}

// NewCooldown allows uses per every per user.
func NewCooldown(uses int, every time.Duration) *Cooldown {
	return &Cooldown{
		limit:    rate.Every(every / time.Duration(uses)),
		burst:    uses,
		limiters: make(map[snowflake.ID]*rate.Limiter),
		now:      time.Now,
	}
}

var (
	QuestionCooldown = NewCooldown(1, 15*time.Second)
	MusicCooldown    = NewCooldown(2, 10*time.Second)
	StockCooldown    = NewCooldown(2, 30*time.Second)
)

// Allow consumes a token for user. When refused, it returns how long until the next one.
func (c *Cooldown) Allow(user snowflake.ID) (bool, time.Duration) {
	c.mu.Lock()
	l, ok := c.limiters[user]
	if !ok {
		l = rate.NewLimiter(c.limit, c.burst)
		c.limiters[user] = l
	}
	now := c.now()
	c.mu.Unlock()

	r := l.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}
