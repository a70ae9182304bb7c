package proc

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/cadence/sys"
	"github.com/sho0pi/naturaltime"
)

const ReminderLayout = "2006-01-02 15:04"

var reminders = NewReminderScheduler(dbReminderStore{}, nil)

func init() {
	sys.OnClientReady(func(ctx context.Context, client *bot.Client) {
		if reminders.SetNotifier(RestNotifier{Client: client}) {
			sys.RegisterDaemon(sys.LogReminder, reminders.start)
		}
	})
}

// Reminders returns the process-wide scheduler.
func Reminders() *ReminderScheduler {
	return reminders
}

// ReminderStore persists reminders. The sqlite implementation is the default.
type ReminderStore interface {
	Add(ctx context.Context, r *sys.Reminder) error
	Update(ctx context.Context, r *sys.Reminder) error
	MarkWarned(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) (bool, error)
	DeleteGuild(ctx context.Context, guildID snowflake.ID) ([]int64, error)
	ListGuild(ctx context.Context, guildID snowflake.ID) ([]*sys.Reminder, error)
	All(ctx context.Context) ([]*sys.Reminder, error)
}

type dbReminderStore struct{}

func (dbReminderStore) Add(ctx context.Context, r *sys.Reminder) error {
	return sys.AddReminder(ctx, r)
}
func (dbReminderStore) Update(ctx context.Context, r *sys.Reminder) error {
	return sys.UpdateReminder(ctx, r)
}
func (dbReminderStore) MarkWarned(ctx context.Context, id int64) error {
	return sys.MarkReminderWarned(ctx, id)
}
func (dbReminderStore) Delete(ctx context.Context, id int64) (bool, error) {
	return sys.DeleteReminder(ctx, id)
}
func (dbReminderStore) DeleteGuild(ctx context.Context, guildID snowflake.ID) ([]int64, error) {
	return sys.DeleteAllRemindersForGuild(ctx, guildID)
}
func (dbReminderStore) ListGuild(ctx context.Context, guildID snowflake.ID) ([]*sys.Reminder, error) {
	return sys.GetRemindersForGuild(ctx, guildID)
}
func (dbReminderStore) All(ctx context.Context) ([]*sys.Reminder, error) {
	return sys.GetAllReminders(ctx)
}

// --- Heap ---

type scheduledReminder struct {
	reminder *sys.Reminder
	at       time.Time
	warning  bool
	index    int
}

// reminderQueue is a min-heap on fire time.
type reminderQueue []*scheduledReminder

func (q reminderQueue) Len() int { return len(q) }

func (q reminderQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].reminder.ID < q[j].reminder.ID
	}
	return q[i].at.Before(q[j].at)
}

func (q reminderQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *reminderQueue) Push(x any) {
	item := x.(*scheduledReminder)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *reminderQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

// --- Scheduler ---

// ReminderScheduler fires the 15 minute warning and the final notification for every stored reminder.
type ReminderScheduler struct {
	mu       sync.Mutex
	queue    reminderQueue
	items    map[int64]*scheduledReminder
	store    ReminderStore
	notifier Notifier
	now      func() time.Time
}

func NewReminderScheduler(store ReminderStore, notifier Notifier) *ReminderScheduler {
	return &ReminderScheduler{
		items:    make(map[int64]*scheduledReminder),
		store:    store,
		notifier: notifier,
		now:      time.Now,
	}
}

// SetNotifier installs the notifier and reports whether this was the first one.
func (s *ReminderScheduler) SetNotifier(n Notifier) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := s.notifier == nil
	s.notifier = n
	return first
}

func (s *ReminderScheduler) start(ctx context.Context) (bool, func(), func()) {
	ctx, cancel := context.WithCancel(ctx)

	if err := s.Load(ctx); err != nil {
		sys.LogReminder(sys.MsgReminderLogLoadFail, err)
	}
	return true, func() { s.Run(ctx) }, cancel
}

// Load schedules every stored reminder.
func (s *ReminderScheduler) Load(ctx context.Context) error {
	all, err := s.store.All(ctx)
	if err != nil {
		return err
	}
	for _, r := range all {
		s.Schedule(r)
	}
	sys.LogReminder(sys.MsgReminderLogLoaded, len(all))
	return nil
}

func (s *ReminderScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(sys.ReminderPollInterval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Schedule adds r, replacing any earlier schedule for the same ID.
func (s *ReminderScheduler) Schedule(r *sys.Reminder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(r.ID)

	item := &scheduledReminder{reminder: r, at: r.RemindAt}
	if !r.Warned && r.RemindAt.Sub(s.now()) > sys.ReminderWarnBefore {
		item.at = r.RemindAt.Add(-sys.ReminderWarnBefore)
		item.warning = true
	}
	s.items[r.ID] = item
	heap.Push(&s.queue, item)
}

func (s *ReminderScheduler) Unschedule(id int64) {
	s.mu.Lock()
	s.removeLocked(id)
	s.mu.Unlock()
}

func (s *ReminderScheduler) removeLocked(id int64) {
	item, ok := s.items[id]
	if !ok {
		return
	}
	delete(s.items, id)
	if item.index >= 0 {
		heap.Remove(&s.queue, item.index)
	}
}

// Pending returns the number of scheduled reminders.
func (s *ReminderScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// NextFire returns the earliest fire time, if any.
func (s *ReminderScheduler) NextFire() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return time.Time{}, false
	}
	return s.queue[0].at, true
}

// Tick fires every reminder whose time has come.
func (s *ReminderScheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	now := s.now()
	var due []*scheduledReminder
	for len(s.queue) > 0 && !s.queue[0].at.After(now) {
		due = append(due, heap.Pop(&s.queue).(*scheduledReminder))
	}
	notifier := s.notifier
	s.mu.Unlock()

	for _, item := range due {
		s.fire(ctx, notifier, item, now)
	}
}

func (s *ReminderScheduler) fire(ctx context.Context, notifier Notifier, item *scheduledReminder, now time.Time) {
	r := item.reminder
	if item.warning && r.RemindAt.After(now) {
		if err := s.send(ctx, notifier, r, fmt.Sprintf(sys.MsgReminderWarning, r.Title, r.Message)); err != nil {
			sys.LogReminder(sys.MsgReminderLogSendFail, r.ID, err)
		} else {
			sys.LogReminder(sys.MsgReminderLogWarned, r.ID, r.Title)
			if err := s.store.MarkWarned(ctx, r.ID); err != nil {
				sys.LogReminder(sys.MsgReminderLogStoreFail, r.ID, err)
			}
		}
		s.requeue(item)
		return
	}

	if err := s.send(ctx, notifier, r, fmt.Sprintf(sys.MsgReminderFinal, r.Title, r.Message)); err != nil {
		// Kept in the queue and retried on the next tick.
		sys.LogReminder(sys.MsgReminderLogSendFail, r.ID, err)
		s.requeue(item)
		return
	}
	sys.LogReminder(sys.MsgReminderLogSent, r.ID, r.Title)

	s.mu.Lock()
	if s.items[r.ID] == item {
		delete(s.items, r.ID)
	}
	s.mu.Unlock()
	if _, err := s.store.Delete(ctx, r.ID); err != nil {
		sys.LogReminder(sys.MsgReminderLogStoreFail, r.ID, err)
	}
}

// requeue puts a fired item back as its final notification, unless it was unscheduled meanwhile.
func (s *ReminderScheduler) requeue(item *scheduledReminder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items[item.reminder.ID] != item {
		return
	}
	if item.warning {
		item.reminder.Warned = true
	}
	item.warning = false
	item.at = item.reminder.RemindAt
	heap.Push(&s.queue, item)
}

func (s *ReminderScheduler) send(ctx context.Context, notifier Notifier, r *sys.Reminder, text string) error {
	if notifier == nil {
		return errors.New("no notifier configured")
	}
	return notifier.Notify(ctx, r.ChannelID, text)
}

// --- Operations ---

// ReminderInput carries the fields of /reminder set.
type ReminderInput struct {
	Date, Time     string
	Title, Message string
	ChannelID      snowflake.ID
}

// ReminderChanges carries the optional fields of /reminder modify. Nil fields stay unchanged.
type ReminderChanges struct {
	Date, Time     *string
	Title, Message *string
	ChannelID      *snowflake.ID
}

func (s *ReminderScheduler) Create(ctx context.Context, guildID snowflake.ID, in ReminderInput) (*sys.Reminder, error) {
	at, err := ParseReminderTime(in.Date, in.Time, s.now())
	if err != nil {
		return nil, err
	}
	r := &sys.Reminder{
		GuildID:   guildID,
		ChannelID: in.ChannelID,
		Title:     in.Title,
		Message:   in.Message,
		RemindAt:  at,
	}
	if err := s.store.Add(ctx, r); err != nil {
		return nil, err
	}
	s.Schedule(r)
	return r, nil
}

func (s *ReminderScheduler) List(ctx context.Context, guildID snowflake.ID) ([]*sys.Reminder, error) {
	return s.store.ListGuild(ctx, guildID)
}

// at resolves a 1-based position within the guild's time-ordered list.
func (s *ReminderScheduler) at(ctx context.Context, guildID snowflake.ID, index int) (*sys.Reminder, error) {
	list, err := s.store.ListGuild(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if index < 1 || index > len(list) {
		return nil, Notice(sys.ErrReminderInvalidIndex)
	}
	return list[index-1], nil
}

func (s *ReminderScheduler) Delete(ctx context.Context, guildID snowflake.ID, index int) (*sys.Reminder, error) {
	r, err := s.at(ctx, guildID, index)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Delete(ctx, r.ID); err != nil {
		return nil, err
	}
	s.Unschedule(r.ID)
	return r, nil
}

// DeleteAll removes every reminder of a guild and returns how many there were.
func (s *ReminderScheduler) DeleteAll(ctx context.Context, guildID snowflake.ID) (int, error) {
	ids, err := s.store.DeleteGuild(ctx, guildID)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		s.Unschedule(id)
	}
	return len(ids), nil
}

func (s *ReminderScheduler) Modify(ctx context.Context, guildID snowflake.ID, index int, c ReminderChanges) (*sys.Reminder, error) {
	cur, err := s.at(ctx, guildID, index)
	if err != nil {
		return nil, err
	}
	r := *cur
	if c.Date != nil || c.Time != nil {
		date, clock := r.RemindAt.In(time.Local).Format("2006-01-02"), r.RemindAt.In(time.Local).Format("15:04")
		if c.Date != nil {
			date = *c.Date
		}
		if c.Time != nil {
			clock = *c.Time
		}
		at, err := ParseReminderTime(date, clock, s.now())
		if err != nil {
			return nil, err
		}
		if !at.Equal(r.RemindAt) {
			r.RemindAt = at
			r.Warned = false
		}
	}
	if c.Title != nil {
		r.Title = *c.Title
	}
	if c.Message != nil {
		r.Message = *c.Message
	}
	if c.ChannelID != nil {
		r.ChannelID = *c.ChannelID
	}
	if err := s.store.Update(ctx, &r); err != nil {
		return nil, err
	}
	s.Schedule(&r)
	return &r, nil
}

// --- Parsing ---

var naturalParser = sync.OnceValues(func() (*naturaltime.Parser, error) {
	return naturaltime.New()
})

// ParseReminderTime reads "YYYY-MM-DD" and "HH:MM" in local time, falling back to natural
// language for the combined text. The result must lie after now.
func ParseReminderTime(date, clock string, now time.Time) (time.Time, error) {
	text := strings.TrimSpace(strings.TrimSpace(date) + " " + strings.TrimSpace(clock))
	at, err := time.ParseInLocation(ReminderLayout, text, time.Local)
	if err != nil {
		parsed, ok := parseNatural(text, now)
		if !ok {
			return time.Time{}, Notice(sys.ErrReminderInvalidFormat)
		}
		at = parsed.Truncate(time.Minute)
	}
	if !at.After(now) {
		return time.Time{}, Notice(sys.ErrReminderPast)
	}
	return at, nil
}

func parseNatural(text string, now time.Time) (time.Time, bool) {
	if text == "" {
		return time.Time{}, false
	}
	parser, err := naturalParser()
	if err != nil {
		sys.LogReminder(sys.MsgReminderNaturalTimeErr, err)
		return time.Time{}, false
	}
	res, err := parser.ParseDate(text, now)
	if err != nil || res == nil {
		return time.Time{}, false
	}
	return *res, true
}
