package proc

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/cadence/sys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryReminderStore keeps copies, the way rows are read back from the database.
type memoryReminderStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]sys.Reminder
	err    error
}

func newMemoryReminderStore() *memoryReminderStore {
	return &memoryReminderStore{rows: make(map[int64]sys.Reminder)}
}

func (m *memoryReminderStore) Add(_ context.Context, r *sys.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.nextID++
	r.ID = m.nextID
	m.rows[r.ID] = *r
	return nil
}

func (m *memoryReminderStore) Update(_ context.Context, r *sys.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[r.ID] = *r
	return nil
}

func (m *memoryReminderStore) MarkWarned(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rows[id]
	r.Warned = true
	m.rows[id] = r
	return nil
}

func (m *memoryReminderStore) Delete(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[id]
	delete(m.rows, id)
	return ok, nil
}

func (m *memoryReminderStore) DeleteGuild(_ context.Context, guildID snowflake.ID) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, r := range m.rows {
		if r.GuildID == guildID {
			ids = append(ids, id)
			delete(m.rows, id)
		}
	}
	return ids, nil
}

func (m *memoryReminderStore) ListGuild(ctx context.Context, guildID snowflake.ID) ([]*sys.Reminder, error) {
	all, err := m.All(ctx)
	return slices.DeleteFunc(all, func(r *sys.Reminder) bool { return r.GuildID != guildID }), err
}

func (m *memoryReminderStore) All(context.Context) ([]*sys.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*sys.Reminder
	for _, r := range m.rows {
		r := r
		out = append(out, &r)
	}
	slices.SortFunc(out, func(a, b *sys.Reminder) int {
		if c := a.RemindAt.Compare(b.RemindAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (m *memoryReminderStore) get(id int64) (sys.Reminder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	return r, ok
}

type reminderHarness struct {
	sched    *ReminderScheduler
	store    *memoryReminderStore
	notifier *fakeNotifier
	now      time.Time
}

func newReminderHarness() *reminderHarness {
	h := &reminderHarness{
		store:    newMemoryReminderStore(),
		notifier: &fakeNotifier{},
		now:      time.Date(2030, 1, 2, 10, 0, 0, 0, time.Local),
	}
	h.sched = NewReminderScheduler(h.store, h.notifier)
	h.sched.now = func() time.Time { return h.now }
	return h
}

func (h *reminderHarness) create(t *testing.T, guild snowflake.ID, in time.Duration, title string) *sys.Reminder {
	t.Helper()
	at := h.now.Add(in)
	r, err := h.sched.Create(context.Background(), guild, ReminderInput{
		Date:      at.Format("2006-01-02"),
		Time:      at.Format("15:04"),
		Title:     title,
		Message:   title + " message",
		ChannelID: 55,
	})
	require.NoError(t, err)
	return r
}

func assertSameTime(t *testing.T, want, got time.Time) {
	t.Helper()
	assert.True(t, want.Equal(got), "want %s, got %s", want, got)
}

func (h *reminderHarness) advance(d time.Duration) {
	h.now = h.now.Add(d)
	h.sched.Tick(context.Background())
}

func TestReminderWarningThenFinal(t *testing.T) {
	h := newReminderHarness()
	r := h.create(t, 1, time.Hour, "standup")

	next, ok := h.sched.NextFire()
	require.True(t, ok)
	assertSameTime(t, h.now.Add(45*time.Minute), next)

	h.advance(44 * time.Minute)
	assert.Empty(t, h.notifier.messages())

	h.advance(time.Minute)
	assert.Equal(t, []sentMessage{{55, fmt.Sprintf(sys.MsgReminderWarning, "standup", "standup message")}}, h.notifier.messages())
	stored, _ := h.store.get(r.ID)
	assert.True(t, stored.Warned)
	assert.Equal(t, 1, h.sched.Pending())

	h.advance(15 * time.Minute)
	assert.Equal(t, fmt.Sprintf(sys.MsgReminderFinal, "standup", "standup message"), h.notifier.texts()[1])
	assert.Zero(t, h.sched.Pending())
	_, ok = h.store.get(r.ID)
	assert.False(t, ok, "fired reminders are removed")

	h.advance(time.Hour)
	assert.Len(t, h.notifier.messages(), 2)
}

func TestReminderWithinWarningWindowFiresOnce(t *testing.T) {
	h := newReminderHarness()
	h.create(t, 1, 10*time.Minute, "soon")

	next, _ := h.sched.NextFire()
	assertSameTime(t, h.now.Add(10*time.Minute), next)

	h.advance(10 * time.Minute)
	assert.Equal(t, []string{fmt.Sprintf(sys.MsgReminderFinal, "soon", "soon message")}, h.notifier.texts())
}

func TestOverdueRemindersFireOnLoad(t *testing.T) {
	h := newReminderHarness()
	ctx := context.Background()
	require.NoError(t, h.store.Add(ctx, &sys.Reminder{GuildID: 1, ChannelID: 55, Title: "missed", Message: "m", RemindAt: h.now.Add(-5 * time.Minute)}))
	require.NoError(t, h.store.Add(ctx, &sys.Reminder{GuildID: 1, ChannelID: 55, Title: "warned", Message: "m", RemindAt: h.now.Add(time.Hour), Warned: true}))

	require.NoError(t, h.sched.Load(ctx))
	assert.Equal(t, 2, h.sched.Pending())

	h.sched.Tick(ctx)
	assert.Equal(t, []string{fmt.Sprintf(sys.MsgReminderFinal, "missed", "m")}, h.notifier.texts())

	next, _ := h.sched.NextFire()
	assertSameTime(t, h.now.Add(time.Hour), next)
}

func TestRemindersFireInTimeOrder(t *testing.T) {
	h := newReminderHarness()
	h.create(t, 1, 12*time.Minute, "third")
	h.create(t, 1, 5*time.Minute, "first")
	h.create(t, 2, 5*time.Minute, "second")

	h.advance(20 * time.Minute)
	assert.Equal(t, []string{
		fmt.Sprintf(sys.MsgReminderFinal, "first", "first message"),
		fmt.Sprintf(sys.MsgReminderFinal, "second", "second message"),
		fmt.Sprintf(sys.MsgReminderFinal, "third", "third message"),
	}, h.notifier.texts())
}

func TestFailedFinalIsRetried(t *testing.T) {
	h := newReminderHarness()
	h.create(t, 1, 5*time.Minute, "retry")
	h.notifier.setErr(errors.New("discord down"))

	h.advance(5 * time.Minute)
	assert.Equal(t, 1, h.sched.Pending())

	h.notifier.setErr(nil)
	h.advance(time.Minute)
	assert.Len(t, h.notifier.messages(), 1)
	assert.Zero(t, h.sched.Pending())
}

func TestDeleteUnschedules(t *testing.T) {
	h := newReminderHarness()
	ctx := context.Background()
	h.create(t, 1, 2*time.Hour, "later")
	h.create(t, 1, time.Hour, "sooner")
	h.create(t, 2, time.Hour, "elsewhere")

	_, err := h.sched.Delete(ctx, 1, 3)
	requireNotice(t, err, sys.ErrReminderInvalidIndex)
	_, err = h.sched.Delete(ctx, 1, 0)
	requireNotice(t, err, sys.ErrReminderInvalidIndex)

	removed, err := h.sched.Delete(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "sooner", removed.Title)
	assert.Equal(t, 2, h.sched.Pending())

	n, err := h.sched.DeleteAll(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, h.sched.Pending())

	n, err = h.sched.DeleteAll(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.advance(50 * time.Minute)
	h.advance(3 * time.Hour)
	assert.Equal(t, []string{
		fmt.Sprintf(sys.MsgReminderWarning, "elsewhere", "elsewhere message"),
		fmt.Sprintf(sys.MsgReminderFinal, "elsewhere", "elsewhere message"),
	}, h.notifier.texts())
}

func TestListIsOrderedBySoonest(t *testing.T) {
	h := newReminderHarness()
	h.create(t, 1, 3*time.Hour, "c")
	h.create(t, 1, time.Hour, "a")
	h.create(t, 1, 2*time.Hour, "b")

	list, err := h.sched.List(context.Background(), 1)
	require.NoError(t, err)
	var titles []string
	for _, r := range list {
		titles = append(titles, r.Title)
	}
	assert.Equal(t, []string{"a", "b", "c"}, titles)
}

func TestModifyReschedules(t *testing.T) {
	h := newReminderHarness()
	ctx := context.Background()
	r := h.create(t, 1, time.Hour, "old")

	// Warning already sent for the original time.
	h.advance(46 * time.Minute)
	require.Len(t, h.notifier.messages(), 1)

	clock := h.now.Add(2 * time.Hour).Format("15:04")
	title := "new"
	var channel snowflake.ID = 66
	updated, err := h.sched.Modify(ctx, 1, 1, ReminderChanges{Time: &clock, Title: &title, ChannelID: &channel})
	require.NoError(t, err)
	assert.Equal(t, r.ID, updated.ID)
	assert.Equal(t, "new", updated.Title)
	assert.Equal(t, "old message", updated.Message)
	assert.False(t, updated.Warned, "a new time earns a new warning")
	assertSameTime(t, h.now.Add(2*time.Hour), updated.RemindAt)

	stored, _ := h.store.get(r.ID)
	assert.Equal(t, "new", stored.Title)
	assert.Equal(t, snowflake.ID(66), stored.ChannelID)

	assert.Equal(t, 1, h.sched.Pending())
	next, _ := h.sched.NextFire()
	assertSameTime(t, updated.RemindAt.Add(-15*time.Minute), next)

	msg := "only the message"
	kept, err := h.sched.Modify(ctx, 1, 1, ReminderChanges{Message: &msg})
	require.NoError(t, err)
	assertSameTime(t, updated.RemindAt, kept.RemindAt)

	past := "09:00"
	_, err = h.sched.Modify(ctx, 1, 1, ReminderChanges{Time: &past})
	requireNotice(t, err, sys.ErrReminderPast)
	_, err = h.sched.Modify(ctx, 1, 2, ReminderChanges{Message: &msg})
	requireNotice(t, err, sys.ErrReminderInvalidIndex)
}

func TestCreateRefusals(t *testing.T) {
	h := newReminderHarness()
	ctx := context.Background()

	_, err := h.sched.Create(ctx, 1, ReminderInput{Date: "2029-12-31", Time: "23:59", Title: "t", Message: "m"})
	requireNotice(t, err, sys.ErrReminderPast)
	_, err = h.sched.Create(ctx, 1, ReminderInput{Date: "2030-01-02", Time: "10:00", Title: "t", Message: "m"})
	requireNotice(t, err, sys.ErrReminderPast)
	_, err = h.sched.Create(ctx, 1, ReminderInput{Title: "t", Message: "m"})
	requireNotice(t, err, sys.ErrReminderInvalidFormat)

	h.store.err = errors.New("disk full")
	_, err = h.sched.Create(ctx, 1, ReminderInput{Date: "2030-01-03", Time: "10:00", Title: "t", Message: "m"})
	require.EqualError(t, err, "disk full")
	assert.Zero(t, h.sched.Pending())
}

func TestParseReminderTimeStrict(t *testing.T) {
	now := time.Date(2030, 1, 2, 10, 0, 0, 0, time.Local)
	at, err := ParseReminderTime(" 2030-01-02 ", " 10:01 ", now)
	require.NoError(t, err)
	assertSameTime(t, time.Date(2030, 1, 2, 10, 1, 0, 0, time.Local), at)
}

func TestReminderQueueTieBreak(t *testing.T) {
	at := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	q := reminderQueue{
		{reminder: &sys.Reminder{ID: 2}, at: at},
		{reminder: &sys.Reminder{ID: 1}, at: at},
		{reminder: &sys.Reminder{ID: 3}, at: at.Add(-time.Second)},
	}
	assert.True(t, q.Less(1, 0))
	assert.True(t, q.Less(2, 1))
	assert.False(t, q.Less(0, 1))
}
