package sys

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) context.Context {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, InitDatabase(ctx, filepath.Join(t.TempDir(), t.Name()+".db")))
	t.Cleanup(CloseDatabase)
	return ctx
}

func TestReminderPersistence(t *testing.T) {
	ctx := testDB(t)
	at := time.Now().Add(time.Hour).Truncate(time.Minute)
	guild := snowflake.ID(100)

	later := &Reminder{GuildID: guild, ChannelID: 7, Title: "later", Message: "m", RemindAt: at.Add(time.Hour)}
	sooner := &Reminder{GuildID: guild, ChannelID: 7, Title: "sooner", Message: "m", RemindAt: at}
	other := &Reminder{GuildID: 200, ChannelID: 8, Title: "other", Message: "m", RemindAt: at}
	for _, r := range []*Reminder{later, sooner, other} {
		require.NoError(t, AddReminder(ctx, r))
		assert.NotZero(t, r.ID)
	}

	list, err := GetRemindersForGuild(ctx, guild)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "sooner", list[0].Title)
	assert.Equal(t, "later", list[1].Title)
	assert.True(t, list[0].RemindAt.Equal(at))
	assert.Equal(t, snowflake.ID(7), list[0].ChannelID)

	require.NoError(t, MarkReminderWarned(ctx, sooner.ID))
	got, err := GetReminder(ctx, sooner.ID)
	require.NoError(t, err)
	assert.True(t, got.Warned)

	got.Title = "renamed"
	got.Warned = false
	require.NoError(t, UpdateReminder(ctx, got))
	got, err = GetReminder(ctx, sooner.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	assert.False(t, got.Warned)

	deleted, err := DeleteReminder(ctx, later.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = DeleteReminder(ctx, later.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	ids, err := DeleteAllRemindersForGuild(ctx, guild)
	require.NoError(t, err)
	assert.Equal(t, []int64{sooner.ID}, ids)

	all, err := GetAllReminders(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "other", all[0].Title)
}

func TestAddReminderRejectsDuplicates(t *testing.T) {
	ctx := testDB(t)
	at := time.Now().Add(time.Hour).Truncate(time.Minute)
	r := Reminder{GuildID: 1, ChannelID: 2, Title: "t", Message: "m", RemindAt: at}
	first, second := r, r
	require.NoError(t, AddReminder(ctx, &first))
	require.ErrorIs(t, AddReminder(ctx, &second), ErrDuplicateReminder)
}

func TestBotConfig(t *testing.T) {
	ctx := testDB(t)
	v, err := GetBotConfig(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, SetBotConfig(ctx, "mode", "dev"))
	require.NoError(t, SetBotConfig(ctx, "mode", "prod"))
	v, err = GetBotConfig(ctx, "mode")
	require.NoError(t, err)
	assert.Equal(t, "prod", v)
}
