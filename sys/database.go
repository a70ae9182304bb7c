package sys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/mattn/go-sqlite3"
)

var DB *sql.DB

func InitDatabase(ctx context.Context, dataSourceName string) error {
	// Explicitly reference sqlite3 driver to avoid blank identifier
	_ = sqlite3.SQLiteDriver{}

	if dir := filepath.Dir(dataSourceName); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0755)
	}

	var err error
	DB, err = sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return err
	}

	DB.SetMaxOpenConns(5)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA cache_size=-2000;",
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, p := range pragmas {
		if _, err := DB.ExecContext(initCtx, p); err != nil {
			return fmt.Errorf(MsgDatabasePragmaError, p, err)
		}
	}

	tx, err := DB.BeginTx(initCtx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tableQueries := []string{
		`CREATE TABLE IF NOT EXISTS reminders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			remind_at DATETIME NOT NULL,
			warned INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(remind_at, title, message, channel_id, guild_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_guild ON reminders (guild_id, remind_at)`,
		`CREATE TABLE IF NOT EXISTS bot_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, q := range tableQueries {
		if _, err := tx.ExecContext(initCtx, q); err != nil {
			return fmt.Errorf(MsgDatabaseTableError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	LogDatabase(MsgDatabaseInitSuccess)
	return nil
}

func CloseDatabase() {
	if DB != nil {
		DB.Close()
	}
}

// --- Bot Persistence ---

// BotConfig helpers are used by the loader for mode tracking and state.
func GetBotConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := DB.QueryRowContext(ctx, "SELECT value FROM bot_config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func SetBotConfig(ctx context.Context, key, value string) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO bot_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// --- Reminders ---

// ErrDuplicateReminder is returned when an identical reminder already exists.
var ErrDuplicateReminder = errors.New("reminder already exists")

type Reminder struct {
	ID        int64
	GuildID   snowflake.ID
	ChannelID snowflake.ID
	Title     string
	Message   string
	RemindAt  time.Time
	Warned    bool
	CreatedAt time.Time
}

const reminderColumns = "id, guild_id, channel_id, title, message, remind_at, warned, created_at"

func AddReminder(ctx context.Context, r *Reminder) error {
	res, err := DB.ExecContext(ctx, `
		INSERT INTO reminders (guild_id, channel_id, title, message, remind_at, warned)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.GuildID.String(), r.ChannelID.String(), r.Title, r.Message, r.RemindAt.UTC(), r.Warned)
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrDuplicateReminder
		}
		return err
	}
	r.ID, err = res.LastInsertId()
	return err
}

func GetReminder(ctx context.Context, id int64) (*Reminder, error) {
	row := DB.QueryRowContext(ctx, "SELECT "+reminderColumns+" FROM reminders WHERE id = ?", id)
	return scanReminder(row)
}

// GetRemindersForGuild returns a guild's reminders, soonest first.
func GetRemindersForGuild(ctx context.Context, guildID snowflake.ID) ([]*Reminder, error) {
	return queryReminders(ctx, "SELECT "+reminderColumns+" FROM reminders WHERE guild_id = ? ORDER BY remind_at ASC, id ASC", guildID.String())
}

func GetAllReminders(ctx context.Context) ([]*Reminder, error) {
	return queryReminders(ctx, "SELECT "+reminderColumns+" FROM reminders ORDER BY remind_at ASC, id ASC")
}

func UpdateReminder(ctx context.Context, r *Reminder) error {
	_, err := DB.ExecContext(ctx, `
		UPDATE reminders
		SET channel_id = ?, title = ?, message = ?, remind_at = ?, warned = ?
		WHERE id = ?
	`, r.ChannelID.String(), r.Title, r.Message, r.RemindAt.UTC(), r.Warned, r.ID)
	return err
}

func MarkReminderWarned(ctx context.Context, id int64) error {
	_, err := DB.ExecContext(ctx, "UPDATE reminders SET warned = 1 WHERE id = ?", id)
	return err
}

func DeleteReminder(ctx context.Context, id int64) (bool, error) {
	result, err := DB.ExecContext(ctx, "DELETE FROM reminders WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

func DeleteAllRemindersForGuild(ctx context.Context, guildID snowflake.ID) ([]int64, error) {
	rows, err := DB.QueryContext(ctx, "DELETE FROM reminders WHERE guild_id = ? RETURNING id", guildID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (*Reminder, error) {
	r := &Reminder{}
	var gid, cid string
	if err := row.Scan(&r.ID, &gid, &cid, &r.Title, &r.Message, &r.RemindAt, &r.Warned, &r.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	r.GuildID, err = snowflake.Parse(gid)
	if err != nil {
		return nil, fmt.Errorf("failed to parse guild ID '%s' for reminder %d: %w", gid, r.ID, err)
	}
	r.ChannelID, err = snowflake.Parse(cid)
	if err != nil {
		return nil, fmt.Errorf("failed to parse channel ID '%s' for reminder %d: %w", cid, r.ID, err)
	}
	return r, nil
}

func queryReminders(ctx context.Context, query string, args ...any) ([]*Reminder, error) {
	rows, err := DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reminders []*Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}
