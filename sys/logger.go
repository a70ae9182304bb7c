package sys

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
)

var (
	infoColor     = color.New(color.FgHiBlack)
	debugColor    = color.New(color.FgHiBlue)
	warnColor     = color.New(color.FgHiYellow)
	errorColor    = color.New(color.FgHiRed)
	fatalColor    = color.New(color.FgHiRed, color.Bold)
	databaseColor = color.New(color.FgHiBlack)
	reminderColor = color.New(color.FgHiMagenta)
	musicColor    = color.New(color.FgHiGreen)
	voiceColor    = color.New(color.FgGreen)
	aiColor       = color.New(color.FgHiCyan)
	stocksColor   = color.New(color.FgHiYellow)
	imageColor    = color.New(color.FgMagenta)
	loaderColor   = color.New(color.FgHiBlue)
	presenceColor = color.New(color.FgBlue)

	IsSilent  = false
	LogToFile = false

	// Logger is the process-wide structured logger.
	Logger *slog.Logger

	logFile *os.File
	logMu   sync.Mutex
)

// LevelFatal sits above error; LogFatal panics after emitting it so deferred cleanup still runs.
const LevelFatal = slog.LevelError + 4

func init() {
	InitLogger(false, false)
}

// InitLogger initializes the global structured logger
func InitLogger(silent bool, saveToFile bool) {
	logMu.Lock()
	defer logMu.Unlock()

	IsSilent = silent
	LogToFile = saveToFile
	level := slog.LevelInfo
	if strings.ToLower(os.Getenv("DEBUG")) == "true" {
		level = slog.LevelDebug
	}

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	var fileHandler slog.Handler
	if LogToFile {
		logName := GetProjectName() + ".log"
		if exePath, err := os.Executable(); err == nil {
			logName = filepath.Base(exePath) + ".log"
		}

		f, err := os.OpenFile(logName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", logName, err)
		} else {
			logFile = f
			fileHandler = tint.NewHandler(f, &tint.Options{
				Level:      level,
				TimeFormat: time.DateTime,
				NoColor:    true,
			})
		}
	}

	color.NoColor = false

	handler := NewBotLogHandler(os.Stdout, &BotLogHandlerOptions{
		Silent: IsSilent,
		Level:  level,
		File:   fileHandler,
	})
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

func SetSilentMode(silent bool) {
	InitLogger(silent, LogToFile)
}

func LogInfo(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...))
}

func LogWarn(format string, v ...any) {
	slog.Warn(fmt.Sprintf(format, v...))
}

func LogError(format string, v ...any) {
	slog.Error(fmt.Sprintf(format, v...))
}

func LogDebug(format string, v ...any) {
	slog.Debug(fmt.Sprintf(format, v...))
}

// LogFatal logs at fatal level and panics with the message; main recovers it and exits 1.
func LogFatal(format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	slog.Log(context.Background(), LevelFatal, msg)
	panic(msg)
}

func LogDatabase(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "database"))
}

func LogReminder(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "reminder"))
}

func LogMusic(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "music"))
}

func LogVoice(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "voice"))
}

func LogAI(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "ai"))
}

func LogStocks(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "stocks"))
}

func LogImage(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "image"))
}

func LogLoader(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "loader"))
}

func LogPresence(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "presence"))
}

// --- Custom Slog Handler ---

type BotLogHandlerOptions struct {
	Silent bool
	Level  slog.Leveler
	// File receives every record as well, uncolored.
	File slog.Handler
}

type BotLogHandler struct {
	w     io.Writer
	opts  *BotLogHandlerOptions
	mu    *sync.Mutex
	attrs []slog.Attr
}

func NewBotLogHandler(w io.Writer, opts *BotLogHandlerOptions) *BotLogHandler {
	if opts == nil {
		opts = &BotLogHandlerOptions{Level: slog.LevelInfo}
	}
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}
	return &BotLogHandler{
		w:    w,
		opts: opts,
		mu:   &sync.Mutex{},
	}
}

func (h *BotLogHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.opts.Silent {
		return false
	}
	return level >= h.opts.Level.Level()
}

func (h *BotLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.opts.Silent {
		return nil
	}

	if h.opts.File != nil && h.opts.File.Enabled(ctx, r.Level) {
		_ = h.opts.File.Handle(ctx, r.Clone())
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	levelStr, levelColor := levelStyle(r.Level)

	component := ""
	for _, a := range h.attrs {
		if a.Key == "component" {
			component = strings.ToUpper(a.Value.String())
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			component = strings.ToUpper(a.Value.String())
			return false
		}
		return true
	})

	// 15:04:05 [LEVEL] [COMPONENT] message
	fmt.Fprintf(h.w, "%s", r.Time.Format("15:04:05"))

	if component != "" {
		if levelStr != "INFO" {
			fmt.Fprintf(h.w, " %s", levelColor.Sprintf("[%s]", levelStr))
		}
		compColor := getComponentColor(component)
		fmt.Fprintf(h.w, " %s\n", colorizeWithResets(compColor, fmt.Sprintf("[%s] %s", component, r.Message)))
	} else {
		fmt.Fprintf(h.w, " %s\n", colorizeWithResets(levelColor, fmt.Sprintf("[%s] %s", levelStr, r.Message)))
	}

	return nil
}

func (h *BotLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	if h.opts.File != nil {
		opts := *h.opts
		opts.File = h.opts.File.WithAttrs(attrs)
		next.opts = &opts
	}
	return &next
}

func (h *BotLogHandler) WithGroup(name string) slog.Handler { return h }

func levelStyle(level slog.Level) (string, *color.Color) {
	switch {
	case level >= LevelFatal:
		return "FATAL", fatalColor
	case level >= slog.LevelError:
		return "ERROR", errorColor
	case level >= slog.LevelWarn:
		return "WARN", warnColor
	case level >= slog.LevelInfo:
		return "INFO", infoColor
	default:
		return "DEBUG", debugColor
	}
}

func getComponentColor(name string) *color.Color {
	switch name {
	case "DATABASE":
		return databaseColor
	case "REMINDER":
		return reminderColor
	case "MUSIC":
		return musicColor
	case "VOICE":
		return voiceColor
	case "AI":
		return aiColor
	case "STOCKS":
		return stocksColor
	case "IMAGE":
		return imageColor
	case "LOADER":
		return loaderColor
	case "PRESENCE":
		return presenceColor
	default:
		return color.New(color.FgCyan)
	}
}

// colorizeWithResets re-applies the outer color after every reset sequence inside text,
// so nested colored fragments don't end the component color early.
func colorizeWithResets(c *color.Color, text string) string {
	if !strings.Contains(text, "\x1b[0m") {
		return c.Sprint(text)
	}

	marker := "@@@MSG@@@"
	wrapped := c.Sprint(marker)
	idx := strings.Index(wrapped, marker)
	if idx <= 0 {
		return text
	}
	startSeq := wrapped[:idx]

	return c.Sprint(strings.ReplaceAll(text, "\x1b[0m", "\x1b[0m"+startSeq))
}

// --- Message Constants ---

const (
	// --- Infrastructure & Lifecycle ---
	MsgConfigFailedToLoad    = "Failed to load config: %v"
	MsgConfigMissingToken    = "DISCORD_TOKEN is not set in .env file"
	MsgConfigFeatureDisabled = "%s is not set, %s will be unavailable"
	MsgDatabaseInitSuccess   = "Database initialized successfully"
	MsgDatabaseTableError    = "Failed to create table: %w"
	MsgDatabasePragmaError   = "Failed to set pragma %s: %w"
	MsgDaemonStarting        = "Starting..."
	MsgBotStarting           = "Starting %s..."
	MsgBotReady              = "%s is ready! (ID: %s) (PID: %d) (Took: %dms)"
	MsgBotShutdown           = "Shutting down %s..."
	MsgBotKillingOld         = "Killing running instance... (PID: %d)"
	MsgBotOldTerminated      = "Old instance terminated."
	MsgBotRegisterFail       = "Command registration failed: %v"
	MsgBotPIDFail            = "Failed to lock PID file: %v"
	MsgBotStubborn           = "Old process %d is stubborn. Sending SIGKILL..."
	MsgBotSkipRegistration   = "Skipping command registration as requested."
	MsgBotStoppingDaemons    = "Shutting down all daemons..."
	MsgGenericError          = "%v"
	MsgGenericFailure        = "Sorry, I couldn't %s. Please try again."
	MsgCooldown              = "You're doing that too fast. Try again in %.0f seconds."
	MsgRespondFail           = "Failed to respond to interaction: %v"

	// --- Loader ---
	MsgLoaderSyncCommands       = "Syncing %s commands..."
	MsgLoaderUpToDate           = "Commands are up to date. (Hash: %s)"
	MsgLoaderCleanup            = "[CLEANUP] Removing commands from previous dev guild: %s"
	MsgLoaderDevStarting        = "[DEV] Registering commands to guild: %s"
	MsgLoaderDevRegistered      = "[DEV] Registered: %s"
	MsgLoaderDevFail            = "[DEV] Registration failed: %v"
	MsgLoaderDevGlobalClear     = "[DEV] Verifying global commands are cleared..."
	MsgLoaderDevGlobalClearFail = "[DEV] Global clear skipped (likely rate limited): %v"
	MsgLoaderProdStarting       = "[PROD] Registering commands globally..."
	MsgLoaderProdRegistered     = "[PROD] Registered: %s"
	MsgLoaderProdFail           = "[PROD] Global registration failed: %w"
	MsgLoaderScanStarting       = "[SCAN] Checking all guilds for ghost commands..."
	MsgLoaderScanCleared        = "[SCAN] Cleared ghost commands from: %s (%s)"
	MsgLoaderPanicRecovered     = "Panic recovered in handler: %v"

	// --- Music System ---
	MsgMusicAdded            = "Song `%s` added to the playlist."
	MsgMusicSearching        = "🎵 Searching for song... Please wait..."
	MsgMusicStarting         = "🎵 Starting the playlist... Please wait..."
	MsgMusicNowPlaying       = "▶️ Now playing `%s` in voice channel \"%s\""
	MsgMusicPaused           = "Song paused."
	MsgMusicResumed          = "Song resumed."
	MsgMusicSkippedNext      = "Song skipped. Playing next song... Please wait..."
	MsgMusicSkipped          = "Song skipped."
	MsgMusicStopped          = "Music stopped. The playlist has been cleared."
	MsgMusicSwapped          = "Swapped songs `%s` and `%s`.\n%s"
	MsgMusicRemoved          = "Removed song `%s` from the playlist.\n%s"
	MsgMusicRestarting       = "Song restarting... Please wait..."
	MsgMusicCleared          = "Playlist cleared."
	MsgMusicPlaylistHeader   = "New playlist:\n"
	MsgMusicPlaylistItem     = "%d. %s\n"
	MsgMusicPlaylistEmpty    = "Playlist is empty."
	MsgMusicDisconnected     = "The bot has disconnected from voice channel `%s`"
	MsgMusicDownloadTimeout  = "Sorry, I couldn't download the song in time. Please try again."
	MsgMusicDownloadFailed   = "Sorry, I couldn't download the song. Please try again."
	MsgMusicLogQueued        = "[%s] Queued %s (%s)"
	MsgMusicLogPlaying       = "[%s] Playing %s (%s)"
	MsgMusicLogDownloadFail  = "[%s] Download of %s failed: %v"
	MsgMusicLogStreamFail    = "[%s] Stream of %s ended with error: %v"
	MsgMusicLogLoopDrained   = "[%s] Playlist drained, disconnecting"
	MsgMusicLogAlone         = "[%s] Left alone in voice, stopping"
	MsgMusicLogForcedLeave   = "[%s] Disconnected from voice channel %s"
	MsgMusicLogMoved         = "[%s] Moved to voice channel %s"
	MsgMusicLogNotifyFail    = "[%s] Failed to send notification: %v"
	MsgMusicLogCleanupFail   = "Failed to remove %s: %v"
	MsgMusicLogConnectFail   = "[%s] Failed to connect to voice: %v"
	MsgMusicLogSearchFail    = "Search for %q failed: %v"
	MsgMusicLogTitleFail     = "Title lookup for %s failed: %v"
	MsgMusicLogAutocomplete  = "Autocomplete search failed: %v"
	ErrMusicNotInVoice       = "You must be in a voice channel to use this command."
	ErrMusicNotPlaying       = "There is no song playing."
	ErrMusicAlreadyPaused    = "The song is already paused."
	ErrMusicNotPaused        = "The song is not paused."
	ErrMusicPausedElsewhere  = "There is already a song that is paused in the voice channel \"%s\". Please use the `/resume` command to resume the song or the `/queue` command to add it to the playlist. If you wish to stop the music and clear the playlist, use the `/stop` command."
	ErrMusicAlreadyPlaying   = "I am already playing a song in the voice channel \"%s\". Please use the `/stop` command to stop the current song or use the `/queue` command to add it to the playlist."
	ErrMusicDifferentChannel = "You are not in the same voice channel as me. Please join the same voice channel and try again."
	ErrMusicEmptyPlaylist    = "The playlist is empty. Please specify a song to play."
	ErrMusicPlaylistEmpty    = "The playlist is empty."
	ErrMusicInvalidIndex     = "Please enter a valid song number from the playlist."
	ErrMusicResumeFirst      = "The song is paused. Please use the `/resume` command to resume the song and then the `/restart` command to restart it."
	ErrMusicEmptyQuery       = "Please enter a song name or YouTube URL."
	ErrMusicInvalidURL       = "Please enter a valid YouTube URL."
	ErrMusicNotFound         = "Could not find a video with that name. Please try again."
	ErrMusicConnectFailed    = "Sorry, I couldn't join your voice channel. Please try again."

	// --- Voice Transport ---
	MsgVoiceJoined          = "[%s] Joined voice channel %s"
	MsgVoiceLeft            = "[%s] Left voice channel"
	MsgVoiceTranscodeFail   = "Transcoding %s failed: %v"
	MsgVoiceSpeakingFail    = "Failed to set speaking state: %v"
	MsgVoiceFFmpegLogLevel  = "FFmpeg logging set to fatal"
	ErrVoiceNoAudioStream   = "no audio stream found"
	ErrVoiceEncoderNotFound = "libopus encoder not found"

	// --- AI System ---
	MsgAIAsking          = "[%s] Asking %s"
	MsgAIModelFailed     = "Model %s failed: %v"
	MsgAISafety          = "Could not generate a response due to safety filters or content restrictions."
	MsgAIUnexpected      = "Could not generate response. An unexpected error occurred: %v Please try again later."
	MsgAIAllFailed       = "Could not generate response. All available models failed. Please try again later."
	MsgAIDisabled        = "The AI service is not configured."
	ErrAIEmptyQuestion   = "Please enter a question."

	// --- Stocks System ---
	MsgStocksTicker        = "The ticker symbol for `%s` is **%s**."
	MsgStocksCSVReady      = "Daily stock data for **%s**:"
	MsgStocksLogRequest    = "%s %s"
	MsgStocksRateLimited   = "Stock API rate limit reached. Please try again later."
	MsgStocksDisabled      = "The stock service is not configured."
	ErrStocksEmptyCompany  = "Please enter a company name."
	ErrStocksNoTicker      = "No ticker found for that company name."
	ErrStocksEmptySymbol   = "Please enter a ticker symbol."
	ErrStocksInvalidSymbol = "Please enter a valid ticker symbol (e.g., AAPL)."
	ErrStocksNoData        = "No stock data found for that ticker."
	ErrStocksAPITicker     = "Stock API returned an error for that ticker."
	ErrStocksAPICompany    = "Stock API returned an error for that company name."
	ErrStocksTickerTimeout = "Ticker lookup timed out. Please try again."
	ErrStocksDataTimeout   = "Stock data request timed out. Please try again."

	// --- Presence ---
	MsgPresenceRotated    = "Presence set to %q (next in %s)"
	MsgPresenceUpdateFail = "Failed to update presence: %v"
	MsgPresencePlay       = "/play"
	MsgPresenceMusic      = "music in %d server(s)"
	MsgPresenceReminders  = "%d pending reminder(s)"
	MsgPresenceUptime     = "uptime %s"
	MsgPresencePing       = "ping %dms"

	// --- Image System ---
	MsgImageUsage        = "To process attachments, please use the command `!rembg` and send the image as an attachment."
	MsgImageLogProcess   = "Removing background from %s"
	MsgImageLogFail      = "Background removal failed: %v"
	ErrImageNoAttachment = "Please attach an image to your message."

	// --- Poll System ---
	MsgPollHeader          = ":bar_chart: **%s**"
	MsgPollLogReactFail    = "Failed to add poll reaction %s: %v"
	ErrPollNoQuestion      = "Please provide a poll question."
	ErrPollTooManyOptions  = "Please provide no more than 10 options."
	ErrPollTooFewOptions   = "Please provide at least 2 options."
	ErrPollQuestionTooLong = "Please keep the question under 256 characters."

	// --- Reminder System ---
	MsgReminderSet            = "**Reminder set:**\nTitle: %s\nMessage: %s\nDate and Time: %s"
	MsgReminderListItem       = "**%d.** Date and Time: `%s`\nTitle: `%s`\nMessage: `%s`\n"
	MsgReminderNone           = "No upcoming reminders."
	MsgReminderDeleted        = "Reminder `%s` deleted."
	MsgReminderAllDeleted     = "All reminders have been deleted."
	MsgReminderNoneToDelete   = "No reminders to delete."
	MsgReminderModified       = "**Reminder modified:**\nTitle: %s\nMessage: %s\nDate and Time: %s"
	MsgReminderWarning        = "@everyone **Reminder:** `%s` in 15 minutes!\n%s"
	MsgReminderFinal          = "@everyone **Reminder:** `%s`\n%s"
	MsgReminderLogLoaded      = "Loaded %d pending reminder(s)"
	MsgReminderLogSent        = "Sent reminder %d (%s)"
	MsgReminderLogWarned      = "Sent 15 minute warning for reminder %d (%s)"
	MsgReminderLogSendFail    = "Failed to send reminder %d: %v"
	MsgReminderLogStoreFail   = "Failed to update reminder %d: %v"
	MsgReminderLogLoadFail    = "Failed to load reminders: %v"
	MsgReminderNaturalTimeErr = "Failed to initialize naturaltime parser: %v"
	ErrReminderInvalidFormat  = "Invalid date or time format. Please use **YYYY-MM-DD** for the date and **HH:MM** for the time."
	ErrReminderPast           = "The reminder time must be in the future!"
	ErrReminderInvalidIndex   = "Invalid index. Please provide a valid reminder index."
	ErrReminderSetFail        = "Could not set the reminder. Please try again."
	ErrReminderListFail       = "Could not retrieve the reminders. Please try again."
	ErrReminderDeleteFail     = "Could not delete the reminder. Please try again."
	ErrReminderModifyFail     = "Could not modify the reminder. Please try again."

	// --- Greetings & Misc ---
	MsgGuildIntro       = "Hello, I am a Discord bot! I am here to help with various tasks and provide information.\nTo get started, type `/help` to see a list of commands."
	MsgMemberWelcome    = "Welcome!"
	MsgMemberWelcomeDsc = "<@%s> Just Joined %s!"
	MsgPingPong         = "Pong! (%dms)"
	MsgHelpHeader       = "**Available commands**\n"
	MsgHelpItem         = "`/%s` - %s\n"
	MsgSyncDone         = "Commands re-registered."
	MsgStatusBody       = "**Status**\n> Uptime: `%s`\n> Goroutines: `%d`\n> Memory: `%.2f MB`\n> CPU: `%.1f%%`\n> Music sessions: `%d`\n> Pending reminders: `%d`"
)
