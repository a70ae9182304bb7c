package sys

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/godave/golibdave"
	"github.com/disgoorg/snowflake/v2"
)

// SafeGo runs a function in a new goroutine with panic recovery
func SafeGo(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				LogError(MsgLoaderPanicRecovered, r)
				fmt.Printf("%s\n", debug.Stack())
			}
		}()
		f()
	}()
}

// --- Global State & Setup ---

var AppContext = context.Background()
var daemonsOnce sync.Once
var StartupTime = time.Now()

var (
	registryMu           sync.RWMutex
	commands             = []discord.ApplicationCommandCreate{}
	commandHandlers      = map[string]func(event *events.ApplicationCommandInteractionCreate){}
	autocompleteHandlers = map[string]func(event *events.AutocompleteInteractionCreate){}
)

var voiceStateUpdateHandlers []func(event *events.GuildVoiceStateUpdate)
var messageCreateHandlers []func(event *events.MessageCreate)
var guildJoinHandlers []func(event *events.GuildJoin)
var memberJoinHandlers []func(event *events.GuildMemberJoin)
var onClientReadyCallbacks []func(ctx context.Context, client *bot.Client)

// HttpClient is a shared thread-safe client for all external API calls.
var HttpClient = &http.Client{
	Timeout: 60 * time.Second,
}

func SetAppContext(ctx context.Context) {
	AppContext = ctx
}

// --- Bot Initialization ---

// CreateClient creates and configures a disgo client with voice support
func CreateClient(ctx context.Context, cfg *Config) (*bot.Client, error) {
	client, err := disgo.New(cfg.Token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildMessages,
				gateway.IntentGuildMembers,
				gateway.IntentMessageContent,
				gateway.IntentGuildMessageReactions,
				gateway.IntentGuildVoiceStates,
			),
			gateway.WithPresenceOpts(
				gateway.WithListeningActivity("/play"),
				gateway.WithOnlineStatus(discord.OnlineStatusOnline),
			),
		),
		bot.WithCacheConfigOpts(
			cache.WithCaches(cache.FlagGuilds, cache.FlagMembers, cache.FlagRoles, cache.FlagChannels, cache.FlagVoiceStates),
		),
		bot.WithVoiceManagerConfigOpts(
			voice.WithDaveSessionCreateFunc(golibdave.NewSession),
		),
		bot.WithEventListenerFunc(onApplicationCommandInteraction),
		bot.WithEventListenerFunc(onAutocompleteInteraction),
		bot.WithEventListenerFunc(onVoiceStateUpdate),
		bot.WithEventListenerFunc(onMessageCreate),
		bot.WithEventListenerFunc(onGuildJoin),
		bot.WithEventListenerFunc(onGuildMemberJoin),
		bot.WithEventListenerFunc(onReady),
		bot.WithLogger(slog.Default()),
		bot.WithRestClientConfigOpts(
			rest.WithHTTPClient(&http.Client{
				Timeout: 60 * time.Second,
				Transport: &http.Transport{
					MaxIdleConns:        100,
					MaxIdleConnsPerHost: 50,
					IdleConnTimeout:     90 * time.Second,
				},
			}),
		),
	)
	if err != nil {
		return nil, err
	}

	return client, nil
}

// --- Command & Handler Registration ---

func RegisterCommand(cmd discord.ApplicationCommandCreate, handler func(event *events.ApplicationCommandInteractionCreate)) {
	registryMu.Lock()
	defer registryMu.Unlock()
	commands = append(commands, cmd)
	switch c := cmd.(type) {
	case discord.SlashCommandCreate:
		commandHandlers[c.CommandName()] = handler
	case discord.UserCommandCreate:
		commandHandlers[c.CommandName()] = handler
	case discord.MessageCommandCreate:
		commandHandlers[c.CommandName()] = handler
	}
}

func RegisterAutocompleteHandler(cmdName string, handler func(event *events.AutocompleteInteractionCreate)) {
	registryMu.Lock()
	defer registryMu.Unlock()
	autocompleteHandlers[cmdName] = handler
}

func RegisterVoiceStateUpdateHandler(handler func(event *events.GuildVoiceStateUpdate)) {
	voiceStateUpdateHandlers = append(voiceStateUpdateHandlers, handler)
}

func RegisterMessageCreateHandler(handler func(event *events.MessageCreate)) {
	messageCreateHandlers = append(messageCreateHandlers, handler)
}

func RegisterGuildJoinHandler(handler func(event *events.GuildJoin)) {
	guildJoinHandlers = append(guildJoinHandlers, handler)
}

func RegisterMemberJoinHandler(handler func(event *events.GuildMemberJoin)) {
	memberJoinHandlers = append(memberJoinHandlers, handler)
}

func OnClientReady(cb func(ctx context.Context, client *bot.Client)) {
	onClientReadyCallbacks = append(onClientReadyCallbacks, cb)
}

// RegisteredCommands returns a copy of every registered slash command.
func RegisteredCommands() []discord.SlashCommandCreate {
	registryMu.RLock()
	defer registryMu.RUnlock()
	var out []discord.SlashCommandCreate
	for _, c := range commands {
		if sc, ok := c.(discord.SlashCommandCreate); ok {
			out = append(out, sc)
		}
	}
	return out
}

// --- Command Syncing Logic ---

// calculateCommandHash generates a SHA256 hash of the commands slice
func calculateCommandHash(cmds []discord.ApplicationCommandCreate) string {
	data, err := json.Marshal(cmds)
	if err != nil {
		return ""
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// RegisterCommands syncs the registered commands globally, or to guildIDStr in dev mode.
// Registration is skipped when the command hash and mode are unchanged, unless forced.
func RegisterCommands(client *bot.Client, guildIDStr string, force bool) error {
	ctx := context.Background()
	lastGuildID, _ := GetBotConfig(ctx, "last_guild_id")

	isProduction := guildIDStr == ""
	currentMode := "guild"
	if isProduction {
		currentMode = "global"
	}

	LogLoader(MsgLoaderSyncCommands, strings.ToUpper(currentMode))

	registryMu.RLock()
	cmds := append([]discord.ApplicationCommandCreate{}, commands...)
	registryMu.RUnlock()

	currentHash := calculateCommandHash(cmds)
	lastHash, _ := GetBotConfig(ctx, "last_cmd_hash")
	lastMode, _ := GetBotConfig(ctx, "last_reg_mode")

	shouldRegister := true
	if currentHash != "" && currentHash == lastHash && currentMode == lastMode && !force {
		shouldRegister = false
		LogLoader(MsgLoaderUpToDate, currentHash[:8])
	}

	if isProduction {
		if shouldRegister {
			LogLoader(MsgLoaderProdStarting)
			created, err := client.Rest.SetGlobalCommands(client.ApplicationID, cmds)
			if err != nil {
				return fmt.Errorf(MsgLoaderProdFail, err)
			}
			for _, cmd := range created {
				LogLoader(MsgLoaderProdRegistered, cmd.Name())
			}
		}

		if force || lastMode != currentMode {
			scanGuilds(client, 0)
		}

		if lastGuildID != "" {
			clearGuild(client, lastGuildID)
		}
	} else {
		guildID, err := snowflake.Parse(guildIDStr)
		if err != nil {
			return fmt.Errorf("invalid GUILD_ID: %w", err)
		}

		if shouldRegister {
			LogLoader(MsgLoaderDevStarting, guildIDStr)
			created, err := client.Rest.SetGuildCommands(client.ApplicationID, guildID, cmds)
			if err != nil {
				LogWarn(MsgLoaderDevFail, err)
			} else {
				for _, cmd := range created {
					LogLoader(MsgLoaderDevRegistered, cmd.Name())
				}
			}
		}

		if lastMode != currentMode || force {
			if existing, err := client.Rest.GetGlobalCommands(client.ApplicationID, false); err == nil && len(existing) > 0 {
				LogLoader(MsgLoaderDevGlobalClear)
				if _, err := client.Rest.SetGlobalCommands(client.ApplicationID, []discord.ApplicationCommandCreate{}); err != nil {
					LogWarn(MsgLoaderDevGlobalClearFail, err)
				}
			}
		}

		if lastGuildID != "" && lastGuildID != guildIDStr {
			clearGuild(client, lastGuildID)
		}

		if force {
			scanGuilds(client, guildID)
		}
	}

	_ = SetBotConfig(ctx, "last_reg_mode", currentMode)
	_ = SetBotConfig(ctx, "last_guild_id", guildIDStr)
	if currentHash != "" {
		_ = SetBotConfig(ctx, "last_cmd_hash", currentHash)
	}

	return nil
}

func clearGuild(client *bot.Client, guildIDStr string) {
	id, err := snowflake.Parse(guildIDStr)
	if err != nil {
		return
	}
	if cmds, err := client.Rest.GetGuildCommands(client.ApplicationID, id, false); err == nil && len(cmds) > 0 {
		LogLoader(MsgLoaderCleanup, guildIDStr)
		_, _ = client.Rest.SetGuildCommands(client.ApplicationID, id, []discord.ApplicationCommandCreate{})
	}
}

// scanGuilds clears guild-scoped commands from every guild except keep.
func scanGuilds(client *bot.Client, keep snowflake.ID) {
	LogLoader(MsgLoaderScanStarting)
	guilds, err := client.Rest.GetCurrentUserGuilds("", 0, 0, 100, false)
	if err != nil {
		return
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, 5)
	for _, g := range guilds {
		if g.ID == keep {
			continue
		}
		wg.Add(1)
		go func(guild discord.OAuth2Guild) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if cmds, err := client.Rest.GetGuildCommands(client.ApplicationID, guild.ID, false); err == nil && len(cmds) > 0 {
				LogLoader(MsgLoaderScanCleared, guild.Name, guild.ID.String())
				_, _ = client.Rest.SetGuildCommands(client.ApplicationID, guild.ID, []discord.ApplicationCommandCreate{})
			}
		}(g)
	}
	wg.Wait()
}

// --- Event Handlers ---

func onReady(event *events.Ready) {
	client := event.Client()
	botUser := event.User

	duration := time.Since(StartupTime)
	LogInfo(MsgBotReady, botUser.Username, botUser.ID.String(), os.Getpid(), duration.Milliseconds())

	TriggerClientReady(AppContext, client)
	StartDaemons(AppContext)
}

func TriggerClientReady(ctx context.Context, client *bot.Client) {
	for _, cb := range onClientReadyCallbacks {
		cb(ctx, client)
	}
}

func onApplicationCommandInteraction(event *events.ApplicationCommandInteractionCreate) {
	registryMu.RLock()
	h, ok := commandHandlers[event.Data.CommandName()]
	registryMu.RUnlock()
	if ok {
		SafeGo(func() { h(event) })
	}
}

func onAutocompleteInteraction(event *events.AutocompleteInteractionCreate) {
	registryMu.RLock()
	h, ok := autocompleteHandlers[event.Data.CommandName]
	registryMu.RUnlock()
	if ok {
		SafeGo(func() { h(event) })
	}
}

func onVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	for _, h := range voiceStateUpdateHandlers {
		SafeGo(func() { h(event) })
	}
}

func onMessageCreate(event *events.MessageCreate) {
	if event.Message.Author.Bot || event.Message.Author.ID == event.Client().ID() {
		return
	}
	for _, h := range messageCreateHandlers {
		SafeGo(func() { h(event) })
	}
}

func onGuildJoin(event *events.GuildJoin) {
	for _, h := range guildJoinHandlers {
		SafeGo(func() { h(event) })
	}
}

func onGuildMemberJoin(event *events.GuildMemberJoin) {
	for _, h := range memberJoinHandlers {
		SafeGo(func() { h(event) })
	}
}

// --- Daemon System ---

type daemonEntry struct {
	starter func(ctx context.Context) (bool, func(), func())
	logger  func(format string, v ...any)
}

var registeredDaemons []daemonEntry
var activeShutdownHooks []func()
var activeShutdownMu sync.Mutex

// RegisterDaemon registers a background daemon with a logger and start function
func RegisterDaemon(logger func(format string, v ...any), starter func(ctx context.Context) (bool, func(), func())) {
	registeredDaemons = append(registeredDaemons, daemonEntry{starter: starter, logger: logger})
}

// StartDaemons starts all registered daemons once per process
func StartDaemons(ctx context.Context) {
	daemonsOnce.Do(func() {
		type activeDaemon struct {
			entry daemonEntry
			run   func()
		}
		var active []activeDaemon

		for _, daemon := range registeredDaemons {
			if ok, run, shutdown := daemon.starter(ctx); ok && run != nil {
				if shutdown != nil {
					activeShutdownMu.Lock()
					activeShutdownHooks = append(activeShutdownHooks, shutdown)
					activeShutdownMu.Unlock()
				}
				active = append(active, activeDaemon{daemon, run})
			}
		}

		for _, ad := range active {
			ad.entry.logger(MsgDaemonStarting)
		}

		for _, ad := range active {
			SafeGo(ad.run)
		}
	})
}

// ShutdownDaemons stops all active daemons and waits for their hooks
func ShutdownDaemons(ctx context.Context) {
	activeShutdownMu.Lock()
	defer activeShutdownMu.Unlock()

	var wg sync.WaitGroup
	for _, shutdown := range activeShutdownHooks {
		if shutdown != nil {
			wg.Add(1)
			go func(s func()) {
				defer wg.Done()
				s()
			}(shutdown)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
