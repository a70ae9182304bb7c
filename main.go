package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/leeineian/cadence/home"
	"github.com/leeineian/cadence/sys"
	"github.com/spf13/cobra"
)

const pidFile = ".bot.pid"

var (
	silent   bool
	skipReg  bool
	clearAll bool
)

var rootCmd = &cobra.Command{
	Use:           "cadence [flags]",
	Short:         "Discord bot for music, questions, stocks, polls and reminders",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := sys.LoadConfig()
		if err != nil {
			return fmt.Errorf(sys.MsgConfigFailedToLoad, err)
		}
		sys.InitLogger(silent || cfg.Silent, cfg.LogToFile)
		sys.LogInfo(sys.MsgBotStarting, sys.GetProjectName())

		release, err := acquirePIDLock(pidFile)
		if err != nil {
			return err
		}
		defer release()

		return run(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.Flags().BoolVar(&silent, "silent", false, "Disable all log output")
	rootCmd.Flags().BoolVar(&skipReg, "skip-reg", false, "Skip command registration")
	rootCmd.Flags().BoolVar(&clearAll, "clear-all", false, "Force clear guild commands (scan all guilds)")
}

func main() {
	// LogFatal panics so deferred cleanup still runs
	defer func() {
		if r := recover(); r != nil {
			if msg, ok := r.(string); ok {
				fmt.Fprintf(os.Stderr, "\n[FATAL] %s\n", msg)
				os.Exit(1)
			}
			panic(r)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		sys.LogFatal(sys.MsgGenericError, err)
	}
}

// acquirePIDLock takes an exclusive flock on path, terminating whichever process holds it.
func acquirePIDLock(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf(sys.MsgBotPIDFail, err)
	}

	for {
		err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			f.Close()
			return nil, fmt.Errorf(sys.MsgBotPIDFail, err)
		}

		var oldPid int
		_, _ = f.Seek(0, 0)
		if _, scanErr := fmt.Fscanf(f, "%d", &oldPid); scanErr != nil || oldPid == os.Getpid() {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		terminate(oldPid)
	}

	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	_, _ = fmt.Fprintf(f, "%d", os.Getpid())
	_ = f.Sync()

	return func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		_ = os.Remove(path)
	}, nil
}

// terminate sends SIGTERM, escalating to SIGKILL after five seconds.
func terminate(pid int) {
	process, err := os.FindProcess(pid)
	if err != nil {
		time.Sleep(100 * time.Millisecond)
		return
	}
	sys.LogInfo(sys.MsgBotKillingOld, pid)
	_ = process.Signal(syscall.SIGTERM)

	for range 50 {
		if err := process.Signal(syscall.Signal(0)); err != nil {
			sys.LogInfo(sys.MsgBotOldTerminated)
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	sys.LogWarn(sys.MsgBotStubborn, pid)
	_ = process.Signal(syscall.SIGKILL)
	time.Sleep(200 * time.Millisecond)
	sys.LogInfo(sys.MsgBotOldTerminated)
}

func run(parent context.Context, cfg *sys.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sys.SetAppContext(ctx)

	if err := sys.InitDatabase(ctx, cfg.DatabasePath); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer sys.CloseDatabase()

	client, err := sys.CreateClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create Discord client: %w", err)
	}
	defer client.Close(context.Background())

	if !skipReg {
		if err := sys.RegisterCommands(client, cfg.GuildID, clearAll); err != nil {
			sys.LogError(sys.MsgBotRegisterFail, err)
		}
	} else {
		sys.LogInfo(sys.MsgBotSkipRegistration)
	}

	if err := client.OpenGateway(ctx); err != nil {
		return fmt.Errorf("failed to open gateway: %w", err)
	}

	<-ctx.Done()
	if !silent {
		fmt.Println()
	}

	sys.LogInfo(sys.MsgBotStoppingDaemons)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sys.ShutdownDaemons(shutdownCtx)

	if botUser, ok := client.Caches.SelfUser(); ok {
		sys.LogInfo(sys.MsgBotShutdown, botUser.Username)
	} else {
		sys.LogInfo(sys.MsgBotShutdown, sys.GetProjectName())
	}
	return nil
}
