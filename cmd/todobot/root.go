package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/871311823/chatgpt-on-wechat-panghu/internal/config"
	"github.com/871311823/chatgpt-on-wechat-panghu/internal/scheduler"
	"github.com/871311823/chatgpt-on-wechat-panghu/internal/store"
)

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:          "todobot",
	Short:        "Reminder scheduler for the assistant bot",
	Long:         "Runs the todo reminder scheduler against the shared bot database.\nThe chat transport plugs in as a notifier; without one, reminders are logged.",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func run(cmd *cobra.Command, args []string) error {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	time.Local = loc

	// One scheduler per database; a second instance would double-send
	// every reminder.
	lock := flock.New(cfg.LockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring process lock %s: %w", cfg.LockPath, err)
	}
	if !locked {
		return fmt.Errorf("another todobot instance holds %s", cfg.LockPath)
	}
	defer lock.Unlock()

	s, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer s.Close()

	log.Info().Str("db", cfg.DBPath).Dur("tick", cfg.TickInterval).Msg("starting scheduler")

	// Stand-in transport: the chat channel integration injects its own
	// Notifier when embedding this scheduler.
	notifier := scheduler.NotifierFunc(func(ctx context.Context, chatUserID, text string) error {
		log.Info().Str("chat_user_id", chatUserID).Msg(text)
		return nil
	})

	acks := scheduler.NewAckMatcher(s, scheduler.SystemClock(), cfg.AckTokens, cfg.BatchExpiry, log.Logger)
	sched := scheduler.New(s, notifier, acks, scheduler.Options{
		TickInterval:     cfg.TickInterval,
		ReremindInterval: cfg.ReremindInterval,
		MaxRemindCount:   cfg.MaxRemindCount,
	}, log.Logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	log.Info().Msg("scheduler stopped")
	return nil
}
