package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/hatsuka/internal/bootstrap"
	"github.com/user/hatsuka/internal/config"
	"github.com/user/hatsuka/internal/discord"
	"github.com/user/hatsuka/internal/scheduler"
	"github.com/user/hatsuka/internal/session"
	"github.com/user/hatsuka/internal/trend"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Discord bot",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg)

	token := os.Getenv("DISCORD_BOT_TOKEN")
	if token == "" {
		fmt.Fprintln(os.Stderr, "DISCORD_BOT_TOKEN is required")
		os.Exit(1)
	}

	wired, err := bootstrap.Wire(cfg)
	if err != nil {
		return fmt.Errorf("wire components: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var trends *trend.Engine
	if cfg.Trend.Enabled {
		trends = trend.NewEngine(cfg.Trend, wired.Provider, wired.Emoji, slog.Default())
	}

	var sched *scheduler.Scheduler
	if cfg.Reminder.Enabled {
		sched = scheduler.New(
			scheduler.NewStore(cfg.Reminder.PersistenceFile),
			nil,
			scheduler.Config{
				MaxRemindersPerUser: cfg.Reminder.MaxRemindersPerUser,
				GraceWindow:         time.Duration(cfg.Reminder.GraceSeconds) * time.Second,
				CleanupExpired:      cfg.Reminder.CleanupExpired,
			},
			slog.Default(),
		)
	}

	sess := session.New(cfg, wired.Collector, wired.Graph, wired.Provider, sched, trends, slog.Default())

	if sched != nil {
		sched.SetHandler(sess.HandleReminderFired)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	sess.Start(ctx)
	defer sess.Stop()

	adapter, err := discord.New(token, cfg, sess, wired.Emoji, slog.Default())
	if err != nil {
		return fmt.Errorf("create adapter: %w", err)
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		slog.Info("shutting down")
		cancel()
	}()

	slog.Info("starting", "config", configPath)
	if err := adapter.Start(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("adapter: %w", err)
	}
	return nil
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.System.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
