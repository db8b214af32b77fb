package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/claude-automations/internal/config"
	"github.com/hochfrequenz/claude-automations/internal/notify"
	"github.com/hochfrequenz/claude-automations/internal/runner"
	"github.com/hochfrequenz/claude-automations/internal/schedule"
	"github.com/hochfrequenz/claude-automations/internal/service"
	"github.com/hochfrequenz/claude-automations/internal/store"
	"github.com/hochfrequenz/claude-automations/internal/watch"
	"github.com/hochfrequenz/claude-automations/internal/worktree"
	"github.com/hochfrequenz/claude-automations/web/api"
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the automation daemon and admin API",
		RunE:  runServe,
	}
	rootCmd.AddCommand(serveCmd)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.General.LogLevel)

	if err := os.MkdirAll(cfg.General.DataDir, 0755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	st, err := store.New(cfg.General.DataDir, logger.With("component", "store"))
	if err != nil {
		return err
	}

	worktrees := worktree.New(cfg.Worktree.Dir, logger.With("component", "worktree"))
	agents := runner.New(cfg.General.AgentBinary, cfg.Runs.MaxOutputBytes, logger.With("component", "runner"))
	exec := service.NewAgentExecutor(worktrees, agents, cfg.Runs.MaxTurns, logger.With("component", "executor"))

	var notifiers []notify.Notifier
	if cfg.Notifications.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier(true))
	}
	if cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	}

	svc, err := service.New(cfg, st, exec, notify.NewMultiNotifier(notifiers...), logger.With("component", "service"))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// File watcher over all configured projects
	watcher, err := watch.New(time.Duration(cfg.Watcher.DebounceMs)*time.Millisecond, logger.With("component", "watch"))
	if err != nil {
		return err
	}
	for id, root := range cfg.Projects {
		if err := watcher.AddProject(root); err != nil {
			logger.Warn("watching project failed", "project", id, "error", err)
		}
	}
	watcher.Start(ctx)
	defer watcher.Stop()

	svc.RegisterEventTriggers(nil, nil, watcher)
	svc.StartAllSchedulers()
	if fired := svc.CheckMissedRuns(); fired > 0 {
		logger.Info("replayed missed runs at startup", "count", fired)
	}

	// Replay missed fires when the machine wakes from sleep
	schedule.NotifyResume(ctx, 30*time.Second, 2*time.Minute, func(gap time.Duration) {
		logger.Info("clock jump detected, checking missed runs", "gap", gap)
		svc.CheckMissedRuns()
	})

	worktrees.StartSweeper(ctx,
		time.Duration(cfg.Worktree.SweepIntervalMinute)*time.Minute,
		time.Duration(cfg.Worktree.RetentionHours)*time.Hour,
		func() map[string]string { return cfg.Projects },
	)

	server := api.NewServer(svc, agents, cfg.WebAddr(), logger.With("component", "api"))
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()
	logger.Info("daemon started", "addr", cfg.WebAddr(), "projects", len(cfg.Projects))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown", "error", err)
	}
	return svc.Destroy()
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}
