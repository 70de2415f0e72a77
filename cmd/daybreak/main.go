// Command daybreak runs the Daybreak backend: the task and chat API
// plus the scheduling assistant that drives it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/daybreak-app/daybreak/internal/agent"
	"github.com/daybreak-app/daybreak/internal/api"
	"github.com/daybreak-app/daybreak/internal/auth"
	"github.com/daybreak-app/daybreak/internal/chat"
	"github.com/daybreak-app/daybreak/internal/config"
	"github.com/daybreak-app/daybreak/internal/llm"
	"github.com/daybreak-app/daybreak/internal/metrics"
	"github.com/daybreak-app/daybreak/internal/store"
	"github.com/daybreak-app/daybreak/internal/task"
	"github.com/daybreak-app/daybreak/internal/user"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	fs := flag.NewFlagSet("daybreak", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path, err := config.FindConfig(*configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}

	logger, err := newLogger(stdout, cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	logger.Info("starting daybreak", "config", path, "db", cfg.Database.Path)

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	users, err := user.NewStore(db, logger)
	if err != nil {
		return err
	}
	tasks, err := task.NewStore(db, logger)
	if err != nil {
		return err
	}
	chats, err := chat.NewStore(db, logger)
	if err != nil {
		return err
	}
	streaks := task.NewRecalculator(tasks, users, logger)

	collector := metrics.NewCollector()

	client := llm.NewOpenAIClient(cfg.Model.BaseURL, cfg.Model.APIKey, logger)
	loop := agent.NewLoop(client, cfg.Model.Name, cfg.Model.Temperature, cfg.Model.MaxTokens, logger, collector)
	confirmer := agent.NewConfirmationHandler(chats, tasks, streaks, logger, collector)

	verifier := auth.NewHTTPVerifier(cfg.Identity.LookupURL, cfg.Identity.Audience, logger)

	srv := api.NewServer(api.Deps{
		Logger:    logger,
		Users:     users,
		Tasks:     tasks,
		Chats:     chats,
		Loop:      loop,
		Confirmer: confirmer,
		Streaks:   streaks,
		Verifier:  verifier,
		Observer:  collector,
		Metrics:   collector.Handler(),
		RateLimit: cfg.RateLimit,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newLogger(w io.Writer, cfg *config.Config) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), nil
}
