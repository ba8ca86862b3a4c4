package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"

	"rsstt/internal/bot"
	"rsstt/internal/config"
	"rsstt/internal/feeds"
	"rsstt/internal/fetcher"
	"rsstt/internal/scheduler"
	"rsstt/internal/storage"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Error("create bot api", "error", err)
		os.Exit(1)
	}

	f := fetcher.New(http.DefaultClient)
	engine := feeds.New(store, f, bot.NewMessenger(api, log), cfg.PublishInterval, log)

	dispatcher, err := scheduler.New(engine, cfg.PollSchedule, cfg.PollMaxRuns, log)
	if err != nil {
		log.Error("create scheduler", "error", err)
		os.Exit(1)
	}

	b, err := bot.New(api, engine, dispatcher, f, bot.Options{
		Self:          api.Self,
		ManagerID:     cfg.ManagerID,
		ImportPattern: cfg.ImportPattern,
		Version:       version,
	}, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting bot", "username", api.Self.UserName, "version", version,
		"schedule", cfg.PollSchedule, "max_runs", cfg.PollMaxRuns)

	done := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(done)
	}()

	b.Run(ctx)
	<-done

	log.Info("bot stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
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
