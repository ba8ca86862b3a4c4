package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rsstt/internal/auth"
	"rsstt/internal/feeds"
	"rsstt/internal/match"
	"rsstt/internal/model"
)

// TelegramAPI is the subset of *tgbotapi.BotAPI the bot uses.
type TelegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
	GetFileDirectURL(fileID string) (string, error)
}

// FeedService is the feed collection as seen by command handlers.
type FeedService interface {
	Add(ctx context.Context, name, link string, chatID int64) (*model.Feed, error)
	Remove(ctx context.Context, name string) error
	List(ctx context.Context) ([]model.Feed, error)
	Export(ctx context.Context) ([]byte, error)
	Import(ctx context.Context, data []byte, chatID int64) (*feeds.ImportResult, error)
	Preview(ctx context.Context, link string, chatID int64, start, end int, bypassLimit bool) error
}

// Refresher starts an out-of-schedule poll run.
type Refresher interface {
	Fire(ctx context.Context, fetchAll bool) bool
}

// Downloader fetches a file body by URL.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// Options configures a Bot.
type Options struct {
	Self          tgbotapi.User
	ManagerID     int64
	ImportPattern string
	Version       string
}

// Bot receives Telegram updates and runs the matching command handlers.
type Bot struct {
	api       TelegramAPI
	msgr      *Messenger
	feeds     FeedService
	refresher Refresher
	files     Downloader
	self      tgbotapi.User
	version   string
	log       *slog.Logger
	now       func() time.Time

	router     *Router
	importFile match.Predicate
	importer   auth.MessageHandler
	wg         sync.WaitGroup
}

// New creates a Bot and registers its commands.
func New(api TelegramAPI, fs FeedService, r Refresher, files Downloader, opts Options, log *slog.Logger) (*Bot, error) {
	pattern, err := match.Anchor(opts.ImportPattern)
	if err != nil {
		return nil, fmt.Errorf("import filename pattern: %w", err)
	}

	b := &Bot{
		api:       api,
		msgr:      NewMessenger(api, log),
		feeds:     fs,
		refresher: r,
		files:     files,
		self:      opts.Self,
		version:   opts.Version,
		log:       log,
		now:       time.Now,
		router:    NewRouter(opts.Self.UserName),
	}
	b.importFile = match.All(match.Attachment(pattern, match.Base{}), b.isImportTarget)

	gate := auth.NewGate(auth.NewResolver(api, opts.ManagerID), b.msgr, log)
	b.register(gate)
	return b, nil
}

type command struct {
	token       string
	description string
	policy      auth.Policy
	handler     auth.Handler
}

func (b *Bot) commands() []command {
	manager := auth.Policy{ManagerOnly: true}
	return []command{
		{"/list", "List all feeds", manager, b.handleList},
		{"/add", "Add a feed: /add <name> <link>", manager, b.handleAdd},
		{"/remove", "Remove a feed: /remove <name>", manager, b.handleRemove},
		{"/help", "Show help", manager, b.handleHelp},
		{"/start", "Show help", manager, b.handleHelp},
		{"/test", "Send feed entries here: /test <link> [start [end]]", manager, b.handleTest},
		{"/import", "Import feeds from OPML", manager, b.handleImport},
		{"/export", "Export feeds as OPML", manager, b.handleExport},
		{"/refresh", "Resend every entry of every feed", auth.Policy{ManagerOnly: true, PrivateOnly: true}, b.handleRefresh},
		{"/version", "Show the running build", manager, b.handleVersion},
	}
}

func (b *Bot) register(gate *auth.Gate) {
	for _, c := range b.commands() {
		b.router.Handle(gate.Guard(c.policy, c.handler), c.token)
	}
	b.importer = gate.Guard(auth.Policy{ManagerOnly: true}, b.handleImportFile)
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled
// and every in-flight handler has returned.
func (b *Bot) Run(ctx context.Context) {
	b.setCommands()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}
			b.wg.Add(1)
			go func(msg *tgbotapi.Message) {
				defer b.wg.Done()
				b.handleMessage(ctx, msg)
			}(update.Message)
		}
	}
}

// handleMessage routes one incoming message. Panics are logged so a broken
// handler never stops the update loop.
func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("handler panicked", "panic", r, "message_id", msg.MessageID)
		}
	}()

	if b.importFile(msg) {
		b.importer(ctx, msg)
		return
	}
	b.router.Dispatch(ctx, msg)
}

func (b *Bot) setCommands() {
	var menu []tgbotapi.BotCommand
	for _, c := range b.commands() {
		if c.token == "/start" {
			continue
		}
		menu = append(menu, tgbotapi.BotCommand{Command: c.token[1:], Description: c.description})
	}
	if _, err := b.api.Request(tgbotapi.NewSetMyCommands(menu...)); err != nil {
		b.log.Warn("register command menu", "error", err)
	}
}
