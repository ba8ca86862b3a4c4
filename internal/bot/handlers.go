package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rsstt/internal/auth"
	"rsstt/internal/feeds"
)

const (
	msgImportPrompt = "Send me an OPML file as a reply to this message."
	msgImporting    = "Importing feeds, this may take a while..."
	msgNoFeeds      = "There are no feeds to export."
	msgRefreshing   = "Refreshing all feeds."
	msgBusy         = "ERROR: Too many polls are running, try again later."
)

// reply answers inv. In groups the answer quotes the invoking message.
func (b *Bot) reply(inv auth.Invocation, text string) {
	b.msgr.Reply(inv.ChatID, replyTo(inv), text)
}

func replyTo(inv auth.Invocation) int {
	if inv.Chat.Kind == auth.ChatPrivate {
		return 0
	}
	return inv.MessageID
}

func (b *Bot) handleHelp(_ context.Context, inv auth.Invocation) {
	b.reply(inv, helpText(inv.ChatID))
}

func (b *Bot) handleVersion(_ context.Context, inv auth.Invocation) {
	b.reply(inv, "Version: "+b.version)
}

func (b *Bot) handleList(ctx context.Context, inv auth.Invocation) {
	list, err := b.feeds.List(ctx)
	if err != nil {
		b.log.Error("list feeds", "chat_id", inv.ChatID, "error", err)
		b.reply(inv, "ERROR: Could not load the feed list.")
		return
	}
	b.reply(inv, FormatFeedList(list))
}

func (b *Bot) handleAdd(ctx context.Context, inv auth.Invocation) {
	args, err := ParseAddArgs(inv.Args())
	if err != nil {
		b.reply(inv, err.Error())
		return
	}

	feed, err := b.feeds.Add(ctx, args.Name, args.Link, inv.ChatID)
	switch {
	case errors.Is(err, feeds.ErrDuplicate):
		b.reply(inv, fmt.Sprintf("ERROR: A feed named %q already exists.", args.Name))
	case errors.Is(err, feeds.ErrInvalidFeed):
		b.log.Warn("add feed", "name", args.Name, "url", args.Link, "error", err)
		b.reply(inv, fmt.Sprintf("ERROR: Could not fetch a valid feed from %s", args.Link))
	case err != nil:
		b.log.Error("add feed", "name", args.Name, "url", args.Link, "error", err)
		b.reply(inv, "ERROR: Could not add the feed.")
	default:
		b.reply(inv, FormatAdded(feed))
	}
}

func (b *Bot) handleRemove(ctx context.Context, inv auth.Invocation) {
	name, err := ParseRemoveArgs(inv.Args())
	if err != nil {
		b.reply(inv, err.Error())
		return
	}

	err = b.feeds.Remove(ctx, name)
	switch {
	case errors.Is(err, feeds.ErrNotFound):
		b.reply(inv, fmt.Sprintf("ERROR: There is no feed named %q.", name))
	case err != nil:
		b.log.Error("remove feed", "name", name, "error", err)
		b.reply(inv, "ERROR: Could not remove the feed.")
	default:
		b.reply(inv, "Removed: "+name)
	}
}

func (b *Bot) handleTest(ctx context.Context, inv auth.Invocation) {
	args, err := ParseTestArgs(inv.Args())
	if err != nil {
		b.reply(inv, err.Error())
		return
	}

	if err := b.feeds.Preview(ctx, args.Link, inv.ChatID, args.Start, args.End, true); err != nil {
		b.log.Warn("test feed", "url", args.Link, "error", err)
		b.reply(inv, fmt.Sprintf("ERROR: Could not fetch %s: %v", args.Link, err))
	}
}

func (b *Bot) handleImport(_ context.Context, inv auth.Invocation) {
	b.msgr.Prompt(inv.ChatID, inv.MessageID, msgImportPrompt)
}

func (b *Bot) handleExport(ctx context.Context, inv auth.Invocation) {
	data, err := b.feeds.Export(ctx)
	if err != nil {
		b.log.Error("export feeds", "error", err)
		b.reply(inv, "ERROR: Could not export the feeds.")
		return
	}
	if data == nil {
		b.reply(inv, msgNoFeeds)
		return
	}
	if err := b.msgr.SendDocument(inv.ChatID, replyTo(inv), exportFileName(b.now()), data); err != nil {
		b.log.Error("send export", "chat_id", inv.ChatID, "error", err)
		b.reply(inv, "ERROR: Could not send the export file.")
	}
}

func (b *Bot) handleRefresh(ctx context.Context, inv auth.Invocation) {
	if !b.refresher.Fire(ctx, true) {
		b.reply(inv, msgBusy)
		return
	}
	b.reply(inv, msgRefreshing)
}

// isImportTarget accepts attachments sent in a private chat, or in a group
// as a reply to one of the bot's own messages.
func (b *Bot) isImportTarget(msg *tgbotapi.Message) bool {
	if msg.Chat != nil && msg.Chat.IsPrivate() {
		return true
	}
	reply := msg.ReplyToMessage
	return reply != nil && reply.From != nil && reply.From.ID == b.self.ID
}

func (b *Bot) handleImportFile(ctx context.Context, inv auth.Invocation) {
	msg := inv.Message
	url, err := b.api.GetFileDirectURL(msg.Document.FileID)
	if err != nil {
		b.log.Error("resolve file url", "file_id", msg.Document.FileID, "error", err)
		b.reply(inv, "ERROR: Could not download the file.")
		return
	}
	data, err := b.files.Download(ctx, url)
	if err != nil {
		b.log.Error("download file", "file_name", msg.Document.FileName, "error", err)
		b.reply(inv, "ERROR: Could not download the file.")
		return
	}

	b.reply(inv, msgImporting)
	res, err := b.feeds.Import(ctx, data, inv.ChatID)
	switch {
	case errors.Is(err, feeds.ErrUnparsable):
		b.reply(inv, "ERROR: The file is not a valid OPML document.")
	case err != nil:
		b.log.Error("import feeds", "file_name", msg.Document.FileName, "error", err)
		b.reply(inv, "ERROR: Could not import the feeds.")
	default:
		b.reply(inv, FormatImportResult(res))
	}
}
