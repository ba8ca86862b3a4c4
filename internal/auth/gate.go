package auth

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Replies sent instead of running a refused command.
const (
	MsgManagerOnly = "This command can be only used by the bot manager."
	MsgAdminOnly   = "This command can be only used by an administrator."
	MsgPrivateOnly = "This command can not be used in a group."
	MsgUnresolved  = "ERROR: Could not verify your permissions. Please try again later."
)

// Notifier sends a text message to a chat.
type Notifier interface {
	SendMessage(chatID int64, text string)
}

// Handler runs an authorized command.
type Handler func(ctx context.Context, inv Invocation)

// MessageHandler handles a raw incoming message.
type MessageHandler func(ctx context.Context, msg *tgbotapi.Message)

// Gate wraps handlers with authorization.
type Gate struct {
	resolver *Resolver
	notify   Notifier
	log      *slog.Logger
}

// NewGate creates a Gate.
func NewGate(resolver *Resolver, notify Notifier, log *slog.Logger) *Gate {
	return &Gate{resolver: resolver, notify: notify, log: log}
}

// Guard returns a handler that evaluates pol for every message and calls h
// only when the sender is allowed. Nothing is cached between calls.
func (g *Gate) Guard(pol Policy, h Handler) MessageHandler {
	return func(ctx context.Context, msg *tgbotapi.Message) {
		p, c := g.resolver.Identify(msg)

		d := Evaluate(p, c, pol)
		if d == NeedsRole {
			role, err := g.resolver.Role(ctx, p, c)
			if err != nil {
				g.log.Error("resolve sender role",
					"user_id", p.ID, "name", p.Name,
					"chat_id", c.ChatID, "chat_title", c.Title,
					"command", commandText(msg), "error", err)
				g.notify.SendMessage(c.ChatID, MsgUnresolved)
				return
			}
			p.Role = role
			d = Evaluate(p, c, pol)
		}

		switch {
		case d == Ignore:
			return
		case d.Denied():
			g.audit("refused", p, c, msg, "reason", d.String())
			g.notify.SendMessage(c.ChatID, refusal(d))
			return
		}

		g.audit("allowed", p, c, msg)
		h(ctx, Invocation{
			Message:   msg,
			Text:      msg.Text,
			ChatID:    c.ChatID,
			MessageID: msg.MessageID,
			Principal: p,
			Chat:      c,
		})
	}
}

func (g *Gate) audit(verdict string, p Principal, c ChatContext, msg *tgbotapi.Message, extra ...any) {
	attrs := []any{"user_id", p.ID, "name", p.Name, "role", p.Role.String()}
	if c.Kind == ChatGroup {
		attrs = append(attrs, "chat_id", c.ChatID, "chat_title", c.Title)
	}
	attrs = append(attrs, "command", commandText(msg))
	attrs = append(attrs, extra...)
	g.log.Info("command "+verdict, attrs...)
}

func refusal(d Decision) string {
	switch d {
	case DenyManagerOnly:
		return MsgManagerOnly
	case DenyPrivateOnly:
		return MsgPrivateOnly
	default:
		return MsgAdminOnly
	}
}

func commandText(msg *tgbotapi.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return "(no command, file message)"
}
