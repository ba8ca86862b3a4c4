package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rsstt/internal/auth"
)

// Router maps command tokens to guarded handlers.
type Router struct {
	botName string
	routes  map[string]auth.MessageHandler
}

// NewRouter creates a Router for the bot called botName. Commands addressed
// to another bot with the /cmd@name form are ignored.
func NewRouter(botName string) *Router {
	return &Router{botName: botName, routes: make(map[string]auth.MessageHandler)}
}

// Handle registers h under every token, e.g. "/help" and "/start".
func (r *Router) Handle(h auth.MessageHandler, tokens ...string) {
	for _, t := range tokens {
		r.routes[t] = h
	}
}

// Dispatch runs the handler for msg's command token. It reports whether a
// handler ran; unknown commands and plain text are ignored.
func (r *Router) Dispatch(ctx context.Context, msg *tgbotapi.Message) bool {
	token, ok := r.token(msg.Text)
	if !ok {
		return false
	}
	h, ok := r.routes[token]
	if !ok {
		return false
	}
	h(ctx, msg)
	return true
}

func (r *Router) token(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", false
	}
	token := fields[0]
	if i := strings.IndexByte(token, '@'); i >= 0 {
		if !strings.EqualFold(token[i+1:], r.botName) {
			return "", false
		}
		token = token[:i]
	}
	return token, true
}
