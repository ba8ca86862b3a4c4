package bot

import (
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender is the part of the Telegram API used for outgoing messages.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Messenger sends messages to Telegram chats. Replies and prompts log send
// failures; Publish and SendDocument return them.
type Messenger struct {
	api Sender
	log *slog.Logger
}

// NewMessenger creates a Messenger.
func NewMessenger(api Sender, log *slog.Logger) *Messenger {
	return &Messenger{api: api, log: log}
}

// SendMessage sends a plain text message to the given chat.
func (m *Messenger) SendMessage(chatID int64, text string) {
	m.Reply(chatID, 0, text)
}

// Publish sends a relayed post and returns the send error, so the caller
// can retry the post on a later poll.
func (m *Messenger) Publish(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := m.api.Send(msg); err != nil {
		return fmt.Errorf("send post to chat %d: %w", chatID, err)
	}
	return nil
}

// Reply sends text to chatID as a reply to message replyTo; zero means no reply.
func (m *Messenger) Reply(chatID int64, replyTo int, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	msg.ReplyToMessageID = replyTo
	m.send(msg, chatID)
}

// Prompt asks the user to answer with a reply to this message.
func (m *Messenger) Prompt(chatID int64, replyTo int, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyTo
	msg.ReplyMarkup = tgbotapi.ForceReply{ForceReply: true, Selective: true}
	m.send(msg, chatID)
}

// SendDocument uploads data as a file called name.
func (m *Messenger) SendDocument(chatID int64, replyTo int, name string, data []byte) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	doc.ReplyToMessageID = replyTo
	if _, err := m.api.Send(doc); err != nil {
		return fmt.Errorf("send document: %w", err)
	}
	return nil
}

func (m *Messenger) send(c tgbotapi.Chattable, chatID int64) {
	if _, err := m.api.Send(c); err != nil {
		m.log.Error("send message", "chat_id", chatID, "error", err)
	}
}
