// Package match provides composable predicates over incoming messages.
package match

import (
	"fmt"
	"regexp"
	"slices"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Predicate reports whether a message matches.
type Predicate func(msg *tgbotapi.Message) bool

// All matches when every predicate matches. Evaluation stops at the first
// predicate that does not.
func All(preds ...Predicate) Predicate {
	return func(msg *tgbotapi.Message) bool {
		for _, p := range preds {
			if !p(msg) {
				return false
			}
		}
		return true
	}
}

// Anchor compiles pattern so that it only matches at the start of the input.
func Anchor(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	return re, nil
}

// Base is the platform-independent matcher: chat, sender and text filters.
// Empty fields match everything.
type Base struct {
	Chats   []int64
	Users   []int64
	Pattern *regexp.Regexp
}

// Match reports whether msg passes every configured filter. The text
// pattern is tried against the text, or the caption for media messages.
func (b Base) Match(msg *tgbotapi.Message) bool {
	if len(b.Chats) > 0 && (msg.Chat == nil || !slices.Contains(b.Chats, msg.Chat.ID)) {
		return false
	}
	if len(b.Users) > 0 && (msg.From == nil || !slices.Contains(b.Users, msg.From.ID)) {
		return false
	}
	if b.Pattern != nil {
		text := msg.Text
		if text == "" {
			text = msg.Caption
		}
		if !b.Pattern.MatchString(text) {
			return false
		}
	}
	return true
}

// Document matches messages carrying a document attachment. When filename
// is set the document's file name must match it; a missing name is
// matched as "". Use Anchor to build start-anchored patterns.
func Document(filename *regexp.Regexp) Predicate {
	return func(msg *tgbotapi.Message) bool {
		if msg.Document == nil {
			return false
		}
		if filename == nil {
			return true
		}
		return filename.MatchString(msg.Document.FileName)
	}
}

// Attachment checks the document first and only then the base matcher.
func Attachment(filename *regexp.Regexp, base Base) Predicate {
	return All(Document(filename), base.Match)
}
