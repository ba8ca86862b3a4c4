// Package auth decides whether the sender of a chat command may run it.
//
// Resolution is split in two steps. Identify reads everything that is
// present on the message itself. Role performs the single membership query
// a group chat may need. Evaluate is a pure function over the result, and
// Gate.Guard composes the three around a command handler.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// AnonymousAdminID is the sender id Telegram substitutes when a group
// administrator posts anonymously on behalf of the group.
const AnonymousAdminID int64 = 1087968824

// ErrResolution marks a failure to determine the sender's role. It is never
// converted into a denial.
var ErrResolution = errors.New("resolve sender role")

// ChatKind classifies where a message was sent.
type ChatKind int

// Chat kinds the gate distinguishes.
const (
	ChatOther ChatKind = iota
	ChatPrivate
	ChatGroup
)

func (k ChatKind) String() string {
	switch k {
	case ChatPrivate:
		return "private"
	case ChatGroup:
		return "group"
	default:
		return "other"
	}
}

// Role is the sender's standing in the chat the message came from.
type Role int

// Roles. RoleUnresolved means the membership query has not run yet.
const (
	RoleUnresolved Role = iota
	RoleOrdinary
	RoleGroupAdmin
	RoleAnonymousAdmin
)

func (r Role) String() string {
	switch r {
	case RoleOrdinary:
		return "ordinary"
	case RoleGroupAdmin:
		return "group-admin"
	case RoleAnonymousAdmin:
		return "anonymous-admin"
	default:
		return "unresolved"
	}
}

// Principal is the identity a command is issued on behalf of.
type Principal struct {
	ID      int64
	Name    string
	Manager bool
	Role    Role
}

// ChatContext describes the chat a command was issued in.
type ChatContext struct {
	Kind   ChatKind
	ChatID int64
	Title  string
}

// Invocation is one matched command event. Handlers receive it by value.
type Invocation struct {
	Message   *tgbotapi.Message
	Text      string
	ChatID    int64
	MessageID int
	Principal Principal
	Chat      ChatContext
}

// Args splits the invoking text on whitespace. Args()[0] is the command token.
func (inv Invocation) Args() []string {
	return strings.Fields(inv.Text)
}

// MemberLookup queries a user's membership record in a chat.
// *tgbotapi.BotAPI satisfies it.
type MemberLookup interface {
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

// Resolver builds principals from incoming messages.
type Resolver struct {
	members   MemberLookup
	managerID int64
}

// NewResolver creates a Resolver that treats managerID as the bot manager.
func NewResolver(members MemberLookup, managerID int64) *Resolver {
	return &Resolver{members: members, managerID: managerID}
}

// Identify extracts the principal and chat context without any I/O. The
// role is left unresolved for group senders other than the anonymous admin.
func (r *Resolver) Identify(msg *tgbotapi.Message) (Principal, ChatContext) {
	var c ChatContext
	if msg.Chat != nil {
		c.ChatID = msg.Chat.ID
		c.Title = msg.Chat.Title
		switch {
		case msg.Chat.IsPrivate():
			c.Kind = ChatPrivate
		case msg.Chat.IsGroup(), msg.Chat.IsSuperGroup():
			c.Kind = ChatGroup
		}
	}

	var p Principal
	if msg.From != nil {
		p.ID = msg.From.ID
		p.Name = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	}
	p.Manager = p.ID != 0 && p.ID == r.managerID

	switch {
	case c.Kind == ChatGroup && p.ID == AnonymousAdminID:
		p.Role = RoleAnonymousAdmin
	case c.Kind != ChatGroup:
		p.Role = RoleOrdinary
	}
	return p, c
}

// Role returns p's role in c, querying group membership when it is not
// already known.
func (r *Resolver) Role(ctx context.Context, p Principal, c ChatContext) (Role, error) {
	if p.Role != RoleUnresolved {
		return p.Role, nil
	}
	if c.Kind != ChatGroup {
		return RoleOrdinary, nil
	}
	if err := ctx.Err(); err != nil {
		return RoleUnresolved, fmt.Errorf("%w: %w", ErrResolution, err)
	}

	member, err := r.members.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: c.ChatID, UserID: p.ID},
	})
	if err != nil {
		return RoleUnresolved, fmt.Errorf("%w: chat %d user %d: %w", ErrResolution, c.ChatID, p.ID, err)
	}
	if member.IsCreator() || member.IsAdministrator() {
		return RoleGroupAdmin, nil
	}
	return RoleOrdinary, nil
}

// Resolve identifies the sender and resolves their role in one step.
func (r *Resolver) Resolve(ctx context.Context, msg *tgbotapi.Message) (Principal, ChatContext, error) {
	p, c := r.Identify(msg)
	role, err := r.Role(ctx, p, c)
	if err != nil {
		return p, c, err
	}
	p.Role = role
	return p, c, nil
}
