// Package feeds owns the feed collection: subscription management, OPML
// import/export, and the poll entry point that relays new entries.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"rsstt/internal/fetcher"
	"rsstt/internal/model"
	"rsstt/internal/opml"
	"rsstt/internal/storage"
)

// Sentinel errors returned by Engine operations.
var (
	ErrDuplicate   = errors.New("feed already exists")
	ErrNotFound    = errors.New("feed not found")
	ErrInvalidFeed = errors.New("invalid feed")
	ErrUnparsable  = errors.New("unparsable opml")
)

// ToEnd as a preview end index relays every remaining entry.
const ToEnd = -1

// Publisher delivers rendered posts to a chat.
type Publisher interface {
	Publish(chatID int64, text string) error
}

// ImportResult classifies the subscriptions found in an imported document.
type ImportResult struct {
	Valid   []opml.Subscription
	Invalid []opml.Subscription
}

// Engine is the feed collection shared by command handlers and poll runs.
// It is safe for concurrent use: an entry is claimed in storage before it is
// published, so overlapping polls relay it once.
type Engine struct {
	store   storage.Storage
	fetcher *fetcher.Fetcher
	pub     Publisher
	limiter *rate.Limiter
	log     *slog.Logger
	now     func() time.Time
}

// New creates an Engine. Relayed posts are spaced at least publishEvery apart
// unless a caller bypasses the limiter.
func New(store storage.Storage, f *fetcher.Fetcher, pub Publisher, publishEvery time.Duration, log *slog.Logger) *Engine {
	limit := rate.Inf
	if publishEvery > 0 {
		limit = rate.Every(publishEvery)
	}
	return &Engine{
		store:   store,
		fetcher: f,
		pub:     pub,
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
		now:     time.Now,
	}
}

// Add subscribes chatID to the feed at link under name. The link must fetch
// and parse; entries already published at that moment are marked seen.
func (e *Engine) Add(ctx context.Context, name, link string, chatID int64) (*model.Feed, error) {
	parsed, err := e.fetcher.Fetch(ctx, link)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFeed, err)
	}

	feed := &model.Feed{Name: name, URL: link, ChatID: chatID}
	if err := e.store.CreateFeed(ctx, feed); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, fmt.Errorf("%q: %w", name, ErrDuplicate)
		}
		return nil, fmt.Errorf("create feed: %w", err)
	}

	for _, entry := range fetcher.Entries(parsed) {
		if _, err := e.store.MarkSeen(ctx, feed.ID, entry.GUID); err != nil {
			e.log.Error("mark seen", "feed_id", feed.ID, "guid", entry.GUID, "error", err)
		}
	}
	e.updateLastCheck(ctx, feed)

	e.log.Info("feed added", "feed_id", feed.ID, "name", name, "url", link, "chat_id", chatID)
	return feed, nil
}

// Remove deletes the feed called name.
func (e *Engine) Remove(ctx context.Context, name string) error {
	feed, err := e.store.GetFeedByName(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%q: %w", name, ErrNotFound)
		}
		return fmt.Errorf("get feed: %w", err)
	}
	if err := e.store.DeleteFeed(ctx, feed.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%q: %w", name, ErrNotFound)
		}
		return fmt.Errorf("delete feed: %w", err)
	}
	e.log.Info("feed removed", "feed_id", feed.ID, "name", name)
	return nil
}

// List returns the whole collection.
func (e *Engine) List(ctx context.Context) ([]model.Feed, error) {
	feeds, err := e.store.ListFeeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	return feeds, nil
}

// Export renders the collection as OPML. It returns nil when the collection
// is empty.
func (e *Engine) Export(ctx context.Context) ([]byte, error) {
	feeds, err := e.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(feeds) == 0 {
		return nil, nil
	}
	subs := make([]opml.Subscription, 0, len(feeds))
	for _, f := range feeds {
		subs = append(subs, opml.Subscription{Name: f.Name, Link: f.URL})
	}
	return opml.Encode(subs, e.now())
}

// Import adds every subscription in an OPML document for chatID. A
// subscription already present with the same name and link counts as valid.
func (e *Engine) Import(ctx context.Context, data []byte, chatID int64) (*ImportResult, error) {
	subs, err := opml.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnparsable, err)
	}

	res := &ImportResult{}
	for _, sub := range subs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		existing, err := e.store.GetFeedByName(ctx, sub.Name)
		if err == nil && existing.URL == sub.Link {
			res.Valid = append(res.Valid, sub)
			continue
		}
		if _, err := e.Add(ctx, sub.Name, sub.Link, chatID); err != nil {
			e.log.Warn("import feed", "name", sub.Name, "url", sub.Link, "error", err)
			res.Invalid = append(res.Invalid, sub)
			continue
		}
		res.Valid = append(res.Valid, sub)
	}

	e.log.Info("opml imported", "valid", len(res.Valid), "invalid", len(res.Invalid), "chat_id", chatID)
	return res, nil
}

// Poll checks every feed once and relays entries not seen before. With
// fetchAll set the seen bookkeeping is ignored and every entry is relayed.
// Per-feed failures are logged and joined into the returned error.
func (e *Engine) Poll(ctx context.Context, fetchAll bool) error {
	feeds, err := e.List(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, feed := range feeds {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := e.processFeed(ctx, feed, fetchAll); err != nil {
			e.log.Error("poll feed", "feed_id", feed.ID, "url", feed.URL, "error", err)
			errs = append(errs, fmt.Errorf("feed %q: %w", feed.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Preview fetches link and relays entries [start, end) to chatID without
// touching the collection. end == ToEnd relays through the last entry.
func (e *Engine) Preview(ctx context.Context, link string, chatID int64, start, end int, bypassLimit bool) error {
	parsed, err := e.fetcher.Fetch(ctx, link)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFeed, err)
	}

	entries := fetcher.Entries(parsed)
	if end == ToEnd || end > len(entries) {
		end = len(entries)
	}
	start = max(start, 0)
	if start >= end {
		return nil
	}

	name := parsed.Title
	if name == "" {
		name = link
	}
	for _, entry := range entries[start:end] {
		if err := e.publish(ctx, chatID, name, entry, bypassLimit); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) processFeed(ctx context.Context, feed model.Feed, fetchAll bool) error {
	e.log.Debug("checking feed", "feed_id", feed.ID, "name", feed.Name)

	parsed, err := e.fetcher.Fetch(ctx, feed.URL)
	if err != nil {
		e.updateLastCheck(ctx, &feed)
		return err
	}

	entries := fetcher.Entries(parsed)
	sent := 0
	// Feeds list newest first; relay oldest first.
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		claimed, err := e.store.MarkSeen(ctx, feed.ID, entry.GUID)
		if err != nil {
			e.log.Error("mark seen", "feed_id", feed.ID, "guid", entry.GUID, "error", err)
			continue
		}
		if !claimed && !fetchAll {
			continue
		}

		if err := e.publish(ctx, feed.ChatID, feed.Name, entry, false); err != nil {
			if claimed {
				e.release(ctx, feed.ID, entry.GUID)
			}
			return err
		}
		sent++
	}

	if sent > 0 {
		e.log.Info("relayed entries", "feed_id", feed.ID, "name", feed.Name, "count", sent, "fetch_all", fetchAll)
	}

	e.updateLastCheck(ctx, &feed)
	return nil
}

func (e *Engine) publish(ctx context.Context, chatID int64, feedName string, entry fetcher.Entry, bypassLimit bool) error {
	if !bypassLimit {
		if err := e.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait publish slot: %w", err)
		}
	}
	if err := e.pub.Publish(chatID, FormatPost(feedName, entry)); err != nil {
		return fmt.Errorf("publish %q: %w", entry.GUID, err)
	}
	return nil
}

// release gives back a claimed entry so the next poll retries it.
func (e *Engine) release(ctx context.Context, feedID int64, guid string) {
	if err := e.store.UnmarkSeen(context.WithoutCancel(ctx), feedID, guid); err != nil {
		e.log.Error("unmark seen", "feed_id", feedID, "guid", guid, "error", err)
	}
}

func (e *Engine) updateLastCheck(ctx context.Context, feed *model.Feed) {
	now := e.now().UTC()
	feed.LastCheckAt = &now
	err := e.store.SetLastCheck(ctx, feed.ID, now)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		e.log.Debug("feed removed during poll", "feed_id", feed.ID, "name", feed.Name)
	case err != nil:
		e.log.Error("update last check", "feed_id", feed.ID, "error", err)
	}
}
