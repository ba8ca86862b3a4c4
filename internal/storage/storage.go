// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"rsstt/internal/model"
)

// Sentinel errors returned by Storage implementations.
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate name")
)

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateFeed(ctx context.Context, feed *model.Feed) error
	GetFeedByName(ctx context.Context, name string) (*model.Feed, error)
	ListFeeds(ctx context.Context) ([]model.Feed, error)
	SetLastCheck(ctx context.Context, id int64, at time.Time) error
	DeleteFeed(ctx context.Context, id int64) error

	// MarkSeen claims an entry for relaying. It reports false when the entry
	// was already claimed or the feed no longer exists.
	MarkSeen(ctx context.Context, feedID int64, guid string) (bool, error)
	UnmarkSeen(ctx context.Context, feedID int64, guid string) error
	IsSeen(ctx context.Context, feedID int64, guid string) (bool, error)

	Close() error
}
