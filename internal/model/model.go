// Package model defines the domain types used across the application.
package model

import "time"

// Feed is a subscription relayed into a destination chat.
// Names are unique across the whole collection.
type Feed struct {
	ID          int64
	Name        string
	URL         string
	ChatID      int64
	LastCheckAt *time.Time
	CreatedAt   time.Time
}

// SeenItem tracks a feed entry that has already been relayed.
type SeenItem struct {
	FeedID int64
	GUID   string
	SeenAt time.Time
}
