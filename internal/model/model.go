// Package model defines the domain types used across the application.
package model

import "time"

// Alert is a registered search query whose results are posted to a chat.
type Alert struct {
	ID          int64
	ChatID      int64
	SearchQuery string
	CreatedAt   time.Time
}

// FilterKind defines how a filter value is matched.
type FilterKind string

// Supported filter kinds.
const (
	FilterText    FilterKind = "text"
	FilterPattern FilterKind = "pattern"
)

// FilterTarget defines which part of the item a filter matches against.
type FilterTarget string

// Supported filter targets.
const (
	TargetTitle FilterTarget = "title"
	TargetID    FilterTarget = "id"
)

// Filter is an include or exclude rule attached to an alert.
// Inverse filters exclude matching items; the others are required to match.
type Filter struct {
	ID         int64
	AlertID    int64
	Kind       FilterKind
	Target     FilterTarget
	Value      string
	Inverse    bool
	MatchCount int64
	CreatedAt  time.Time
}

// Item is the canonical, marketplace-independent record of one listing.
type Item struct {
	ItemID      string
	Source      string
	Title       string
	URL         string
	Stock       int
	Price       int
	BuyoutPrice int
	ImageURL    string
	EndTime     *time.Time
	MessageRef  string
	Muted       bool
	FoundAt     time.Time
	UpdatedAt   time.Time
	AlertID     int64
}

// BlacklistEntry suppresses notifications for an item in one chat.
type BlacklistEntry struct {
	ItemID string
	ChatID int64
}

// Subscription asks for a direct message whenever an item is updated.
type Subscription struct {
	ItemID string
	UserID int64
}

// ChangePolicy holds the significance thresholds a source applies when
// comparing a stored item with a freshly fetched one.
type ChangePolicy struct {
	// PriceDrop is the amount the price must fall by, strictly, to count.
	PriceDrop int
	// BuyoutDelta is the absolute buyout change that counts, strictly.
	BuyoutDelta int
	// StockFloor: a stock change counts only when the new stock exceeds it.
	// Use -1 to count every stock change.
	StockFloor int
	// MuteSoldOut persists a drop to zero stock silently and mutes the item.
	MuteSoldOut bool
}

// DefaultPolicy returns the thresholds used when a source sets none.
func DefaultPolicy() ChangePolicy {
	return ChangePolicy{
		PriceDrop:   500,
		BuyoutDelta: 500,
		StockFloor:  1,
	}
}
