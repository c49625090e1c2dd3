// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"

	"stockwatch/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a concurrent writer already changed the row.
	ErrConflict = errors.New("store conflict")
	// ErrDuplicate is returned when a unique constraint rejects a new row.
	ErrDuplicate = errors.New("already exists")
)

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateAlert(ctx context.Context, a *model.Alert) error
	GetAlert(ctx context.Context, id int64) (*model.Alert, error)
	GetAlertByQuery(ctx context.Context, query string) (*model.Alert, error)
	ListAlerts(ctx context.Context) ([]model.Alert, error)
	DeleteAlert(ctx context.Context, id int64) error

	CreateFilter(ctx context.Context, f *model.Filter) error
	GetFilter(ctx context.Context, id int64) (*model.Filter, error)
	ListFilters(ctx context.Context, alertID int64) ([]model.Filter, error)
	DeleteFilter(ctx context.Context, id int64) error
	IncrementFilterMatches(ctx context.Context, ids []int64) error

	ItemStore

	// PostedItems lists items whose message ref has the given prefix.
	PostedItems(ctx context.Context, refPrefix string) ([]model.Item, error)

	AddBlacklist(ctx context.Context, e model.BlacklistEntry) error
	RemoveBlacklist(ctx context.Context, e model.BlacklistEntry) error

	Subscribe(ctx context.Context, s model.Subscription) error
	Unsubscribe(ctx context.Context, s model.Subscription) error
	IsSubscribed(ctx context.Context, s model.Subscription) (bool, error)

	Close() error
}

// ItemStore is the part of Storage the change tracker depends on.
type ItemStore interface {
	// LookupItem returns ErrNotFound when the item has never been stored.
	LookupItem(ctx context.Context, itemID string) (*model.Item, error)
	// InsertItem returns ErrConflict when a row with the same ItemID exists.
	InsertItem(ctx context.Context, item *model.Item) error
	// UpdateItem stores item only if the row still holds the stock and
	// prices of prev, and returns ErrConflict otherwise.
	UpdateItem(ctx context.Context, item *model.Item, prev *model.Item) error
	TouchItem(ctx context.Context, itemID string) error
	SetMessageRef(ctx context.Context, itemID, ref string) error
	ItemByMessageRef(ctx context.Context, ref string) (*model.Item, error)

	IsBlacklisted(ctx context.Context, itemID string, chatID int64) (bool, error)
	ListSubscribers(ctx context.Context, itemID string) ([]int64, error)
}
