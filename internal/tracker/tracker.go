// Package tracker compares freshly fetched items with their stored state
// and decides whether a change is worth a notification.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"stockwatch/internal/model"
	"stockwatch/internal/notify"
	"stockwatch/internal/storage"
)

// Outcome classifies what happened to one fetched item.
type Outcome int

// Possible outcomes.
const (
	Unchanged Outcome = iota
	Found
	Updated
	Muted
	Suppressed
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "new"
	case Updated:
		return "updated"
	case Muted:
		return "muted"
	case Suppressed:
		return "suppressed"
	default:
		return "unchanged"
	}
}

// Source is the part of a marketplace adapter the tracker needs.
type Source interface {
	Name() string
	EmbedColor() int
	Policy() model.ChangePolicy
}

// Tracker applies fetched items to the item store and dispatches
// notifications for new and significantly changed items.
type Tracker struct {
	store storage.ItemStore
	sink  notify.Sink
	log   *slog.Logger
	// conflictBackoff paces the single retry after losing a write race.
	conflictBackoff time.Duration
}

// New creates a Tracker.
func New(store storage.ItemStore, sink notify.Sink, log *slog.Logger) *Tracker {
	return &Tracker{
		store:           store,
		sink:            sink,
		log:             log,
		conflictBackoff: 10 * time.Millisecond,
	}
}

// Compare lists the significant differences between the stored and the
// found state of an item under policy p.
func Compare(stored, found model.Item, p model.ChangePolicy) []string {
	var changes []string
	if stored.Stock != found.Stock && found.Stock > p.StockFloor {
		changes = append(changes, fmt.Sprintf("Stock changed from %d to %d", stored.Stock, found.Stock))
	}
	// Price increases are never interesting on their own.
	if stored.Price-found.Price > p.PriceDrop {
		changes = append(changes, fmt.Sprintf("Price changed from %d to %d", stored.Price, found.Price))
	}
	if abs(stored.BuyoutPrice-found.BuyoutPrice) > p.BuyoutDelta {
		changes = append(changes, fmt.Sprintf("Buyout price changed from ¥%d to ¥%d", stored.BuyoutPrice, found.BuyoutPrice))
	}
	return changes
}

// Process applies one fetched item found by alert through src.
//
// An item blacklisted for the alert's chat is left alone. An unseen item
// is stored and announced. A seen item is updated and announced only when
// Compare reports a change; otherwise just its timestamp is refreshed.
// Losing a write race to another poller is retried once against the
// winner's row; if that loses too, the competing write is taken as done.
func (t *Tracker) Process(ctx context.Context, alert model.Alert, src Source, found model.Item) (Outcome, error) {
	blacklisted, err := t.store.IsBlacklisted(ctx, found.ItemID, alert.ChatID)
	if err != nil {
		return Unchanged, fmt.Errorf("check blacklist %s: %w", found.ItemID, err)
	}
	if blacklisted {
		t.log.Debug("item blacklisted", "item_id", found.ItemID, "chat_id", alert.ChatID)
		return Suppressed, nil
	}

	var outcome Outcome
	backoff := retry.WithMaxRetries(1, retry.NewConstant(t.conflictBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		o, err := t.apply(ctx, alert, src, found)
		if errors.Is(err, storage.ErrConflict) {
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		outcome = o
		return nil
	})
	if errors.Is(err, storage.ErrConflict) {
		t.log.Debug("lost write race twice", "item_id", found.ItemID)
		return Unchanged, nil
	}
	if err != nil {
		return Unchanged, err
	}
	return outcome, nil
}

func (t *Tracker) apply(ctx context.Context, alert model.Alert, src Source, found model.Item) (Outcome, error) {
	stored, err := t.store.LookupItem(ctx, found.ItemID)
	if errors.Is(err, storage.ErrNotFound) {
		return t.insert(ctx, alert, src, found)
	}
	if err != nil {
		return Unchanged, fmt.Errorf("lookup %s: %w", found.ItemID, err)
	}
	return t.update(ctx, alert, src, stored, found)
}

func (t *Tracker) insert(ctx context.Context, alert model.Alert, src Source, found model.Item) (Outcome, error) {
	item := found
	item.AlertID = alert.ID
	item.MessageRef = ""
	// A listing that is already sold out when first seen is kept silent.
	item.Muted = src.Policy().MuteSoldOut && found.Stock == 0
	if err := t.store.InsertItem(ctx, &item); err != nil {
		return Unchanged, err
	}
	if item.Muted {
		t.log.Info("sold out item recorded", "adapter", src.Name(), "item_id", item.ItemID)
		return Muted, nil
	}

	t.log.Info("new item found", "adapter", src.Name(), "item_id", item.ItemID, "title", item.Title)
	t.announce(ctx, alert, src, item, nil)
	return Found, nil
}

func (t *Tracker) update(ctx context.Context, alert model.Alert, src Source, stored *model.Item, found model.Item) (Outcome, error) {
	policy := src.Policy()

	next := *stored
	next.Title = found.Title
	next.URL = found.URL
	next.Stock = found.Stock
	next.Price = found.Price
	next.BuyoutPrice = found.BuyoutPrice
	next.ImageURL = found.ImageURL
	next.EndTime = found.EndTime

	if policy.MuteSoldOut && found.Stock == 0 && stored.Stock > 0 {
		next.Muted = true
		if err := t.store.UpdateItem(ctx, &next, stored); err != nil {
			return Unchanged, err
		}
		t.log.Info("item sold out", "adapter", src.Name(), "item_id", next.ItemID)
		return Muted, nil
	}

	changes := Compare(*stored, found, policy)
	if len(changes) == 0 {
		if err := t.store.TouchItem(ctx, stored.ItemID); err != nil {
			return Unchanged, fmt.Errorf("touch %s: %w", stored.ItemID, err)
		}
		return Unchanged, nil
	}

	// A sold-out item that comes back with a significant change is live again.
	if policy.MuteSoldOut && stored.Muted && stored.Stock == 0 && found.Stock > 0 {
		next.Muted = false
	}
	if err := t.store.UpdateItem(ctx, &next, stored); err != nil {
		return Unchanged, err
	}

	t.log.Info("item updated", "adapter", src.Name(), "item_id", next.ItemID, "changes", changes)
	if !next.Muted {
		t.announce(ctx, alert, src, next, changes)
	}
	return Updated, nil
}

// announce posts an item to the alert's chat and records the message ref.
// Updates are also sent to every subscriber. Delivery errors are logged only.
func (t *Tracker) announce(ctx context.Context, alert model.Alert, src Source, item model.Item, changes []string) {
	e := notify.NewItemEmbed(item, src.Name(), alert.SearchQuery, src.EmbedColor(), changes)

	if len(changes) > 0 {
		users, err := t.store.ListSubscribers(ctx, item.ItemID)
		if err != nil {
			t.log.Error("list subscribers", "item_id", item.ItemID, "error", err)
		}
		for _, uid := range users {
			if err := t.sink.DM(ctx, uid, e); err != nil {
				t.log.Warn("send direct message", "item_id", item.ItemID, "user_id", uid, "error", err)
			}
		}
	}

	ref, err := t.sink.Post(ctx, alert.ChatID, e)
	if err != nil {
		t.log.Warn("post notification", "item_id", item.ItemID, "chat_id", alert.ChatID, "error", err)
		return
	}
	if ref == "" {
		return
	}
	if err := t.store.SetMessageRef(ctx, item.ItemID, ref); err != nil {
		t.log.Error("set message ref", "item_id", item.ItemID, "error", err)
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
