// Package notify defines the notification sink contract and builds the
// messages posted for new and updated items.
package notify

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"stockwatch/internal/model"
)

// ColorUpdate is the color of update notifications.
const ColorUpdate = 0x00FF00

// Field is one labelled value of an embed.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Embed is the sink-independent content of a notification.
type Embed struct {
	Title    string
	URL      string
	ImageURL string
	Color    int
	Fields   []Field
	Footer   string
	// ItemID identifies the item so sinks can attach item actions.
	ItemID string
}

// Sink delivers notifications. Post returns an opaque reference to the
// posted message.
type Sink interface {
	Post(ctx context.Context, chatID int64, e Embed) (string, error)
	DM(ctx context.Context, userID int64, e Embed) error
}

// Yen formats an amount as Japanese yen with thousands separators.
func Yen(amount int) string {
	return "¥" + humanize.Comma(int64(amount))
}

// NewItemEmbed builds the notification for an item. Changes, when present,
// turn it into an update notification with one field per change.
func NewItemEmbed(item model.Item, source, query string, color int, changes []string) Embed {
	e := Embed{
		Title:    item.Title,
		URL:      item.URL,
		ImageURL: item.ImageURL,
		Color:    color,
		ItemID:   item.ItemID,
		Footer:   fmt.Sprintf("Source: %s — #%s - %s", source, item.ItemID, query),
	}
	e.Fields = append(e.Fields, Field{Name: "Price", Value: Yen(item.Price), Inline: true})
	if item.BuyoutPrice > 0 {
		e.Fields = append(e.Fields, Field{Name: "Buyout Price", Value: Yen(item.BuyoutPrice), Inline: true})
	}
	if item.Stock > 1 {
		e.Fields = append(e.Fields, Field{Name: "Stock", Value: fmt.Sprint(item.Stock), Inline: true})
	}
	if item.EndTime != nil {
		e.Fields = append(e.Fields, Field{Name: "End Time", Value: humanize.Time(*item.EndTime)})
	}

	if len(changes) > 0 {
		e.Color = ColorUpdate
		for _, c := range changes {
			e.Fields = append(e.Fields, Field{Name: "Update", Value: c})
		}
	}
	return e
}
