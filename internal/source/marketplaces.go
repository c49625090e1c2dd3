package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"stockwatch/internal/model"
)

// Notification colors.
const (
	colorRed    = 0xFF0000
	colorOrange = 0xFFA500
	colorBlue   = 0x0000FF
)

var jst = time.FixedZone("JST", 9*60*60)

func mercariSite() Site {
	p := model.DefaultPolicy()
	// Sold listings report zero stock; there is nothing to buy, so the
	// transition is recorded without posting.
	p.MuteSoldOut = true
	return Site{
		Name:       Mercari,
		SitePath:   "mercari",
		PageSize:   24,
		ItemsField: "items",
		CountField: "count",
		Fields: FieldMap{
			ID:    "id",
			Title: "title",
			Stock: "stock",
			Price: "price",
			Image: "imageUrl",
		},
		ItemURL: "https://jp.mercari.com/item/%s",
		Color:   colorRed,
		Policy:  p,
	}
}

func yahooSite() Site {
	return Site{
		Name:       YahooAuction,
		SitePath:   "yahooauction",
		PageSize:   20,
		ItemsField: "items",
		CountField: "count",
		Fields: FieldMap{
			ID:      "id",
			Title:   "title",
			Stock:   "stock",
			Price:   "price",
			Buyout:  "buyItNowPrice",
			Image:   "imageUrl",
			EndTime: "endTime",
		},
		DefaultStock:  1,
		EndTimeLayout: "2006/01/02 15:04:05",
		EndTimeZone:   jst,
		ItemURL:       "https://buyee.jp/item/yahoo/auction/%s",
		Color:         colorOrange,
		Policy:        model.DefaultPolicy(),
	}
}

func surugayaSite() Site {
	return Site{
		Name:       Surugaya,
		SitePath:   "surugaya",
		PageSize:   24,
		ItemsField: "items",
		CountField: "count",
		Fields: FieldMap{
			ID:    "id",
			Title: "title",
			Stock: "stock",
			Price: "price",
			Image: "imageUrl",
		},
		ItemURL:      "https://www.suruga-ya.jp/product/detail/%s",
		Color:        colorBlue,
		Policy:       model.DefaultPolicy(),
		ResolveTitle: productPageTitle,
	}
}

// productPageTitle reads the full product title from the detail page; the
// search API truncates Suruga-ya titles.
func productPageTitle(ctx context.Context, client HTTPClient, item *model.Item) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.URL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	return strings.TrimSpace(doc.Find("h1#item_title").First().Text()), nil
}
