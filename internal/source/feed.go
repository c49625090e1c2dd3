package source

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/mmcdole/gofeed"

	"stockwatch/internal/model"
)

const colorGreen = 0x2E8B57

var feedPrice = regexp.MustCompile(`(?:[¥￥]\s*([\d,]+))|(?:([\d,]+)\s*円)`)

// Feed is an adapter for marketplaces that publish search results as an
// RSS or Atom feed. Feeds are not paginated; one request returns everything.
type Feed struct {
	client   HTTPClient
	template string
	timeout  time.Duration
	policy   model.ChangePolicy
}

// NewFeed creates a Feed adapter from opts.FeedURL.
func NewFeed(opts Options) *Feed {
	opts = opts.withDefaults()
	return &Feed{
		client:   opts.Client,
		template: opts.FeedURL,
		timeout:  opts.Timeout,
		policy:   policyFor(FeedSource, model.DefaultPolicy(), opts),
	}
}

// Name returns the adapter name.
func (f *Feed) Name() string { return FeedSource }

// EmbedColor returns the notification color of feed items.
func (f *Feed) EmbedColor() int { return colorGreen }

// Policy returns the change thresholds of feed items.
func (f *Feed) Policy() model.ChangePolicy { return f.policy }

// Fetch downloads and parses the search feed for query.
func (f *Feed) Fetch(ctx context.Context, query string) ([]Record, error) {
	fail := func(err error) ([]Record, error) {
		return nil, &FetchFailure{Adapter: FeedSource, Query: query, Cause: err}
	}
	if f.template == "" {
		return fail(fmt.Errorf("feed url template is not configured"))
	}

	feed, err := f.download(ctx, fmt.Sprintf(f.template, url.QueryEscape(query)))
	if err != nil {
		return fail(err)
	}

	records := make([]Record, 0, len(feed.Items))
	seen := make(map[string]bool, len(feed.Items))
	for _, it := range feed.Items {
		guid := ItemGUID(it)
		if seen[guid] {
			continue
		}
		seen[guid] = true
		rec := Record{
			"guid":        guid,
			"title":       it.Title,
			"link":        it.Link,
			"description": it.Description,
		}
		if it.Image != nil {
			rec["image"] = it.Image.URL
		} else {
			for _, enc := range it.Enclosures {
				if enc != nil && enc.URL != "" {
					rec["image"] = enc.URL
					break
				}
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func (f *Feed) download(ctx context.Context, target string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// Normalize maps a feed entry onto model.Item. The price is read from the
// title, falling back to the description; an entry without one is dropped.
func (f *Feed) Normalize(_ context.Context, rec Record) (model.Item, error) {
	guid, _ := stringField(rec, "guid")
	if guid == "" {
		return model.Item{}, &NormalizationFailure{Adapter: FeedSource, Cause: fmt.Errorf("missing guid")}
	}
	title, _ := stringField(rec, "title")
	desc, _ := stringField(rec, "description")

	price, ok := extractPrice(title)
	if !ok {
		price, ok = extractPrice(desc)
	}
	if !ok {
		return model.Item{}, &NormalizationFailure{Adapter: FeedSource, Cause: fmt.Errorf("item %s: no price", guid)}
	}

	link, _ := stringField(rec, "link")
	image, _ := stringField(rec, "image")
	if title == "" {
		title = "Unknown Title"
	}
	return model.Item{
		ItemID:   FeedSource + ":" + guid,
		Source:   FeedSource,
		Title:    title,
		URL:      link,
		Stock:    1,
		Price:    price,
		ImageURL: image,
	}, nil
}

func extractPrice(s string) (int, bool) {
	m := feedPrice.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	raw := m[1]
	if raw == "" {
		raw = m[2]
	}
	n, err := toInt(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ItemGUID returns the GUID for a feed entry.
// If the entry has no GUID, a SHA-256 hash of title+link is used.
func ItemGUID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Link))
	return fmt.Sprintf("sha256:%x", h[:16])
}
