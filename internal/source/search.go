package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"stockwatch/internal/model"
)

// DefaultBaseURL is the search proxy that serves all built-in marketplaces.
const DefaultBaseURL = "https://www.fromjapan.co.jp/japan/sites"

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36"

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// FieldMap names the record fields that map onto canonical attributes.
// Empty names mean the marketplace has no such field.
type FieldMap struct {
	ID      string
	Title   string
	Stock   string
	Price   string
	Buyout  string
	Image   string
	EndTime string
}

// Site describes one marketplace behind the paginated JSON search API.
type Site struct {
	Name       string
	SitePath   string
	PageSize   int
	ItemsField string
	CountField string
	Fields     FieldMap
	// DefaultStock is used when the record carries no stock.
	DefaultStock int
	// EndTimeLayout parses Fields.EndTime in EndTimeZone.
	EndTimeLayout string
	EndTimeZone   *time.Location
	// ItemURL has one %s for the native item id.
	ItemURL string
	Color   int
	Policy  model.ChangePolicy
	// ResolveTitle, when set, replaces the record title after normalization.
	ResolveTitle func(ctx context.Context, client HTTPClient, item *model.Item) (string, error)
}

// Search is an adapter for a marketplace served by the JSON search API.
type Search struct {
	site    Site
	client  HTTPClient
	baseURL string
	timeout time.Duration
	policy  model.ChangePolicy
}

// NewSearch creates a Search adapter for site.
func NewSearch(site Site, opts Options) *Search {
	opts = opts.withDefaults()
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Search{
		site:    site,
		client:  opts.Client,
		baseURL: base,
		timeout: opts.Timeout,
		policy:  policyFor(site.Name, site.Policy, opts),
	}
}

// Name returns the adapter name.
func (s *Search) Name() string { return s.site.Name }

// EmbedColor returns the notification color of the marketplace.
func (s *Search) EmbedColor() int { return s.site.Color }

// Policy returns the change thresholds of the marketplace.
func (s *Search) Policy() model.ChangePolicy { return s.policy }

// Fetch pages through the search results for query. Paging stops at the
// last page announced by the count field or at the first page that holds
// fewer records than the page size, whichever comes first.
func (s *Search) Fetch(ctx context.Context, query string) ([]Record, error) {
	var (
		records []Record
		seen    = make(map[string]bool)
		pages   = 1
	)
	for page := 1; page <= pages; page++ {
		items, count, err := s.fetchPage(ctx, query, page)
		if err != nil {
			return nil, &FetchFailure{Adapter: s.site.Name, Query: query, Cause: err}
		}
		if page == 1 {
			pages = (count + s.site.PageSize - 1) / s.site.PageSize
		}
		for _, rec := range items {
			id, _ := stringField(rec, s.site.Fields.ID)
			if id != "" {
				if seen[id] {
					continue
				}
				seen[id] = true
			}
			records = append(records, rec)
		}
		if len(items) < s.site.PageSize {
			break
		}
	}
	return records, nil
}

func (s *Search) pageURL(query string, page int) string {
	v := url.Values{}
	v.Set("keyword", query)
	v.Set("sort", "score")
	v.Set("hits", fmt.Sprint(s.site.PageSize))
	v.Set("page", fmt.Sprint(page))
	return fmt.Sprintf("%s/%s/search?%s", s.baseURL, s.site.SitePath, v.Encode())
}

func (s *Search) fetchPage(ctx context.Context, query string, page int) ([]Record, int, error) {
	body, err := s.get(ctx, s.pageURL(query, page))
	if err != nil {
		return nil, 0, fmt.Errorf("page %d: %w", page, err)
	}

	var payload map[string]any
	if err := jsonAPI.Unmarshal(body, &payload); err != nil {
		return nil, 0, fmt.Errorf("page %d: decode: %w", page, err)
	}

	rawItems, ok := payload[s.site.ItemsField]
	if !ok {
		return nil, 0, fmt.Errorf("page %d: missing %q field", page, s.site.ItemsField)
	}
	list, ok := rawItems.([]any)
	if !ok && rawItems != nil {
		return nil, 0, fmt.Errorf("page %d: %q is not a list", page, s.site.ItemsField)
	}
	if len(list) == 0 {
		return nil, 0, nil
	}

	count, err := toInt(payload[s.site.CountField])
	if err != nil {
		return nil, 0, fmt.Errorf("page %d: %q field: %w", page, s.site.CountField, err)
	}

	records := make([]Record, 0, len(list))
	for _, raw := range list {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		records = append(records, Record(m))
	}
	return records, count, nil
}

func (s *Search) get(ctx context.Context, target string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
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
	return body, nil
}

// Normalize maps a search record onto model.Item.
func (s *Search) Normalize(ctx context.Context, rec Record) (model.Item, error) {
	f := s.site.Fields
	fail := func(err error) (model.Item, error) {
		return model.Item{}, &NormalizationFailure{Adapter: s.site.Name, Cause: err}
	}

	id, ok := stringField(rec, f.ID)
	if !ok || id == "" {
		return fail(fmt.Errorf("missing %q", f.ID))
	}
	price, err := toInt(rec[f.Price])
	if err != nil {
		return fail(fmt.Errorf("item %s: %q: %w", id, f.Price, err))
	}

	stock := s.site.DefaultStock
	if v, present := rec[f.Stock]; present && v != nil {
		if stock, err = toInt(v); err != nil {
			return fail(fmt.Errorf("item %s: %q: %w", id, f.Stock, err))
		}
	}

	var buyout int
	if f.Buyout != "" {
		if v, present := rec[f.Buyout]; present && v != nil {
			if buyout, err = toInt(v); err != nil {
				return fail(fmt.Errorf("item %s: %q: %w", id, f.Buyout, err))
			}
		}
	}

	title, _ := stringField(rec, f.Title)
	if title == "" {
		title = "Unknown Title"
	}
	image, _ := stringField(rec, f.Image)

	item := model.Item{
		ItemID:      s.site.Name + ":" + id,
		Source:      s.site.Name,
		Title:       title,
		URL:         fmt.Sprintf(s.site.ItemURL, id),
		Stock:       max(stock, 0),
		Price:       max(price, 0),
		BuyoutPrice: max(buyout, 0),
		ImageURL:    image,
	}

	if f.EndTime != "" {
		if raw, _ := stringField(rec, f.EndTime); raw != "" {
			t, err := time.ParseInLocation(s.site.EndTimeLayout, raw, s.site.EndTimeZone)
			if err != nil {
				return fail(fmt.Errorf("item %s: %q: %w", id, f.EndTime, err))
			}
			t = t.UTC()
			item.EndTime = &t
		}
	}

	if s.site.ResolveTitle != nil {
		rctx, cancel := context.WithTimeout(ctx, s.timeout)
		resolved, err := s.site.ResolveTitle(rctx, s.client, &item)
		cancel()
		switch {
		case err == nil && resolved != "":
			item.Title = resolved
		case err != nil && errors.Is(err, context.Canceled):
			return fail(err)
		}
	}

	return item, nil
}
