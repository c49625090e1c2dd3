// Package source contains the marketplace adapters. Each adapter fetches the
// raw search results for a query and maps them onto model.Item.
package source

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"stockwatch/internal/model"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Record is one raw search result as returned by a marketplace.
type Record map[string]any

// Adapter is the capability set every marketplace implements.
type Adapter interface {
	// Name identifies the adapter and prefixes the ids of its items.
	Name() string
	// Fetch returns every result for query, pages concatenated in order.
	// Failures are returned as *FetchFailure.
	Fetch(ctx context.Context, query string) ([]Record, error)
	// Normalize maps a record onto the canonical item.
	// Failures are returned as *NormalizationFailure.
	Normalize(ctx context.Context, rec Record) (model.Item, error)
	// EmbedColor is the RGB color of "new item" notifications.
	EmbedColor() int
	// Policy returns the change thresholds for items of this adapter.
	Policy() model.ChangePolicy
}

// FetchFailure means a source produced no usable results this cycle.
// It never implies that previously seen items went out of stock.
type FetchFailure struct {
	Adapter string
	Query   string
	Cause   error
}

func (e *FetchFailure) Error() string {
	return fmt.Sprintf("%s: fetch %q: %v", e.Adapter, e.Query, e.Cause)
}

func (e *FetchFailure) Unwrap() error { return e.Cause }

// NormalizationFailure means a single record could not be mapped.
type NormalizationFailure struct {
	Adapter string
	Cause   error
}

func (e *NormalizationFailure) Error() string {
	return fmt.Sprintf("%s: normalize: %v", e.Adapter, e.Cause)
}

func (e *NormalizationFailure) Unwrap() error { return e.Cause }

// Options configures adapter construction.
type Options struct {
	Client HTTPClient
	// BaseURL overrides the search proxy root; empty selects the default.
	BaseURL string
	// FeedURL is the RSS search template for the feed adapter, with one %s
	// for the escaped query.
	FeedURL string
	// StockFloors overrides the StockFloor of the named adapters.
	StockFloors map[string]int
	Timeout     time.Duration
}

// DefaultTimeout bounds each request when Options.Timeout is unset.
const DefaultTimeout = 20 * time.Second

func (o Options) withDefaults() Options {
	if o.Client == nil {
		o.Client = &http.Client{}
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// Adapter names.
const (
	Mercari      = "mercari"
	YahooAuction = "yahoo_auction"
	Surugaya     = "surugaya"
	FeedSource   = "feed"
)

var registry = map[string]func(Options) Adapter{
	Mercari:      func(o Options) Adapter { return NewSearch(mercariSite(), o) },
	YahooAuction: func(o Options) Adapter { return NewSearch(yahooSite(), o) },
	Surugaya:     func(o Options) Adapter { return NewSearch(surugayaSite(), o) },
	FeedSource:   func(o Options) Adapter { return NewFeed(o) },
}

// Names returns the names of all known adapters in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New constructs the named adapter.
func New(name string, opts Options) (Adapter, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown source %q", name)
	}
	return ctor(opts.withDefaults()), nil
}

// Enabled constructs the adapters whose flag is set, in sorted name order.
func Enabled(flags map[string]bool, opts Options) ([]Adapter, error) {
	var adapters []Adapter
	for _, name := range Names() {
		if !flags[name] {
			continue
		}
		a, err := New(name, opts)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

func policyFor(name string, base model.ChangePolicy, opts Options) model.ChangePolicy {
	if floor, ok := opts.StockFloors[name]; ok {
		base.StockFloor = floor
	}
	return base
}
