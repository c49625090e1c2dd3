package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mmcdole/gofeed"

	"stockwatch/internal/model"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Search: poster</title>
  <link>https://auctions.example.com/search?q=poster</link>
  <item>
    <title>Akira B1 poster ¥12,000</title>
    <link>https://auctions.example.com/item/a1</link>
    <guid>a1</guid>
    <description>Original 1988 release</description>
    <enclosure url="https://img.example.com/a1.jpg" type="image/jpeg" length="100"/>
  </item>
  <item>
    <title>Ghost in the Shell poster</title>
    <link>https://auctions.example.com/item/a2</link>
    <guid>a2</guid>
    <description>Current price 3,400円</description>
  </item>
  <item>
    <title>Poster frame</title>
    <link>https://auctions.example.com/item/a3</link>
    <description>No price given</description>
  </item>
</channel>
</rss>`

type mockTransport struct {
	body       string
	statusCode int
	err        error
	lastURL    string
}

func (m *mockTransport) Do(req *http.Request) (*http.Response, error) {
	m.lastURL = req.URL.String()
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

func TestFeedFetch(t *testing.T) {
	tests := []struct {
		name      string
		transport *mockTransport
		template  string
		wantItems int
		wantErr   bool
	}{
		{
			name:      "successful fetch",
			transport: &mockTransport{body: sampleFeed, statusCode: 200},
			template:  "https://auctions.example.com/rss?q=%s",
			wantItems: 3,
		},
		{
			name:      "http error status",
			transport: &mockTransport{body: "not found", statusCode: 404},
			template:  "https://auctions.example.com/rss?q=%s",
			wantErr:   true,
		},
		{
			name:      "network error",
			transport: &mockTransport{err: io.ErrUnexpectedEOF},
			template:  "https://auctions.example.com/rss?q=%s",
			wantErr:   true,
		},
		{
			name:      "invalid xml",
			transport: &mockTransport{body: "not xml at all", statusCode: 200},
			template:  "https://auctions.example.com/rss?q=%s",
			wantErr:   true,
		},
		{
			name:      "no template",
			transport: &mockTransport{body: sampleFeed, statusCode: 200},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(FeedSource, Options{Client: tt.transport, FeedURL: tt.template, Timeout: time.Second})
			if err != nil {
				t.Fatalf("new adapter: %v", err)
			}
			records, err := a.Fetch(context.Background(), "b1 poster")
			if tt.wantErr {
				var ff *FetchFailure
				if !errors.As(err, &ff) {
					t.Fatalf("expected *FetchFailure, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.wantItems, len(records)); diff != "" {
				t.Errorf("item count mismatch (-want +got):\n%s", diff)
			}
			if !strings.HasSuffix(tt.transport.lastURL, "q=b1+poster") {
				t.Errorf("query not escaped into url: %s", tt.transport.lastURL)
			}
		})
	}
}

func TestFeedNormalize(t *testing.T) {
	transport := &mockTransport{body: sampleFeed, statusCode: 200}
	a, err := New(FeedSource, Options{Client: transport, FeedURL: "https://auctions.example.com/rss?q=%s"})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	records, err := a.Fetch(context.Background(), "poster")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	var items []model.Item
	var failures int
	for _, rec := range records {
		item, err := a.Normalize(context.Background(), rec)
		if err != nil {
			var nf *NormalizationFailure
			if !errors.As(err, &nf) {
				t.Fatalf("expected *NormalizationFailure, got %v", err)
			}
			failures++
			continue
		}
		items = append(items, item)
	}

	want := []model.Item{
		{
			ItemID: "feed:a1", Source: FeedSource, Title: "Akira B1 poster ¥12,000",
			URL: "https://auctions.example.com/item/a1", Stock: 1, Price: 12000,
			ImageURL: "https://img.example.com/a1.jpg",
		},
		{
			ItemID: "feed:a2", Source: FeedSource, Title: "Ghost in the Shell poster",
			URL: "https://auctions.example.com/item/a2", Stock: 1, Price: 3400,
		},
	}
	if diff := cmp.Diff(want, items); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(1, failures); diff != "" {
		t.Errorf("failure count mismatch (-want +got):\n%s", diff)
	}
}

func TestItemGUID(t *testing.T) {
	tests := []struct {
		name     string
		item     *gofeed.Item
		wantGUID string
		hasHash  bool
	}{
		{
			name:     "with guid",
			item:     &gofeed.Item{GUID: "abc-123"},
			wantGUID: "abc-123",
		},
		{
			name:    "without guid generates hash",
			item:    &gofeed.Item{Title: "Listing Without GUID", Link: "https://example.com/item-1"},
			hasHash: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ItemGUID(tt.item)
			if tt.hasHash {
				if !strings.HasPrefix(got, "sha256:") {
					t.Errorf("expected sha256 prefix, got %q", got)
				}
				return
			}
			if diff := cmp.Diff(tt.wantGUID, got); diff != "" {
				t.Errorf("GUID mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
