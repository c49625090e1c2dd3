package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/h2non/gock"

	"stockwatch/internal/model"
)

const testBase = "https://proxy.test/japan/sites"

func newTestClient(t *testing.T) *http.Client {
	t.Helper()
	client := &http.Client{}
	gock.InterceptClient(client)
	t.Cleanup(func() {
		gock.RestoreClient(client)
		gock.Off()
	})
	return client
}

func pageItems(from, to int) []map[string]any {
	items := make([]map[string]any, 0, to-from)
	for i := from; i < to; i++ {
		items = append(items, map[string]any{
			"id":       fmt.Sprintf("m%03d", i),
			"title":    fmt.Sprintf("Poster %d", i),
			"stock":    1,
			"price":    1000 + i,
			"imageUrl": fmt.Sprintf("https://img.test/%d.jpg", i),
		})
	}
	return items
}

func newMercari(t *testing.T) Adapter {
	t.Helper()
	a, err := New(Mercari, Options{Client: newTestClient(t), BaseURL: testBase, Timeout: time.Second})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return a
}

func TestSearchFetchPaginates(t *testing.T) {
	a := newMercari(t)

	gock.New("https://proxy.test").
		Get("/japan/sites/mercari/search").
		MatchParam("keyword", "poster").
		MatchParam("hits", "^24$").
		MatchParam("page", "^1$").
		Reply(200).
		JSON(map[string]any{"count": 30, "items": pageItems(0, 24)})
	gock.New("https://proxy.test").
		Get("/japan/sites/mercari/search").
		MatchParam("page", "^2$").
		Reply(200).
		JSON(map[string]any{"count": 30, "items": pageItems(24, 30)})

	records, err := a.Fetch(context.Background(), "poster")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if diff := cmp.Diff(30, len(records)); diff != "" {
		t.Errorf("record count mismatch (-want +got):\n%s", diff)
	}
	if !gock.IsDone() {
		t.Error("expected exactly two page requests")
	}

	var ids []string
	for _, rec := range records[22:26] {
		item, err := a.Normalize(context.Background(), rec)
		if err != nil {
			t.Fatalf("normalize: %v", err)
		}
		ids = append(ids, item.ItemID)
	}
	want := []string{"mercari:m022", "mercari:m023", "mercari:m024", "mercari:m025"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("page order mismatch (-want +got):\n%s", diff)
	}
}

func TestSearchFetchStopsOnShortPage(t *testing.T) {
	a := newMercari(t)

	// The count promises three pages but the first is already short.
	gock.New("https://proxy.test").
		Get("/japan/sites/mercari/search").
		MatchParam("page", "^1$").
		Reply(200).
		JSON(map[string]any{"count": 72, "items": pageItems(0, 10)})

	records, err := a.Fetch(context.Background(), "poster")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if diff := cmp.Diff(10, len(records)); diff != "" {
		t.Errorf("record count mismatch (-want +got):\n%s", diff)
	}
}

func TestSearchFetchDropsDuplicates(t *testing.T) {
	a := newMercari(t)

	gock.New("https://proxy.test").
		Get("/japan/sites/mercari/search").
		MatchParam("page", "^1$").
		Reply(200).
		JSON(map[string]any{"count": 30, "items": pageItems(0, 24)})
	gock.New("https://proxy.test").
		Get("/japan/sites/mercari/search").
		MatchParam("page", "^2$").
		Reply(200).
		JSON(map[string]any{"count": 30, "items": pageItems(20, 26)})

	records, err := a.Fetch(context.Background(), "poster")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if diff := cmp.Diff(26, len(records)); diff != "" {
		t.Errorf("record count mismatch (-want +got):\n%s", diff)
	}
}

func TestSearchFetchFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func()
	}{
		{
			name: "missing items field",
			setup: func() {
				gock.New("https://proxy.test").Get("/japan/sites/mercari/search").
					Reply(200).JSON(map[string]any{"error": "rate limited"})
			},
		},
		{
			name: "http error status",
			setup: func() {
				gock.New("https://proxy.test").Get("/japan/sites/mercari/search").
					Reply(503).BodyString("unavailable")
			},
		},
		{
			name: "malformed json",
			setup: func() {
				gock.New("https://proxy.test").Get("/japan/sites/mercari/search").
					Reply(200).BodyString("<html>")
			},
		},
		{
			name: "missing count field",
			setup: func() {
				gock.New("https://proxy.test").Get("/japan/sites/mercari/search").
					Reply(200).JSON(map[string]any{"items": pageItems(0, 3)})
			},
		},
		{
			name: "second page fails",
			setup: func() {
				gock.New("https://proxy.test").Get("/japan/sites/mercari/search").
					MatchParam("page", "^1$").
					Reply(200).JSON(map[string]any{"count": 30, "items": pageItems(0, 24)})
				gock.New("https://proxy.test").Get("/japan/sites/mercari/search").
					MatchParam("page", "^2$").
					Reply(500)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newMercari(t)
			tt.setup()

			records, err := a.Fetch(context.Background(), "poster")
			var ff *FetchFailure
			if !errors.As(err, &ff) {
				t.Fatalf("expected *FetchFailure, got %v", err)
			}
			if diff := cmp.Diff(FetchFailure{Adapter: Mercari, Query: "poster"}, *ff,
				cmpIgnoreCause); diff != "" {
				t.Errorf("failure mismatch (-want +got):\n%s", diff)
			}
			if records != nil {
				t.Errorf("expected no records, got %d", len(records))
			}
		})
	}
}

var cmpIgnoreCause = cmp.FilterPath(func(p cmp.Path) bool {
	return p.Last().String() == ".Cause"
}, cmp.Ignore())

func TestSearchFetchEmptyResult(t *testing.T) {
	a := newMercari(t)
	gock.New("https://proxy.test").Get("/japan/sites/mercari/search").
		Reply(200).JSON(map[string]any{"count": 0, "items": []any{}})

	records, err := a.Fetch(context.Background(), "nothing")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}

func TestSearchNormalize(t *testing.T) {
	end := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		adapter string
		rec     Record
		want    model.Item
		wantErr bool
	}{
		{
			name:    "mercari numbers as strings",
			adapter: Mercari,
			rec:     Record{"id": "m1", "title": "Poster", "stock": "2", "price": "1,500", "imageUrl": "https://img.test/1.jpg"},
			want: model.Item{
				ItemID: "mercari:m1", Source: Mercari, Title: "Poster", URL: "https://jp.mercari.com/item/m1",
				Stock: 2, Price: 1500, ImageURL: "https://img.test/1.jpg",
			},
		},
		{
			name:    "missing title falls back",
			adapter: Mercari,
			rec:     Record{"id": "m2", "stock": float64(0), "price": float64(800)},
			want: model.Item{
				ItemID: "mercari:m2", Source: Mercari, Title: "Unknown Title", URL: "https://jp.mercari.com/item/m2",
				Price: 800,
			},
		},
		{
			name:    "yahoo buyout and end time",
			adapter: YahooAuction,
			rec: Record{
				"id": "x100", "title": "Lot", "price": float64(3000), "buyItNowPrice": float64(9000),
				"endTime": "2024/03/01 21:00:00",
			},
			want: model.Item{
				ItemID: "yahoo_auction:x100", Source: YahooAuction, Title: "Lot",
				URL:   "https://buyee.jp/item/yahoo/auction/x100",
				Stock: 1, Price: 3000, BuyoutPrice: 9000, EndTime: &end,
			},
		},
		{
			name:    "missing id",
			adapter: Mercari,
			rec:     Record{"title": "Poster", "price": float64(100)},
			wantErr: true,
		},
		{
			name:    "missing price",
			adapter: Mercari,
			rec:     Record{"id": "m3", "title": "Poster"},
			wantErr: true,
		},
		{
			name:    "bad end time",
			adapter: YahooAuction,
			rec:     Record{"id": "x1", "price": float64(1), "endTime": "tomorrow"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(tt.adapter, Options{BaseURL: testBase})
			if err != nil {
				t.Fatalf("new adapter: %v", err)
			}
			got, err := a.Normalize(context.Background(), tt.rec)
			if tt.wantErr {
				var nf *NormalizationFailure
				if !errors.As(err, &nf) {
					t.Fatalf("expected *NormalizationFailure, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSurugayaResolvesTitle(t *testing.T) {
	client := newTestClient(t)
	a, err := New(Surugaya, Options{Client: client, BaseURL: testBase, Timeout: time.Second})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	gock.New("https://www.suruga-ya.jp").
		Get("/product/detail/123").
		Reply(200).
		BodyString(`<html><body><h1 id="item_title">
			B2 Poster Neon Genesis Evangelion (Theatrical 1997)
		</h1></body></html>`)

	item, err := a.Normalize(context.Background(), Record{"id": "123", "title": "B2 Poster Neon...", "price": float64(2500), "stock": float64(1)})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if diff := cmp.Diff("B2 Poster Neon Genesis Evangelion (Theatrical 1997)", item.Title); diff != "" {
		t.Errorf("title mismatch (-want +got):\n%s", diff)
	}
}

func TestSurugayaKeepsSearchTitleOnPageError(t *testing.T) {
	client := newTestClient(t)
	a, err := New(Surugaya, Options{Client: client, BaseURL: testBase, Timeout: time.Second})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	gock.New("https://www.suruga-ya.jp").Get("/product/detail/9").Reply(404)

	item, err := a.Normalize(context.Background(), Record{"id": "9", "title": "Short title", "price": float64(100)})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if diff := cmp.Diff("Short title", item.Title); diff != "" {
		t.Errorf("title mismatch (-want +got):\n%s", diff)
	}
}

func TestEnabled(t *testing.T) {
	adapters, err := Enabled(map[string]bool{Mercari: true, Surugaya: true, YahooAuction: false}, Options{})
	if err != nil {
		t.Fatalf("enabled: %v", err)
	}
	var names []string
	for _, a := range adapters {
		names = append(names, a.Name())
	}
	if diff := cmp.Diff([]string{Mercari, Surugaya}, names); diff != "" {
		t.Errorf("enabled adapters mismatch (-want +got):\n%s", diff)
	}
}

func TestStockFloorOverride(t *testing.T) {
	a, err := New(Mercari, Options{StockFloors: map[string]int{Mercari: -1}})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	want := model.ChangePolicy{PriceDrop: 500, BuyoutDelta: 500, StockFloor: -1, MuteSoldOut: true}
	if diff := cmp.Diff(want, a.Policy()); diff != "" {
		t.Errorf("policy mismatch (-want +got):\n%s", diff)
	}
}
