package news

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kurumaware/recallwatch/internal/cache"
	"github.com/kurumaware/recallwatch/internal/fetcher/form"
	"github.com/kurumaware/recallwatch/internal/recall"
)

// routedFetcher serves canned bodies per index URL.
type routedFetcher struct {
	mu     sync.Mutex
	pages  map[string]string
	errs   map[string]error
	visits map[string]int
}

func newRoutedFetcher() *routedFetcher {
	return &routedFetcher{
		pages:  make(map[string]string),
		errs:   make(map[string]error),
		visits: make(map[string]int),
	}
}

func (f *routedFetcher) Fetch(_ context.Context, req form.Request) (form.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visits[req.URL]++
	if err, ok := f.errs[req.URL]; ok {
		return form.Response{}, err
	}
	return form.Response{URL: req.URL, StatusCode: 200, Body: []byte(f.pages[req.URL])}, nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

const toyotaIndex = `<html><body>
<a href="/recall/2024/0516.html">2024年5月16日 プリウス リコールのお知らせ</a>
<a href="/recall/2024/0308.html">2024年3月8日 カローラ 改善対策のお知らせ</a>
<a href="/recall/2024/0516.html">2024年5月16日 プリウス リコールのお知らせ</a>
<a href="/recall/index.html">一覧</a>
</body></html>`

const daihatsuIndex = `<html><body>
<a href="/info/recall/99367.htm">タント スライドドアに関するリコール</a>
<a href="/info/recall/">リコール情報</a>
</body></html>`

func fillIndexes(f *routedFetcher) {
	for _, src := range indexSources {
		f.pages[src.indexURL] = `<html><body></body></html>`
	}
	f.pages["https://toyota.jp/recall/"] = toyotaIndex
	f.pages["https://www.daihatsu.co.jp/info/recall/"] = daihatsuIndex
}

func TestFetchAllMergesAndSorts(t *testing.T) {
	fetcher := newRoutedFetcher()
	fillIndexes(fetcher)
	agg := New(fetcher, nil, zap.NewNop())

	items := agg.FetchAll(context.Background(), 5)
	if len(items) != 3 {
		t.Fatalf("expected 3 items after dedup, got %+v", items)
	}

	// Dated entries first, newest first; the undated Daihatsu entry last.
	if items[0].Date != "2024-05-16" || items[1].Date != "2024-03-08" {
		t.Fatalf("dated entries out of order: %+v", items)
	}
	if items[2].Maker != recall.MakerDaihatsu || items[2].Date != "" {
		t.Fatalf("undated entry should sort last: %+v", items[2])
	}

	first := items[0]
	if first.Title != "プリウス リコールのお知らせ" {
		t.Fatalf("date prefix not stripped from title: %q", first.Title)
	}
	if first.URL != "https://toyota.jp/recall/2024/0516.html" {
		t.Fatalf("relative link not absolutized: %q", first.URL)
	}
}

// One broken site must not empty the whole feed.
func TestFetchAllIsolatesSourceFailures(t *testing.T) {
	fetcher := newRoutedFetcher()
	fillIndexes(fetcher)
	fetcher.errs["https://www.nissan.co.jp/RECALL/"] = errors.New("503 service unavailable")

	agg := New(fetcher, nil, zap.NewNop())
	items := agg.FetchAll(context.Background(), 5)

	if len(items) != 3 {
		t.Fatalf("failure of one source should not affect the rest, got %+v", items)
	}
}

func TestFetchAllHonorsPerMakerLimit(t *testing.T) {
	fetcher := newRoutedFetcher()
	fillIndexes(fetcher)
	agg := New(fetcher, nil, zap.NewNop())

	items := agg.FetchAll(context.Background(), 1)
	for _, it := range items {
		if it.Maker == recall.MakerToyota && it.Date != "2024-05-16" {
			t.Fatalf("limit should keep the first toyota entry, got %+v", it)
		}
	}
	toyotaCount := 0
	for _, it := range items {
		if it.Maker == recall.MakerToyota {
			toyotaCount++
		}
	}
	if toyotaCount != 1 {
		t.Fatalf("expected 1 toyota entry under limit 1, got %d", toyotaCount)
	}
}

func TestFetchAllCachesAggregate(t *testing.T) {
	fetcher := newRoutedFetcher()
	fillIndexes(fetcher)
	store := cache.NewStore(cache.NewMemory(), fixedClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}, zap.NewNop())
	agg := New(fetcher, store, zap.NewNop())
	ctx := context.Background()

	first := agg.FetchAll(ctx, 5)
	second := agg.FetchAll(ctx, 5)

	if len(first) != len(second) {
		t.Fatalf("cached feed differs: %d vs %d", len(first), len(second))
	}
	if visits := fetcher.visits["https://toyota.jp/recall/"]; visits != 1 {
		t.Fatalf("second call should come from cache, %d visits", visits)
	}
}

func TestSortNewsStableForUndated(t *testing.T) {
	items := []recall.News{
		{Title: "a", Date: ""},
		{Title: "b", Date: "2024-01-02"},
		{Title: "c", Date: ""},
		{Title: "d", Date: "2024-05-01"},
	}
	sortNews(items)

	want := []string{"d", "b", "a", "c"}
	for i, title := range want {
		if items[i].Title != title {
			t.Fatalf("order %d = %q, want %q (%+v)", i, items[i].Title, title, items)
		}
	}
}
