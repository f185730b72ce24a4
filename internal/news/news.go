// Package news aggregates the manufacturers' public recall-announcement
// index pages into one feed.
package news

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/kurumaware/recallwatch/internal/cache"
	"github.com/kurumaware/recallwatch/internal/fetcher/form"
	"github.com/kurumaware/recallwatch/internal/metrics"
	"github.com/kurumaware/recallwatch/internal/recall"
	"github.com/kurumaware/recallwatch/internal/source"
)

// DefaultTTL is how long one aggregated feed stays cached. Announcement
// pages change daily at most.
const DefaultTTL = time.Hour

// leadingDate strips a date prefix off link text when it also appears in
// the title.
var leadingDate = regexp.MustCompile(`\d{4}[/年]\d{1,2}[/月]\d{1,2}日?\s*`)

// indexSource describes one maker's announcement index.
type indexSource struct {
	maker    string
	indexURL string
	baseURL  string
	match    func(href, text string) bool
}

var numericDetail = regexp.MustCompile(`\d+\.htm`)

// indexSources mirrors each site's link shape: detail pages live under a
// recall path, index and navigation pages are excluded.
var indexSources = []indexSource{
	{
		maker:    recall.MakerToyota,
		indexURL: "https://toyota.jp/recall/",
		baseURL:  "https://toyota.jp",
		match: func(href, text string) bool {
			return strings.Contains(href, "/recall/") && strings.Contains(href, ".html") && len([]rune(text)) > 10
		},
	},
	{
		maker:    recall.MakerNissan,
		indexURL: "https://www.nissan.co.jp/RECALL/",
		baseURL:  "https://www.nissan.co.jp",
		match: func(href, text string) bool {
			return strings.Contains(href, "/RECALL/") && strings.Contains(href, ".html") &&
				!strings.Contains(href, "index") && len([]rune(text)) > 5
		},
	},
	{
		maker:    recall.MakerHonda,
		indexURL: "https://www.honda.co.jp/recall/auto/",
		baseURL:  "https://www.honda.co.jp",
		match: func(href, text string) bool {
			return strings.Contains(href, "/recall/") && strings.Contains(href, ".html") &&
				!strings.Contains(href, "index") && len([]rune(text)) > 5
		},
	},
	{
		maker:    recall.MakerMazda,
		indexURL: "https://www.mazda.co.jp/carlife/recall/",
		baseURL:  "https://www.mazda.co.jp",
		match: func(href, text string) bool {
			return strings.Contains(href, "/recall/") &&
				(strings.Contains(href, ".html") || strings.Contains(href, ".pdf")) &&
				!strings.Contains(href, "index") && len([]rune(text)) > 5
		},
	},
	{
		maker:    recall.MakerSubaru,
		indexURL: "https://www.subaru.co.jp/recall/",
		baseURL:  "https://www.subaru.co.jp",
		match: func(href, text string) bool {
			return strings.Contains(href, "/recall/") && strings.Contains(href, ".html") &&
				!strings.Contains(href, "index") && len([]rune(text)) > 5
		},
	},
	{
		maker:    recall.MakerDaihatsu,
		indexURL: "https://www.daihatsu.co.jp/info/recall/",
		baseURL:  "https://www.daihatsu.co.jp",
		match: func(href, text string) bool {
			return strings.Contains(href, "/recall/") && numericDetail.MatchString(href) && len([]rune(text)) > 5
		},
	},
}

// Aggregator fetches every maker's index concurrently and caches the merged
// feed.
type Aggregator struct {
	fetcher source.FormFetcher
	store   *cache.Store
	log     *zap.Logger
	ttl     time.Duration
}

// Option adjusts Aggregator defaults.
type Option func(*Aggregator)

// WithTTL overrides how long a merged feed stays cached.
func WithTTL(ttl time.Duration) Option {
	return func(a *Aggregator) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

// New builds an Aggregator. store may be nil to disable caching.
func New(fetcher source.FormFetcher, store *cache.Store, log *zap.Logger, opts ...Option) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Aggregator{fetcher: fetcher, store: store, log: log, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FetchAll returns up to limitPerMaker announcements per maker, newest
// first, undated entries last. A maker whose page cannot be fetched is
// skipped; one broken site never empties the feed.
func (a *Aggregator) FetchAll(ctx context.Context, limitPerMaker int) []recall.News {
	if limitPerMaker <= 0 {
		limitPerMaker = 5
	}
	key := fmt.Sprintf("news:%d", limitPerMaker)

	if a.store != nil {
		if rec, ok := a.store.Get(ctx, key); ok {
			var cached []recall.News
			if err := json.Unmarshal(rec.Payload, &cached); err == nil {
				return cached
			}
			a.log.Warn("cached news payload unreadable, refetching", zap.String("key", key))
		}
	}

	var (
		mu  sync.Mutex
		all []recall.News
		wg  sync.WaitGroup
	)
	for _, src := range indexSources {
		wg.Add(1)
		go func(src indexSource) {
			defer wg.Done()
			items, err := a.fetchOne(ctx, src, limitPerMaker)
			if err != nil {
				a.log.Warn("news index fetch failed", zap.String("maker", src.maker), zap.Error(err))
				metrics.RecordNewsFailure(src.maker)
				return
			}
			mu.Lock()
			all = append(all, items...)
			mu.Unlock()
		}(src)
	}
	wg.Wait()

	sortNews(all)

	if a.store != nil && len(all) > 0 {
		if payload, err := json.Marshal(all); err == nil {
			a.store.Put(ctx, key, payload, a.ttl)
		}
	}
	return all
}

func (a *Aggregator) fetchOne(ctx context.Context, src indexSource, limit int) ([]recall.News, error) {
	resp, err := a.fetcher.Fetch(ctx, form.Request{
		URL:     src.indexURL,
		Method:  http.MethodGet,
		Charset: form.CharsetUTF8,
	})
	if err != nil {
		return nil, err
	}
	return parseIndex(src, resp.Body, limit)
}

// parseIndex scans anchors in page order, keeping the first limit distinct
// titles that match the source's link shape.
func parseIndex(src indexSource, body []byte, limit int) ([]recall.News, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parsing %s index: %w", src.maker, err)
	}

	var items []recall.News
	seen := make(map[string]struct{})
	doc.Find("a").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		if len(items) >= limit {
			return false
		}
		href, _ := link.Attr("href")
		text := strings.TrimSpace(link.Text())
		if href == "" || text == "" || !src.match(href, text) {
			return true
		}

		date := ""
		if d, confidence := recall.ExtractDate(text, time.Time{}); confidence == recall.DateExact {
			date = d
		}
		title := strings.TrimSpace(leadingDate.ReplaceAllString(text, ""))
		if title == "" {
			title = text
		}
		if runes := []rune(title); len(runes) > 80 {
			title = string(runes[:80])
		}

		if _, dup := seen[title]; dup {
			return true
		}
		seen[title] = struct{}{}

		url := href
		if !strings.HasPrefix(href, "http") {
			url = src.baseURL + href
		}
		items = append(items, recall.News{
			Maker: src.maker,
			Title: title,
			Date:  date,
			URL:   url,
		})
		return true
	})
	return items, nil
}

// sortNews orders newest first. Undated entries sort after every dated one;
// the sort is stable so page order breaks ties.
func sortNews(items []recall.News) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].Date, items[j].Date
		if a == "" {
			return false
		}
		if b == "" {
			return true
		}
		return a > b
	})
}
