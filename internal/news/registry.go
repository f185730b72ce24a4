package news

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/kurumaware/recallwatch/internal/fetcher/form"
)

const (
	registrySearchURL  = "https://renrakuda.mlit.go.jp/renrakuda/recall-search.html"
	registryNoticesURL = "https://www.mlit.go.jp/jidosha/recall.html"
	registryBaseURL    = "https://www.mlit.go.jp"
)

// registryDatePattern matches the searchable range the registry prints on
// its search page: 1993年04月15日 ～ 2025年11月30日.
var registryDatePattern = regexp.MustCompile(
	`(\d{4})年(\d{2})月(\d{2})日\s*[～〜-]\s*(\d{4})年(\d{2})月(\d{2})日`)

var noticeYearPattern = regexp.MustCompile(`令和\d+年`)

// DateRange is the span of notification dates the registry can search.
type DateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// NoticeMaker is one filing manufacturer linked from a notice row.
type NoticeMaker struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Notice is one dated filing from the ministry's monthly table. Type is
// "recall" or "improvement".
type Notice struct {
	Date   string        `json:"date"`
	Makers []NoticeMaker `json:"makers"`
	Type   string        `json:"type"`
}

// MonthlyNotices is the latest month's filings.
type MonthlyNotices struct {
	Month   string   `json:"month"`
	Year    string   `json:"year"`
	Notices []Notice `json:"notices"`
}

// DateRange scrapes the registry's searchable notification-date span. The
// span only moves when the ministry loads new filings, so it shares the
// feed's cache TTL.
func (a *Aggregator) DateRange(ctx context.Context) (DateRange, error) {
	const key = "news:date-range"
	if a.store != nil {
		if rec, ok := a.store.Get(ctx, key); ok {
			var cached DateRange
			if err := json.Unmarshal(rec.Payload, &cached); err == nil {
				return cached, nil
			}
			a.log.Warn("cached date range unreadable, refetching", zap.String("key", key))
		}
	}

	resp, err := a.fetcher.Fetch(ctx, form.Request{
		URL:     registrySearchURL,
		Method:  http.MethodGet,
		Charset: form.CharsetUTF8,
	})
	if err != nil {
		return DateRange{}, fmt.Errorf("fetching registry search page: %w", err)
	}

	span, err := parseDateRange(resp.Body)
	if err != nil {
		return DateRange{}, err
	}

	if a.store != nil {
		if payload, err := json.Marshal(span); err == nil {
			a.store.Put(ctx, key, payload, a.ttl)
		}
	}
	return span, nil
}

func parseDateRange(body []byte) (DateRange, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return DateRange{}, fmt.Errorf("parsing registry search page: %w", err)
	}
	m := registryDatePattern.FindStringSubmatch(doc.Find("body").Text())
	if m == nil {
		return DateRange{}, fmt.Errorf("registry search page carries no date range")
	}
	return DateRange{
		StartDate: fmt.Sprintf("%s年%s月%s日", m[1], m[2], m[3]),
		EndDate:   fmt.Sprintf("%s年%s月%s日", m[4], m[5], m[6]),
	}, nil
}

// LatestNotices scrapes the ministry's newest monthly filing table: recall
// filings in the left column pair, improvement-measure filings in the right.
func (a *Aggregator) LatestNotices(ctx context.Context) (MonthlyNotices, error) {
	const key = "news:latest-notices"
	if a.store != nil {
		if rec, ok := a.store.Get(ctx, key); ok {
			var cached MonthlyNotices
			if err := json.Unmarshal(rec.Payload, &cached); err == nil {
				return cached, nil
			}
			a.log.Warn("cached notices unreadable, refetching", zap.String("key", key))
		}
	}

	resp, err := a.fetcher.Fetch(ctx, form.Request{
		URL:     registryNoticesURL,
		Method:  http.MethodGet,
		Charset: form.CharsetUTF8,
	})
	if err != nil {
		return MonthlyNotices{}, fmt.Errorf("fetching ministry notice page: %w", err)
	}

	monthly, err := parseLatestNotices(resp.Body)
	if err != nil {
		return MonthlyNotices{}, err
	}

	if a.store != nil {
		if payload, err := json.Marshal(monthly); err == nil {
			a.store.Put(ctx, key, payload, a.ttl)
		}
	}
	return monthly, nil
}

func parseLatestNotices(body []byte) (MonthlyNotices, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return MonthlyNotices{}, fmt.Errorf("parsing ministry notice page: %w", err)
	}

	monthly := MonthlyNotices{
		Month:   strings.TrimSpace(doc.Find("h1.titleType01 strong").First().Text()),
		Year:    noticeYearPattern.FindString(doc.Find("h2.title").Text()),
		Notices: []Notice{},
	}

	// The first table after the newest month heading; older months repeat
	// the same layout further down the page.
	table := doc.Find("h1.titleType01").First().Next()
	if !table.Is("table") {
		return monthly, nil
	}

	table.Find("tbody tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() >= 2 {
			if n, ok := noticeFromCells(cells.Eq(0), cells.Eq(1), "recall"); ok {
				monthly.Notices = append(monthly.Notices, n)
			}
		}
		if cells.Length() >= 4 {
			if n, ok := noticeFromCells(cells.Eq(2), cells.Eq(3), "improvement"); ok {
				monthly.Notices = append(monthly.Notices, n)
			}
		}
	})
	return monthly, nil
}

var noticeWhitespace = regexp.MustCompile(`\s+`)

func noticeFromCells(dateCell, makerCell *goquery.Selection, noticeType string) (Notice, bool) {
	date := noticeWhitespace.ReplaceAllString(strings.TrimSpace(dateCell.Text()), "")

	var makers []NoticeMaker
	makerCell.Find("a").Each(func(_ int, link *goquery.Selection) {
		name := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		if name == "" || href == "" {
			return
		}
		if !strings.HasPrefix(href, "http") {
			href = registryBaseURL + href
		}
		makers = append(makers, NoticeMaker{Name: name, URL: href})
	})

	if date == "" || len(makers) == 0 {
		return Notice{}, false
	}
	return Notice{Date: date, Makers: makers, Type: noticeType}, true
}
