package source

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/kurumaware/recallwatch/internal/fetcher/form"
	"github.com/kurumaware/recallwatch/internal/recall"
)

const (
	hondaSearchURL = "https://recallsearch4.honda.co.jp/sqs/r001/R00101.do"
	hondaEntryURL  = "https://recallsearch4.honda.co.jp/sqs/r001/R00101.do?fn=link.disp"
)

var hondaDetailID = regexp.MustCompile(`info/([^.]+)\.html`)

// Honda queries the Honda recall-history search. The endpoint is a legacy
// Shift_JIS application; the fetcher decodes the body before parsing.
type Honda struct {
	deps Deps
}

// NewHonda builds the Honda adapter.
func NewHonda(deps Deps) *Honda {
	return &Honda{deps: deps.withDefaults()}
}

func (h *Honda) Maker() string { return recall.MakerHonda }

// Check resolves the chassis number against the Honda site.
func (h *Honda) Check(ctx context.Context, chassisNumber string) recall.Result {
	prefix, serial := recall.SplitChassisNumber(chassisNumber)

	resp, err := h.deps.Fetcher.Fetch(ctx, form.Request{
		URL:    hondaSearchURL,
		Method: http.MethodPost,
		Fields: map[string]string{
			"syadai_no1": prefix,
			"syadai_no2": serial,
		},
		Charset:    form.CharsetShiftJIS,
		ArchiveKey: "honda/" + chassisNumber,
	})
	if err != nil {
		h.deps.Log.Warn("honda fetch failed", zap.String("chassis", chassisNumber), zap.Error(err))
		return h.deps.degraded(recall.MakerHonda, chassisNumber)
	}

	recalls, err := parseHonda(resp.Body, h.deps.Clock.Now())
	if err != nil {
		h.deps.Log.Warn("honda parse failed", zap.String("chassis", chassisNumber), zap.Error(err))
		return h.deps.degraded(recall.MakerHonda, chassisNumber)
	}
	return h.deps.finish(recall.MakerHonda, chassisNumber, recalls)
}

// parseHonda extracts notices linked into honda.co.jp/recall/. The "no
// history" phrase only clears the vehicle when nothing is marked 未実施
// (not yet remedied); the page prints both on partially remedied vehicles.
func parseHonda(body []byte, now time.Time) ([]recall.Info, error) {
	doc, bodyText, err := parseDocument(body)
	if err != nil {
		return nil, err
	}
	if err := checkBusy(bodyText); err != nil {
		return nil, err
	}

	unremedied := strings.Contains(bodyText, "未実施")
	if strings.Contains(bodyText, "リコールや改善対策の実施履歴はございません") && !unremedied {
		return nil, nil
	}

	status := recall.StatusCompleted
	if unremedied {
		status = recall.StatusPending
	}

	var recalls []recall.Info
	doc.Find("a").Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		text := strings.TrimSpace(link.Text())
		if text == "" || !strings.Contains(href, "honda.co.jp/recall/") || !strings.Contains(href, ".html") {
			return
		}

		recallID := ""
		if m := hondaDetailID.FindStringSubmatch(href); m != nil {
			recallID = m[1]
		}

		row := link.Closest("tr")
		category := strings.TrimSpace(row.Find("td").First().Text())
		if category == "" {
			category = "リコール"
		}
		dateText := strings.TrimSpace(row.Find("td").Eq(1).Text())
		date, confidence := recall.ExtractDate(dateText, now)

		recalls = append(recalls, recall.Info{
			RecallID:       recallID,
			Title:          text,
			Description:    fmt.Sprintf("詳細: %s", href),
			Severity:       recall.ClassifySeverity(category, text),
			Status:         status,
			PublishedAt:    date,
			DateConfidence: confidence,
			DetailURL:      href,
		})
	})

	recalls = dedupByKey(recalls, func(r recall.Info) string { return r.RecallID })

	// An unremedied marker with no extractable links still means a recall.
	if len(recalls) == 0 && unremedied {
		recalls = append(recalls, recall.Info{
			RecallID:       "UNPARSED",
			Title:          "リコール対象です",
			Description:    fmt.Sprintf("詳細: %s", hondaEntryURL),
			Severity:       recall.SeverityHigh,
			Status:         recall.StatusPending,
			PublishedAt:    now.Format("2006-01-02"),
			DateConfidence: recall.DateFallback,
			DetailURL:      hondaEntryURL,
		})
	}
	return recalls, nil
}
