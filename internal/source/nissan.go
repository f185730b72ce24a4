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

const nissanSearchURL = "https://www.nissan.co.jp/RECALL/search.html"

// nissanDetailPath matches the detail-page path embedded in the site's
// javascript popup links.
var nissanDetailPath = regexp.MustCompile(`/RECALL/DATA/[^'"]+\.html`)

// Nissan queries the Nissan recall-search form.
type Nissan struct {
	deps Deps
}

// NewNissan builds the Nissan adapter.
func NewNissan(deps Deps) *Nissan {
	return &Nissan{deps: deps.withDefaults()}
}

func (n *Nissan) Maker() string { return recall.MakerNissan }

// Check resolves the chassis number against the Nissan site.
func (n *Nissan) Check(ctx context.Context, chassisNumber string) recall.Result {
	prefix, serial := recall.SplitChassisNumber(chassisNumber)

	resp, err := n.deps.Fetcher.Fetch(ctx, form.Request{
		URL:    nissanSearchURL,
		Method: http.MethodPost,
		Fields: map[string]string{
			"frameno":  prefix,
			"chassino": serial,
		},
		Charset:    form.CharsetUTF8,
		ArchiveKey: "nissan/" + chassisNumber,
	})
	if err != nil {
		n.deps.Log.Warn("nissan fetch failed", zap.String("chassis", chassisNumber), zap.Error(err))
		return n.deps.degraded(recall.MakerNissan, chassisNumber)
	}

	recalls, err := parseNissan(resp.Body, n.deps.Clock.Now())
	if err != nil {
		n.deps.Log.Warn("nissan parse failed", zap.String("chassis", chassisNumber), zap.Error(err))
		return n.deps.degraded(recall.MakerNissan, chassisNumber)
	}
	return n.deps.finish(recall.MakerNissan, chassisNumber, recalls)
}

// parseNissan extracts notices from anchor links into /RECALL/DATA/. The
// link text names the notice; the file name doubles as the notice ID.
func parseNissan(body []byte, now time.Time) ([]recall.Info, error) {
	doc, bodyText, err := parseDocument(body)
	if err != nil {
		return nil, err
	}
	if err := checkBusy(bodyText); err != nil {
		return nil, err
	}

	if containsAny(bodyText,
		"該当するリコールはありません",
		"対象車両はありません") {
		return nil, nil
	}

	var recalls []recall.Info
	doc.Find("a").Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		text := strings.TrimSpace(link.Text())
		if text == "" || !strings.Contains(href, "/RECALL/DATA/") {
			return
		}

		path := nissanDetailPath.FindString(href)
		detailURL := ""
		recallID := ""
		if path != "" {
			detailURL = "https://www.nissan.co.jp" + path
			recallID = strings.TrimSuffix(path[strings.LastIndex(path, "/")+1:], ".html")
		}

		severity := recall.SeverityMedium
		switch {
		case strings.Contains(text, "リコール"):
			severity = recall.SeverityHigh
		case strings.Contains(text, "サービスキャンペーン"):
			severity = recall.SeverityLow
		}

		date, confidence := recall.ExtractDate(text, now)
		description := ""
		if detailURL != "" {
			description = fmt.Sprintf("詳細: %s", detailURL)
		}

		recalls = append(recalls, recall.Info{
			RecallID:       recallID,
			Title:          text,
			Description:    description,
			Severity:       severity,
			Status:         recall.StatusPending,
			PublishedAt:    date,
			DateConfidence: confidence,
			DetailURL:      detailURL,
		})
	})

	return dedupByKey(recalls, func(r recall.Info) string { return r.RecallID }), nil
}
