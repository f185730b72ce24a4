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

const daihatsuSearchURL = "https://www.daihatsu.co.jp/info/recall/search/recall_search.php"

var daihatsuDetailFile = regexp.MustCompile(`(\d+)\.htm$`)

// Daihatsu queries the Daihatsu recall search form.
type Daihatsu struct {
	deps Deps
}

// NewDaihatsu builds the Daihatsu adapter.
func NewDaihatsu(deps Deps) *Daihatsu {
	return &Daihatsu{deps: deps.withDefaults()}
}

func (d *Daihatsu) Maker() string { return recall.MakerDaihatsu }

// Check resolves the chassis number against the Daihatsu site.
func (d *Daihatsu) Check(ctx context.Context, chassisNumber string) recall.Result {
	prefix, serial := recall.SplitChassisNumber(chassisNumber)

	resp, err := d.deps.Fetcher.Fetch(ctx, form.Request{
		URL:    daihatsuSearchURL,
		Method: http.MethodPost,
		Fields: map[string]string{
			"model_no": prefix,
			"car_no":   serial,
		},
		Charset:    form.CharsetUTF8,
		ArchiveKey: "daihatsu/" + chassisNumber,
	})
	if err != nil {
		d.deps.Log.Warn("daihatsu fetch failed", zap.String("chassis", chassisNumber), zap.Error(err))
		return d.deps.degraded(recall.MakerDaihatsu, chassisNumber)
	}

	recalls, err := parseDaihatsu(resp.Body, resp.URL, d.deps.Clock.Now())
	if err != nil {
		d.deps.Log.Warn("daihatsu parse failed", zap.String("chassis", chassisNumber), zap.Error(err))
		return d.deps.degraded(recall.MakerDaihatsu, chassisNumber)
	}
	return d.deps.finish(recall.MakerDaihatsu, chassisNumber, recalls)
}

// parseDaihatsu extracts notices from numeric detail links under
// /info/recall/. The clear check matches the full result sentence; shorter
// fragments like 対象項目なし also appear in the page's help text and would
// misclassify a positive result.
func parseDaihatsu(body []byte, pageURL string, now time.Time) ([]recall.Info, error) {
	doc, bodyText, err := parseDocument(body)
	if err != nil {
		return nil, err
	}
	if err := checkBusy(bodyText); err != nil {
		return nil, err
	}

	if strings.Contains(bodyText, "おクルマは「リコール・改善対策・サービスキャンペーン」の対象ではありません") {
		return nil, nil
	}

	var recalls []recall.Info
	doc.Find("a").Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		text := strings.TrimSpace(link.Text())
		if text == "" || !strings.Contains(href, "/info/recall/") {
			return
		}
		m := daihatsuDetailFile.FindStringSubmatch(href)
		if m == nil {
			return
		}

		fullURL := absoluteURL("https://www.daihatsu.co.jp/", href)
		row := link.Closest("tr")
		cells := row.Find("td")
		dateText, category, statusText := "", "", ""
		if cells.Length() >= 4 {
			dateText = strings.TrimSpace(cells.Eq(0).Text())
			category = strings.TrimSpace(cells.Eq(1).Text())
			statusText = strings.TrimSpace(cells.Eq(3).Text())
		}

		title := text
		if category != "" {
			title = fmt.Sprintf("%s: %s", category, text)
		}
		status := recall.StatusPending
		if strings.Contains(statusText, "修理済") {
			status = recall.StatusCompleted
		}
		date, confidence := recall.ExtractDate(dateText, now)

		recalls = append(recalls, recall.Info{
			RecallID:       m[1],
			Title:          title,
			Description:    fmt.Sprintf("詳細: %s", fullURL),
			Severity:       recall.ClassifySeverity(category, text),
			Status:         status,
			PublishedAt:    date,
			DateConfidence: confidence,
			DetailURL:      fullURL,
		})
	})

	recalls = dedupByKey(recalls, func(r recall.Info) string { return r.RecallID })

	// The positive result page opens with this phrase even when the row
	// markup changes under the parser.
	if len(recalls) == 0 && strings.Contains(bodyText, "以下の通りでございます") {
		recalls = append(recalls, advisoryEntry(recall.MakerDaihatsu, pageURL, now))
	}
	return recalls, nil
}
