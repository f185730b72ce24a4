package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/kurumaware/recallwatch/internal/fetcher/form"
	"github.com/kurumaware/recallwatch/internal/recall"
)

const toyotaSearchURL = "https://www.toyota.co.jp/recall-search/dc/search"

// Toyota queries the Toyota recall-search form. The form takes the chassis
// number split into frame division and serial.
type Toyota struct {
	deps Deps
}

// NewToyota builds the Toyota adapter.
func NewToyota(deps Deps) *Toyota {
	return &Toyota{deps: deps.withDefaults()}
}

func (t *Toyota) Maker() string { return recall.MakerToyota }

// Check resolves the chassis number against the Toyota site.
func (t *Toyota) Check(ctx context.Context, chassisNumber string) recall.Result {
	prefix, serial := recall.SplitChassisNumber(chassisNumber)

	resp, err := t.deps.Fetcher.Fetch(ctx, form.Request{
		URL:    toyotaSearchURL,
		Method: http.MethodPost,
		Fields: map[string]string{
			"FRAME_DIV": prefix,
			"FRAME_NO":  serial,
		},
		Charset:    form.CharsetUTF8,
		ArchiveKey: "toyota/" + chassisNumber,
	})
	if err != nil {
		t.deps.Log.Warn("toyota fetch failed", zap.String("chassis", chassisNumber), zap.Error(err))
		return t.deps.degraded(recall.MakerToyota, chassisNumber)
	}

	recalls, err := parseToyota(resp.Body, resp.URL, t.deps.Clock.Now())
	if err != nil {
		t.deps.Log.Warn("toyota parse failed", zap.String("chassis", chassisNumber), zap.Error(err))
		return t.deps.degraded(recall.MakerToyota, chassisNumber)
	}
	return t.deps.finish(recall.MakerToyota, chassisNumber, recalls)
}

// parseToyota extracts recall rows from the Toyota result page. Results are
// rendered as a table with the date in the first column and the notice title
// in the second.
func parseToyota(body []byte, pageURL string, now time.Time) ([]recall.Info, error) {
	doc, bodyText, err := parseDocument(body)
	if err != nil {
		return nil, err
	}
	if err := checkBusy(bodyText); err != nil {
		return nil, err
	}

	if containsAny(bodyText,
		"リコール等の対象はなく",
		"修理のためにご入庫いただく必要はありません") {
		return nil, nil
	}

	var recalls []recall.Info
	completed := strings.Contains(bodyText, "実施済")

	doc.Find("table tr").Each(func(i int, row *goquery.Selection) {
		if i == 0 {
			return
		}
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		dateText := strings.TrimSpace(cells.Eq(0).Text())
		title := strings.TrimSpace(cells.Eq(1).Text())
		if title == "" {
			return
		}

		date, confidence := recall.ExtractDate(dateText, now)
		status := recall.StatusPending
		if completed {
			status = recall.StatusCompleted
		}
		description := strings.TrimSpace(cells.Eq(2).Text())
		if pageURL != "" {
			description = fmt.Sprintf("詳細: %s", pageURL)
		}

		recalls = append(recalls, recall.Info{
			RecallID:       fmt.Sprintf("T-%s-%d", date, i),
			Title:          title,
			Description:    description,
			Severity:       recall.ClassifySeverity("", title),
			Status:         status,
			PublishedAt:    date,
			DateConfidence: confidence,
			DetailURL:      pageURL,
		})
	})

	recalls = dedupByKey(recalls, func(r recall.Info) string { return r.Title })

	if len(recalls) == 0 && strings.Contains(bodyText, "リコール") &&
		!strings.Contains(bodyText, "対象はなく") {
		recalls = append(recalls, advisoryEntry(recall.MakerToyota, pageURL, now))
	}
	return recalls, nil
}
