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

const subaruSearchURL = "https://recall.subaru.co.jp/lqsb/"

var (
	// javascript:popup03('URL') style detail links.
	subaruPopupURL  = regexp.MustCompile(`popup\d*\(['"]([^'"]+)['"]\)`)
	subaruDetailDoc = regexp.MustCompile(`([^/]+)\.html$`)
)

// Subaru queries the Subaru recall search, another legacy Shift_JIS
// application.
type Subaru struct {
	deps Deps
}

// NewSubaru builds the Subaru adapter.
func NewSubaru(deps Deps) *Subaru {
	return &Subaru{deps: deps.withDefaults()}
}

func (s *Subaru) Maker() string { return recall.MakerSubaru }

// Check resolves the chassis number against the Subaru site.
func (s *Subaru) Check(ctx context.Context, chassisNumber string) recall.Result {
	prefix, serial := recall.SplitChassisNumber(chassisNumber)

	resp, err := s.deps.Fetcher.Fetch(ctx, form.Request{
		URL:    subaruSearchURL,
		Method: http.MethodPost,
		Fields: map[string]string{
			"txtCarNoKami":  prefix,
			"txtCarNoShimo": serial,
		},
		Charset:    form.CharsetShiftJIS,
		ArchiveKey: "subaru/" + chassisNumber,
	})
	if err != nil {
		s.deps.Log.Warn("subaru fetch failed", zap.String("chassis", chassisNumber), zap.Error(err))
		return s.deps.degraded(recall.MakerSubaru, chassisNumber)
	}

	recalls, err := parseSubaru(resp.Body, resp.URL, s.deps.Clock.Now())
	if err != nil {
		s.deps.Log.Warn("subaru parse failed", zap.String("chassis", chassisNumber), zap.Error(err))
		return s.deps.degraded(recall.MakerSubaru, chassisNumber)
	}
	return s.deps.finish(recall.MakerSubaru, chassisNumber, recalls)
}

// parseSubaru extracts notices from the popup detail links. The surrounding
// row carries the remedy status (col 2), category (col 3), and date (col 5).
func parseSubaru(body []byte, pageURL string, now time.Time) ([]recall.Info, error) {
	doc, bodyText, err := parseDocument(body)
	if err != nil {
		return nil, err
	}
	if err := checkBusy(bodyText); err != nil {
		return nil, err
	}

	if strings.Contains(bodyText, "対象のリコール等はございません") {
		return nil, nil
	}

	var recalls []recall.Info
	doc.Find("a").Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		text := strings.TrimSpace(link.Text())
		m := subaruPopupURL.FindStringSubmatch(href)
		if m == nil || text == "" {
			return
		}
		detailURL := m[1]

		recallID := ""
		if d := subaruDetailDoc.FindStringSubmatch(detailURL); d != nil {
			recallID = d[1]
		}

		row := link.Closest("tr")
		cells := row.Find("td")
		statusText, category, dateText := "", "", ""
		if cells.Length() >= 5 {
			statusText = strings.TrimSpace(cells.Eq(1).Text())
			category = strings.TrimSpace(cells.Eq(2).Text())
			dateText = strings.TrimSpace(cells.Eq(4).Text())
		}

		title := text
		if category != "" {
			title = fmt.Sprintf("%s: %s", category, text)
		}
		status := recall.StatusPending
		if strings.Contains(statusText, "実施済") {
			status = recall.StatusCompleted
		}
		date, confidence := recall.ExtractDate(dateText, now)

		recalls = append(recalls, recall.Info{
			RecallID:       recallID,
			Title:          title,
			Description:    fmt.Sprintf("詳細: %s", detailURL),
			Severity:       recall.ClassifySeverity(category, text),
			Status:         status,
			PublishedAt:    date,
			DateConfidence: confidence,
			DetailURL:      detailURL,
		})
	})

	recalls = dedupByKey(recalls, func(r recall.Info) string { return r.RecallID })

	if len(recalls) == 0 && strings.Contains(bodyText, "リコール") &&
		!strings.Contains(bodyText, "ございません") {
		recalls = append(recalls, advisoryEntry(recall.MakerSubaru, pageURL, now))
	}
	return recalls, nil
}
