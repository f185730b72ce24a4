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

const mazdaSearchURL = "https://www2.mazda.co.jp/service/recall/vsearch"

var mazdaDetailFile = regexp.MustCompile(`([^/]+)\.(html|pdf)$`)

// Mazda queries the Mazda vehicle recall search.
type Mazda struct {
	deps Deps
}

// NewMazda builds the Mazda adapter.
func NewMazda(deps Deps) *Mazda {
	return &Mazda{deps: deps.withDefaults()}
}

func (m *Mazda) Maker() string { return recall.MakerMazda }

// Check resolves the chassis number against the Mazda site.
func (m *Mazda) Check(ctx context.Context, chassisNumber string) recall.Result {
	prefix, serial := recall.SplitChassisNumber(chassisNumber)

	resp, err := m.deps.Fetcher.Fetch(ctx, form.Request{
		URL:    mazdaSearchURL,
		Method: http.MethodPost,
		Fields: map[string]string{
			"vin1": prefix,
			"vin2": serial,
		},
		Charset:    form.CharsetUTF8,
		ArchiveKey: "mazda/" + chassisNumber,
	})
	if err != nil {
		m.deps.Log.Warn("mazda fetch failed", zap.String("chassis", chassisNumber), zap.Error(err))
		return m.deps.degraded(recall.MakerMazda, chassisNumber)
	}

	recalls, err := parseMazda(resp.Body, resp.URL, m.deps.Clock.Now())
	if err != nil {
		m.deps.Log.Warn("mazda parse failed", zap.String("chassis", chassisNumber), zap.Error(err))
		return m.deps.degraded(recall.MakerMazda, chassisNumber)
	}
	return m.deps.finish(recall.MakerMazda, chassisNumber, recalls)
}

// mazdaNavigationLink filters out the search page's own navigation, which
// also lives under /recall/.
func mazdaNavigationLink(href string) bool {
	return strings.Contains(href, "vsearch") ||
		strings.Contains(href, "list.html") ||
		strings.Contains(href, "other.html")
}

// parseMazda extracts notices from detail links under /recall/, falling back
// to the result table when the page carries no links.
func parseMazda(body []byte, pageURL string, now time.Time) ([]recall.Info, error) {
	doc, bodyText, err := parseDocument(body)
	if err != nil {
		return nil, err
	}
	if err := checkBusy(bodyText); err != nil {
		return nil, err
	}

	if strings.Contains(bodyText, "該当するリコール等の情報はありませんでした") {
		return nil, nil
	}

	var recalls []recall.Info
	doc.Find("a").Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		text := strings.TrimSpace(link.Text())
		lower := strings.ToLower(href)
		if text == "" ||
			!strings.Contains(lower, "/recall/") ||
			(!strings.Contains(lower, ".html") && !strings.Contains(lower, ".pdf")) ||
			mazdaNavigationLink(href) {
			return
		}

		fullURL := absoluteURL("https://www2.mazda.co.jp/", href)
		recallID := ""
		if m := mazdaDetailFile.FindStringSubmatch(href); m != nil {
			recallID = m[1]
		}
		date, confidence := recall.ExtractDate(text, now)

		recalls = append(recalls, recall.Info{
			RecallID:       recallID,
			Title:          text,
			Description:    fmt.Sprintf("詳細: %s", fullURL),
			Severity:       recall.ClassifySeverity("", text),
			Status:         recall.StatusPending,
			PublishedAt:    date,
			DateConfidence: confidence,
			DetailURL:      fullURL,
		})
	})

	recalls = dedupByKey(recalls, func(r recall.Info) string { return r.RecallID })

	if len(recalls) == 0 {
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
			if title == "" || strings.Contains(title, "リコール等情報検索") {
				return
			}
			date, confidence := recall.ExtractDate(dateText, now)
			description := ""
			if pageURL != "" {
				description = fmt.Sprintf("詳細: %s", pageURL)
			}
			recalls = append(recalls, recall.Info{
				RecallID:       fmt.Sprintf("M-%s-%d", date, i),
				Title:          title,
				Description:    description,
				Severity:       recall.ClassifySeverity("", title),
				Status:         recall.StatusPending,
				PublishedAt:    date,
				DateConfidence: confidence,
				DetailURL:      pageURL,
			})
		})
	}

	if len(recalls) == 0 && strings.Contains(bodyText, "リコール") &&
		!strings.Contains(bodyText, "ありませんでした") {
		recalls = append(recalls, advisoryEntry(recall.MakerMazda, pageURL, now))
	}
	return recalls, nil
}
