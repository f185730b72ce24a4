package source

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/kurumaware/recallwatch/internal/fetcher/headless"
	"github.com/kurumaware/recallwatch/internal/metrics"
	"github.com/kurumaware/recallwatch/internal/recall"
)

const (
	mlitBaseURL   = "https://renrakuda.mlit.go.jp"
	mlitSearchURL = "https://renrakuda.mlit.go.jp/renrakuda/recall-search.html"
)

var mlitDetailLink = regexp.MustCompile(`goToDetailPage\((\d+)\)`)

// mlitReadyExpr is true once the detail page's client-side rendering has
// filled in either the notification number or the situation text.
const mlitReadyExpr = `(function() {
	var no = document.getElementById('notificationNo');
	var sit = document.getElementById('situationExplanatoryText');
	return (no && no.textContent.trim().length > 0) ||
	       (sit && sit.textContent.trim().length > 0);
})()`

// Navigator is the page-driving surface the registry walk needs. The
// headless browser session implements it; tests use a scripted fake.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	WaitReady(ctx context.Context, expr string, timeout time.Duration) error
	HTML(ctx context.Context) (string, error)
	Location(ctx context.Context) (string, error)
	Back(ctx context.Context) error
}

// SessionFactory opens a fresh browser session per lookup.
type SessionFactory func(ctx context.Context) (Navigator, func(), error)

// BrowserSessions adapts a headless browser into a SessionFactory.
func BrowserSessions(browser *headless.Browser) SessionFactory {
	return func(ctx context.Context) (Navigator, func(), error) {
		session, err := browser.NewSession(ctx)
		if err != nil {
			return nil, nil, err
		}
		return session, session.Close, nil
	}
}

// mlitState names the steps of one registry walk.
type mlitState int

const (
	stateListing mlitState = iota
	stateNavigatingToDetail
	stateWaitingForContent
	stateExtracting
	stateReturningToList
	stateDone
)

// MLIT resolves recalls by model name and type code against the transport
// ministry registry. The registry renders detail pages client side, so the
// walk drives a real browser: load the result listing, then visit each
// detail page in turn and come back to the listing.
type MLIT struct {
	sessions    SessionFactory
	clock       recall.Clock
	ids         recall.IDGenerator
	log         *zap.Logger
	waitTimeout time.Duration
}

// NewMLIT builds the registry adapter.
func NewMLIT(sessions SessionFactory, clock recall.Clock, ids recall.IDGenerator, log *zap.Logger) *MLIT {
	d := Deps{Clock: clock, Log: log}.withDefaults()
	return &MLIT{
		sessions:    sessions,
		clock:       d.Clock,
		ids:         ids,
		log:         d.Log,
		waitTimeout: 60 * time.Second,
	}
}

// CheckByModel runs one registry walk. Like the chassis adapters it never
// fails outright; any error degrades into the manual-check sentinel.
func (m *MLIT) CheckByModel(ctx context.Context, modelName, typeCode string) recall.Result {
	recalls, err := m.walk(ctx, typeCode)
	if err != nil {
		m.log.Warn("registry walk failed",
			zap.String("model", modelName),
			zap.String("type", typeCode),
			zap.Error(err))
		now := m.clock.Now()
		info := recall.ManualCheck("", now)
		info.Description = fmt.Sprintf("自動検索に失敗しました。国土交通省サイトで直接ご確認ください: %s", mlitSearchURL)
		info.DetailURL = mlitSearchURL
		metrics.RecordCheck(modelName, "degraded")
		return recall.Result{
			Maker:     modelName,
			Model:     typeCode,
			HasRecall: true,
			Recalls:   []recall.Info{info},
			CheckedAt: now,
		}
	}

	assignEntryIDs(m.ids, recalls)
	outcome := "clear"
	if len(recalls) > 0 {
		outcome = "recall"
	} else {
		recalls = []recall.Info{}
	}
	metrics.RecordCheck(modelName, outcome)
	return recall.Result{
		Maker:     modelName,
		Model:     typeCode,
		HasRecall: len(recalls) > 0,
		Recalls:   recalls,
		CheckedAt: m.clock.Now(),
	}
}

func mlitResultURL(typeCode string) string {
	return fmt.Sprintf(
		"%s/renrakuda/ris-search-result.html?selCarTp=1&lstCarNo=&txtMdlNm=%s&txtFrDat=&txtToDat=",
		mlitBaseURL, url.QueryEscape(typeCode))
}

// walk runs the state machine over one session.
func (m *MLIT) walk(ctx context.Context, typeCode string) ([]recall.Info, error) {
	nav, release, err := m.sessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening registry session: %w", err)
	}
	defer release()

	var (
		detailIDs []string
		recalls   []recall.Info
		current   int
		onListing bool
	)

	state := stateListing
	for state != stateDone {
		switch state {
		case stateListing:
			if err := nav.Navigate(ctx, mlitResultURL(typeCode)); err != nil {
				return nil, fmt.Errorf("loading result listing: %w", err)
			}
			html, err := nav.HTML(ctx)
			if err != nil {
				return nil, fmt.Errorf("reading result listing: %w", err)
			}
			detailIDs, err = extractMLITDetailIDs(html)
			if err != nil {
				return nil, err
			}
			if len(detailIDs) == 0 {
				state = stateDone
				break
			}
			onListing = true
			state = stateNavigatingToDetail

		case stateNavigatingToDetail:
			selector := fmt.Sprintf(`a[onclick*="goToDetailPage(%s)"]`, detailIDs[current])
			if err := nav.Click(ctx, selector); err != nil {
				// Still on the listing; going Back here would leave it.
				m.log.Warn("detail navigation failed", zap.String("detail", detailIDs[current]), zap.Error(err))
				state = stateReturningToList
				break
			}
			onListing = false
			state = stateWaitingForContent

		case stateWaitingForContent:
			// Rendering can lag well behind navigation; a timeout here
			// still extracts whatever the page holds.
			if err := nav.WaitReady(ctx, mlitReadyExpr, m.waitTimeout); err != nil {
				m.log.Warn("detail content never became ready", zap.String("detail", detailIDs[current]), zap.Error(err))
			}
			state = stateExtracting

		case stateExtracting:
			html, err := nav.HTML(ctx)
			if err != nil {
				m.log.Warn("reading detail page failed", zap.String("detail", detailIDs[current]), zap.Error(err))
				state = stateReturningToList
				break
			}
			location, _ := nav.Location(ctx)
			if info, ok := parseMLITDetail(html, detailIDs[current], location, m.clock.Now()); ok {
				recalls = append(recalls, info)
			}
			state = stateReturningToList

		case stateReturningToList:
			current++
			if current >= len(detailIDs) {
				state = stateDone
				break
			}
			if !onListing {
				if err := nav.Back(ctx); err != nil {
					return recalls, fmt.Errorf("returning to result listing: %w", err)
				}
				onListing = true
			}
			state = stateNavigatingToDetail
		}
	}

	return dedupByKey(recalls, func(r recall.Info) string { return r.RecallID }), nil
}

// extractMLITDetailIDs pulls the detail-page IDs from the listing's onclick
// handlers, in page order and without duplicates.
func extractMLITDetailIDs(html string) ([]string, error) {
	doc, bodyText, err := parseDocument([]byte(html))
	if err != nil {
		return nil, err
	}
	if err := checkBusy(bodyText); err != nil {
		return nil, err
	}
	if containsAny(bodyText,
		"該当するリコールはありません",
		"該当する届出はありません") {
		return nil, nil
	}

	var ids []string
	seen := make(map[string]struct{})
	doc.Find(`a[onclick*="goToDetailPage"]`).Each(func(_ int, link *goquery.Selection) {
		onclick, _ := link.Attr("onclick")
		m := mlitDetailLink.FindStringSubmatch(onclick)
		if m == nil {
			return
		}
		if _, dup := seen[m[1]]; dup {
			return
		}
		seen[m[1]] = struct{}{}
		ids = append(ids, m[1])
	})
	return ids, nil
}

// parseMLITDetail extracts one notification from a rendered detail page.
// Fields are keyed by element ID; the description concatenates the labeled
// sections the registry publishes.
func parseMLITDetail(html, detailID, pageURL string, now time.Time) (recall.Info, bool) {
	doc, _, err := parseDocument([]byte(html))
	if err != nil {
		return recall.Info{}, false
	}

	field := func(id string) string {
		return strings.TrimSpace(doc.Find("#" + id).Text())
	}

	notificationNo := field("notificationNo")
	startDate := field("modelImportProductionStartDate")
	device := field("defectiveDevice")
	situation := field("situationExplanatoryText")
	measures := field("measuresExplanatoryText")
	productionPeriod := field("importProductionDate")
	affectedCount := field("recallCarCount")

	pdfURL := ""
	if href, ok := doc.Find("#fileName").Attr("href"); ok && href != "" {
		pdfURL = absoluteURL(mlitBaseURL, href)
	}

	if notificationNo == "" && situation == "" {
		return recall.Info{}, false
	}

	title := device
	if title == "" {
		title = notificationNo
	}
	recallID := notificationNo
	if recallID == "" {
		recallID = detailID
	}

	var sections []string
	addSection := func(label, value string) {
		if value != "" {
			sections = append(sections, fmt.Sprintf("【%s】\n%s", label, value))
		}
	}
	addSection("届出番号", notificationNo)
	addSection("リコール開始日", startDate)
	addSection("不具合装置", device)
	addSection("不具合の状況", situation)
	addSection("対策", measures)
	addSection("輸入/製作期間", productionPeriod)
	addSection("対象台数", affectedCount)
	addSection("改善箇所説明図", pdfURL)

	date, confidence := recall.ExtractDate(startDate, now)

	return recall.Info{
		RecallID:       recallID,
		Title:          title,
		Description:    strings.Join(sections, "\n\n"),
		Severity:       recall.ClassifySeverity("", situation),
		Status:         recall.StatusPending,
		PublishedAt:    date,
		DateConfidence: confidence,
		DetailURL:      pageURL,
	}, true
}
