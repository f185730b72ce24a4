// Package source implements one adapter per manufacturer recall-search
// site. Adapters submit the site's lookup form and parse the result page in
// three tiers: a known "no recall" phrase short-circuits to an empty list,
// structured rows are extracted when present, and a positive signal with no
// parseable rows falls back to a single advisory entry so a recall is never
// hidden behind a parser gap.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/kurumaware/recallwatch/internal/clock/system"
	"github.com/kurumaware/recallwatch/internal/fetcher/form"
	"github.com/kurumaware/recallwatch/internal/metrics"
	"github.com/kurumaware/recallwatch/internal/recall"
)

// FormFetcher submits one lookup form. *form.Fetcher implements it; tests
// substitute canned responses.
type FormFetcher interface {
	Fetch(ctx context.Context, req form.Request) (form.Response, error)
}

// Deps carries the collaborators shared by every adapter.
type Deps struct {
	Fetcher FormFetcher
	Clock   recall.Clock
	IDs     recall.IDGenerator
	Log     *zap.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = system.New()
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return d
}

// degraded builds the result returned when a source could not be checked.
// The sentinel entry counts as a finding so HasRecall stays consistent with
// the list and callers surface "verify manually" instead of a false all-clear.
func (d Deps) degraded(maker, chassisNumber string) recall.Result {
	now := d.Clock.Now()
	info := recall.ManualCheck(maker, now)
	metrics.RecordCheck(maker, "degraded")
	return recall.Result{
		ChassisNumber: chassisNumber,
		Maker:         maker,
		HasRecall:     true,
		Recalls:       []recall.Info{info},
		CheckedAt:     now,
	}
}

// finish assigns IDs and wraps parsed entries into a Result.
func (d Deps) finish(maker, chassisNumber string, recalls []recall.Info) recall.Result {
	assignEntryIDs(d.IDs, recalls)
	if len(recalls) > 0 {
		metrics.RecordCheck(maker, "recall")
	} else {
		metrics.RecordCheck(maker, "clear")
		recalls = []recall.Info{}
	}
	return recall.Result{
		ChassisNumber: chassisNumber,
		Maker:         maker,
		HasRecall:     len(recalls) > 0,
		Recalls:       recalls,
		CheckedAt:     d.Clock.Now(),
	}
}

// assignEntryIDs gives each entry a result-local ID: a UUID when a
// generator is wired, a positional fallback otherwise.
func assignEntryIDs(ids recall.IDGenerator, recalls []recall.Info) {
	for i := range recalls {
		if ids != nil {
			if id, err := ids.NewID(); err == nil {
				recalls[i].ID = id
				continue
			}
		}
		recalls[i].ID = fmt.Sprintf("entry-%d", i)
	}
}

// parseDocument loads a fetched body into a goquery document together with
// the flattened page text used for phrase checks.
func parseDocument(body []byte) (*goquery.Document, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("parsing result page: %w", err)
	}
	return doc, doc.Find("body").Text(), nil
}

// errSourceBusy marks a response whose body is a busy or maintenance
// interstitial served with a normal 200 status. It must surface as a lookup
// failure: such a page carries neither a clear phrase nor recall rows, so
// letting it through the tiers would read as a clean all-clear.
var errSourceBusy = errors.New("source returned a busy or maintenance page")

// busyPhrases are the interstitial markers the search sites show when their
// backend is overloaded or offline.
var busyPhrases = []string{
	"システムが混み合っています",
	"ただいま大変混み合っております",
	"アクセスが集中",
	"メンテナンス中",
	"メンテナンスのため",
	"システムエラーが発生しました",
	"しばらく時間をおいて",
	"しばらくたってから",
	"時間をおいて再度",
}

// checkBusy returns errSourceBusy when the page text carries a busy marker.
// Every parser runs this before its phrase tiers.
func checkBusy(bodyText string) error {
	if containsAny(bodyText, busyPhrases...) {
		return errSourceBusy
	}
	return nil
}

// containsAny reports whether text contains at least one of the phrases.
func containsAny(text string, phrases ...string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// absoluteURL resolves href against the page base when it is relative.
func absoluteURL(base, href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}

// dedupByKey keeps the first entry per key, preserving order. The key is the
// per-source detail identifier; result pages repeat the same notice in
// multiple sections.
func dedupByKey(recalls []recall.Info, keyOf func(recall.Info) string) []recall.Info {
	seen := make(map[string]struct{}, len(recalls))
	out := recalls[:0]
	for _, r := range recalls {
		key := keyOf(r)
		if key == "" {
			out = append(out, r)
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// advisoryEntry is the tier-3 fallback: the page signals a recall but no
// structured rows could be extracted.
func advisoryEntry(maker, pageURL string, now time.Time) recall.Info {
	detail := pageURL
	if detail == "" {
		detail = recall.RecallPageURLs[maker]
	}
	return recall.Info{
		RecallID:       "UNPARSED",
		Title:          "リコール対象の可能性があります",
		Description:    fmt.Sprintf("詳細: %s", detail),
		Severity:       recall.SeverityMedium,
		Status:         recall.StatusPending,
		PublishedAt:    now.Format("2006-01-02"),
		DateConfidence: recall.DateFallback,
		DetailURL:      detail,
	}
}
