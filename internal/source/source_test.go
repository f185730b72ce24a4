package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kurumaware/recallwatch/internal/fetcher/form"
	"github.com/kurumaware/recallwatch/internal/recall"
)

type fakeFetcher struct {
	requests []form.Request
	body     string
	url      string
	err      error
}

func (f *fakeFetcher) Fetch(_ context.Context, req form.Request) (form.Response, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return form.Response{}, f.err
	}
	return form.Response{URL: f.url, StatusCode: 200, Body: []byte(f.body)}, nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testDeps(fetcher *fakeFetcher) Deps {
	return Deps{Fetcher: fetcher, Clock: fixedClock{now: testNow}}
}

// Every adapter degrades a fetch failure into the manual-check sentinel
// instead of reporting a clean bill.
func TestAdaptersDegradeOnFetchFailure(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("connection refused")}
	deps := testDeps(fetcher)

	adapters := []recall.Adapter{
		NewToyota(deps),
		NewNissan(deps),
		NewHonda(deps),
		NewMazda(deps),
		NewSubaru(deps),
		NewDaihatsu(deps),
	}

	for _, adapter := range adapters {
		result := adapter.Check(context.Background(), "ZWR80-1234567")
		if !result.HasRecall {
			t.Errorf("%s: degraded result must not look like an all-clear", adapter.Maker())
			continue
		}
		if len(result.Recalls) != 1 || result.Recalls[0].RecallID != recall.ManualRecallID {
			t.Errorf("%s: expected single manual-check entry, got %+v", adapter.Maker(), result.Recalls)
		}
		if result.Maker != adapter.Maker() {
			t.Errorf("%s: result maker = %q", adapter.Maker(), result.Maker)
		}
	}
}

// A busy or maintenance interstitial arrives with a 200 status and carries
// neither a clear phrase nor recall rows. Every adapter must treat it as a
// failed lookup, not a clean bill.
func TestAdaptersDegradeOnBusyPage(t *testing.T) {
	pages := []string{
		`<html><body><p>システムが混み合っています。しばらく時間をおいてアクセスしてください。</p></body></html>`,
		`<html><body><p>ただいまメンテナンス中です。</p></body></html>`,
		`<html><body><p>アクセスが集中しているため表示できません。時間をおいて再度お試しください。</p></body></html>`,
	}

	for _, page := range pages {
		fetcher := &fakeFetcher{body: page}
		deps := testDeps(fetcher)

		adapters := []recall.Adapter{
			NewToyota(deps),
			NewNissan(deps),
			NewHonda(deps),
			NewMazda(deps),
			NewSubaru(deps),
			NewDaihatsu(deps),
		}

		for _, adapter := range adapters {
			result := adapter.Check(context.Background(), "ZWR80-1234567")
			if !result.HasRecall || len(result.Recalls) != 1 {
				t.Errorf("%s: busy page must degrade, got hasRecall=%v with %d recalls",
					adapter.Maker(), result.HasRecall, len(result.Recalls))
				continue
			}
			if result.Recalls[0].RecallID != recall.ManualRecallID {
				t.Errorf("%s: expected manual-check entry on busy page, got %+v",
					adapter.Maker(), result.Recalls[0])
			}
		}
	}
}

func TestAbsoluteURL(t *testing.T) {
	tests := []struct {
		base, href, want string
	}{
		{"https://www.daihatsu.co.jp/", "/info/recall/99367.htm", "https://www.daihatsu.co.jp/info/recall/99367.htm"},
		{"https://www.daihatsu.co.jp/", "https://example.com/a.html", "https://example.com/a.html"},
		{"https://www2.mazda.co.jp/", "", ""},
	}
	for _, tt := range tests {
		if got := absoluteURL(tt.base, tt.href); got != tt.want {
			t.Errorf("absoluteURL(%q, %q) = %q, want %q", tt.base, tt.href, got, tt.want)
		}
	}
}

func TestDedupByKey(t *testing.T) {
	in := []recall.Info{
		{RecallID: "a", Title: "first"},
		{RecallID: "b", Title: "second"},
		{RecallID: "a", Title: "repeat"},
		{RecallID: "", Title: "keyless one"},
		{RecallID: "", Title: "keyless two"},
	}
	out := dedupByKey(in, func(r recall.Info) string { return r.RecallID })
	if len(out) != 4 {
		t.Fatalf("expected 4 entries after dedup, got %d", len(out))
	}
	if out[0].Title != "first" {
		t.Fatalf("dedup must keep the first occurrence, got %q", out[0].Title)
	}
}

func TestAssignEntryIDsFallback(t *testing.T) {
	recalls := []recall.Info{{Title: "a"}, {Title: "b"}}
	assignEntryIDs(nil, recalls)
	if recalls[0].ID == "" || recalls[0].ID == recalls[1].ID {
		t.Fatalf("entry IDs must be distinct within a result: %q, %q", recalls[0].ID, recalls[1].ID)
	}
}
