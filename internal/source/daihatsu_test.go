package source

import (
	"context"
	"testing"

	"github.com/kurumaware/recallwatch/internal/recall"
)

// The clear page repeats 対象項目なし in its help text, so only the full
// result sentence may clear the vehicle.
const daihatsuClearPage = `<html><body>
<div class="help">検索結果に「対象項目なし」と表示された場合は対応不要です。</div>
<p>お客様のおクルマは「リコール・改善対策・サービスキャンペーン」の対象ではありません。</p>
</body></html>`

const daihatsuHitPage = `<html><body>
<p>お客様のおクルマが対象となる項目は以下の通りでございます。</p>
<table>
<tr><th>届出日</th><th>区分</th><th>件名</th><th>修理状況</th></tr>
<tr>
<td>2024/05/30</td><td>リコール</td>
<td><a href="/info/recall/99367.htm">スライドドア開閉機構</a></td>
<td>修理済</td>
</tr>
</table>
</body></html>`

const daihatsuUnparsedHitPage = `<html><body>
<p>お客様のおクルマが対象となる項目は以下の通りでございます。</p>
<p>表示エラーが発生しました。</p>
</body></html>`

func TestDaihatsuHelpTextDoesNotMaskClearResult(t *testing.T) {
	fetcher := &fakeFetcher{body: daihatsuClearPage}
	result := NewDaihatsu(testDeps(fetcher)).Check(context.Background(), "LA650S-0000001")

	if result.HasRecall {
		t.Fatalf("clear page misread as recall: %+v", result.Recalls)
	}
	req := fetcher.requests[0]
	if req.Fields["model_no"] != "LA650S" || req.Fields["car_no"] != "0000001" {
		t.Fatalf("unexpected form fields %v", req.Fields)
	}
}

func TestDaihatsuParsesDetailRows(t *testing.T) {
	fetcher := &fakeFetcher{body: daihatsuHitPage}
	result := NewDaihatsu(testDeps(fetcher)).Check(context.Background(), "LA650S-0000001")

	if len(result.Recalls) != 1 {
		t.Fatalf("expected 1 recall, got %+v", result.Recalls)
	}
	entry := result.Recalls[0]
	if entry.RecallID != "99367" {
		t.Fatalf("recall ID from detail file, got %q", entry.RecallID)
	}
	if entry.DetailURL != "https://www.daihatsu.co.jp/info/recall/99367.htm" {
		t.Fatalf("relative link not absolutized: %q", entry.DetailURL)
	}
	if entry.Status != recall.StatusCompleted {
		t.Fatalf("修理済 row should be completed, got %s", entry.Status)
	}
	if entry.PublishedAt != "2024-05-30" {
		t.Fatalf("row date = %s", entry.PublishedAt)
	}
	if entry.Severity != recall.SeverityHigh {
		t.Fatalf("リコール category should classify high, got %s", entry.Severity)
	}
}

// A positive result whose rows the parser cannot read still reports one
// advisory entry rather than a false all-clear.
func TestDaihatsuPositiveSignalWithoutRows(t *testing.T) {
	fetcher := &fakeFetcher{body: daihatsuUnparsedHitPage}
	result := NewDaihatsu(testDeps(fetcher)).Check(context.Background(), "LA650S-0000001")

	if !result.HasRecall || len(result.Recalls) != 1 {
		t.Fatalf("expected single advisory entry, got %+v", result.Recalls)
	}
	if result.Recalls[0].RecallID != "UNPARSED" {
		t.Fatalf("advisory entry should carry the unparsed marker, got %q", result.Recalls[0].RecallID)
	}
}
