package source

import (
	"context"
	"testing"

	"github.com/kurumaware/recallwatch/internal/fetcher/form"
	"github.com/kurumaware/recallwatch/internal/recall"
)

const subaruClearPage = `<html><body>
<p>お客様のお車に対象のリコール等はございません。</p>
</body></html>`

const subaruHitPage = `<html><body>
<table>
<tr><th>No</th><th>実施状況</th><th>区分</th><th>件名</th><th>届出日</th></tr>
<tr>
<td>1</td><td>未実施</td><td>リコール</td>
<td><a href="javascript:popup03('https://www.subaru.co.jp/recall/data/r2024-12.html')">電動パワーステアリング</a></td>
<td>令和6年1月15日</td>
</tr>
<tr>
<td>2</td><td>実施済</td><td>改善対策</td>
<td><a href="javascript:popup03('https://www.subaru.co.jp/recall/data/k2019-03.html')">ドアミラー取付部</a></td>
<td>平成31年4月1日</td>
</tr>
</table>
</body></html>`

func TestSubaruRequestsShiftJIS(t *testing.T) {
	fetcher := &fakeFetcher{body: subaruClearPage}
	adapter := NewSubaru(testDeps(fetcher))

	result := adapter.Check(context.Background(), "VMG-000001")
	if result.HasRecall {
		t.Fatalf("clear page misread as recall: %+v", result.Recalls)
	}
	req := fetcher.requests[0]
	if req.Charset != form.CharsetShiftJIS {
		t.Fatalf("subaru responses are Shift_JIS, request declared %q", req.Charset)
	}
	if req.Fields["txtCarNoKami"] != "VMG" || req.Fields["txtCarNoShimo"] != "000001" {
		t.Fatalf("unexpected form fields %v", req.Fields)
	}
}

func TestSubaruParsesPopupRows(t *testing.T) {
	fetcher := &fakeFetcher{body: subaruHitPage}
	result := NewSubaru(testDeps(fetcher)).Check(context.Background(), "VMG-000001")

	if len(result.Recalls) != 2 {
		t.Fatalf("expected 2 recalls, got %+v", result.Recalls)
	}

	first := result.Recalls[0]
	if first.RecallID != "r2024-12" {
		t.Fatalf("recall ID from popup URL, got %q", first.RecallID)
	}
	if first.Title != "リコール: 電動パワーステアリング" {
		t.Fatalf("title should carry the category, got %q", first.Title)
	}
	if first.Status != recall.StatusPending {
		t.Fatalf("未実施 row should be pending, got %s", first.Status)
	}
	if first.PublishedAt != "2024-01-15" || first.DateConfidence != recall.DateExact {
		t.Fatalf("era date = %s (%s)", first.PublishedAt, first.DateConfidence)
	}

	second := result.Recalls[1]
	if second.Status != recall.StatusCompleted {
		t.Fatalf("実施済 row should be completed, got %s", second.Status)
	}
	if second.PublishedAt != "2019-04-01" {
		t.Fatalf("heisei date = %s", second.PublishedAt)
	}
	if second.Severity != recall.SeverityMedium {
		t.Fatalf("改善対策 should classify medium, got %s", second.Severity)
	}
}
