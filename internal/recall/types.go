package recall

import "time"

// Severity is a keyword-derived urgency classification. It is advisory
// metadata, not a certified safety rating.
type Severity string

// Severity values, highest first.
const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Status reports whether the source indicates the remedy was carried out.
type Status string

// Status values persisted in results.
const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// DateConfidence marks whether PublishedAt was extracted from the source or
// fabricated from the lookup date because no date could be parsed.
type DateConfidence string

// DateConfidence values.
const (
	DateExact    DateConfidence = "exact"
	DateFallback DateConfidence = "fallback"
)

// ManualRecallID is the sentinel recall ID used when automatic resolution
// failed and the caller must verify against the source directly.
const ManualRecallID = "MANUAL"

// Info is one manufacturer-reported recall, improvement measure, or service
// campaign. ID is unique only within a single Result; it is not stable
// across repeated lookups.
type Info struct {
	ID             string         `json:"id"`
	RecallID       string         `json:"recallId"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Severity       Severity       `json:"severity"`
	Status         Status         `json:"status"`
	PublishedAt    string         `json:"publishedAt"`
	DateConfidence DateConfidence `json:"dateConfidence"`
	DetailURL      string         `json:"detailUrl,omitempty"`
}

// Result is the canonical outcome of one resolution. It is immutable once
// returned; HasRecall always equals len(Recalls) > 0.
type Result struct {
	ChassisNumber string    `json:"chassisNumber"`
	Maker         string    `json:"maker"`
	Model         string    `json:"model,omitempty"`
	HasRecall     bool      `json:"hasRecall"`
	Recalls       []Info    `json:"recalls"`
	CheckedAt     time.Time `json:"checkedAt"`
	Cached        bool      `json:"cached"`
}

// News is one entry from a manufacturer's public recall-announcement index.
type News struct {
	Maker    string `json:"maker"`
	Title    string `json:"title"`
	Date     string `json:"date"`
	URL      string `json:"url"`
	Category string `json:"category,omitempty"`
}

// Supported manufacturer names. The sites are Japanese, so the names match
// what the sources themselves use.
const (
	MakerToyota   = "トヨタ"
	MakerNissan   = "日産"
	MakerHonda    = "ホンダ"
	MakerMazda    = "マツダ"
	MakerSubaru   = "スバル"
	MakerDaihatsu = "ダイハツ"

	// Recognized but without an implemented adapter.
	MakerMitsubishi = "三菱"
	MakerSuzuki     = "スズキ"
)

// Makers lists every recognized manufacturer name.
var Makers = []string{
	MakerToyota,
	MakerNissan,
	MakerHonda,
	MakerMazda,
	MakerSubaru,
	MakerDaihatsu,
	MakerMitsubishi,
	MakerSuzuki,
}

// RecallPageURLs maps each maker to its public recall-search page. Degraded
// results point users here when automatic resolution fails.
var RecallPageURLs = map[string]string{
	MakerToyota:     "https://www.toyota.co.jp/recall-search/dc/search",
	MakerNissan:     "https://www.nissan.co.jp/RECALL/search.html",
	MakerHonda:      "https://recallsearch4.honda.co.jp/sqs/r001/R00101.do?fn=link.disp",
	MakerMazda:      "https://www.mazda.co.jp/carlife/recall/",
	MakerSubaru:     "https://www.subaru.jp/recall/",
	MakerDaihatsu:   "https://www.daihatsu.co.jp/service/recall/",
	MakerMitsubishi: "https://www.mitsubishi-motors.co.jp/support/recall/",
	MakerSuzuki:     "https://www.suzuki.co.jp/recall/",
}

// makerPrefixes maps chassis-number prefixes to makers for advisory
// inference. Prefixes overlap across makers; explicit selection by the
// caller always wins.
var makerPrefixes = map[string][]string{
	MakerToyota:     {"JT", "SB", "JTE"},
	MakerNissan:     {"JN", "SJ"},
	MakerHonda:      {"JH", "SH"},
	MakerMazda:      {"JM"},
	MakerSubaru:     {"JF"},
	MakerDaihatsu:   {"LA", "M3"},
	MakerMitsubishi: {"JA", "JMB"},
	MakerSuzuki:     {"JS", "MA"},
}
