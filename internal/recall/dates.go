package recall

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var (
	gregorianDate = regexp.MustCompile(`(\d{4})[/年](\d{1,2})[/月](\d{1,2})`)
	eraDate       = regexp.MustCompile(`(令和|平成)(元|\d{1,2})年(\d{1,2})月(\d{1,2})日`)
)

// eraOffsets maps the two recognized era names to the Gregorian year of the
// year preceding era year 1 (Reiwa 1 = 2019, Heisei 1 = 1989).
var eraOffsets = map[string]int{
	"令和": 2018,
	"平成": 1988,
}

// ExtractDate pulls a publication date out of source text, accepting
// YYYY/MM/DD, YYYY年M月D日, and the two-era wareki form. When no pattern
// matches, the lookup date is substituted and the confidence is marked
// DateFallback so callers can tell fabricated dates apart from real ones.
func ExtractDate(text string, now time.Time) (string, DateConfidence) {
	if m := gregorianDate.FindStringSubmatch(text); m != nil {
		return isoDate(m[1], m[2], m[3]), DateExact
	}
	if m := eraDate.FindStringSubmatch(text); m != nil {
		eraYear := 1
		if m[2] != "元" {
			eraYear, _ = strconv.Atoi(m[2])
		}
		year := eraOffsets[m[1]] + eraYear
		return isoDate(strconv.Itoa(year), m[3], m[4]), DateExact
	}
	return now.Format("2006-01-02"), DateFallback
}

func isoDate(year, month, day string) string {
	m, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	return fmt.Sprintf("%s-%02d-%02d", year, m, d)
}

// ManualCheck builds the degraded sentinel record returned whenever
// automatic resolution fails. Surfacing "could not verify" beats hiding a
// potential recall behind an empty list.
func ManualCheck(maker string, now time.Time) Info {
	pageURL := RecallPageURLs[maker]
	desc := "自動検索に失敗しました。メーカー公式サイトで直接ご確認ください。"
	if pageURL != "" {
		desc = fmt.Sprintf("自動検索に失敗しました。メーカー公式サイトで直接ご確認ください: %s", pageURL)
	}
	return Info{
		ID:             "manual-check",
		RecallID:       ManualRecallID,
		Title:          "公式サイトで確認が必要です",
		Description:    desc,
		Severity:       SeverityMedium,
		Status:         StatusPending,
		PublishedAt:    now.Format("2006-01-02"),
		DateConfidence: DateFallback,
		DetailURL:      pageURL,
	}
}
