package recall

import "strings"

// highRiskTerms force SeverityHigh regardless of category.
var highRiskTerms = []string{
	"火災",
	"発煙",
	"エアバッグ",
	"ブレーキ",
	"死傷",
	"事故",
	"重要",
	"緊急",
	"走行不能",
	"エンジン停止",
}

// ClassifySeverity derives an advisory severity from a notice's category and
// free text. Category "リコール" outranks "改善対策"; high-risk terms in the
// text outrank both. Best effort only: the sources publish no severity of
// their own.
func ClassifySeverity(category, text string) Severity {
	for _, term := range highRiskTerms {
		if strings.Contains(text, term) || strings.Contains(category, term) {
			return SeverityHigh
		}
	}
	if strings.Contains(category, "リコール") {
		return SeverityHigh
	}
	if strings.Contains(category, "改善対策") {
		return SeverityMedium
	}
	return SeverityLow
}
