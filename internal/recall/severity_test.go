package recall

import "testing"

func TestClassifySeverity(t *testing.T) {
	tests := []struct {
		name     string
		category string
		text     string
		want     Severity
	}{
		{name: "fire in text", category: "", text: "燃料漏れにより火災に至るおそれ", want: SeverityHigh},
		{name: "airbag in text", category: "サービスキャンペーン", text: "エアバッグインフレータ不具合", want: SeverityHigh},
		{name: "recall category", category: "リコール", text: "ワイパーの不具合", want: SeverityHigh},
		{name: "improvement category", category: "改善対策", text: "塗装の剥がれ", want: SeverityMedium},
		{name: "campaign defaults low", category: "サービスキャンペーン", text: "ナビの表示不良", want: SeverityLow},
		{name: "empty defaults low", category: "", text: "", want: SeverityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifySeverity(tt.category, tt.text); got != tt.want {
				t.Fatalf("ClassifySeverity(%q, %q) = %s, want %s", tt.category, tt.text, got, tt.want)
			}
		})
	}
}
