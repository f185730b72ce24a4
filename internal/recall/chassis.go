package recall

import (
	"regexp"
	"sort"
	"strings"
)

var chassisPattern = regexp.MustCompile(`^([A-Z]+)(\d+)$`)

// serialDigits is the serial length the manufacturer forms expect. Extra
// leading digits belong to the model code ("ZC81000001" is ZC8 + 1000001).
const serialDigits = 7

// SplitChassisNumber splits a free-form chassis number into the model prefix
// and serial suffix each manufacturer form expects. It is pure and total: it
// always returns some pair, even for malformed input, so adapters can defer
// "not found" to the source instead of failing up front.
//
// "ZWR80-1234567" becomes ("ZWR80", "1234567"). Without a hyphen, the
// trailing serial digits are split off the letter-plus-digit model code.
// Anything else comes back whole with an empty suffix.
func SplitChassisNumber(raw string) (prefix, suffix string) {
	cleaned := strings.ToUpper(strings.TrimSpace(raw))

	if i := strings.Index(cleaned, "-"); i >= 0 {
		return cleaned[:i], cleaned[i+1:]
	}

	if m := chassisPattern.FindStringSubmatch(cleaned); m != nil {
		letters, digits := m[1], m[2]
		if len(digits) > serialDigits {
			cut := len(digits) - serialDigits
			return letters + digits[:cut], digits[cut:]
		}
		return letters, digits
	}

	return cleaned, ""
}

// prefixCollisions are short prefixes shared by two makers where only a
// longer, more specific prefix disambiguates. Checked before the generic
// table, longest first.
var prefixCollisions = []struct {
	prefix string
	maker  string
}{
	{"JMB", MakerMitsubishi}, // JMB before Mazda's JM
	{"JTE", MakerToyota},
}

// InferMaker guesses the manufacturer from known chassis prefixes. The guess
// is advisory only: prefixes overlap between makers, so an explicit caller
// selection always takes precedence. Returns "" when nothing matches.
func InferMaker(chassisNumber string) string {
	cleaned := strings.ToUpper(strings.TrimSpace(chassisNumber))
	if cleaned == "" {
		return ""
	}

	for _, c := range prefixCollisions {
		if strings.HasPrefix(cleaned, c.prefix) {
			return c.maker
		}
	}

	// Longest match first so e.g. "M3" cannot shadow a longer prefix.
	type candidate struct {
		prefix string
		maker  string
	}
	var candidates []candidate
	for maker, prefixes := range makerPrefixes {
		for _, p := range prefixes {
			if strings.HasPrefix(cleaned, p) {
				candidates = append(candidates, candidate{prefix: p, maker: maker})
			}
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Slice(candidates, func(i, j int) bool {
		if len(candidates[i].prefix) != len(candidates[j].prefix) {
			return len(candidates[i].prefix) > len(candidates[j].prefix)
		}
		return candidates[i].prefix < candidates[j].prefix
	})
	return candidates[0].maker
}
