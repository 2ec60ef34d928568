package dispatch

import "strings"

// Context hint vocabulary understood by the reasoning backend. The hint is
// advisory metadata only; the client never branches on it.
const (
	HintComparison     = "comparison"
	HintRecommendation = "recommendation"
	HintInquiry        = "inquiry"
	HintGeneral        = "general"
)

// Checked in order; the first class with a keyword hit wins.
var contextClasses = []struct {
	hint  string
	words []string
}{
	{HintComparison, []string{"compare", "comparison", "versus", " vs ", "difference", "better than"}},
	{HintRecommendation, []string{"recommend", "suggest", "best", "looking for", "need", "want", "show me"}},
	{HintInquiry, []string{"what", "how", "why", "when", "where", "which", "?"}},
}

// ClassifyContext derives a lightweight context hint from the lowercased
// query text by keyword matching.
func ClassifyContext(text string) string {
	q := " " + strings.ToLower(strings.TrimSpace(text)) + " "
	for _, class := range contextClasses {
		for _, w := range class.words {
			if strings.Contains(q, w) {
				return class.hint
			}
		}
	}
	return HintGeneral
}
