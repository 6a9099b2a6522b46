package measure

import (
	"regexp"
	"strings"
)

// maxKeywords bounds ExtractKeywords.
const maxKeywords = 20

var (
	keywordPattern = regexp.MustCompile(`\b\w{5,}\b`)

	stopwords = map[string]struct{}{
		"this": {}, "that": {}, "with": {}, "from": {}, "have": {},
		"will": {}, "should": {}, "would": {}, "could": {}, "their": {},
		"there": {}, "where": {}, "when": {}, "what": {}, "which": {},
	}
)

// ExtractKeywords returns up to 20 distinct lowercase words of five or more
// characters from text, in order of first appearance, minus stopwords.
func ExtractKeywords(text string) []string {
	words := keywordPattern.FindAllString(strings.ToLower(text), -1)

	seen := make(map[string]struct{}, len(words))
	var out []string
	for _, w := range words {
		if _, stop := stopwords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}
