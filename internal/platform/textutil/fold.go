package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var foldTransformer = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldSearchTerm lowercases the value and strips diacritic marks so free-text
// comparisons are case and accent insensitive.
func FoldSearchTerm(value string) string {
	trimmed := strings.TrimSpace(value)
	folded, _, err := transform.String(foldTransformer, trimmed)
	if err != nil {
		folded = trimmed
	}
	return strings.ToLower(folded)
}

// ContainsFold reports whether haystack contains needle after folding both
// sides. An empty needle matches everything.
func ContainsFold(haystack, needle string) bool {
	needle = FoldSearchTerm(needle)
	if needle == "" {
		return true
	}
	return strings.Contains(FoldSearchTerm(haystack), needle)
}
