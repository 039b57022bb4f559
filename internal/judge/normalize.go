package judge

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// normalizer strips combining marks so that "café" and "cafe" compare equal.
// Decompose, drop the marks, recompose.
var normalizer = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// Normalize folds s for comparison: diacritics removed, lowercased,
// punctuation stripped, whitespace collapsed. Non-Latin scripts pass through
// mark-stripping unchanged, so CJK and Cyrillic text still compares by its
// own characters.
func Normalize(s string) string {
	folded, _, err := transform.String(normalizer, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	lastSpace := true
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		default:
			// Punctuation and symbols separate words rather than joining them.
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// Similarity scores two already-normalized strings in [0, 1] using
// Jaro-Winkler over three comparison strategies, with a phonetic assist for
// near-misses the string metric alone would under-score.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		if a == b {
			return 1
		}
		return 0
	}
	if a == b {
		return 1
	}

	aTokens := strings.Fields(a)
	bTokens := strings.Fields(b)

	// Strategy 1: full strings.
	score := matchr.JaroWinkler(a, b, false)

	// Strategy 2: concatenated, catches word-boundary drift ("bon jour").
	if len(aTokens) > 1 || len(bTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(aTokens, ""), strings.Join(bTokens, ""), false); s > score {
			score = s
		}
	}

	// Phonetic assist: when every token pair aligns phonetically the strings
	// are the same utterance misspelled by the recognizer. Lift the score to
	// at least the mean pairwise Jaro-Winkler of aligned tokens.
	if len(aTokens) == len(bTokens) && phoneticAligned(aTokens, bTokens) {
		var sum float64
		for i := range aTokens {
			sum += matchr.JaroWinkler(aTokens[i], bTokens[i], false)
		}
		if mean := sum / float64(len(aTokens)); mean > score {
			score = mean
		}
	}

	return score
}

// phoneticAligned reports whether each token pair shares a Double Metaphone
// code. Tokens too short to yield a code count as aligned only when equal.
func phoneticAligned(a, b []string) bool {
	for i := range a {
		p1, s1 := matchr.DoubleMetaphone(a[i])
		p2, s2 := matchr.DoubleMetaphone(b[i])
		if p1 == "" && p2 == "" {
			if a[i] != b[i] {
				return false
			}
			continue
		}
		if p1 != p2 && p1 != s2 && s1 != p2 && (s1 == "" || s2 == "" || s1 != s2) {
			return false
		}
	}
	return true
}

// sameLanguage reports whether two BCP-47 tags denote the same base language
// ("de" matches "de-DE"; empty matches anything).
func sameLanguage(a, b string) bool {
	if a == "" || b == "" {
		return true
	}
	return baseLang(a) == baseLang(b)
}

func baseLang(tag string) string {
	tag = strings.ToLower(tag)
	if i := strings.IndexByte(tag, '-'); i > 0 {
		return tag[:i]
	}
	return tag
}
