package judge_test

import (
	"testing"

	"github.com/fablespeak/fablespeak/internal/judge"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"Guten Tag!", "guten tag"},
		{"  Hallo,   wie  geht's? ", "hallo wie geht s"},
		{"café au lait", "cafe au lait"},
		{"¿Dónde está el baño?", "donde esta el bano"},
		{"ÜBER-Straße", "uber straße"},
		{"", ""},
		{"...", ""},
		{"第三の男", "第三の男"},
	}
	for _, tc := range cases {
		if got := judge.Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSimilarity_IdenticalAndEmpty(t *testing.T) {
	t.Parallel()

	if got := judge.Similarity("guten tag", "guten tag"); got != 1 {
		t.Errorf("identical strings: %v, want 1", got)
	}
	if got := judge.Similarity("", ""); got != 1 {
		t.Errorf("both empty: %v, want 1", got)
	}
	if got := judge.Similarity("guten tag", ""); got != 0 {
		t.Errorf("one empty: %v, want 0", got)
	}
}

func TestSimilarity_Ordering(t *testing.T) {
	t.Parallel()

	target := judge.Normalize("hallo, wie geht es Ihnen")
	nearMiss := judge.Similarity(judge.Normalize("hallo wie geht es inen"), target)
	unrelated := judge.Similarity(judge.Normalize("ich hätte gern ein Bier"), target)

	if nearMiss <= unrelated {
		t.Fatalf("near miss %.3f not above unrelated %.3f", nearMiss, unrelated)
	}
	if nearMiss < 0.85 {
		t.Errorf("near miss scored %.3f, want >= 0.85", nearMiss)
	}
}

func TestSimilarity_WordBoundaryDrift(t *testing.T) {
	t.Parallel()

	// Recognizers split and merge words; "bonjour" vs "bon jour" is the
	// same utterance.
	got := judge.Similarity("bon jour", "bonjour")
	if got < 0.95 {
		t.Errorf("boundary drift scored %.3f, want >= 0.95", got)
	}
}

func TestSimilarity_PhoneticAssist(t *testing.T) {
	t.Parallel()

	// "fonetic" and "phonetic" share a Double Metaphone code, so the score
	// gets lifted above what the raw string metric alone yields.
	got := judge.Similarity("fonetic match", "phonetic match")
	if got < 0.8 {
		t.Errorf("phonetic misspelling scored %.3f, want >= 0.8", got)
	}
}
