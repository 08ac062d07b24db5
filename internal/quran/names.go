package quran

import (
	"strconv"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/hifzlab/tasmee/internal/normalize"
)

// Fuzzy-match acceptance thresholds. A candidate needs either a strong
// Jaro-Winkler similarity on its own, or a Double Metaphone encoding match
// backed by a looser similarity floor ("yasin" vs "yaseen" sound identical
// but differ enough in spelling to miss the strict bound).
const (
	minNameScore     = 0.88
	minPhoneticScore = 0.70
)

// articles are transliterated definite-article prefixes stripped before
// fuzzy comparison, longest first, so "An-Nisaa", "nisaa" and "nisa" all
// compare against the same stem.
var articles = []string{"aal", "adh", "ash", "ad", "al", "an", "ar", "as", "at", "az"}

// ResolveSurah resolves a user-supplied surah reference: a number ("36"),
// an Arabic name ("يس"), or a transliteration ("Yaseen", "ya-sin",
// "al fatiha"). Exact matches win; otherwise the closest transliteration by
// Jaro-Winkler similarity is returned, provided it clears the thresholds
// above.
func ResolveSurah(query string) (Surah, bool) {
	q := strings.TrimSpace(query)
	if q == "" {
		return Surah{}, false
	}

	if n, err := strconv.Atoi(q); err == nil {
		return SurahByNumber(n)
	}

	arabic := normalize.Text(q)
	folded := foldName(q)
	qPrimary, qSecondary := matchr.DoubleMetaphone(folded)

	best := -1
	bestScore := 0.0
	bestPhonetic := false
	for i := range catalogue {
		s := &catalogue[i]
		if arabic != "" && normalize.Text(s.Name) == arabic {
			return *s, true
		}
		stem := foldName(s.Transliteration)
		if folded != "" && stem == folded {
			return *s, true
		}

		score := matchr.JaroWinkler(folded, stem, false)
		if score > bestScore {
			p, sec := matchr.DoubleMetaphone(stem)
			bestScore = score
			best = i
			bestPhonetic = qPrimary != "" && (p == qPrimary || p == qSecondary || (sec != "" && sec == qPrimary))
		}
	}

	if best >= 0 && (bestScore >= minNameScore || (bestPhonetic && bestScore >= minPhoneticScore)) {
		return catalogue[best], true
	}
	return Surah{}, false
}

// foldName reduces a transliteration to a comparable stem: lower case, ASCII
// letters and digits only, leading article removed.
func foldName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	folded := b.String()
	for _, art := range articles {
		// Keep at least three stem characters so short names such as
		// "asr" are not mistaken for article-prefixed ones.
		if len(folded) >= len(art)+3 && strings.HasPrefix(folded, art) {
			return folded[len(art):]
		}
	}
	return folded
}
