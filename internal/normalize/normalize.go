// Package normalize canonicalizes Arabic text into a form suitable for
// word-level comparison between a canonical passage and an ASR transcript.
//
// Canonicalization applies, in order: Unicode NFKC folding (presentation
// forms and ligatures), removal of the tatweel elongation character and
// typographic ornaments, removal of every combining mark (tashkeel and
// Quranic annotation signs), unification of letter variants that casual
// transcription treats as interchangeable, and whitespace collapse.
//
// Both [Text] and [Words] are pure and total: no input fails, the empty
// string yields empty output, and Text(Text(s)) == Text(s) for all s.
//
// The rule table below is versioned. Verdicts depend on it directly, so any
// change to the table must bump [Version]; results produced under different
// versions are not comparable.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Version identifies the canonicalization rule table in effect.
const Version = "1"

// tatweel is the Arabic elongation character (U+0640), used purely for
// justification and never part of a word.
const tatweel = 'ـ'

// unified maps letter variants onto their canonical representative. The set
// follows common Arabic IR practice: the alef family collapses to bare alef,
// seated hamzas collapse to their seat letter, alef maqsura to yeh, and ta
// marbuta to heh. Standalone hamza (U+0621) is a letter in its own right and
// is kept.
var unified = map[rune]rune{
	'أ': 'ا', // alef with hamza above -> alef
	'إ': 'ا', // alef with hamza below -> alef
	'آ': 'ا', // alef with madda -> alef
	'ٱ': 'ا', // alef wasla -> alef
	'ؤ': 'و', // waw with hamza -> waw
	'ئ': 'ي', // yeh with hamza -> yeh
	'ى': 'ي', // alef maqsura -> yeh
	'ة': 'ه', // ta marbuta -> heh
}

// dropped lists non-combining runes that carry no lexical content in Quranic
// typography: the rub el hizb and sajdah ornaments, the end-of-ayah sign, and
// the small high waw/yeh (modifier letters marking elided vowels in the
// Uthmani script).
var dropped = map[rune]bool{
	'۞': true, // arabic start of rub el hizb
	'۩': true, // arabic place of sajdah
	'۝': true, // arabic end of ayah
	'ۥ': true, // arabic small waw
	'ۦ': true, // arabic small yeh
}

// Text returns the canonical form of s.
func Text(s string) string {
	if s == "" {
		return ""
	}

	s = norm.NFKC.String(s)

	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.Is(unicode.Mn, r):
			// Tashkeel, shadda, sukun, superscript alef, Quranic
			// annotation marks: every combining mark goes.
			return -1
		case unicode.Is(unicode.Cf, r):
			// Format controls (ZWJ, ZWNJ, BOM).
			return -1
		case r == tatweel:
			return -1
		case dropped[r]:
			return -1
		}
		if u, ok := unified[r]; ok {
			return u
		}
		return r
	}, s)

	// Collapse all whitespace runs to single spaces.
	return strings.Join(strings.Fields(mapped), " ")
}

// Words returns the canonical form of s split into words. Words that
// canonicalize to nothing (pure ornament or diacritic runs) are omitted.
func Words(s string) []string {
	return strings.Fields(Text(s))
}
