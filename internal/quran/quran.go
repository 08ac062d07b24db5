// Package quran defines the domain model shared across the verification
// engine: word positions with their total order, passage selections, word
// tokens, and the static surah catalogue used for validation and name
// resolution.
package quran

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hifzlab/tasmee/internal/normalize"
)

// ErrNotFound is returned by canonical-text sources when the requested
// surah or ayah range does not exist.
var ErrNotFound = errors.New("quran: not found")

// ErrInvalidSelection is returned when a selection violates its invariants:
// surah outside [1,114], non-positive ayah numbers, an inverted range, or an
// ayah beyond the surah's ayah count. It is always detected synchronously,
// before any session starts.
var ErrInvalidSelection = errors.New("quran: invalid selection")

// Position identifies a single word of the canonical text. Word is the
// 0-based index of the word within its ayah. Positions are totally ordered
// by (Surah, Ayah, Word).
type Position struct {
	Surah int
	Ayah  int
	Word  int
}

// Compare returns -1 when p precedes o in reading order, 0 when equal, and
// +1 when p follows o.
func (p Position) Compare(o Position) int {
	switch {
	case p.Surah != o.Surah:
		if p.Surah < o.Surah {
			return -1
		}
		return 1
	case p.Ayah != o.Ayah:
		if p.Ayah < o.Ayah {
			return -1
		}
		return 1
	case p.Word != o.Word:
		if p.Word < o.Word {
			return -1
		}
		return 1
	}
	return 0
}

// Less reports whether p precedes o in reading order.
func (p Position) Less(o Position) bool { return p.Compare(o) < 0 }

// Key returns the canonical string form "surah:ayah:word". External
// consumers (renderers, persistence) key on this exact format; it must not
// change.
func (p Position) Key() string {
	return strconv.Itoa(p.Surah) + ":" + strconv.Itoa(p.Ayah) + ":" + strconv.Itoa(p.Word)
}

// String implements fmt.Stringer using the canonical key form.
func (p Position) String() string { return p.Key() }

// MarshalJSON emits the canonical string form, so every JSON boundary
// (API responses, stored rows) carries "surah:ayah:word" keys.
func (p Position) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Key())
}

// UnmarshalJSON parses the canonical string form.
func (p *Position) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("quran: position key: %w", err)
	}
	parsed, err := ParseKey(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParseKey parses the canonical "surah:ayah:word" form produced by
// [Position.Key].
func ParseKey(s string) (Position, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Position{}, fmt.Errorf("quran: malformed position key %q", s)
	}
	var nums [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return Position{}, fmt.Errorf("quran: malformed position key %q: %w", s, err)
		}
		nums[i] = n
	}
	return Position{Surah: nums[0], Ayah: nums[1], Word: nums[2]}, nil
}

// Ayah is one verse of canonical text. Number is the ayah number within its
// surah (1-based).
type Ayah struct {
	Surah  int    `json:"surah"`
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Selection is a contiguous ayah range within a single surah. The single
// Surah field makes cross-surah ranges inexpressible. A Selection is
// immutable once a session starts.
type Selection struct {
	Surah    int `json:"surah" yaml:"surah"`
	FromAyah int `json:"from_ayah" yaml:"from_ayah"`
	ToAyah   int `json:"to_ayah" yaml:"to_ayah"`
}

// String renders the selection as "surah:from-to".
func (s Selection) String() string {
	return fmt.Sprintf("%d:%d-%d", s.Surah, s.FromAyah, s.ToAyah)
}

// AyahCount returns the number of ayahs the selection spans. Meaningful only
// for valid selections.
func (s Selection) AyahCount() int { return s.ToAyah - s.FromAyah + 1 }

// Validate checks the selection invariants against the surah catalogue and
// reports every violation. The returned error wraps [ErrInvalidSelection].
func (s Selection) Validate() error {
	var errs []error

	if s.Surah < 1 || s.Surah > SurahCount {
		errs = append(errs, fmt.Errorf("surah %d outside [1, %d]", s.Surah, SurahCount))
	} else {
		info, _ := SurahByNumber(s.Surah)
		if s.ToAyah > info.AyahCount {
			errs = append(errs, fmt.Errorf("ayah %d beyond %s (%d ayahs)", s.ToAyah, info.Transliteration, info.AyahCount))
		}
	}
	if s.FromAyah < 1 {
		errs = append(errs, fmt.Errorf("from_ayah %d is not positive", s.FromAyah))
	}
	if s.FromAyah > s.ToAyah {
		errs = append(errs, fmt.Errorf("inverted range: from_ayah %d > to_ayah %d", s.FromAyah, s.ToAyah))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w %s: %w", ErrInvalidSelection, s, errors.Join(errs...))
	}
	return nil
}

// WordToken is one expected word of a passage, tagged with its position.
// Raw is the word as it appears in the canonical text; Normalized is its
// comparable form.
type WordToken struct {
	Position   Position
	Raw        string
	Normalized string
}

// Tokenize splits ayahs into expected word tokens in canonical reading
// order. Each raw word is normalized individually; words that normalize to
// nothing (ornaments such as the rub el hizb sign) are skipped, so word
// indices always refer to comparable words.
func Tokenize(ayahs []Ayah) []WordToken {
	var tokens []WordToken
	for _, a := range ayahs {
		idx := 0
		for _, raw := range strings.Fields(a.Text) {
			norm := normalize.Text(raw)
			if norm == "" {
				continue
			}
			tokens = append(tokens, WordToken{
				Position:   Position{Surah: a.Surah, Ayah: a.Number, Word: idx},
				Raw:        raw,
				Normalized: norm,
			})
			idx++
		}
	}
	return tokens
}

// JoinText concatenates raw ayah texts in order, separated by single spaces.
func JoinText(ayahs []Ayah) string {
	parts := make([]string, len(ayahs))
	for i, a := range ayahs {
		parts[i] = a.Text
	}
	return strings.Join(parts, " ")
}
