// Package highlight tracks per-word verification state for a recitation
// session. It is the model behind mushaf-style UI highlighting: every word of
// the expected passage can be unmarked, the word currently awaited from the
// reciter, or settled as correctly/incorrectly recited.
package highlight

import (
	"slices"
	"sync"

	"github.com/hifzlab/tasmee/internal/quran"
)

// Status describes the highlight state of a single word.
type Status string

const (
	// StatusCurrent marks the word the reciter is expected to say next.
	// At most one word in a Map holds this status at any time.
	StatusCurrent Status = "CURRENT"
	// StatusCorrect marks a word with a settled correct verdict.
	StatusCorrect Status = "CORRECT"
	// StatusError marks a word with a settled error verdict.
	StatusError Status = "ERROR"
)

// settled reports whether s represents a final verdict rather than a
// transient marker.
func (s Status) settled() bool {
	return s == StatusCorrect || s == StatusError
}

// WordHighlight is the highlight state of one word of the expected passage.
type WordHighlight struct {
	Position    quran.Position `json:"position"`
	Word        string         `json:"word"`
	Transcribed string         `json:"transcribed,omitempty"`
	Status      Status         `json:"status"`
}

// Map is a thread-safe store of per-word highlight states, keyed by canonical
// word position. The zero value is ready to use.
//
// Verdicts are written by a single consumer goroutine in recitation order;
// readers may snapshot the map concurrently. A Map belongs to exactly one
// session and must not be shared across sessions.
type Map struct {
	mu      sync.RWMutex
	words   map[quran.Position]WordHighlight
	current *quran.Position
}

// NewMap returns an initialised [Map].
func NewMap() *Map {
	return &Map{
		words: make(map[quran.Position]WordHighlight),
	}
}

// Set stores or replaces the highlight for h.Position.
//
// Setting a StatusCurrent highlight clears any previously current word: if
// that word had no settled verdict its entry is removed, otherwise its
// settled state is kept. This preserves the invariant that at most one word
// is current at a time. A settled verdict for the word that is currently
// marked current also clears the current marker.
func (m *Map) Set(h WordHighlight) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.words == nil {
		m.words = make(map[quran.Position]WordHighlight)
	}

	if h.Status == StatusCurrent {
		m.clearCurrentLocked()
		m.current = &h.Position
	} else if m.current != nil && *m.current == h.Position {
		m.current = nil
	}

	m.words[h.Position] = h
}

// clearCurrentLocked removes the current marker. The previously current entry
// is deleted unless a settled verdict has already replaced it.
func (m *Map) clearCurrentLocked() {
	if m.current == nil {
		return
	}
	if prev, ok := m.words[*m.current]; ok && prev.Status == StatusCurrent {
		delete(m.words, *m.current)
	}
	m.current = nil
}

// Get returns the highlight stored for pos, if any.
func (m *Map) Get(pos quran.Position) (WordHighlight, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.words[pos]
	return h, ok
}

// CurrentWord returns the word currently awaited from the reciter, if one is
// marked.
func (m *Map) CurrentWord() (WordHighlight, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil {
		return WordHighlight{}, false
	}
	h, ok := m.words[*m.current]
	return h, ok
}

// AyahHighlights returns all highlights recorded for one ayah, ordered by
// word index.
func (m *Map) AyahHighlights(surah, ayah int) []WordHighlight {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []WordHighlight
	for pos, h := range m.words {
		if pos.Surah == surah && pos.Ayah == ayah {
			out = append(out, h)
		}
	}
	sortHighlights(out)
	return out
}

// Errors returns every word with a settled error verdict, in recitation
// order.
func (m *Map) Errors() []WordHighlight {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []WordHighlight
	for _, h := range m.words {
		if h.Status == StatusError {
			out = append(out, h)
		}
	}
	sortHighlights(out)
	return out
}

// ClearFromAyah removes every highlight at or after the first word of the
// given ayah, so the reciter can retry from that point. Earlier highlights
// are untouched.
func (m *Map) ClearFromAyah(surah, ayah int) {
	from := quran.Position{Surah: surah, Ayah: ayah, Word: 0}

	m.mu.Lock()
	defer m.mu.Unlock()

	for pos := range m.words {
		if pos.Compare(from) >= 0 {
			delete(m.words, pos)
		}
	}
	if m.current != nil && m.current.Compare(from) >= 0 {
		m.current = nil
	}
}

// CorrectCount returns the number of words with a settled correct verdict.
func (m *Map) CorrectCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.countLocked(StatusCorrect)
}

// ErrorCount returns the number of words with a settled error verdict.
func (m *Map) ErrorCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.countLocked(StatusError)
}

func (m *Map) countLocked(s Status) int {
	n := 0
	for _, h := range m.words {
		if h.Status == s {
			n++
		}
	}
	return n
}

// AccuracyPercentage returns the share of settled words that are correct, in
// [0, 100]. Current markers are excluded. Before any word has settled there
// is nothing to score and 0 is returned.
func (m *Map) AccuracyPercentage() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	correct, settled := 0, 0
	for _, h := range m.words {
		if !h.Status.settled() {
			continue
		}
		settled++
		if h.Status == StatusCorrect {
			correct++
		}
	}
	if settled == 0 {
		return 0
	}
	return float64(correct) / float64(settled) * 100
}

// Snapshot returns a copy of every stored highlight in recitation order. The
// returned slice is independent of the map and safe to retain.
func (m *Map) Snapshot() []WordHighlight {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]WordHighlight, 0, len(m.words))
	for _, h := range m.words {
		out = append(out, h)
	}
	sortHighlights(out)
	return out
}

// Len returns the number of stored highlights, current marker included.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.words)
}

// sortHighlights orders hs by canonical word position.
func sortHighlights(hs []WordHighlight) {
	slices.SortFunc(hs, func(a, b WordHighlight) int {
		return a.Position.Compare(b.Position)
	})
}
