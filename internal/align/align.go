// Package align implements word-level global alignment between an expected
// canonical word sequence and an ASR transcript, producing exactly one
// verdict per expected position plus mismatch records and an accuracy score.
//
// The alignment is minimum-edit-distance dynamic programming (Wagner-Fischer
// at word granularity) with unit costs for substitution, insertion and
// deletion. The backtrace is deterministic: match, then substitution, then
// deletion, then insertion. Checking the diagonal first keeps a 1:1 mapping
// between expected and transcribed words wherever one exists, so an equal
// cost insertion+deletion pair never displaces a substitution.
//
// Alignment is total: any pair of inputs (including an empty transcript)
// produces a well-formed result. Only an empty expected sequence is
// rejected, since accuracy would divide by zero.
package align

import (
	"fmt"

	"github.com/hifzlab/tasmee/internal/quran"
)

// ErrNoExpectedWords is returned when the expected sequence is empty. It
// wraps [quran.ErrInvalidSelection]: a selection that yields no comparable
// words is rejected before any session starts.
var ErrNoExpectedWords = fmt.Errorf("align: empty expected sequence: %w", quran.ErrInvalidSelection)

// op is a single backtraced alignment operation.
type op int

const (
	opMatch op = iota
	opSubstitution
	opDeletion  // expected word with no transcribed counterpart
	opInsertion // transcribed word with no expected counterpart
)

// MismatchKind distinguishes the two ways an expected word can be wrong.
type MismatchKind string

// Mismatch kinds.
const (
	Substitution MismatchKind = "SUBSTITUTION"
	Omission     MismatchKind = "OMISSION"
)

// Mismatch records one expected word that was not recited correctly.
// Transcribed is empty for omissions.
type Mismatch struct {
	Position    quran.Position `json:"position"`
	Expected    string         `json:"expected"`
	Transcribed string         `json:"transcribed,omitempty"`
	Kind        MismatchKind   `json:"kind"`
}

// WordVerdict is the settled outcome for one expected position. Transcribed
// holds the aligned transcript word: equal to the expected normalized word
// for a correct verdict, the substituted word otherwise, empty for an
// omission.
type WordVerdict struct {
	Token       quran.WordToken
	Correct     bool
	Transcribed string
}

// Mismatch converts an error verdict into its Mismatch record.
func (v WordVerdict) Mismatch() Mismatch {
	kind := Omission
	if v.Transcribed != "" {
		kind = Substitution
	}
	return Mismatch{
		Position:    v.Token.Position,
		Expected:    v.Token.Normalized,
		Transcribed: v.Transcribed,
		Kind:        kind,
	}
}

// Result is a completed alignment: one verdict per expected position in
// order, the derived ordered mismatch list, and the accuracy percentage.
type Result struct {
	Verdicts   []WordVerdict
	Mismatches []Mismatch
	Accuracy   float64
}

// Align aligns the full transcript against the full expected sequence.
func Align(expected []quran.WordToken, transcript []string) (Result, error) {
	inc, err := NewIncremental(expected)
	if err != nil {
		return Result{}, err
	}
	return inc.Finalize(transcript), nil
}

// Accuracy computes the percentage of n expected words without a mismatch,
// clamped to [0,100]. n must be positive; callers guard n == 0 up front.
func Accuracy(n, mismatches int) float64 {
	if n <= 0 {
		return 0
	}
	acc := 100 * float64(n-mismatches) / float64(n)
	if acc < 0 {
		return 0
	}
	if acc > 100 {
		return 100
	}
	return acc
}

// ─────────────────────────── Incremental mode ───────────────────────────

// Incremental aligns a growing cumulative transcript against a fixed
// expected sequence. It maintains a cursor into the expected words and a
// count of transcript words consumed by committed verdicts; each Feed
// aligns only the unsettled window.
//
// A verdict commits only once it is followed by at least one further
// matched word, so the live edge of a partial transcript (which the
// provider may still revise) is never classified prematurely. Committed
// verdicts are frozen: later transcript revisions only affect the
// uncommitted tail.
//
// Incremental is not safe for concurrent use; the session consumer owns it.
type Incremental struct {
	expected []quran.WordToken
	words    []string // normalized expected words, index-aligned with expected

	cursor    int // first uncommitted expected index
	consumed  int // transcript words consumed by committed verdicts
	verdicts  []WordVerdict
	finalized bool
}

// Update reports the outcome of one Feed: verdicts newly committed by this
// call (in position order) and the word now at the live edge. Current is nil
// when every expected word has been tentatively matched.
type Update struct {
	Committed []WordVerdict
	Current   *quran.WordToken
}

// NewIncremental returns an incremental aligner over the expected sequence.
func NewIncremental(expected []quran.WordToken) (*Incremental, error) {
	if len(expected) == 0 {
		return nil, ErrNoExpectedWords
	}
	words := make([]string, len(expected))
	for i, tok := range expected {
		words[i] = tok.Normalized
	}
	return &Incremental{expected: expected, words: words}, nil
}

// Feed aligns the cumulative transcript (all normalized words heard so far)
// against the unsettled expected window and commits every verdict that is
// now unambiguous. Calls after Finalize, or once all expected words are
// committed, return an empty update.
func (inc *Incremental) Feed(transcript []string) Update {
	if inc.finalized || inc.cursor >= len(inc.words) {
		return Update{}
	}
	tail := inc.transcriptTail(transcript)
	ops := alignWords(inc.words[inc.cursor:], tail)

	// The committable prefix ends at the last match: every operation
	// before it is anchored by a later matched word.
	lastMatch := -1
	for i, o := range ops {
		if o == opMatch {
			lastMatch = i
		}
	}
	if lastMatch < 0 {
		// Nothing anchors yet; the reciter is still on the first
		// pending word.
		return Update{Current: inc.currentToken(inc.cursor)}
	}

	committed := inc.commit(ops[:lastMatch], tail)

	// expected[cursor] is now the tentatively matched word; the live edge
	// is the word after it.
	return Update{Committed: committed, Current: inc.currentToken(inc.cursor + 1)}
}

// Finalize runs the last full alignment over the unsettled window and
// settles every remaining expected word. The cumulative transcript passed
// here is authoritative. Safe to call with an empty transcript: all
// remaining words settle as omissions. Subsequent Feed and Finalize calls
// return the same settled result.
func (inc *Incremental) Finalize(transcript []string) Result {
	if !inc.finalized {
		tail := inc.transcriptTail(transcript)
		ops := alignWords(inc.words[inc.cursor:], tail)
		inc.commit(ops, tail)
		inc.finalized = true
	}

	var mismatches []Mismatch
	for _, v := range inc.verdicts {
		if !v.Correct {
			mismatches = append(mismatches, v.Mismatch())
		}
	}
	return Result{
		Verdicts:   inc.verdicts,
		Mismatches: mismatches,
		Accuracy:   Accuracy(len(inc.expected), len(mismatches)),
	}
}

// transcriptTail returns the transcript words not yet consumed by commits.
func (inc *Incremental) transcriptTail(transcript []string) []string {
	if inc.consumed >= len(transcript) {
		return nil
	}
	return transcript[inc.consumed:]
}

// commit applies the given operations, appending verdicts and advancing the
// cursor and consumed counters. It returns the verdicts it appended.
func (inc *Incremental) commit(ops []op, tail []string) []WordVerdict {
	start := len(inc.verdicts)
	ti := 0
	for _, o := range ops {
		switch o {
		case opMatch:
			inc.verdicts = append(inc.verdicts, WordVerdict{
				Token:       inc.expected[inc.cursor],
				Correct:     true,
				Transcribed: tail[ti],
			})
			inc.cursor++
			ti++
		case opSubstitution:
			inc.verdicts = append(inc.verdicts, WordVerdict{
				Token:       inc.expected[inc.cursor],
				Transcribed: tail[ti],
			})
			inc.cursor++
			ti++
		case opDeletion:
			inc.verdicts = append(inc.verdicts, WordVerdict{
				Token: inc.expected[inc.cursor],
			})
			inc.cursor++
		case opInsertion:
			ti++
		}
	}
	inc.consumed += ti
	return inc.verdicts[start:]
}

// currentToken returns a copy of expected[i] as the current word, or nil
// when i is past the end.
func (inc *Incremental) currentToken(i int) *quran.WordToken {
	if i < 0 || i >= len(inc.expected) {
		return nil
	}
	tok := inc.expected[i]
	return &tok
}

// ───────────────────────────── DP alignment ─────────────────────────────

// alignWords computes the minimum-edit-distance alignment between expected
// and transcribed words and returns the operations in forward order.
func alignWords(expected, transcribed []string) []op {
	n, m := len(expected), len(transcribed)

	d := make([][]int, n+1)
	for i := range d {
		d[i] = make([]int, m+1)
	}
	for i := 0; i <= n; i++ {
		d[i][0] = i
	}
	for j := 0; j <= m; j++ {
		d[0][j] = j
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if expected[i-1] == transcribed[j-1] {
				d[i][j] = d[i-1][j-1]
			} else {
				d[i][j] = min(d[i-1][j-1], d[i-1][j], d[i][j-1]) + 1
			}
		}
	}

	// Backtrace. Check order fixes the tie-break policy: diagonal first
	// (match, then substitution), then deletion, then insertion.
	ops := make([]op, 0, max(n, m))
	i, j := n, m
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && expected[i-1] == transcribed[j-1] && d[i][j] == d[i-1][j-1]:
			ops = append(ops, opMatch)
			i--
			j--
		case i > 0 && j > 0 && d[i][j] == d[i-1][j-1]+1:
			ops = append(ops, opSubstitution)
			i--
			j--
		case i > 0 && d[i][j] == d[i-1][j]+1:
			ops = append(ops, opDeletion)
			i--
		default:
			ops = append(ops, opInsertion)
			j--
		}
	}

	// Reverse into forward order.
	for a, b := 0, len(ops)-1; a < b; a, b = a+1, b-1 {
		ops[a], ops[b] = ops[b], ops[a]
	}
	return ops
}
