package align

import (
	"errors"
	"testing"

	"github.com/hifzlab/tasmee/internal/quran"
)

// tokens builds an expected sequence within surah 1, ayah 1, one word per
// index, with Raw == Normalized.
func tokens(words ...string) []quran.WordToken {
	out := make([]quran.WordToken, len(words))
	for i, w := range words {
		out[i] = quran.WordToken{
			Position:   quran.Position{Surah: 1, Ayah: 1, Word: i},
			Raw:        w,
			Normalized: w,
		}
	}
	return out
}

func TestAlign(t *testing.T) {
	tests := []struct {
		name           string
		expected       []string
		transcript     []string
		wantMismatches int
		wantKinds      []MismatchKind
		wantAccuracy   float64
	}{
		{
			name:         "identical",
			expected:     []string{"بسم", "الله", "الرحمن", "الرحيم"},
			transcript:   []string{"بسم", "الله", "الرحمن", "الرحيم"},
			wantAccuracy: 100,
		},
		{
			name:           "omitted_word",
			expected:       []string{"بسم", "الله", "الرحمن", "الرحيم"},
			transcript:     []string{"بسم", "الله", "الرحيم"},
			wantMismatches: 1,
			wantKinds:      []MismatchKind{Omission},
			wantAccuracy:   75,
		},
		{
			name:           "substituted_word",
			expected:       []string{"one", "two", "three", "four", "five"},
			transcript:     []string{"one", "two", "tree", "four", "five"},
			wantMismatches: 1,
			wantKinds:      []MismatchKind{Substitution},
			wantAccuracy:   80,
		},
		{
			name:         "pure_insertion_not_counted",
			expected:     []string{"alpha", "beta", "gamma"},
			transcript:   []string{"alpha", "extra", "beta", "gamma"},
			wantAccuracy: 100,
		},
		{
			name:           "empty_transcript_all_omissions",
			expected:       []string{"alpha", "beta", "gamma"},
			transcript:     nil,
			wantMismatches: 3,
			wantKinds:      []MismatchKind{Omission, Omission, Omission},
			wantAccuracy:   0,
		},
		{
			name:           "completely_disjoint",
			expected:       []string{"alpha", "beta", "gamma", "delta"},
			transcript:     []string{"one", "two", "three", "four"},
			wantMismatches: 4,
			wantAccuracy:   0,
		},
		{
			name:           "trailing_omissions",
			expected:       []string{"alpha", "beta", "gamma", "delta"},
			transcript:     []string{"alpha", "beta"},
			wantMismatches: 2,
			wantKinds:      []MismatchKind{Omission, Omission},
			wantAccuracy:   50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := tokens(tt.expected...)
			res, err := Align(exp, tt.transcript)
			if err != nil {
				t.Fatalf("Align: %v", err)
			}

			if len(res.Verdicts) != len(exp) {
				t.Fatalf("got %d verdicts, want exactly one per expected word (%d)", len(res.Verdicts), len(exp))
			}
			for i, v := range res.Verdicts {
				if v.Token.Position != exp[i].Position {
					t.Errorf("verdict %d at position %v, want %v", i, v.Token.Position, exp[i].Position)
				}
			}

			if len(res.Mismatches) != tt.wantMismatches {
				t.Fatalf("got %d mismatches %v, want %d", len(res.Mismatches), res.Mismatches, tt.wantMismatches)
			}
			for i, kind := range tt.wantKinds {
				if res.Mismatches[i].Kind != kind {
					t.Errorf("mismatch %d kind = %s, want %s", i, res.Mismatches[i].Kind, kind)
				}
			}
			if res.Accuracy != tt.wantAccuracy {
				t.Errorf("accuracy = %v, want %v", res.Accuracy, tt.wantAccuracy)
			}

			// Mismatches must be ordered by position.
			for i := 1; i < len(res.Mismatches); i++ {
				if !res.Mismatches[i-1].Position.Less(res.Mismatches[i].Position) {
					t.Errorf("mismatches out of order: %v then %v", res.Mismatches[i-1].Position, res.Mismatches[i].Position)
				}
			}
		})
	}
}

func TestAlignOmissionPosition(t *testing.T) {
	exp := tokens("بسم", "الله", "الرحمن", "الرحيم")
	res, err := Align(exp, []string{"بسم", "الله", "الرحيم"})
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if len(res.Mismatches) != 1 {
		t.Fatalf("mismatches = %v, want exactly one", res.Mismatches)
	}
	m := res.Mismatches[0]
	if m.Expected != "الرحمن" || m.Kind != Omission || m.Transcribed != "" {
		t.Errorf("mismatch = %+v, want omission of الرحمن", m)
	}
	if m.Position != (quran.Position{Surah: 1, Ayah: 1, Word: 2}) {
		t.Errorf("mismatch position = %v, want 1:1:2", m.Position)
	}
}

func TestAlignPrefersSubstitutionOverInsertDelete(t *testing.T) {
	exp := tokens("alpha", "beta", "gamma")
	res, err := Align(exp, []string{"alpha", "xxx", "gamma"})
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if len(res.Mismatches) != 1 {
		t.Fatalf("mismatches = %v, want a single substitution", res.Mismatches)
	}
	m := res.Mismatches[0]
	if m.Kind != Substitution || m.Expected != "beta" || m.Transcribed != "xxx" {
		t.Errorf("mismatch = %+v, want beta substituted by xxx", m)
	}
}

func TestAlignCorrectVerdictsCarryTranscribedWord(t *testing.T) {
	exp := tokens("alpha", "beta")
	res, err := Align(exp, []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	for _, v := range res.Verdicts {
		if !v.Correct {
			t.Errorf("verdict for %q not correct", v.Token.Normalized)
		}
		if v.Transcribed != v.Token.Normalized {
			t.Errorf("verdict transcribed = %q, want %q", v.Transcribed, v.Token.Normalized)
		}
	}
}

func TestAlignEmptyExpected(t *testing.T) {
	_, err := Align(nil, []string{"alpha"})
	if err == nil {
		t.Fatal("Align(nil, ...) succeeded, want error")
	}
	if !errors.Is(err, ErrNoExpectedWords) {
		t.Errorf("error = %v, want ErrNoExpectedWords", err)
	}
	if !errors.Is(err, quran.ErrInvalidSelection) {
		t.Errorf("error = %v does not wrap quran.ErrInvalidSelection", err)
	}
}

func TestAccuracyClamped(t *testing.T) {
	if got := Accuracy(0, 0); got != 0 {
		t.Errorf("Accuracy(0,0) = %v, want 0", got)
	}
	if got := Accuracy(4, 5); got != 0 {
		t.Errorf("Accuracy(4,5) = %v, want 0", got)
	}
	if got := Accuracy(4, 0); got != 100 {
		t.Errorf("Accuracy(4,0) = %v, want 100", got)
	}
	if got := Accuracy(4, 1); got != 75 {
		t.Errorf("Accuracy(4,1) = %v, want 75", got)
	}
}

// ─────────────────────────── Incremental mode ───────────────────────────

func TestIncrementalCommitTiming(t *testing.T) {
	exp := tokens("alpha", "beta", "gamma", "delta", "epsilon")
	inc, err := NewIncremental(exp)
	if err != nil {
		t.Fatalf("NewIncremental: %v", err)
	}

	// One matched word: nothing is anchored yet, live edge moves to beta.
	up := inc.Feed([]string{"alpha"})
	if len(up.Committed) != 0 {
		t.Fatalf("committed %v after a single match, want none", up.Committed)
	}
	if up.Current == nil || up.Current.Normalized != "beta" {
		t.Fatalf("current = %v, want beta", up.Current)
	}

	// A second match anchors the first.
	up = inc.Feed([]string{"alpha", "beta"})
	if len(up.Committed) != 1 || up.Committed[0].Token.Normalized != "alpha" || !up.Committed[0].Correct {
		t.Fatalf("committed = %v, want correct alpha", up.Committed)
	}
	if up.Current == nil || up.Current.Normalized != "gamma" {
		t.Fatalf("current = %v, want gamma", up.Current)
	}

	// Repeating the same transcript commits nothing further.
	up = inc.Feed([]string{"alpha", "beta"})
	if len(up.Committed) != 0 {
		t.Fatalf("repeat feed committed %v, want none", up.Committed)
	}

	// Skipping gamma: the delta match anchors beta and the omission.
	up = inc.Feed([]string{"alpha", "beta", "delta"})
	if len(up.Committed) != 2 {
		t.Fatalf("committed = %v, want beta and omitted gamma", up.Committed)
	}
	if !up.Committed[0].Correct || up.Committed[0].Token.Normalized != "beta" {
		t.Errorf("first committed = %+v, want correct beta", up.Committed[0])
	}
	if up.Committed[1].Correct || up.Committed[1].Token.Normalized != "gamma" || up.Committed[1].Transcribed != "" {
		t.Errorf("second committed = %+v, want omitted gamma", up.Committed[1])
	}
	if up.Current == nil || up.Current.Normalized != "epsilon" {
		t.Fatalf("current = %v, want epsilon", up.Current)
	}

	res := inc.Finalize([]string{"alpha", "beta", "delta", "epsilon"})
	if len(res.Verdicts) != 5 {
		t.Fatalf("finalize verdicts = %d, want 5", len(res.Verdicts))
	}
	if len(res.Mismatches) != 1 || res.Mismatches[0].Expected != "gamma" {
		t.Fatalf("finalize mismatches = %v, want omitted gamma", res.Mismatches)
	}
	if res.Accuracy != 80 {
		t.Errorf("accuracy = %v, want 80", res.Accuracy)
	}
}

func TestIncrementalLiveEdgeNeverCommitsPrematurely(t *testing.T) {
	exp := tokens("alpha", "beta", "gamma", "delta")
	inc, err := NewIncremental(exp)
	if err != nil {
		t.Fatalf("NewIncremental: %v", err)
	}

	// The provider first hears "x" where beta will be; no verdict may
	// commit for it.
	up := inc.Feed([]string{"alpha", "x"})
	if len(up.Committed) != 0 {
		t.Fatalf("committed %v from an unanchored tail", up.Committed)
	}

	// The revision replaces x with beta; beta must settle correct.
	up = inc.Feed([]string{"alpha", "beta"})
	if len(up.Committed) != 1 || up.Committed[0].Token.Normalized != "alpha" {
		t.Fatalf("committed = %v, want alpha", up.Committed)
	}
	res := inc.Finalize([]string{"alpha", "beta", "gamma", "delta"})
	if len(res.Mismatches) != 0 || res.Accuracy != 100 {
		t.Errorf("result = %v mismatches, accuracy %v; want clean 100", res.Mismatches, res.Accuracy)
	}
}

func TestIncrementalNoMatchYet(t *testing.T) {
	exp := tokens("alpha", "beta")
	inc, err := NewIncremental(exp)
	if err != nil {
		t.Fatalf("NewIncremental: %v", err)
	}
	up := inc.Feed([]string{"zzz"})
	if len(up.Committed) != 0 {
		t.Fatalf("committed %v, want none", up.Committed)
	}
	if up.Current == nil || up.Current.Normalized != "alpha" {
		t.Errorf("current = %v, want alpha (first pending word)", up.Current)
	}
}

func TestIncrementalInsertionConsumedSilently(t *testing.T) {
	exp := tokens("alpha", "beta")
	inc, err := NewIncremental(exp)
	if err != nil {
		t.Fatalf("NewIncremental: %v", err)
	}
	inc.Feed([]string{"alpha", "zzz", "beta"})
	res := inc.Finalize([]string{"alpha", "zzz", "beta"})
	if len(res.Mismatches) != 0 {
		t.Fatalf("mismatches = %v, want none (insertion carries no verdict)", res.Mismatches)
	}
	if res.Accuracy != 100 {
		t.Errorf("accuracy = %v, want 100", res.Accuracy)
	}
}

func TestIncrementalFinalizeWithNoAudio(t *testing.T) {
	exp := tokens("alpha", "beta", "gamma")
	inc, err := NewIncremental(exp)
	if err != nil {
		t.Fatalf("NewIncremental: %v", err)
	}
	res := inc.Finalize(nil)
	if len(res.Mismatches) != 3 {
		t.Fatalf("mismatches = %d, want 3 omissions", len(res.Mismatches))
	}
	for _, m := range res.Mismatches {
		if m.Kind != Omission {
			t.Errorf("mismatch kind = %s, want OMISSION", m.Kind)
		}
	}
	if res.Accuracy != 0 {
		t.Errorf("accuracy = %v, want 0", res.Accuracy)
	}
}

func TestIncrementalFeedAfterFinalizeIsNoop(t *testing.T) {
	exp := tokens("alpha")
	inc, err := NewIncremental(exp)
	if err != nil {
		t.Fatalf("NewIncremental: %v", err)
	}
	first := inc.Finalize([]string{"alpha"})
	up := inc.Feed([]string{"alpha", "beta"})
	if len(up.Committed) != 0 || up.Current != nil {
		t.Errorf("Feed after Finalize = %+v, want empty update", up)
	}
	second := inc.Finalize(nil)
	if len(second.Verdicts) != len(first.Verdicts) || second.Accuracy != first.Accuracy {
		t.Errorf("second Finalize diverged: %+v vs %+v", second, first)
	}
}
