package quran

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestPositionCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Position
		want int
	}{
		{"equal", Position{2, 5, 3}, Position{2, 5, 3}, 0},
		{"surah_orders_first", Position{1, 99, 99}, Position{2, 1, 0}, -1},
		{"ayah_orders_second", Position{2, 4, 99}, Position{2, 5, 0}, -1},
		{"word_orders_last", Position{2, 5, 2}, Position{2, 5, 3}, -1},
		{"reverse", Position{3, 1, 0}, Position{2, 286, 10}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Compare(tt.b); got != tt.want {
				t.Errorf("Compare(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
			if tt.want != 0 {
				if got := tt.b.Compare(tt.a); got != -tt.want {
					t.Errorf("Compare(%v, %v) = %d, want %d", tt.b, tt.a, got, -tt.want)
				}
			}
			wantLess := tt.want < 0
			if got := tt.a.Less(tt.b); got != wantLess {
				t.Errorf("Less(%v, %v) = %v, want %v", tt.a, tt.b, got, wantLess)
			}
		})
	}
}

func TestPositionKeyRoundTrip(t *testing.T) {
	p := Position{Surah: 2, Ayah: 255, Word: 12}
	key := p.Key()
	if key != "2:255:12" {
		t.Fatalf("Key() = %q, want %q", key, "2:255:12")
	}
	got, err := ParseKey(key)
	if err != nil {
		t.Fatalf("ParseKey(%q): %v", key, err)
	}
	if got != p {
		t.Errorf("ParseKey(%q) = %v, want %v", key, got, p)
	}
}

func TestPositionJSONUsesCanonicalForm(t *testing.T) {
	p := Position{Surah: 36, Ayah: 12, Word: 4}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `"36:12:4"` {
		t.Fatalf("Marshal = %s, want %q", data, `"36:12:4"`)
	}
	var back Position
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back != p {
		t.Errorf("round trip = %v, want %v", back, p)
	}
	if err := json.Unmarshal([]byte(`"nope"`), &back); err == nil {
		t.Error("Unmarshal accepted a malformed key")
	}
}

func TestParseKeyRejectsMalformed(t *testing.T) {
	for _, bad := range []string{"", "1:2", "1:2:3:4", "a:b:c", "1:2:x"} {
		if _, err := ParseKey(bad); err == nil {
			t.Errorf("ParseKey(%q) succeeded, want error", bad)
		}
	}
}

func TestSelectionValidate(t *testing.T) {
	tests := []struct {
		name    string
		sel     Selection
		wantErr bool
	}{
		{"valid_single_ayah", Selection{Surah: 1, FromAyah: 1, ToAyah: 1}, false},
		{"valid_full_surah", Selection{Surah: 1, FromAyah: 1, ToAyah: 7}, false},
		{"valid_mid_range", Selection{Surah: 2, FromAyah: 5, ToAyah: 10}, false},
		{"inverted_range", Selection{Surah: 2, FromAyah: 5, ToAyah: 3}, true},
		{"surah_zero", Selection{Surah: 0, FromAyah: 1, ToAyah: 1}, true},
		{"surah_above_114", Selection{Surah: 115, FromAyah: 1, ToAyah: 1}, true},
		{"ayah_zero", Selection{Surah: 1, FromAyah: 0, ToAyah: 3}, true},
		{"ayah_beyond_count", Selection{Surah: 1, FromAyah: 1, ToAyah: 8}, true},
		{"last_ayah_exact", Selection{Surah: 114, FromAyah: 6, ToAyah: 6}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sel.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Validate(%v) = nil, want error", tt.sel)
				}
				if !errors.Is(err, ErrInvalidSelection) {
					t.Errorf("Validate(%v) error %v does not wrap ErrInvalidSelection", tt.sel, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate(%v) = %v, want nil", tt.sel, err)
			}
		})
	}
}

func TestTokenize(t *testing.T) {
	ayahs := []Ayah{
		{Surah: 1, Number: 1, Text: "بِسْمِ ٱللَّهِ ٱلرَّحْمَٰنِ ٱلرَّحِيمِ"},
		{Surah: 1, Number: 2, Text: "ٱلْحَمْدُ لِلَّهِ رَبِّ ٱلْعَٰلَمِينَ"},
	}
	tokens := Tokenize(ayahs)

	if len(tokens) != 8 {
		t.Fatalf("len(tokens) = %d, want 8", len(tokens))
	}
	first := tokens[0]
	if first.Position != (Position{Surah: 1, Ayah: 1, Word: 0}) {
		t.Errorf("first position = %v", first.Position)
	}
	if first.Normalized != "بسم" {
		t.Errorf("first normalized = %q, want %q", first.Normalized, "بسم")
	}
	if first.Raw != "بِسْمِ" {
		t.Errorf("first raw = %q", first.Raw)
	}
	// Word indices restart per ayah.
	if tokens[4].Position != (Position{Surah: 1, Ayah: 2, Word: 0}) {
		t.Errorf("fifth position = %v, want 1:2:0", tokens[4].Position)
	}
	for i := 1; i < len(tokens); i++ {
		if !tokens[i-1].Position.Less(tokens[i].Position) {
			t.Errorf("tokens not strictly ordered at %d: %v then %v", i, tokens[i-1].Position, tokens[i].Position)
		}
	}
}

func TestTokenizeSkipsOrnaments(t *testing.T) {
	tokens := Tokenize([]Ayah{{Surah: 2, Number: 142, Text: "۞ سَيَقُولُ ٱلسُّفَهَآءُ"}})
	if len(tokens) != 2 {
		t.Fatalf("len(tokens) = %d, want 2", len(tokens))
	}
	if tokens[0].Position.Word != 0 || tokens[1].Position.Word != 1 {
		t.Errorf("word indices = %d, %d; want 0, 1", tokens[0].Position.Word, tokens[1].Position.Word)
	}
}

func TestTokenizeEmpty(t *testing.T) {
	if got := Tokenize(nil); len(got) != 0 {
		t.Errorf("Tokenize(nil) = %v, want empty", got)
	}
}

func TestJoinText(t *testing.T) {
	got := JoinText([]Ayah{
		{Surah: 112, Number: 1, Text: "قل هو الله احد"},
		{Surah: 112, Number: 2, Text: "الله الصمد"},
	})
	want := "قل هو الله احد الله الصمد"
	if got != want {
		t.Errorf("JoinText = %q, want %q", got, want)
	}
}
