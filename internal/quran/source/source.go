// Package source provides canonical Quran text to the verification engine.
//
// The engine treats the canonical text as an external dependency behind the
// [Source] interface: the file source serves a bundled quran.json offline,
// the api source fetches surahs from alquran.cloud on demand and caches
// them. Which one backs a deployment is configuration.
package source

import (
	"context"
	"fmt"

	"github.com/hifzlab/tasmee/internal/quran"
)

// Source yields the canonical text of an ayah range. Implementations must be
// safe for concurrent use. The returned slice is owned by the caller.
type Source interface {
	// Ayahs returns ayahs from..to (inclusive, 1-based) of the given surah
	// in reading order. A surah or range the source does not have yields an
	// error wrapping [quran.ErrNotFound].
	Ayahs(ctx context.Context, surah, from, to int) ([]quran.Ayah, error)
}

// sliceRange copies ayahs[from..to] (1-based, inclusive) out of a full surah.
// Callers receive a fresh slice so cached text stays immutable.
func sliceRange(surah int, ayahs []quran.Ayah, from, to int) ([]quran.Ayah, error) {
	if from < 1 || from > to || to > len(ayahs) {
		return nil, fmt.Errorf("source: surah %d ayahs %d-%d (have %d): %w",
			surah, from, to, len(ayahs), quran.ErrNotFound)
	}
	out := make([]quran.Ayah, to-from+1)
	copy(out, ayahs[from-1:to])
	return out, nil
}
