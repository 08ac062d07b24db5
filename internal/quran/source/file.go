package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/hifzlab/tasmee/internal/quran"
)

// fileDocument is the top-level structure of the bundled quran.json, as
// produced by the data pipeline from the alquran.cloud dump.
//
// Example:
//
//	{
//	  "surahs": [
//	    {
//	      "number": 112,
//	      "englishName": "Al-Ikhlaas",
//	      "ayahs": [
//	        {"numberInSurah": 1, "text": "قل هو الله احد"}
//	      ]
//	    }
//	  ]
//	}
type fileDocument struct {
	Surahs []fileSurah `json:"surahs"`
}

type fileSurah struct {
	Number      int        `json:"number"`
	EnglishName string     `json:"englishName"`
	Ayahs       []fileAyah `json:"ayahs"`
}

type fileAyah struct {
	NumberInSurah int    `json:"numberInSurah"`
	Text          string `json:"text"`
}

// File serves canonical text from a quran.json bundle loaded at startup.
// It is immutable after construction and safe for concurrent use.
type File struct {
	surahs map[int][]quran.Ayah
}

var _ Source = (*File)(nil)

// NewFile reads and indexes a quran.json bundle from disk.
func NewFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: open quran bundle %q: %w", path, err)
	}
	defer f.Close()

	src, err := NewFileFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("source: parse quran bundle %q: %w", path, err)
	}
	return src, nil
}

// NewFileFromReader parses a quran.json bundle from an [io.Reader]. The
// reader is consumed entirely; the caller is responsible for closing it.
func NewFileFromReader(r io.Reader) (*File, error) {
	var doc fileDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("source: decode quran bundle: %w", err)
	}
	if len(doc.Surahs) == 0 {
		return nil, fmt.Errorf("source: quran bundle contains no surahs")
	}

	surahs := make(map[int][]quran.Ayah, len(doc.Surahs))
	for _, s := range doc.Surahs {
		ayahs := make([]quran.Ayah, len(s.Ayahs))
		for i, a := range s.Ayahs {
			ayahs[i] = quran.Ayah{Surah: s.Number, Number: a.NumberInSurah, Text: a.Text}
		}
		surahs[s.Number] = ayahs
	}
	return &File{surahs: surahs}, nil
}

// Ayahs implements [Source] from the in-memory index.
func (f *File) Ayahs(_ context.Context, surah, from, to int) ([]quran.Ayah, error) {
	ayahs, ok := f.surahs[surah]
	if !ok {
		return nil, fmt.Errorf("source: surah %d not in bundle: %w", surah, quran.ErrNotFound)
	}
	return sliceRange(surah, ayahs, from, to)
}

// SurahCount returns the number of surahs in the bundle.
func (f *File) SurahCount() int { return len(f.surahs) }
