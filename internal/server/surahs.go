package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/hifzlab/tasmee/internal/quran"
)

// surahsResponse wraps the catalogue listing.
type surahsResponse struct {
	Surahs []quran.Surah `json:"surahs"`
}

// handleSurahs serves the surah catalogue. Without a query it lists all 114
// surahs; with ?q= it resolves a number, an Arabic name, or a
// transliteration (fuzzily) to a single surah.
func (s *Server) handleSurahs(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusOK, surahsResponse{Surahs: quran.AllSurahs()})
		return
	}

	surah, ok := quran.ResolveSurah(q)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: fmt.Sprintf("no surah matches %q", q)})
		return
	}
	writeJSON(w, http.StatusOK, surah)
}
