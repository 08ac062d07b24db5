package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hifzlab/tasmee/internal/quran"
	"github.com/hifzlab/tasmee/internal/store"
	"github.com/hifzlab/tasmee/internal/verify"
	"github.com/hifzlab/tasmee/pkg/audio"
)

const (
	// maxUploadBytes caps a batch upload. At the engine rate this is well
	// over twenty minutes of recitation.
	maxUploadBytes = 64 << 20

	// feedChunkMs is the slice size used when feeding an upload through the
	// session, matching what a live capture client would send.
	feedChunkMs = 100
)

// batchResponse is the reply for an unpersisted batch verification. With a
// store configured the reply is the stored [store.Record] instead, which
// carries the same result fields plus id and created_at.
type batchResponse struct {
	verify.VerificationResult
}

// handleVerify runs one uploaded recording through a full verification
// session. The multipart form carries a "selection" JSON part and an "audio"
// WAV part; the audio is converted to the engine format before feeding.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeBadRequest(w, "parse multipart form: "+err.Error())
		return
	}

	selPart := r.FormValue("selection")
	if selPart == "" {
		writeBadRequest(w, `multipart part "selection" is required`)
		return
	}
	var sel quran.Selection
	if err := json.Unmarshal([]byte(selPart), &sel); err != nil {
		writeBadRequest(w, "parse selection: "+err.Error())
		return
	}

	f, _, err := r.FormFile("audio")
	if err != nil {
		writeBadRequest(w, `multipart part "audio" is required`)
		return
	}
	defer f.Close()

	pcm, rate, channels, err := audio.DecodeWAV(f)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	pcm = audio.ToEngineFormat(pcm, rate, channels)
	if len(pcm) == 0 {
		writeBadRequest(w, "audio contains no samples")
		return
	}

	res, rec, err := s.runUpload(ctx, sel, pcm)
	if err != nil {
		writeError(w, err)
		return
	}
	if rec != nil {
		writeJSON(w, http.StatusOK, rec)
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{VerificationResult: res})
}

// runUpload drives one complete session over engine-format PCM: prepare,
// begin, feed every chunk, then stop and wait for the result. The whole
// upload is queued before the provider necessarily went ready, so the session
// queue is sized to hold it; AddAudio drops frames once the queue is full and
// an upload is not paced the way live capture is.
func (s *Server) runUpload(ctx context.Context, sel quran.Selection, pcm []byte) (verify.VerificationResult, *store.Record, error) {
	chunkBytes := audio.BytesPerSecond * feedChunkMs / 1000
	nChunks := (len(pcm) + chunkBytes - 1) / chunkBytes

	cfg := s.cfg.Verify
	if cfg.Session.QueueSize < nChunks+1 {
		cfg.Session.QueueSize = nChunks + 1
	}

	v, err := verify.New(cfg)
	if err != nil {
		return verify.VerificationResult{}, nil, err
	}
	prep, err := v.Prepare(ctx, sel)
	if err != nil {
		return verify.VerificationResult{}, nil, err
	}
	run, err := v.Begin(ctx, prep)
	if err != nil {
		return verify.VerificationResult{}, nil, err
	}

	for off := 0; off < len(pcm); off += chunkBytes {
		end := min(off+chunkBytes, len(pcm))
		run.AddAudio(pcm[off:end])
	}

	res, err := v.End(ctx)
	if err != nil {
		return verify.VerificationResult{}, nil, err
	}

	var rec *store.Record
	if s.cfg.Store != nil {
		rec, err = s.cfg.Store.Save(ctx, res)
		if err != nil {
			slog.Warn("failed to persist verification result",
				"selection", sel.String(), "err", err)
			rec = nil
		}
	}
	return res, rec, nil
}

// ─── stored results ─────────────────────────────────────────────────────────

// listResponse wraps the stored-record list.
type listResponse struct {
	Verifications []*store.Record `json:"verifications"`
}

// handleListVerifications lists stored results, newest first. Optional query
// parameters: surah (filter) and limit.
func (s *Server) handleListVerifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var surah int
	if v := q.Get("surah"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > quran.SurahCount {
			writeBadRequest(w, "surah must be a number in [1, "+strconv.Itoa(quran.SurahCount)+"]")
			return
		}
		surah = n
	}

	var limit int
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive number")
			return
		}
		limit = n
	}

	recs, err := s.cfg.Store.List(r.Context(), surah, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	if recs == nil {
		recs = []*store.Record{}
	}
	writeJSON(w, http.StatusOK, listResponse{Verifications: recs})
}

// handleGetVerification returns one stored result by id.
func (s *Server) handleGetVerification(w http.ResponseWriter, r *http.Request) {
	rec, err := s.cfg.Store.Get(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}
