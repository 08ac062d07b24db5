// Package health serves the liveness and readiness probes of the tasmee
// server.
//
//   - GET /healthz — liveness: the process is up and serving HTTP.
//   - GET /readyz  — readiness: every dependency probe passes. A failing
//     probe turns the response into a 503 with per-probe detail.
//
// Probes run concurrently, each under its own deadline, so one hung
// dependency cannot stall the whole readiness check. The readiness body
// names every probe with its outcome and wall time:
//
//	{"ready":false,"probes":{
//	  "quran_source": {"ok":true,"duration_ms":0},
//	  "store":        {"ok":false,"error":"connection refused","duration_ms":104}}}
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// probeTimeout bounds a single dependency probe.
const probeTimeout = 5 * time.Second

// Checker is one named dependency probe. Check returns nil while the
// dependency can serve traffic and must respect context cancellation.
type Checker struct {
	// Name keys the probe in the readiness body, e.g. "quran_source".
	Name string

	// Check probes the dependency.
	Check func(ctx context.Context) error
}

// probeResult is the readiness outcome of one probe.
type probeResult struct {
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// readiness is the /readyz response body.
type readiness struct {
	Ready  bool                   `json:"ready"`
	Probes map[string]probeResult `json:"probes,omitempty"`
}

// liveness is the /healthz response body.
type liveness struct {
	Status  string `json:"status"`
	UptimeS int64  `json:"uptime_s"`
}

// Handler answers the probe endpoints. The checker set is fixed at
// construction; a Handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
	started  time.Time
}

// New builds a Handler over the given dependency probes.
func New(checkers ...Checker) *Handler {
	return &Handler{
		checkers: append([]Checker(nil), checkers...),
		started:  time.Now(),
	}
}

// Healthz answers the liveness probe. Reaching this handler at all proves
// the process is alive, so it always returns 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, liveness{
		Status:  "ok",
		UptimeS: int64(time.Since(h.started).Seconds()),
	})
}

// Readyz runs every probe concurrently and answers 200 only when all pass.
// Each probe gets its own probeTimeout deadline derived from the request
// context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	results := make([]probeResult, len(h.checkers))

	g, ctx := errgroup.WithContext(r.Context())
	for i, c := range h.checkers {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()

			began := time.Now()
			err := c.Check(pctx)
			res := probeResult{
				OK:         err == nil,
				DurationMS: time.Since(began).Milliseconds(),
			}
			if err != nil {
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	g.Wait()

	body := readiness{Ready: true, Probes: make(map[string]probeResult, len(results))}
	for i, res := range results {
		body.Probes[h.checkers[i].Name] = res
		if !res.OK {
			body.Ready = false
		}
	}

	status := http.StatusOK
	if !body.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

// Register mounts the probe routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
