// Package server exposes the verification engine over HTTP.
//
// Two verification surfaces share one pipeline: POST /v1/verifications runs a
// whole uploaded recording through a session and answers with the finished
// result, and GET /v1/live upgrades to a WebSocket that streams highlight
// updates while the client is still reciting. Both create a fresh verifier
// per request, so concurrent requests never contend for the single
// active-run slot.
//
// The catalogue (GET /v1/surahs), stored results (GET /v1/verifications when
// a store is configured), health probes, and the Prometheus metrics endpoint
// round out the API. Every route runs behind the observe middleware.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hifzlab/tasmee/internal/align"
	"github.com/hifzlab/tasmee/internal/health"
	"github.com/hifzlab/tasmee/internal/observe"
	"github.com/hifzlab/tasmee/internal/quran"
	"github.com/hifzlab/tasmee/internal/session"
	"github.com/hifzlab/tasmee/internal/store"
	"github.com/hifzlab/tasmee/internal/verify"
)

const (
	// shutdownTimeout bounds the graceful drain once Run's context ends.
	shutdownTimeout = 15 * time.Second

	readHeaderTimeout = 10 * time.Second
)

// Store is what the server needs from a results store. *store.Postgres
// satisfies it; a nil Store disables persistence and the read endpoints.
type Store interface {
	Save(ctx context.Context, res verify.VerificationResult) (*store.Record, error)
	Get(ctx context.Context, id string) (*store.Record, error)
	List(ctx context.Context, surah, limit int) ([]*store.Record, error)
}

var _ Store = (*store.Postgres)(nil)

// Config holds the server's dependencies.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string

	// Verify carries the verification pipeline dependencies: the canonical
	// text source, session providers, and metrics. Source and the primary
	// provider are required.
	Verify verify.Config

	// Store persists finished results. Optional.
	Store Store

	// Checkers are evaluated by the readiness probe.
	Checkers []health.Checker
}

// Server is the HTTP front of the verification engine.
type Server struct {
	cfg     Config
	metrics *observe.Metrics
	handler http.Handler
	httpSrv *http.Server
}

// New validates the configuration and builds the route table.
func New(cfg Config) (*Server, error) {
	if cfg.Verify.Source == nil {
		return nil, errors.New("server: canonical text source must not be nil")
	}
	if cfg.Verify.Session.Primary == nil {
		return nil, errors.New("server: primary provider must not be nil")
	}
	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return nil, errors.New("server: cert_file and key_file must be set together")
	}

	metrics := cfg.Verify.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
		cfg.Verify.Metrics = metrics
	}

	s := &Server{cfg: cfg, metrics: metrics}
	s.handler = s.routes()
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s, nil
}

// Handler returns the fully assembled route handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// routes builds the mux. Stored-result reads register only when persistence
// is configured, so a store-less deployment 404s them instead of erroring.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/verifications", s.handleVerify)
	mux.HandleFunc("GET /v1/live", s.handleLive)
	mux.HandleFunc("GET /v1/surahs", s.handleSurahs)
	if s.cfg.Store != nil {
		mux.HandleFunc("GET /v1/verifications", s.handleListVerifications)
		mux.HandleFunc("GET /v1/verifications/{id}", s.handleGetVerification)
	}

	health.New(s.cfg.Checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.metrics)(mux)
}

// Run serves until ctx is cancelled, then drains gracefully. Live WebSocket
// sessions past the drain deadline are cut.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.CertFile != "" {
			err = s.httpSrv.ListenAndServeTLS(s.cfg.CertFile, s.cfg.KeyFile)
		} else {
			err = s.httpSrv.ListenAndServe()
		}
		errc <- err
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen on %s: %w", s.cfg.Addr, err)
	case <-ctx.Done():
	}

	slog.Info("server shutting down", "addr", s.cfg.Addr)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		s.httpSrv.Close()
		return fmt.Errorf("server: shutdown: %w", err)
	}
	<-errc
	return nil
}

// newVerifier builds a verifier for one request.
func (s *Server) newVerifier() (*verify.Verifier, error) {
	return verify.New(s.cfg.Verify)
}

// persist saves a finished result when a store is configured and returns the
// record id. Persistence failures are logged, not surfaced: the verification
// itself succeeded and the caller still gets its result.
func (s *Server) persist(ctx context.Context, res verify.VerificationResult) string {
	if s.cfg.Store == nil {
		return ""
	}
	rec, err := s.cfg.Store.Save(ctx, res)
	if err != nil {
		slog.Warn("failed to persist verification result",
			"selection", res.Selection.String(), "err", err)
		return ""
	}
	return rec.ID
}

// ─── responses ──────────────────────────────────────────────────────────────

// errorBody is the JSON error envelope shared by every endpoint.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "err", err)
	}
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

// writeError maps a verification pipeline error onto its HTTP status.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
}

// statusFor classifies pipeline errors: selection problems are the client's,
// a missing passage or record is 404, a provider that never went ready is a
// gateway timeout, and remaining run failures are upstream provider errors.
func statusFor(err error) int {
	switch {
	case errors.Is(err, verify.ErrSelectionInvalid),
		errors.Is(err, align.ErrNoExpectedWords):
		return http.StatusBadRequest
	case errors.Is(err, quran.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrReadyTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
