// Package verify composes the verification pipeline: it prepares the
// canonical expected word sequence for a selection, drives one streaming
// transcription session at a time, feeds transcription events through the
// incremental aligner, and maintains the highlight map observers read.
//
// A Verifier owns at most one active [Run]. All provider events and all
// aligner and highlight mutations for a run happen on a single consumer
// goroutine; observers read snapshots or subscribe to an ordered update
// stream and never mutate the tracker.
package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hifzlab/tasmee/internal/align"
	"github.com/hifzlab/tasmee/internal/observe"
	"github.com/hifzlab/tasmee/internal/quran"
	"github.com/hifzlab/tasmee/internal/quran/source"
	"github.com/hifzlab/tasmee/internal/session"
)

var (
	// ErrSelectionInvalid rejects a selection before any session starts. It
	// aliases [quran.ErrInvalidSelection] so callers need only one errors.Is
	// target at this layer.
	ErrSelectionInvalid = quran.ErrInvalidSelection

	// ErrRunActive is returned by Begin while a previous run has not reached
	// its terminal state.
	ErrRunActive = errors.New("verify: a verification run is already active")

	// ErrNoRun is returned by End when no run was begun.
	ErrNoRun = errors.New("verify: no active run")

	// ErrRunNotFinished is returned by [Run.Result] before the run's
	// terminal state.
	ErrRunNotFinished = errors.New("verify: run not finished")

	errNoSource  = errors.New("verify: canonical text source must not be nil")
	errNoPrimary = errors.New("verify: primary provider must not be nil")
)

// VerificationResult is the immutable outcome of one completed run.
type VerificationResult struct {
	Selection          quran.Selection  `json:"selection"`
	AccuracyPercentage float64          `json:"accuracy_percentage"`
	Mismatches         []align.Mismatch `json:"mismatches,omitempty"`
	DurationSeconds    float64          `json:"duration_seconds"`
	ExpectedText       string           `json:"expected_text"`
	TranscribedText    string           `json:"transcribed_text"`
}

// Config holds the dependencies of a [Verifier].
type Config struct {
	// Source provides canonical ayah text. Required.
	Source source.Source

	// Session configures the underlying transcription session: providers,
	// stream settings, ready timeout, and queue size.
	Session session.Config

	// Metrics receives run instrumentation. Defaults to
	// [observe.DefaultMetrics] when nil.
	Metrics *observe.Metrics
}

// Verifier orchestrates verification runs. Only one run is active at a time;
// all exported methods are safe for concurrent use.
type Verifier struct {
	source  source.Source
	sessCfg session.Config
	metrics *observe.Metrics

	mu  sync.Mutex
	run *Run
}

// New creates a Verifier.
func New(cfg Config) (*Verifier, error) {
	if cfg.Source == nil {
		return nil, errNoSource
	}
	if cfg.Session.Primary == nil {
		return nil, errNoPrimary
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Verifier{
		source:  cfg.Source,
		sessCfg: cfg.Session,
		metrics: metrics,
	}, nil
}

// Prepared is a validated selection together with its canonical text and
// expected word sequence. Read-only once a run starts.
type Prepared struct {
	Selection quran.Selection
	Ayahs     []quran.Ayah
	Tokens    []quran.WordToken
}

// ExpectedText returns the raw passage text, used as the initial provider
// prompt and reported in the result.
func (p Prepared) ExpectedText() string { return quran.JoinText(p.Ayahs) }

// Prepare validates the selection, fetches its canonical text, and tokenizes
// it into the expected word sequence. A selection whose words all normalize
// to nothing is rejected: there would be nothing to verify.
func (v *Verifier) Prepare(ctx context.Context, sel quran.Selection) (Prepared, error) {
	ctx, span := observe.StartSpan(ctx, "verify.prepare",
		trace.WithAttributes(observe.Attr("selection", sel.String())))
	defer span.End()

	if err := sel.Validate(); err != nil {
		return Prepared{}, err
	}
	ayahs, err := v.source.Ayahs(ctx, sel.Surah, sel.FromAyah, sel.ToAyah)
	if err != nil {
		return Prepared{}, fmt.Errorf("verify: fetch %s: %w", sel, err)
	}
	tokens := quran.Tokenize(ayahs)
	if len(tokens) == 0 {
		return Prepared{}, align.ErrNoExpectedWords
	}
	return Prepared{Selection: sel, Ayahs: ayahs, Tokens: tokens}, nil
}

// Begin starts a run for the prepared selection: it opens a transcription
// session with the full expected text as the initial prompt and launches the
// consumer goroutine. ctx bounds the whole run; cancelling it abandons the
// session.
//
// Returns ErrRunActive while a previous run has not finished.
func (v *Verifier) Begin(ctx context.Context, prep Prepared) (*Run, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.run != nil && !v.run.finished() {
		return nil, ErrRunActive
	}

	inc, err := align.NewIncremental(prep.Tokens)
	if err != nil {
		return nil, err
	}
	sess, err := session.New(v.sessCfg)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	ctx, span := observe.StartSpan(ctx, "verify.run",
		trace.WithAttributes(observe.Attr("selection", prep.Selection.String())))

	events, err := sess.Start(ctx, prep.ExpectedText())
	if err != nil {
		span.End()
		return nil, fmt.Errorf("verify: %w", err)
	}

	primary, backup := v.providerNames()
	r := newRun(prep, sess, inc, v.metrics, primary, backup)
	v.run = r
	v.metrics.ActiveSessions.Add(ctx, 1)

	go func() {
		defer span.End()
		r.consume(ctx, events)
	}()
	return r, nil
}

// End stops the active run and blocks until its terminal state, then returns
// the finalized result. Safe when no audio was ever received: the result
// degenerates to all-OMISSION verdicts with 0% accuracy. A run that ended
// with a terminal error yields that error instead of a result.
func (v *Verifier) End(ctx context.Context) (VerificationResult, error) {
	v.mu.Lock()
	r := v.run
	v.mu.Unlock()

	if r == nil {
		return VerificationResult{}, ErrNoRun
	}
	r.Stop()
	select {
	case <-r.Done():
	case <-ctx.Done():
		return VerificationResult{}, fmt.Errorf("verify: %w", ctx.Err())
	}
	return r.Result()
}

// AddAudio forwards a PCM16 mono 24 kHz chunk to the active run. It never
// blocks and is a no-op when no run is active.
func (v *Verifier) AddAudio(chunk []byte) {
	v.mu.Lock()
	r := v.run
	v.mu.Unlock()
	if r != nil {
		r.AddAudio(chunk)
	}
}

// Active returns the current run, or nil when none was begun. The returned
// run may already be finished.
func (v *Verifier) Active() *Run {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.run
}

// providerNames returns the configured provider names for metric attributes.
func (v *Verifier) providerNames() (primary, backup string) {
	primary = v.sessCfg.Primary.Name()
	if v.sessCfg.Backup != nil {
		backup = v.sessCfg.Backup.Name()
	}
	return primary, backup
}

// remainingPrompt joins the raw form of the expected words not yet settled,
// for provider prompt conditioning.
func remainingPrompt(tokens []quran.WordToken, settled int) string {
	if settled >= len(tokens) {
		return ""
	}
	var b strings.Builder
	for i, tok := range tokens[settled:] {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(tok.Raw)
	}
	return b.String()
}

// sinceSeconds returns the wall-clock seconds since t, or 0 when the run
// never reached READY.
func sinceSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return time.Since(t).Seconds()
}
