package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hifzlab/tasmee/internal/align"
	"github.com/hifzlab/tasmee/internal/highlight"
	"github.com/hifzlab/tasmee/internal/normalize"
	"github.com/hifzlab/tasmee/internal/observe"
	"github.com/hifzlab/tasmee/internal/quran"
	"github.com/hifzlab/tasmee/internal/session"
)

// defaultSubscriberBuffer is the update channel capacity handed to
// subscribers that do not choose one.
const defaultSubscriberBuffer = 16

// UpdateKind discriminates subscriber updates.
type UpdateKind string

// Update kinds, in the order a run emits them: one ready (repeated after a
// failover), any number of highlight updates, then exactly one result or
// error.
const (
	UpdateReady     UpdateKind = "ready"
	UpdateHighlight UpdateKind = "highlight"
	UpdateResult    UpdateKind = "result"
	UpdateError     UpdateKind = "error"
)

// Update is one entry of a run's ordered subscriber stream.
type Update struct {
	Kind UpdateKind

	// Committed holds the verdicts settled by a highlight update, in
	// position order.
	Committed []highlight.WordHighlight

	// Current is the word now awaited from the reciter; nil once every
	// expected word has been at least tentatively matched.
	Current *highlight.WordHighlight

	// Transcript is the cumulative transcript that produced a highlight
	// update.
	Transcript string

	// Result is set on UpdateResult.
	Result *VerificationResult

	// Err is set on UpdateError.
	Err error
}

// Run is one live verification attempt. Audio goes in through AddAudio;
// ordered updates come out through Subscribe; the finalized outcome is
// available through Result once Done is closed.
//
// The aligner and the committed-word cursor are owned by the run's consumer
// goroutine. The highlight map may be read concurrently at any time.
type Run struct {
	prepared Prepared
	sess     *session.Session
	inc      *align.Incremental
	tracker  *highlight.Map
	metrics  *observe.Metrics

	primaryName string
	backupName  string

	// settled counts committed verdicts; consumer-owned.
	settled int

	subMu      sync.Mutex
	subs       []chan Update
	subsClosed bool
	subDropped uint64

	done chan struct{}

	// Written by the consumer before done closes.
	final   VerificationResult
	termErr error
}

func newRun(prep Prepared, sess *session.Session, inc *align.Incremental, metrics *observe.Metrics, primary, backup string) *Run {
	return &Run{
		prepared:    prep,
		sess:        sess,
		inc:         inc,
		tracker:     highlight.NewMap(),
		metrics:     metrics,
		primaryName: primary,
		backupName:  backup,
		done:        make(chan struct{}),
	}
}

// AddAudio forwards a PCM16 mono 24 kHz chunk to the session. It never
// blocks; when the session queue is full the frame is dropped and counted.
func (r *Run) AddAudio(chunk []byte) { r.sess.AddAudio(chunk) }

// Stop requests a graceful end of the run: buffered audio is flushed and the
// final transcript settles every remaining word. Idempotent.
func (r *Run) Stop() { r.sess.Stop() }

// Done is closed once the run reached its terminal state and the result (or
// terminal error) is available.
func (r *Run) Done() <-chan struct{} { return r.done }

// Selection returns the selection this run verifies.
func (r *Run) Selection() quran.Selection { return r.prepared.Selection }

// Highlights returns the run's highlight map for concurrent reads. Callers
// must not mutate it.
func (r *Run) Highlights() *highlight.Map { return r.tracker }

// Result returns the finalized result. Before the terminal state it fails
// with ErrRunNotFinished; a run that ended with a terminal error yields that
// error.
func (r *Run) Result() (VerificationResult, error) {
	select {
	case <-r.done:
	default:
		return VerificationResult{}, ErrRunNotFinished
	}
	if r.termErr != nil {
		return VerificationResult{}, r.termErr
	}
	return r.final, nil
}

// DroppedUpdates returns the number of subscriber updates dropped because a
// subscriber's buffer was full.
func (r *Run) DroppedUpdates() uint64 {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	return r.subDropped
}

// Subscribe registers for the run's ordered update stream with the given
// buffer capacity (a default applies when buf is not positive). The channel
// closes at the terminal state. Sends never block the consumer: a subscriber
// that falls behind misses updates, so the terminal update is best-effort
// and [Run.Result] stays the authoritative outcome.
func (r *Run) Subscribe(buf int) <-chan Update {
	if buf <= 0 {
		buf = defaultSubscriberBuffer
	}
	ch := make(chan Update, buf)

	r.subMu.Lock()
	defer r.subMu.Unlock()
	if r.subsClosed {
		close(ch)
		return ch
	}
	r.subs = append(r.subs, ch)
	return ch
}

// finished reports whether the run reached its terminal state.
func (r *Run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// broadcast delivers one update to every subscriber without blocking.
func (r *Run) broadcast(u Update) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- u:
		default:
			r.subDropped++
		}
	}
}

// closeSubscribers closes every subscriber channel; later Subscribe calls
// get an already-closed channel.
func (r *Run) closeSubscribers() {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		close(ch)
	}
	r.subs = nil
	r.subsClosed = true
}

// ─── consumer ───────────────────────────────────────────────────────────────

// consume is the run's single consumer goroutine: it relays session events
// into aligner feeds, highlight writes, prompt updates, and subscriber
// broadcasts, then settles the terminal result.
func (r *Run) consume(ctx context.Context, events <-chan session.Event) {
	defer close(r.done)
	defer r.closeSubscribers()

	var (
		readyAt  time.Time
		latest   string
		finished bool
	)

	for ev := range events {
		switch ev.Type {
		case session.EventReady:
			if readyAt.IsZero() {
				readyAt = time.Now()
				// The reciter starts at the first expected word.
				r.markCurrent(r.currentAfter(r.settled))
			}
			r.broadcast(Update{Kind: UpdateReady, Current: r.currentHighlight()})

		case session.EventTranscription:
			latest = ev.Text
			r.applyTranscript(ctx, ev.Text)

		case session.EventCompleted:
			if ev.Text != "" {
				latest = ev.Text
			}
			r.finishCompleted(ctx, readyAt, latest)
			finished = true

		case session.EventError:
			r.finishError(ctx, readyAt, ev.Err)
			finished = true
		}
	}

	// A cancelled run context can end the event stream before the terminal
	// event is delivered.
	if !finished {
		err := ctx.Err()
		if err == nil {
			err = errors.New("session ended without terminal event")
		}
		r.finishError(ctx, readyAt, fmt.Errorf("verify: %w", err))
	}
}

// applyTranscript feeds one cumulative transcript into the aligner, writes
// the newly settled verdicts and the current marker into the tracker,
// refreshes the provider prompt, and broadcasts the update.
func (r *Run) applyTranscript(ctx context.Context, text string) {
	upd := r.inc.Feed(normalize.Words(text))

	committed := make([]highlight.WordHighlight, 0, len(upd.Committed))
	var correct, wrong int64
	for _, v := range upd.Committed {
		h := verdictHighlight(v)
		r.tracker.Set(h)
		committed = append(committed, h)
		if v.Correct {
			correct++
		} else {
			wrong++
		}
	}
	r.settled += len(upd.Committed)

	var current *highlight.WordHighlight
	if upd.Current != nil {
		h := r.markCurrent(upd.Current)
		current = &h
	}

	if len(upd.Committed) > 0 {
		r.metrics.RecordVerifiedWords(ctx, correct, wrong)
		r.sess.UpdateExpectedText(remainingPrompt(r.prepared.Tokens, r.settled))
	}
	r.broadcast(Update{
		Kind:       UpdateHighlight,
		Committed:  committed,
		Current:    current,
		Transcript: text,
	})
}

// finishCompleted settles every remaining word against the final transcript
// and publishes the result.
func (r *Run) finishCompleted(ctx context.Context, readyAt time.Time, finalText string) {
	res := r.inc.Finalize(normalize.Words(finalText))
	for _, v := range res.Verdicts[r.settled:] {
		r.tracker.Set(verdictHighlight(v))
	}
	r.settled = len(res.Verdicts)

	r.final = VerificationResult{
		Selection:          r.prepared.Selection,
		AccuracyPercentage: res.Accuracy,
		Mismatches:         res.Mismatches,
		DurationSeconds:    sinceSeconds(readyAt),
		ExpectedText:       r.prepared.ExpectedText(),
		TranscribedText:    finalText,
	}

	r.recordOutcome(ctx, nil)
	r.metrics.RecordSessionResult(ctx, r.final.DurationSeconds, r.final.AccuracyPercentage)
	slog.Info("verification completed",
		"selection", r.prepared.Selection.String(),
		"accuracy", r.final.AccuracyPercentage,
		"mismatches", len(r.final.Mismatches),
		"duration_s", r.final.DurationSeconds,
	)
	r.broadcast(Update{Kind: UpdateResult, Result: &r.final})
}

// finishError publishes the terminal error without fabricating a result.
func (r *Run) finishError(ctx context.Context, readyAt time.Time, err error) {
	r.termErr = err
	r.recordOutcome(ctx, err)
	slog.Warn("verification failed",
		"selection", r.prepared.Selection.String(),
		"duration_s", sinceSeconds(readyAt),
		"err", err,
	)
	r.broadcast(Update{Kind: UpdateError, Err: err})
}

// recordOutcome records the per-provider request and error counters plus the
// failover and dropped-frame totals for this run.
func (r *Run) recordOutcome(ctx context.Context, termErr error) {
	failedOver := r.sess.Failovers() > 0
	switch {
	case !failedOver && termErr == nil:
		r.metrics.RecordProviderRequest(ctx, r.primaryName, "primary", "ok")
	case !failedOver:
		r.metrics.RecordProviderRequest(ctx, r.primaryName, "primary", "error")
		r.metrics.RecordProviderError(ctx, r.primaryName, "primary")
	case termErr == nil:
		r.metrics.RecordProviderRequest(ctx, r.primaryName, "primary", "error")
		r.metrics.RecordProviderError(ctx, r.primaryName, "primary")
		r.metrics.RecordProviderRequest(ctx, r.backupName, "backup", "ok")
	default:
		r.metrics.RecordProviderRequest(ctx, r.primaryName, "primary", "error")
		r.metrics.RecordProviderError(ctx, r.primaryName, "primary")
		r.metrics.RecordProviderRequest(ctx, r.backupName, "backup", "error")
		r.metrics.RecordProviderError(ctx, r.backupName, "backup")
	}

	if n := r.sess.Failovers(); n > 0 {
		r.metrics.Failovers.Add(ctx, int64(n))
	}
	if n := r.sess.DroppedFrames(); n > 0 {
		r.metrics.DroppedFrames.Add(ctx, int64(n))
	}
	r.metrics.ActiveSessions.Add(ctx, -1)
}

// markCurrent writes the current marker for tok into the tracker and returns
// the stored highlight. A nil tok leaves the tracker untouched.
func (r *Run) markCurrent(tok *quran.WordToken) highlight.WordHighlight {
	if tok == nil {
		return highlight.WordHighlight{}
	}
	h := highlight.WordHighlight{
		Position: tok.Position,
		Word:     tok.Raw,
		Status:   highlight.StatusCurrent,
	}
	r.tracker.Set(h)
	return h
}

// currentAfter returns the expected token at index i, or nil past the end.
func (r *Run) currentAfter(i int) *quran.WordToken {
	if i < 0 || i >= len(r.prepared.Tokens) {
		return nil
	}
	tok := r.prepared.Tokens[i]
	return &tok
}

// currentHighlight returns a copy of the tracker's current marker, if any.
func (r *Run) currentHighlight() *highlight.WordHighlight {
	if h, ok := r.tracker.CurrentWord(); ok {
		return &h
	}
	return nil
}

// verdictHighlight converts a settled verdict into its highlight entry. The
// display form is the raw word; Transcribed carries what was actually heard.
func verdictHighlight(v align.WordVerdict) highlight.WordHighlight {
	status := highlight.StatusError
	if v.Correct {
		status = highlight.StatusCorrect
	}
	return highlight.WordHighlight{
		Position:    v.Token.Position,
		Word:        v.Token.Raw,
		Transcribed: v.Transcribed,
		Status:      status,
	}
}
