// Package session implements the streaming transcription session: one
// verification attempt at a time, driven through a PRIMARY ASR provider with
// a single failover to a BACKUP provider.
//
// The capture producer pushes audio through a bounded queue and never blocks
// on verification work; when the queue is full the frame is dropped and
// counted. A single run goroutine owns the provider stream, performs the
// failover, and emits an ordered event stream to exactly one consumer.
//
// Failover policy: a provider failure during connect, or during streaming
// before the first transcript, switches to the backup exactly once per run,
// replaying the audio sent so far. Any later failure is terminal. Failure to
// reach ready within the configured timeout counts as a provider failure.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hifzlab/tasmee/pkg/asr"
)

const (
	defaultReadyTimeout = 15 * time.Second
	defaultQueueSize    = 256

	// maxReplayBytes bounds the audio retained for failover replay. At the
	// engine format (48 kB/s) this is around 40 seconds; a provider that has
	// not produced a transcript by then has effectively failed already.
	maxReplayBytes = 2 << 20
)

var (
	// ErrSessionActive is returned by Start and Reset while a run is active.
	ErrSessionActive = errors.New("session: already active")

	// ErrNoPrimary is returned by New when no primary provider is given.
	ErrNoPrimary = errors.New("session: primary provider must not be nil")

	// ErrReadyTimeout marks a provider that did not become ready in time.
	ErrReadyTimeout = errors.New("session: provider not ready within timeout")
)

// State is the session lifecycle state.
type State int

// Session states. A run moves IDLE → READY → STREAMING and ends in COMPLETED
// or ERROR; starting from a terminal state resets to a fresh run.
const (
	StateIdle State = iota
	StateReady
	StateStreaming
	StateCompleted
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateReady:
		return "READY"
	case StateStreaming:
		return "STREAMING"
	case StateCompleted:
		return "COMPLETED"
	case StateError:
		return "ERROR"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether the state is COMPLETED or ERROR.
func (s State) Terminal() bool { return s == StateCompleted || s == StateError }

// EventType discriminates session events.
type EventType int

// Session event types, in the order a run emits them.
const (
	// EventReady signals the active provider accepted the stream. Emitted
	// again after a failover.
	EventReady EventType = iota

	// EventTranscription carries the cumulative transcript so far.
	EventTranscription

	// EventCompleted is terminal; Text holds the final transcript.
	EventCompleted

	// EventError is terminal; Err holds the cause.
	EventError
)

// Event is one entry of a run's ordered event stream.
type Event struct {
	Type EventType
	Text string
	Err  error
}

// Config configures a [Session].
type Config struct {
	// Primary is the preferred provider. Required.
	Primary asr.Provider

	// Backup is tried exactly once if the primary fails before producing a
	// transcript. Nil disables failover.
	Backup asr.Provider

	// Stream carries the base stream settings (sample rate, channels,
	// language, model). Its Prompt field is ignored; the prompt is set per
	// Start.
	Stream asr.StreamConfig

	// ReadyTimeout bounds connect plus the wait for the provider's ready
	// event. Defaults to 15s if zero.
	ReadyTimeout time.Duration

	// QueueSize is the audio queue capacity in chunks. When the queue is
	// full, AddAudio drops the frame. Defaults to 256 if zero.
	QueueSize int
}

// Session manages streaming verification attempts. One run is active at a
// time; AddAudio, UpdateExpectedText and Stop outside an active run are
// silent no-ops so capture-thread races are harmless.
//
// All methods are safe for concurrent use. The event channel returned by
// Start is for a single consumer.
type Session struct {
	primary      asr.Provider
	backup       asr.Provider
	streamCfg    asr.StreamConfig
	readyTimeout time.Duration
	queueSize    int

	droppedFrames atomic.Uint64
	failovers     atomic.Uint64

	mu    sync.Mutex
	state State
	run   *run
}

// run holds the per-attempt channels. A fresh run is created on each Start.
type run struct {
	events   chan Event
	audio    chan []byte
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	promptMu      sync.Mutex
	pendingPrompt string
	promptNotify  chan struct{}
}

// New creates a Session.
func New(cfg Config) (*Session, error) {
	if cfg.Primary == nil {
		return nil, ErrNoPrimary
	}
	readyTimeout := cfg.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = defaultReadyTimeout
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Session{
		primary:      cfg.Primary,
		backup:       cfg.Backup,
		streamCfg:    cfg.Stream,
		readyTimeout: readyTimeout,
		queueSize:    queueSize,
		state:        StateIdle,
	}, nil
}

// Start begins a new run with the given expected-text prompt. Valid from
// IDLE or a terminal state (which implies reset). It returns the run's
// ordered event channel; the channel closes after the terminal event.
//
// Connecting happens asynchronously: the first event is either Ready or a
// terminal Error. Cancelling ctx abandons the run.
func (s *Session) Start(ctx context.Context, prompt string) (<-chan Event, error) {
	s.mu.Lock()
	if s.state != StateIdle && !s.state.Terminal() {
		s.mu.Unlock()
		return nil, ErrSessionActive
	}
	if s.run != nil {
		select {
		case <-s.run.done:
		default:
			// Still connecting: the state leaves IDLE only once the
			// provider is ready, but the run already owns a stream.
			s.mu.Unlock()
			return nil, ErrSessionActive
		}
	}
	r := &run{
		events:       make(chan Event, 64),
		audio:        make(chan []byte, s.queueSize),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		promptNotify: make(chan struct{}, 1),
	}
	s.run = r
	s.state = StateIdle
	s.mu.Unlock()

	go s.runLoop(ctx, r, prompt)
	return r.events, nil
}

// AddAudio enqueues a PCM16 mono 24 kHz chunk for the active run. It never
// blocks: with no active run (or after Stop) it is a no-op, and when the
// queue is full the frame is dropped and counted. The chunk is copied.
func (s *Session) AddAudio(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	r := s.currentRun()
	if r == nil {
		return
	}
	select {
	case <-r.stop:
		return
	case <-r.done:
		return
	default:
	}

	c := make([]byte, len(chunk))
	copy(c, chunk)
	select {
	case r.audio <- c:
	default:
		s.droppedFrames.Add(1)
	}
}

// UpdateExpectedText replaces the conditioning prompt sent to the active
// provider. Successive calls coalesce to the latest text. No-op when the
// session is not active.
func (s *Session) UpdateExpectedText(text string) {
	r := s.currentRun()
	if r == nil {
		return
	}
	select {
	case <-r.stop:
		return
	case <-r.done:
		return
	default:
	}

	r.promptMu.Lock()
	r.pendingPrompt = text
	r.promptMu.Unlock()
	select {
	case r.promptNotify <- struct{}{}:
	default:
	}
}

// Stop ends the active run gracefully: queued audio is flushed, the final
// transcript is requested, and the run finishes with Completed. Idempotent;
// a no-op when no run is active. Provider resources are released exactly
// once regardless of in-flight failures.
func (s *Session) Stop() {
	r := s.currentRun()
	if r == nil {
		return
	}
	r.stopOnce.Do(func() { close(r.stop) })
}

// Reset returns a terminal session to IDLE. Errors while a run is active.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle && !s.state.Terminal() {
		return ErrSessionActive
	}
	s.state = StateIdle
	s.run = nil
	return nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// DroppedFrames returns the number of audio chunks dropped across all runs
// because the queue was full.
func (s *Session) DroppedFrames() uint64 { return s.droppedFrames.Load() }

// Failovers returns the number of PRIMARY→BACKUP switches across all runs.
func (s *Session) Failovers() uint64 { return s.failovers.Load() }

func (s *Session) currentRun() *run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// markStreaming moves READY to STREAMING on the first forwarded chunk.
func (s *Session) markStreaming() {
	s.mu.Lock()
	if s.state == StateReady {
		s.state = StateStreaming
	}
	s.mu.Unlock()
}

// ─── run loop ───────────────────────────────────────────────────────────────

// runLoop owns the provider stream for one attempt: it connects (with the
// single failover), forwards audio, relays events, and settles the terminal
// state. It is the only goroutine touching the stream.
func (s *Session) runLoop(ctx context.Context, r *run, prompt string) {
	defer close(r.done)
	defer close(r.events)

	// emit delivers in order to the single consumer; it gives up only when
	// the run context is cancelled.
	emit := func(ev Event) bool {
		select {
		case r.events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	finish := func(state State, ev Event) {
		s.setState(state)
		emit(ev)
	}

	currentPrompt := prompt
	provider := s.primary
	role := "primary"

	stream, err := s.connectReady(ctx, provider, currentPrompt)
	if err != nil {
		if ctx.Err() != nil {
			finish(StateError, Event{Type: EventError, Err: fmt.Errorf("session: %w", ctx.Err())})
			return
		}
		if s.backup == nil {
			finish(StateError, Event{Type: EventError, Err: fmt.Errorf("session: primary %s: %w", provider.Name(), err)})
			return
		}
		slog.Warn("session: primary connect failed, failing over",
			"primary", provider.Name(), "backup", s.backup.Name(), "error", err)
		s.failovers.Add(1)
		provider, role = s.backup, "backup"
		backupStream, berr := s.connectReady(ctx, provider, currentPrompt)
		if berr != nil {
			finish(StateError, Event{Type: EventError,
				Err: fmt.Errorf("session: all providers failed: %w", errors.Join(err, berr))})
			return
		}
		stream = backupStream
	}
	failedOver := role == "backup"

	s.setState(StateReady)
	if !emit(Event{Type: EventReady}) {
		stream.Close()
		s.setState(StateError)
		return
	}

	var (
		replay        [][]byte
		replayBytes   int
		hadTranscript bool
		latest        string
		stopping      bool
	)
	stopCh := r.stop

	terminal := func(err error) {
		stream.Close()
		finish(StateError, Event{Type: EventError, Err: err})
	}

	// send forwards one chunk, retaining it for replay while the run is
	// still failover-eligible.
	send := func(chunk []byte) error {
		if !hadTranscript {
			replay = append(replay, chunk)
			replayBytes += len(chunk)
			for replayBytes > maxReplayBytes && len(replay) > 0 {
				replayBytes -= len(replay[0])
				replay = replay[1:]
			}
		}
		return stream.Send(chunk)
	}

	// failover handles a provider failure. It returns nil when the run
	// recovered on the backup, or the terminal error otherwise.
	failover := func(cause error) error {
		if hadTranscript || failedOver || s.backup == nil {
			return fmt.Errorf("session: %s %s: %w", role, provider.Name(), cause)
		}
		failedOver = true
		s.failovers.Add(1)
		stream.Close()
		slog.Info("session: failing over to backup",
			"from", provider.Name(), "to", s.backup.Name(), "cause", cause)

		next, err := s.connectReady(ctx, s.backup, currentPrompt)
		if err != nil {
			return fmt.Errorf("session: all providers failed: %w", errors.Join(cause, err))
		}
		provider, role = s.backup, "backup"
		stream = next
		if !emit(Event{Type: EventReady}) {
			return fmt.Errorf("session: %w", ctx.Err())
		}
		for _, chunk := range replay {
			if err := stream.Send(chunk); err != nil {
				return fmt.Errorf("session: replay to backup %s: %w", provider.Name(), err)
			}
		}
		if stopping {
			if err := stream.Finalize(); err != nil {
				return fmt.Errorf("session: finalize on backup %s: %w", provider.Name(), err)
			}
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			terminal(fmt.Errorf("session: %w", ctx.Err()))
			return

		case <-stopCh:
			stopCh = nil
			stopping = true
			var ferr error
		drain:
			for {
				select {
				case chunk := <-r.audio:
					s.markStreaming()
					if err := send(chunk); err != nil {
						ferr = fmt.Errorf("flush: %w", err)
						break drain
					}
				default:
					break drain
				}
			}
			if ferr == nil {
				if err := stream.Finalize(); err != nil {
					ferr = fmt.Errorf("finalize: %w", err)
				}
			}
			if ferr != nil {
				if err := failover(ferr); err != nil {
					terminal(err)
					return
				}
			}

		case chunk := <-r.audio:
			if stopping {
				continue
			}
			s.markStreaming()
			if err := send(chunk); err != nil {
				if ferr := failover(fmt.Errorf("send: %w", err)); ferr != nil {
					terminal(ferr)
					return
				}
			}

		case <-r.promptNotify:
			r.promptMu.Lock()
			text := r.pendingPrompt
			r.promptMu.Unlock()
			currentPrompt = text
			if err := stream.UpdatePrompt(text); err != nil {
				slog.Debug("session: prompt update failed",
					"provider", provider.Name(), "error", err)
			}

		case ev, ok := <-stream.Events():
			if !ok {
				if err := failover(errors.New("stream closed without terminal event")); err != nil {
					terminal(err)
					return
				}
				continue
			}
			switch ev.Type {
			case asr.EventReady:
				// Duplicate ready from the provider; already relayed.

			case asr.EventTranscript:
				hadTranscript = true
				replay, replayBytes = nil, 0
				latest = ev.Text
				if !emit(Event{Type: EventTranscription, Text: ev.Text}) {
					stream.Close()
					s.setState(StateError)
					return
				}

			case asr.EventCompleted:
				final := ev.Text
				if final == "" {
					final = latest
				}
				stream.Close()
				finish(StateCompleted, Event{Type: EventCompleted, Text: final})
				return

			case asr.EventError:
				if err := failover(fmt.Errorf("stream: %w", ev.Err)); err != nil {
					terminal(err)
					return
				}
			}
		}
	}
}

// connectReady connects the provider and waits for its ready event. The
// configured ready timeout bounds both phases together.
func (s *Session) connectReady(ctx context.Context, p asr.Provider, prompt string) (asr.Stream, error) {
	cfg := s.streamCfg
	cfg.Prompt = prompt

	type result struct {
		stream asr.Stream
		err    error
	}
	connected := make(chan result, 1)
	go func() {
		stream, err := p.Connect(ctx, cfg)
		connected <- result{stream, err}
	}()

	// reap closes a stream from a connect that finishes after we gave up.
	reap := func() {
		go func() {
			if res := <-connected; res.stream != nil {
				res.stream.Close()
			}
		}()
	}

	timer := time.NewTimer(s.readyTimeout)
	defer timer.Stop()

	var stream asr.Stream
	select {
	case res := <-connected:
		if res.err != nil {
			return nil, fmt.Errorf("connect %s: %w", p.Name(), res.err)
		}
		stream = res.stream
	case <-timer.C:
		reap()
		return nil, fmt.Errorf("connect %s: %w", p.Name(), ErrReadyTimeout)
	case <-ctx.Done():
		reap()
		return nil, fmt.Errorf("connect %s: %w", p.Name(), ctx.Err())
	}

	select {
	case ev, ok := <-stream.Events():
		if !ok {
			stream.Close()
			return nil, fmt.Errorf("connect %s: stream closed before ready", p.Name())
		}
		switch ev.Type {
		case asr.EventReady:
			return stream, nil
		case asr.EventError:
			stream.Close()
			return nil, fmt.Errorf("connect %s: %w", p.Name(), ev.Err)
		default:
			stream.Close()
			return nil, fmt.Errorf("connect %s: unexpected event before ready", p.Name())
		}
	case <-timer.C:
		stream.Close()
		return nil, fmt.Errorf("connect %s: %w", p.Name(), ErrReadyTimeout)
	case <-ctx.Done():
		stream.Close()
		return nil, fmt.Errorf("connect %s: %w", p.Name(), ctx.Err())
	}
}
