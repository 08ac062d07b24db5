// Package whispercpp provides an offline backup ASR provider backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a) and
// headers (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
//
// The model runs locally, so this provider keeps verification available when
// no hosted backend is reachable. It uses the same energy-based segmentation
// as the openai provider: buffered PCM is cut at silence boundaries and each
// segment is run through the model. whisper.cpp expects 16 kHz mono float32
// input; incoming audio is converted per inference.
//
// The model is loaded once per Provider and shared across streams; each
// inference creates its own whisper context, which is not thread-safe, from
// the shared model.
package whispercpp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/hifzlab/tasmee/pkg/asr"
	"github.com/hifzlab/tasmee/pkg/audio"
)

const (
	// whisperSampleRate is the fixed input rate of whisper.cpp.
	whisperSampleRate = 16000

	// rmsThreshold mirrors the openai provider's silence level: RMS below
	// this (in 16-bit PCM units) counts as silence.
	rmsThreshold = 300.0

	defaultLanguage            = "ar"
	defaultSampleRate          = 24000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the language code passed to whisper.cpp (e.g., "ar").
// Defaults to "ar".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSampleRate sets the provider-level default input sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithSilenceThresholdMs sets the consecutive-silence duration (ms) that
// triggers inference on the buffered segment. Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) { p.silenceThresholdMs = ms }
}

// WithMaxBufferDurationMs sets the maximum buffered audio duration (ms)
// before inference is forced. Defaults to 10 000 ms.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) { p.maxBufferDurationMs = ms }
}

// Provider implements asr.Provider using local whisper.cpp inference.
type Provider struct {
	model    whisperlib.Model
	language string

	sampleRate          int
	silenceThresholdMs  int
	maxBufferDurationMs int
}

// Compile-time assertion that Provider implements asr.Provider.
var _ asr.Provider = (*Provider)(nil)

// New creates a Provider that loads the whisper.cpp model from the given
// file path. The caller must call Close when the provider is no longer
// needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whispercpp: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whispercpp: load model %q: %w", modelPath, err)
	}

	p := &Provider{
		model:               model,
		language:            defaultLanguage,
		sampleRate:          defaultSampleRate,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name returns "whispercpp".
func (p *Provider) Name() string { return "whispercpp" }

// Close releases the whisper model. Streams opened from this provider must
// be closed first.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Connect opens a new local recognition stream. The stream is ready
// immediately; inference happens on segment boundaries.
func (p *Provider) Connect(ctx context.Context, cfg asr.StreamConfig) (asr.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whispercpp: context already cancelled: %w", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = p.sampleRate
	}
	ch := cfg.Channels
	if ch <= 0 {
		ch = 1
	}

	s := &stream{
		model:               p.model,
		language:            lang,
		sampleRate:          sr,
		channels:            ch,
		silenceThresholdMs:  p.silenceThresholdMs,
		maxBufferDurationMs: p.maxBufferDurationMs,

		prompt:   cfg.Prompt,
		msgs:     make(chan streamMsg, 256),
		events:   make(chan asr.Event, 64),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.processLoop(ctx)

	return s, nil
}

// ─── stream ─────────────────────────────────────────────────────────────────

// streamMsg is one unit of work for the process loop: an audio chunk or the
// finalize marker.
type streamMsg struct {
	chunk    []byte
	finalize bool
}

// stream is a live local recognition stream. It implements asr.Stream. All
// buffer and segmentation state is confined to the processLoop goroutine.
type stream struct {
	// immutable configuration (set once in Connect)
	model               whisperlib.Model
	language            string
	sampleRate          int
	channels            int
	silenceThresholdMs  int
	maxBufferDurationMs int

	msgs   chan streamMsg
	events chan asr.Event

	promptMu sync.Mutex
	prompt   string

	// lifecycle
	done     chan struct{}
	loopDone chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

var _ asr.Stream = (*stream)(nil)

// Send queues a chunk of raw PCM16 audio for silence analysis and buffering.
func (s *stream) Send(chunk []byte) error {
	if err := s.closedErr(); err != nil {
		return err
	}
	select {
	case s.msgs <- streamMsg{chunk: chunk}:
		return nil
	case <-s.done:
		return fmt.Errorf("whispercpp: %w", asr.ErrStreamClosed)
	case <-s.loopDone:
		return fmt.Errorf("whispercpp: %w", asr.ErrStreamClosed)
	}
}

// UpdatePrompt replaces the initial prompt passed to inferences from now on.
func (s *stream) UpdatePrompt(text string) error {
	if err := s.closedErr(); err != nil {
		return err
	}
	s.promptMu.Lock()
	s.prompt = text
	s.promptMu.Unlock()
	return nil
}

// Finalize queues the finalize marker. The process loop runs inference on
// any buffered speech, emits EventCompleted, and exits.
func (s *stream) Finalize() error {
	if err := s.closedErr(); err != nil {
		return err
	}
	select {
	case s.msgs <- streamMsg{finalize: true}:
		return nil
	case <-s.done:
		return fmt.Errorf("whispercpp: %w", asr.ErrStreamClosed)
	case <-s.loopDone:
		return fmt.Errorf("whispercpp: %w", asr.ErrStreamClosed)
	}
}

// Events returns the ordered event channel.
func (s *stream) Events() <-chan asr.Event { return s.events }

// Close terminates the stream immediately, discarding buffered audio. Safe
// to call more than once.
func (s *stream) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

func (s *stream) closedErr() error {
	select {
	case <-s.done:
		return fmt.Errorf("whispercpp: %w", asr.ErrStreamClosed)
	case <-s.loopDone:
		return fmt.Errorf("whispercpp: %w", asr.ErrStreamClosed)
	default:
		return nil
	}
}

func (s *stream) currentPrompt() string {
	s.promptMu.Lock()
	defer s.promptMu.Unlock()
	return s.prompt
}

// processLoop is the single goroutine responsible for silence detection,
// audio buffering, inference dispatch, and event emission.
func (s *stream) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.events)
	defer close(s.loopDone)

	s.emit(asr.Event{Type: asr.EventReady})

	var (
		buffer    []byte
		hadSpeech bool
		silenceMs int
		segments  []string
	)

	bytesPerMs := s.sampleRate * s.channels * (audio.BitsPerSample / 8) / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 48
	}
	maxBufferBytes := s.maxBufferDurationMs * bytesPerMs

	doFlush := func() error {
		if len(buffer) == 0 || !hadSpeech {
			buffer = nil
			hadSpeech = false
			silenceMs = 0
			return nil
		}

		pcm := buffer
		buffer = nil
		hadSpeech = false
		silenceMs = 0

		text, err := s.infer(pcm)
		if err != nil {
			return err
		}
		if text == "" {
			return nil
		}

		segments = append(segments, text)
		s.emit(asr.Event{Type: asr.EventTranscript, Text: strings.Join(segments, " ")})
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-s.done:
			return

		case msg := <-s.msgs:
			if msg.finalize {
				if err := doFlush(); err != nil {
					s.emit(asr.Event{Type: asr.EventError, Err: fmt.Errorf("whispercpp: infer: %w", err)})
					return
				}
				s.emit(asr.Event{Type: asr.EventCompleted, Text: strings.Join(segments, " ")})
				return
			}

			chunk := msg.chunk
			rms := audio.RMS(chunk)
			chunkMs := audio.DurationMs(chunk, s.sampleRate, s.channels)

			if rms < rmsThreshold {
				if hadSpeech {
					silenceMs += chunkMs
					buffer = append(buffer, chunk...)
					if silenceMs >= s.silenceThresholdMs {
						if err := doFlush(); err != nil {
							s.emit(asr.Event{Type: asr.EventError, Err: fmt.Errorf("whispercpp: infer: %w", err)})
							return
						}
					}
				}
				// Leading silence before any speech is discarded.
			} else {
				hadSpeech = true
				silenceMs = 0
				buffer = append(buffer, chunk...)
				if maxBufferBytes > 0 && len(buffer) >= maxBufferBytes {
					if err := doFlush(); err != nil {
						s.emit(asr.Event{Type: asr.EventError, Err: fmt.Errorf("whispercpp: infer: %w", err)})
						return
					}
				}
			}
		}
	}
}

// emit delivers an event unless the stream was closed underneath us.
func (s *stream) emit(ev asr.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// infer converts the buffered PCM to 16 kHz mono float32, runs whisper.cpp
// inference using a fresh context, and returns the concatenated text.
func (s *stream) infer(pcm []byte) (string, error) {
	mono := pcm
	if s.channels == 2 {
		mono = audio.StereoToMono(pcm)
	}
	mono = audio.ResampleMono16(mono, s.sampleRate, whisperSampleRate)
	samples := audio.Float32Mono(mono, 1)

	wctx, err := s.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("create context: %w", err)
	}

	if err := wctx.SetLanguage(s.language); err != nil {
		slog.Warn("whispercpp: failed to set language, using model default",
			"language", s.language, "error", err)
	}
	if prompt := s.currentPrompt(); prompt != "" {
		wctx.SetInitialPrompt(prompt)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}
