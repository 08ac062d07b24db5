// Package openai provides the backup recitation ASR provider, backed by the
// OpenAI audio transcription API.
//
// The API is batch-only, so the stream simulates realtime behaviour the same
// way a local whisper deployment would: incoming PCM is buffered, an
// energy-based silence detector segments utterances, and each completed
// segment is uploaded as a WAV file. Transcribed segments accumulate into the
// cumulative hypothesis required by the asr.Stream contract.
//
// The expected recitation text is passed as the transcription prompt, biasing
// recognition toward the canonical wording.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/hifzlab/tasmee/pkg/asr"
	"github.com/hifzlab/tasmee/pkg/audio"
)

const (
	// rmsThreshold is the root-mean-square energy level (in 16-bit PCM
	// units) below which audio is considered silent. The maximum possible
	// value for 16-bit audio is 32767; 300 corresponds to near-silence.
	rmsThreshold = 300.0

	defaultModel               = oai.AudioModelWhisper1
	defaultLanguage            = "ar"
	defaultSampleRate          = 24000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000

	// finalFlushTimeout bounds the last upload when the stream is finalized.
	finalFlushTimeout = 30 * time.Second
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the transcription model (e.g., "whisper-1",
// "gpt-4o-mini-transcribe").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = oai.AudioModel(model)
	}
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = url
	}
}

// WithLanguage sets the ISO-639-1 language code for transcription. Defaults
// to "ar".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.timeout = d
	}
}

// WithSampleRate sets the provider-level default sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithSilenceThresholdMs sets the consecutive-silence duration (ms) that
// triggers a segment upload. Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) {
		p.silenceThresholdMs = ms
	}
}

// WithMaxBufferDurationMs sets the maximum buffered audio duration (ms)
// before an upload is forced regardless of silence. Defaults to 10 000 ms.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) {
		p.maxBufferDurationMs = ms
	}
}

// Provider implements asr.Provider using the OpenAI transcription API.
// Multiple streams may be open simultaneously; each maintains its own buffer
// and goroutine.
type Provider struct {
	client              oai.Client
	model               oai.AudioModel
	language            string
	sampleRate          int
	silenceThresholdMs  int
	maxBufferDurationMs int

	baseURL string
	timeout time.Duration
}

// Compile-time assertion that Provider implements asr.Provider.
var _ asr.Provider = (*Provider)(nil)

// New creates an OpenAI transcription Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	p := &Provider{
		model:               defaultModel,
		language:            defaultLanguage,
		sampleRate:          defaultSampleRate,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
	}
	for _, o := range opts {
		o(p)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if p.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(p.baseURL))
	}
	if p.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: p.timeout,
		}))
	}
	p.client = oai.NewClient(reqOpts...)

	return p, nil
}

// Name returns "openai".
func (p *Provider) Name() string { return "openai" }

// Connect opens a new simulated stream. No network connection is established
// until the first segment upload, so the stream is ready immediately.
func (p *Provider) Connect(ctx context.Context, cfg asr.StreamConfig) (asr.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("openai: context already cancelled: %w", err)
	}

	model := p.model
	if cfg.Model != "" {
		model = oai.AudioModel(cfg.Model)
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
		client:              p.client,
		model:               model,
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
// finalize marker. Routing both through one channel keeps them ordered.
type streamMsg struct {
	chunk    []byte
	finalize bool
}

// stream is a live simulated recognition stream. It implements asr.Stream.
// All buffer and segmentation state is confined to the processLoop goroutine.
type stream struct {
	// immutable configuration (set once in Connect)
	client              oai.Client
	model               oai.AudioModel
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
		return fmt.Errorf("openai: %w", asr.ErrStreamClosed)
	case <-s.loopDone:
		return fmt.Errorf("openai: %w", asr.ErrStreamClosed)
	}
}

// UpdatePrompt replaces the conditioning prompt used for segments uploaded
// from now on.
func (s *stream) UpdatePrompt(text string) error {
	if err := s.closedErr(); err != nil {
		return err
	}
	s.promptMu.Lock()
	s.prompt = text
	s.promptMu.Unlock()
	return nil
}

// Finalize queues the finalize marker. The process loop uploads any buffered
// speech, emits EventCompleted with the cumulative transcript, and exits.
func (s *stream) Finalize() error {
	if err := s.closedErr(); err != nil {
		return err
	}
	select {
	case s.msgs <- streamMsg{finalize: true}:
		return nil
	case <-s.done:
		return fmt.Errorf("openai: %w", asr.ErrStreamClosed)
	case <-s.loopDone:
		return fmt.Errorf("openai: %w", asr.ErrStreamClosed)
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

// closedErr reports ErrStreamClosed once the stream is shut down or its loop
// has emitted a terminal event.
func (s *stream) closedErr() error {
	select {
	case <-s.done:
		return fmt.Errorf("openai: %w", asr.ErrStreamClosed)
	case <-s.loopDone:
		return fmt.Errorf("openai: %w", asr.ErrStreamClosed)
	default:
		return nil
	}
}

// currentPrompt returns the conditioning prompt under the lock.
func (s *stream) currentPrompt() string {
	s.promptMu.Lock()
	defer s.promptMu.Unlock()
	return s.prompt
}

// processLoop is the single goroutine responsible for silence detection,
// audio buffering, segment upload, and event emission. It owns the events
// channel and closes it on exit.
func (s *stream) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.events)
	defer close(s.loopDone)

	s.emit(asr.Event{Type: asr.EventReady})

	var (
		buffer    []byte   // accumulated PCM for the current segment
		hadSpeech bool     // true once any high-energy chunk has been buffered
		silenceMs int      // consecutive silence accumulated after speech (ms)
		segments  []string // transcribed segment texts, in order
	)

	bytesPerMs := s.sampleRate * s.channels * (audio.BitsPerSample / 8) / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 48 // 24 kHz, mono, 16-bit
	}
	maxBufferBytes := s.maxBufferDurationMs * bytesPerMs

	// doFlush uploads the buffered segment and appends its text. It resets
	// the buffer state regardless of outcome and reports upload failure.
	doFlush := func(flushCtx context.Context) error {
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

		text, err := s.transcribe(flushCtx, pcm)
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
				fc, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
				err := doFlush(fc)
				cancel()
				if err != nil {
					s.emit(asr.Event{Type: asr.EventError, Err: fmt.Errorf("openai: transcribe: %w", err)})
					return
				}
				s.emit(asr.Event{Type: asr.EventCompleted, Text: strings.Join(segments, " ")})
				return
			}

			chunk := msg.chunk
			rms := audio.RMS(chunk)
			chunkMs := audio.DurationMs(chunk, s.sampleRate, s.channels)

			if rms < rmsThreshold {
				// Silent chunk: only relevant once speech has started.
				// Leading silence before any speech is discarded.
				if hadSpeech {
					silenceMs += chunkMs
					buffer = append(buffer, chunk...)
					if silenceMs >= s.silenceThresholdMs {
						if err := doFlush(ctx); err != nil {
							s.emit(asr.Event{Type: asr.EventError, Err: fmt.Errorf("openai: transcribe: %w", err)})
							return
						}
					}
				}
			} else {
				hadSpeech = true
				silenceMs = 0
				buffer = append(buffer, chunk...)
				if maxBufferBytes > 0 && len(buffer) >= maxBufferBytes {
					if err := doFlush(ctx); err != nil {
						s.emit(asr.Event{Type: asr.EventError, Err: fmt.Errorf("openai: transcribe: %w", err)})
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

// transcribe encodes pcm as WAV and uploads it to the transcription API,
// returning the segment text.
func (s *stream) transcribe(ctx context.Context, pcm []byte) (string, error) {
	wav := audio.EncodeWAV(pcm, s.sampleRate, s.channels)

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "segment.wav", "audio/wav"),
		Model: s.model,
	}
	if prompt := s.currentPrompt(); prompt != "" {
		params.Prompt = param.NewOpt(prompt)
	}
	if s.language != "" {
		params.Language = param.NewOpt(s.language)
	}

	resp, err := s.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}
