// Package iqra provides the primary recitation ASR provider, backed by an
// Iqra streaming recognition endpoint. Iqra is a purpose-built Quran
// recitation recognizer: it is conditioned on the expected text and emits
// cumulative transcript hypotheses over a WebSocket.
//
// Protocol, client to server:
//
//	{"type":"start","prompt":"...","sample_rate":24000,"channels":1,"language":"ar","model":"..."}
//	binary frames: raw little-endian PCM16 audio
//	{"type":"update_prompt","prompt":"..."}
//	{"type":"finalize"}
//
// Server to client, all JSON text frames:
//
//	{"type":"ready"}
//	{"type":"transcript","text":"..."}   cumulative hypothesis
//	{"type":"completed","text":"..."}    final transcript, closes the stream
//	{"type":"error","message":"..."}
package iqra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/hifzlab/tasmee/pkg/asr"
)

const (
	defaultModel      = "recitation-v2"
	defaultLanguage   = "ar"
	defaultSampleRate = 24000

	// Cumulative transcripts for long selections can run past the 32 KiB
	// default frame limit.
	readLimit = 1 << 20
)

// Option is a functional option for configuring the iqra Provider.
type Option func(*Provider)

// WithAPIKey sets the bearer token sent on the WebSocket handshake.
func WithAPIKey(key string) Option {
	return func(p *Provider) {
		p.apiKey = key
	}
}

// WithModel sets the recognition model requested at stream start.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition. Defaults to "ar".
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the provider-level default sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// Provider implements asr.Provider backed by an Iqra streaming endpoint.
type Provider struct {
	endpoint   string
	apiKey     string
	model      string
	language   string
	sampleRate int
}

// Compile-time assertion that Provider implements asr.Provider.
var _ asr.Provider = (*Provider)(nil)

// New creates a new iqra Provider for the given WebSocket endpoint
// (e.g., "wss://asr.iqra.example/v1/stream"). endpoint must be non-empty.
func New(endpoint string, opts ...Option) (*Provider, error) {
	if endpoint == "" {
		return nil, errors.New("iqra: endpoint must not be empty")
	}
	p := &Provider{
		endpoint:   endpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name returns "iqra".
func (p *Provider) Name() string { return "iqra" }

// Connect dials the endpoint, sends the start message, and spawns the read
// and write loops. The server acknowledges with a ready event before any
// transcripts.
func (p *Provider) Connect(ctx context.Context, cfg asr.StreamConfig) (asr.Stream, error) {
	headers := http.Header{}
	if p.apiKey != "" {
		headers.Set("Authorization", "Bearer "+p.apiKey)
	}

	conn, _, err := websocket.Dial(ctx, p.endpoint, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("iqra: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	s := &stream{
		conn:   conn,
		ctx:    ctx,
		events: make(chan asr.Event, 64),
		audio:  make(chan []byte, 256),
		done:   make(chan struct{}),
	}

	if err := s.writeJSON(p.startMessage(cfg)); err != nil {
		conn.Close(websocket.StatusInternalError, "start failed")
		return nil, fmt.Errorf("iqra: start: %w", err)
	}

	s.wg.Add(2)
	go s.readLoop(ctx)
	go s.writeLoop(ctx)

	return s, nil
}

// startMessage builds the start control frame for the given config, applying
// provider-level defaults for unset fields.
func (p *Provider) startMessage(cfg asr.StreamConfig) startMessage {
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = p.sampleRate
	}
	ch := cfg.Channels
	if ch <= 0 {
		ch = 1
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	model := cfg.Model
	if model == "" {
		model = p.model
	}
	return startMessage{
		Type:       "start",
		Prompt:     cfg.Prompt,
		SampleRate: sr,
		Channels:   ch,
		Language:   lang,
		Model:      model,
	}
}

// ─── Protocol message types ─────────────────────────────────────────────────

type startMessage struct {
	Type       string `json:"type"`
	Prompt     string `json:"prompt,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Language   string `json:"language,omitempty"`
	Model      string `json:"model,omitempty"`
}

type updatePromptMessage struct {
	Type   string `json:"type"`
	Prompt string `json:"prompt"`
}

type finalizeMessage struct {
	Type string `json:"type"`
}

// serverMessage is the JSON structure of every server-to-client frame.
type serverMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

// parseServerMessage parses a raw server frame into an asr.Event. Returns
// (zero, false) for frames that should be ignored.
func parseServerMessage(data []byte) (asr.Event, bool) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return asr.Event{}, false
	}
	switch msg.Type {
	case "ready":
		return asr.Event{Type: asr.EventReady}, true
	case "transcript":
		return asr.Event{Type: asr.EventTranscript, Text: msg.Text}, true
	case "completed":
		return asr.Event{Type: asr.EventCompleted, Text: msg.Text}, true
	case "error":
		return asr.Event{Type: asr.EventError, Err: fmt.Errorf("iqra: server error: %s", msg.Message)}, true
	}
	return asr.Event{}, false
}

// ─── stream ─────────────────────────────────────────────────────────────────

// stream is a live Iqra recognition stream. It implements asr.Stream.
type stream struct {
	conn   *websocket.Conn
	ctx    context.Context
	events chan asr.Event
	audio  chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

var _ asr.Stream = (*stream)(nil)

// Send queues a PCM audio chunk for delivery to the server.
func (s *stream) Send(chunk []byte) error {
	select {
	case <-s.done:
		return fmt.Errorf("iqra: %w", asr.ErrStreamClosed)
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return fmt.Errorf("iqra: %w", asr.ErrStreamClosed)
	}
}

// UpdatePrompt sends an update_prompt control frame. The server applies the
// new conditioning text to audio not yet recognized.
func (s *stream) UpdatePrompt(text string) error {
	select {
	case <-s.done:
		return fmt.Errorf("iqra: %w", asr.ErrStreamClosed)
	default:
	}
	return s.writeJSON(updatePromptMessage{Type: "update_prompt", Prompt: text})
}

// Finalize asks the server to flush pending audio and emit the completed
// event. The stream's event channel closes once that event arrives.
func (s *stream) Finalize() error {
	select {
	case <-s.done:
		return fmt.Errorf("iqra: %w", asr.ErrStreamClosed)
	default:
	}
	return s.writeJSON(finalizeMessage{Type: "finalize"})
}

// Events returns the ordered event channel.
func (s *stream) Events() <-chan asr.Event { return s.events }

// Close terminates the stream immediately. Safe to call more than once.
func (s *stream) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close(websocket.StatusNormalClosure, "stream closed")
		s.wg.Wait()
	})
	return nil
}

// writeJSON marshals v and writes it as a text WebSocket frame.
func (s *stream) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("iqra: marshal: %w", err)
	}
	if err := s.conn.Write(s.ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("iqra: write: %w", err)
	}
	return nil
}

// writeLoop reads from the audio channel and sends binary frames to the
// server.
func (s *stream) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			// Drain queued audio before exiting.
			for {
				select {
				case chunk, ok := <-s.audio:
					if !ok {
						return
					}
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives server frames and dispatches them to the event channel.
// It owns the events channel: it closes it when it exits, after the terminal
// completed or error event.
func (s *stream) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.events)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			select {
			case <-s.done:
				// Close was called; the consumer is gone.
			default:
				s.emit(asr.Event{Type: asr.EventError, Err: fmt.Errorf("iqra: read: %w", err)})
			}
			return
		}

		ev, ok := parseServerMessage(msg)
		if !ok {
			continue
		}
		s.emit(ev)
		if ev.Type == asr.EventCompleted || ev.Type == asr.EventError {
			return
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
