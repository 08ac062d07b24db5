// Package asr defines the Provider interface for streaming speech
// recognition backends used during recitation verification.
//
// A provider wraps a transcription service (a realtime websocket endpoint,
// a batched HTTP API, or an in-process model) and exposes a uniform
// streaming interface. The central abstraction is Stream: once connected, a
// stream accepts raw PCM16 audio and emits a single ordered sequence of
// Event values carrying cumulative transcript hypotheses.
//
// Transcripts are cumulative: every EventTranscript carries the provider's
// full current hypothesis for all audio heard so far, not a delta. Backends
// that produce per-segment text internally must accumulate before emitting.
//
// Implementations must be safe for concurrent use.
package asr

import (
	"context"
	"errors"
)

// Stream errors shared by all provider implementations.
var (
	// ErrStreamClosed is returned by Stream methods called after Close or
	// Finalize has completed.
	ErrStreamClosed = errors.New("asr: stream is closed")

	// ErrNotSupported is returned by optional operations a backend cannot
	// perform, such as mid-stream prompt updates on a batch-only API.
	ErrNotSupported = errors.New("asr: operation not supported")
)

// EventType discriminates the Event union.
type EventType string

const (
	// EventReady signals that the backend accepted the stream and is ready
	// for audio. Emitted exactly once, before any other event.
	EventReady EventType = "ready"

	// EventTranscript carries the cumulative transcript hypothesis so far.
	EventTranscript EventType = "transcript"

	// EventCompleted carries the final transcript. It is the last event on a
	// successfully finished stream.
	EventCompleted EventType = "completed"

	// EventError reports a fatal stream failure. It is the last event on a
	// failed stream.
	EventError EventType = "error"
)

// Event is one message from a recognition stream. Exactly one of Text or Err
// is meaningful, depending on Type.
type Event struct {
	Type EventType

	// Text is the cumulative hypothesis (EventTranscript) or the final
	// transcript (EventCompleted).
	Text string

	// Err describes the failure for EventError events and is nil otherwise.
	Err error
}

// StreamConfig describes the audio format and recognition hints for a new
// stream. All fields must be compatible with what the underlying backend
// supports; see each provider's documentation for valid ranges.
type StreamConfig struct {
	// Prompt is the expected text used to condition recognition. For Quran
	// recitation this is the text of the selected ayah range; backends that
	// accept prompts bias strongly toward it.
	Prompt string

	// SampleRate is the audio sample rate in Hz. The verification pipeline
	// normalises capture to 24000 before streaming.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono, which every
	// supported backend requires.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "ar"). An
	// empty string lets the backend auto-detect, if supported.
	Language string

	// Model selects a backend-specific model identifier. Empty picks the
	// provider default.
	Model string
}

// Stream represents an open recognition stream. It is an interface so that
// test code can substitute recorded implementations without a live backend.
//
// Callers must call Close when the stream is no longer needed; failing to do
// so may leak goroutines and network connections inside the implementation.
// All methods must be safe for concurrent use.
type Stream interface {
	// Send delivers a chunk of raw little-endian PCM16 audio for
	// recognition. The chunk must match the SampleRate and Channels agreed
	// in StreamConfig. Calling Send after Close returns ErrStreamClosed.
	Send(chunk []byte) error

	// UpdatePrompt replaces the conditioning prompt mid-stream, narrowing
	// recognition to the text still expected from the speaker. Backends
	// without mid-stream prompt support return ErrNotSupported; changes take
	// effect on a best-effort basis for audio not yet processed.
	UpdatePrompt(text string) error

	// Finalize asks the backend to flush buffered audio and produce the
	// final transcript. The stream emits EventCompleted (or EventError) and
	// then closes its event channel. Finalize does not block waiting for
	// that event.
	Finalize() error

	// Events returns the stream's event channel. Events arrive in order:
	// EventReady first, then any number of EventTranscript, terminated by
	// exactly one EventCompleted or EventError. The channel is closed after
	// the terminal event.
	Events() <-chan Event

	// Close terminates the stream immediately and releases all resources.
	// Buffered audio may be discarded; use Finalize first for a clean
	// shutdown. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any speech recognition backend.
//
// Implementations must be safe for concurrent use; multiple streams may be
// open simultaneously.
type Provider interface {
	// Name returns the stable identifier of the backend, used in
	// configuration, logs, and metrics.
	Name() string

	// Connect opens a new recognition stream. The returned Stream is ready
	// to accept audio once it has emitted EventReady.
	//
	// Connect returns an error if the stream cannot be established
	// (authentication failure, unsupported configuration, or ctx already
	// cancelled). The caller owns the Stream and must call Close when done.
	Connect(ctx context.Context, cfg StreamConfig) (Stream, error)
}
