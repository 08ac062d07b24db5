// Package mock provides test doubles for the asr package interfaces.
//
// Use Provider to verify that the caller opens streams with the expected
// StreamConfig. Use Stream to feed controlled Event values and inspect which
// audio chunks were delivered.
//
// Example:
//
//	st := mock.NewStream()
//	p := &mock.Provider{ProviderName: "mock", Stream: st}
//	s, _ := p.Connect(ctx, cfg)
//	st.EventsCh <- asr.Event{Type: asr.EventReady}
package mock

import (
	"context"
	"sync"

	"github.com/hifzlab/tasmee/pkg/asr"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the StreamConfig passed to Connect.
	Cfg asr.StreamConfig
}

// Provider is a mock implementation of asr.Provider.
type Provider struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock" when empty.
	ProviderName string

	// Stream is returned by Connect. If nil, Connect returns a new default
	// Stream with a buffered event channel.
	Stream asr.Stream

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect.
	ConnectCalls []ConnectCall
}

// Name returns ProviderName, or "mock" when unset.
func (p *Provider) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Connect records the call and returns Stream, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg asr.StreamConfig) (asr.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Stream != nil {
		return p.Stream, nil
	}
	return NewStream(), nil
}

// ConnectCallCount returns the number of Connect calls. Thread-safe.
func (p *Provider) ConnectCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = nil
}

// Ensure Provider implements asr.Provider at compile time.
var _ asr.Provider = (*Provider)(nil)

// SendCall records a single invocation of Stream.Send.
type SendCall struct {
	// Chunk is a copy of the audio bytes that were passed to Send.
	Chunk []byte
}

// UpdatePromptCall records a single invocation of Stream.UpdatePrompt.
type UpdatePromptCall struct {
	// Text is the prompt passed to UpdatePrompt.
	Text string
}

// Stream is a mock implementation of asr.Stream. Tests own EventsCh: send
// the Event values the consumer should receive, then close it to simulate
// stream termination.
type Stream struct {
	mu sync.Mutex

	// EventsCh is the channel returned by Events(). Callers own this channel
	// and are responsible for sending to and closing it in tests.
	EventsCh chan asr.Event

	// SendErr, if non-nil, is returned by every Send call.
	SendErr error

	// UpdatePromptErr, if non-nil, is returned by every UpdatePrompt call.
	UpdatePromptErr error

	// FinalizeErr, if non-nil, is returned by Finalize.
	FinalizeErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// SendCalls records every call to Send in order.
	SendCalls []SendCall

	// UpdatePromptCalls records every call to UpdatePrompt in order.
	UpdatePromptCalls []UpdatePromptCall

	// FinalizeCallCount is the number of times Finalize was called.
	FinalizeCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewStream returns a Stream with a buffered event channel ready for test
// use.
func NewStream() *Stream {
	return &Stream{EventsCh: make(chan asr.Event, 16)}
}

// Send records the call and returns SendErr.
func (s *Stream) Send(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendCalls = append(s.SendCalls, SendCall{Chunk: cp})
	return s.SendErr
}

// UpdatePrompt records the call and returns UpdatePromptErr.
func (s *Stream) UpdatePrompt(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UpdatePromptCalls = append(s.UpdatePromptCalls, UpdatePromptCall{Text: text})
	return s.UpdatePromptErr
}

// Finalize records the call and returns FinalizeErr.
func (s *Stream) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FinalizeCallCount++
	return s.FinalizeErr
}

// Events returns EventsCh. The caller must have initialised EventsCh before
// calling this method; NewStream does so.
func (s *Stream) Events() <-chan asr.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EventsCh
}

// Close records the call and returns CloseErr.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// SendCallCount returns the number of Send calls. Thread-safe.
func (s *Stream) SendCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendCalls)
}

// FinalizeCount returns the number of Finalize calls. Thread-safe.
func (s *Stream) FinalizeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FinalizeCallCount
}

// CloseCount returns the number of Close calls. Thread-safe.
func (s *Stream) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// UpdatePromptTexts returns the prompts passed to UpdatePrompt, in order.
// Thread-safe.
func (s *Stream) UpdatePromptTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	texts := make([]string, len(s.UpdatePromptCalls))
	for i, c := range s.UpdatePromptCalls {
		texts[i] = c.Text
	}
	return texts
}

// SentBytes returns the concatenation of every chunk passed to Send, in
// order. Thread-safe.
func (s *Stream) SentBytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []byte
	for _, c := range s.SendCalls {
		all = append(all, c.Chunk...)
	}
	return all
}

// ResetCalls clears all recorded calls. Thread-safe.
func (s *Stream) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendCalls = nil
	s.UpdatePromptCalls = nil
	s.FinalizeCallCount = 0
	s.CloseCallCount = 0
}

// Ensure Stream implements asr.Stream at compile time.
var _ asr.Stream = (*Stream)(nil)
