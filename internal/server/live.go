package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/hifzlab/tasmee/internal/highlight"
	"github.com/hifzlab/tasmee/internal/quran"
	"github.com/hifzlab/tasmee/internal/verify"
	"github.com/hifzlab/tasmee/pkg/audio"
)

const (
	codecPCM16 = "pcm16"
	codecOpus  = "opus"

	liveTypeReady     = "ready"
	liveTypeHighlight = "highlight"
	liveTypeResult    = "result"
	liveTypeError     = "error"

	// liveStartTimeout bounds the wait for the opening control frame.
	liveStartTimeout = 10 * time.Second

	// liveWriteTimeout bounds each event write so one wedged client cannot
	// stall its own update drain.
	liveWriteTimeout = 10 * time.Second

	// liveSessionTimeout caps a single live run. It is the backstop for
	// clients that neither stop nor disconnect.
	liveSessionTimeout = 30 * time.Minute

	// liveReadLimit admits bursty capture clients that batch up to a few
	// seconds of 16-bit PCM into one frame.
	liveReadLimit = 1 << 20

	// liveSubscriberBuffer is the update buffer for one socket. A socket
	// further behind than this misses highlight frames; the result frame is
	// recovered from the run itself.
	liveSubscriberBuffer = 64

	// Accepted pcm16 sample rates. Anything in range is resampled to the
	// engine rate on ingest.
	minSampleRate = 8000
	maxSampleRate = 96000
)

// liveStart is the client's opening control frame.
//
// Protocol, client to server:
//
//	{"type":"start","selection":{"surah":1,"from_ayah":1,"to_ayah":7},"codec":"pcm16","sample_rate":24000,"channels":1}
//	binary frames: audio in the declared codec
//	{"type":"stop"}
//
// Server to client, all JSON text frames:
//
//	{"type":"ready","current":{...}}
//	{"type":"highlight","committed":[...],"current":{...},"transcript":"..."}
//	{"type":"result","id":"...","result":{...}}
//	{"type":"error","message":"..."}
//
// A ready frame repeats after a provider failover; clients treat it as
// idempotent. The result or error frame is last, then the server closes.
type liveStart struct {
	Type      string          `json:"type"`
	Selection quran.Selection `json:"selection"`

	// Codec is "pcm16" (the default) or "opus". Opus frames must be 24 kHz
	// mono, 20 ms each.
	Codec string `json:"codec,omitempty"`

	// SampleRate and Channels describe pcm16 frames. They default to the
	// engine format (24000, mono) and are ignored for opus.
	SampleRate int `json:"sample_rate,omitempty"`
	Channels   int `json:"channels,omitempty"`
}

// liveEvent is one server-to-client frame.
type liveEvent struct {
	Type       string                     `json:"type"`
	Current    *highlight.WordHighlight   `json:"current,omitempty"`
	Committed  []highlight.WordHighlight  `json:"committed,omitempty"`
	Transcript string                     `json:"transcript,omitempty"`
	ID         string                     `json:"id,omitempty"`
	Result     *verify.VerificationResult `json:"result,omitempty"`
	Message    string                     `json:"message,omitempty"`
}

// handleLive upgrades to a WebSocket and drives one live verification: the
// start frame selects the passage and audio format, binary frames feed the
// session, and ordered events stream back until the stop frame (or a
// disconnect, which abandons the run).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("live: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(liveReadLimit)

	ctx := r.Context()

	start, err := readStartFrame(ctx, conn)
	if err != nil {
		writeLiveError(ctx, conn, err)
		conn.Close(websocket.StatusPolicyViolation, "start frame required")
		return
	}
	ingest, err := newLiveIngest(start)
	if err != nil {
		writeLiveError(ctx, conn, err)
		conn.Close(websocket.StatusUnsupportedData, "unsupported audio format")
		return
	}

	v, err := s.newVerifier()
	if err != nil {
		writeLiveError(ctx, conn, err)
		conn.Close(websocket.StatusInternalError, "verifier unavailable")
		return
	}
	prep, err := v.Prepare(ctx, start.Selection)
	if err != nil {
		writeLiveError(ctx, conn, err)
		conn.Close(websocket.StatusPolicyViolation, "selection rejected")
		return
	}

	runCtx, abandon := context.WithTimeout(ctx, liveSessionTimeout)
	defer abandon()

	run, err := v.Begin(runCtx, prep)
	if err != nil {
		writeLiveError(ctx, conn, err)
		conn.Close(websocket.StatusInternalError, "session start failed")
		return
	}
	updates := run.Subscribe(liveSubscriberBuffer)

	// A provider that goes ready before Subscribe registered would make the
	// ready update unobservable here; recover it from the tracker. The
	// client may then see the frame twice, which the protocol permits.
	if cur, ok := run.Highlights().CurrentWord(); ok {
		if err := writeLiveEvent(ctx, conn, liveEvent{Type: liveTypeReady, Current: &cur}); err != nil {
			return
		}
	}

	slog.Info("live verification started",
		"selection", prep.Selection.String(), "codec", ingest.name())

	go s.liveReadLoop(ctx, conn, run, ingest, abandon)
	s.liveWriteLoop(ctx, conn, run, updates)
}

// liveReadLoop feeds client frames into the run until the connection ends. A
// read failure before the stop frame abandons the run; after the stop frame
// the flush is already underway and a vanishing client only loses delivery,
// not the result.
func (s *Server) liveReadLoop(ctx context.Context, conn *websocket.Conn, run *verify.Run, ingest *liveIngest, abandon context.CancelFunc) {
	stopped := false
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if !stopped {
				abandon()
			}
			return
		}
		switch typ {
		case websocket.MessageBinary:
			if stopped {
				continue
			}
			pcm, err := ingest.decode(data)
			if err != nil {
				slog.Warn("live: dropped undecodable audio frame", "err", err)
				continue
			}
			run.AddAudio(pcm)
		case websocket.MessageText:
			if stopFrame(data) && !stopped {
				stopped = true
				run.Stop()
			}
		}
	}
}

// liveWriteLoop relays run updates to the client. It drains the subscription
// to its end even when the socket dies so the result still persists, and
// recovers the terminal outcome from the run itself when the terminal update
// was dropped on a lagging subscription.
func (s *Server) liveWriteLoop(ctx context.Context, conn *websocket.Conn, run *verify.Run, updates <-chan verify.Update) {
	var writeErr error
	terminal := false

	for u := range updates {
		ev, isTerminal := s.updateFrame(ctx, u)
		if ev.Type == "" {
			continue
		}
		if isTerminal {
			terminal = true
		}
		if writeErr == nil {
			writeErr = writeLiveEvent(ctx, conn, ev)
		}
	}

	if !terminal {
		<-run.Done()
		if res, err := run.Result(); err == nil {
			ev := liveEvent{Type: liveTypeResult, Result: &res}
			ev.ID = s.persist(context.WithoutCancel(ctx), res)
			if writeErr == nil {
				_ = writeLiveEvent(ctx, conn, ev)
			}
		} else if writeErr == nil {
			_ = writeLiveEvent(ctx, conn, liveEvent{Type: liveTypeError, Message: err.Error()})
		}
	}

	conn.Close(websocket.StatusNormalClosure, "")
}

// updateFrame converts one run update into its wire frame. Results persist
// here, on a detached context: a client that disconnects right after its
// stop frame must not lose the record.
func (s *Server) updateFrame(ctx context.Context, u verify.Update) (liveEvent, bool) {
	switch u.Kind {
	case verify.UpdateReady:
		return liveEvent{Type: liveTypeReady, Current: u.Current}, false
	case verify.UpdateHighlight:
		return liveEvent{
			Type:       liveTypeHighlight,
			Committed:  u.Committed,
			Current:    u.Current,
			Transcript: u.Transcript,
		}, false
	case verify.UpdateResult:
		ev := liveEvent{Type: liveTypeResult, Result: u.Result}
		ev.ID = s.persist(context.WithoutCancel(ctx), *u.Result)
		return ev, true
	case verify.UpdateError:
		return liveEvent{Type: liveTypeError, Message: u.Err.Error()}, true
	default:
		return liveEvent{}, false
	}
}

// readStartFrame reads and validates the client's opening control frame.
func readStartFrame(ctx context.Context, conn *websocket.Conn) (liveStart, error) {
	ctx, cancel := context.WithTimeout(ctx, liveStartTimeout)
	defer cancel()

	typ, data, err := conn.Read(ctx)
	if err != nil {
		return liveStart{}, fmt.Errorf("read start frame: %w", err)
	}
	if typ != websocket.MessageText {
		return liveStart{}, errors.New("start frame must be a text frame")
	}
	var start liveStart
	if err := json.Unmarshal(data, &start); err != nil {
		return liveStart{}, fmt.Errorf("parse start frame: %w", err)
	}
	if start.Type != "start" {
		return liveStart{}, fmt.Errorf("expected a start frame, got %q", start.Type)
	}
	return start, nil
}

// stopFrame reports whether a text frame is the stop control message.
func stopFrame(data []byte) bool {
	var f struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return false
	}
	return f.Type == "stop"
}

// writeLiveEvent marshals ev and writes it as one text frame.
func writeLiveEvent(ctx context.Context, conn *websocket.Conn, ev liveEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	wctx, cancel := context.WithTimeout(ctx, liveWriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

// writeLiveError delivers an error frame on a best-effort basis before the
// connection closes.
func writeLiveError(ctx context.Context, conn *websocket.Conn, err error) {
	_ = writeLiveEvent(ctx, conn, liveEvent{Type: liveTypeError, Message: err.Error()})
}

// ─── audio ingest ───────────────────────────────────────────────────────────

// liveIngest converts one client's audio frames into engine-format PCM.
// pcm16 frames are resampled and downmixed; opus frames are decoded, with
// decoder state carried across frames.
type liveIngest struct {
	opus     *audio.OpusDecoder
	rate     int
	channels int
}

func newLiveIngest(start liveStart) (*liveIngest, error) {
	switch start.Codec {
	case "", codecPCM16:
		rate := start.SampleRate
		if rate == 0 {
			rate = audio.SampleRate
		}
		if rate < minSampleRate || rate > maxSampleRate {
			return nil, fmt.Errorf("sample rate %d outside [%d, %d]", rate, minSampleRate, maxSampleRate)
		}
		ch := start.Channels
		if ch == 0 {
			ch = audio.Channels
		}
		if ch != 1 && ch != 2 {
			return nil, fmt.Errorf("channels must be 1 or 2, got %d", ch)
		}
		return &liveIngest{rate: rate, channels: ch}, nil

	case codecOpus:
		dec, err := audio.NewOpusDecoder()
		if err != nil {
			return nil, err
		}
		return &liveIngest{opus: dec}, nil

	default:
		return nil, fmt.Errorf("unsupported codec %q", start.Codec)
	}
}

// name returns the negotiated codec for logging.
func (in *liveIngest) name() string {
	if in.opus != nil {
		return codecOpus
	}
	return codecPCM16
}

// decode converts one binary frame to engine-format PCM.
func (in *liveIngest) decode(frame []byte) ([]byte, error) {
	if in.opus != nil {
		return in.opus.Decode(frame)
	}
	pcm := audio.ToEngineFormat(frame, in.rate, in.channels)
	if pcm == nil {
		return nil, errors.New("pcm frame has an odd byte count")
	}
	return pcm, nil
}
