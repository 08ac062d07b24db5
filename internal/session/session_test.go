package session

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hifzlab/tasmee/pkg/asr"
	"github.com/hifzlab/tasmee/pkg/asr/mock"
)

// ---- helpers ----

// readyStream returns a mock stream with the ready event already queued.
func readyStream() *mock.Stream {
	st := mock.NewStream()
	st.EventsCh <- asr.Event{Type: asr.EventReady}
	return st
}

func newSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func nextEvent(t *testing.T, events <-chan Event) (Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-events:
		return ev, ok
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for session event")
		return Event{}, false
	}
}

func wantEvent(t *testing.T, events <-chan Event, typ EventType) Event {
	t.Helper()
	ev, ok := nextEvent(t, events)
	if !ok {
		t.Fatalf("events channel closed, want %v event", typ)
	}
	if ev.Type != typ {
		t.Fatalf("event = %+v, want type %v", ev, typ)
	}
	return ev
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ---- constructor ----

func TestNew_RequiresPrimary(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNoPrimary) {
		t.Fatalf("New(Config{}) error = %v, want ErrNoPrimary", err)
	}
}

// ---- happy path ----

func TestRun_FullLifecycle(t *testing.T) {
	st := readyStream()
	primary := &mock.Provider{ProviderName: "iqra", Stream: st}
	s := newSession(t, Config{Primary: primary})

	events, err := s.Start(context.Background(), "بسم الله الرحمن الرحيم")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	wantEvent(t, events, EventReady)
	if got := s.State(); got != StateReady {
		t.Fatalf("State() after ready = %v, want READY", got)
	}
	if primary.ConnectCalls[0].Cfg.Prompt != "بسم الله الرحمن الرحيم" {
		t.Errorf("connect prompt = %q", primary.ConnectCalls[0].Cfg.Prompt)
	}

	chunk := bytes.Repeat([]byte{0x10, 0x00}, 480)
	s.AddAudio(chunk)
	eventually(t, func() bool { return st.SendCallCount() == 1 }, "audio never reached the provider")
	eventually(t, func() bool { return s.State() == StateStreaming }, "state never became STREAMING")

	st.EventsCh <- asr.Event{Type: asr.EventTranscript, Text: "بسم الله"}
	ev := wantEvent(t, events, EventTranscription)
	if ev.Text != "بسم الله" {
		t.Errorf("transcription text = %q", ev.Text)
	}

	s.Stop()
	eventually(t, func() bool { return st.FinalizeCount() == 1 }, "Stop never finalized the stream")
	st.EventsCh <- asr.Event{Type: asr.EventCompleted, Text: "بسم الله الرحمن الرحيم"}

	ev = wantEvent(t, events, EventCompleted)
	if ev.Text != "بسم الله الرحمن الرحيم" {
		t.Errorf("completed text = %q", ev.Text)
	}
	if _, ok := nextEvent(t, events); ok {
		t.Error("events channel should close after the terminal event")
	}
	if got := s.State(); got != StateCompleted {
		t.Errorf("State() = %v, want COMPLETED", got)
	}
	eventually(t, func() bool { return st.CloseCount() >= 1 }, "stream never released")
	if got := s.Failovers(); got != 0 {
		t.Errorf("Failovers() = %d, want 0", got)
	}
}

func TestAddAudio_BeforeStartIsNoOp(t *testing.T) {
	st := readyStream()
	primary := &mock.Provider{Stream: st}
	s := newSession(t, Config{Primary: primary})

	s.AddAudio([]byte{1, 2, 3, 4})

	events, err := s.Start(context.Background(), "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	wantEvent(t, events, EventReady)

	time.Sleep(50 * time.Millisecond)
	if got := st.SendCallCount(); got != 0 {
		t.Errorf("pre-start audio was forwarded: %d sends", got)
	}
	if got := s.DroppedFrames(); got != 0 {
		t.Errorf("DroppedFrames() = %d, want 0 (no-op, not a drop)", got)
	}
}

func TestStart_WhileActiveFails(t *testing.T) {
	primary := &mock.Provider{Stream: readyStream()}
	s := newSession(t, Config{Primary: primary})

	events, err := s.Start(context.Background(), "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	wantEvent(t, events, EventReady)

	if _, err := s.Start(context.Background(), ""); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("second Start error = %v, want ErrSessionActive", err)
	}
}

func TestStart_WhileConnectingFails(t *testing.T) {
	// The primary accepted the dial but has not gone ready, so the observable
	// state is still IDLE. A second Start must not displace the pending run.
	primarySt := mock.NewStream()
	primary := &mock.Provider{ProviderName: "iqra", Stream: primarySt}
	s := newSession(t, Config{Primary: primary, ReadyTimeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := s.Start(ctx, "بسم الله")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	eventually(t, func() bool { return primary.ConnectCallCount() == 1 }, "primary never dialled")

	if _, err := s.Start(ctx, "بسم الله"); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("Start during connect error = %v, want ErrSessionActive", err)
	}
	if got := primary.ConnectCallCount(); got != 1 {
		t.Errorf("ConnectCallCount = %d, want 1", got)
	}

	cancel()
	for {
		if _, ok := nextEvent(t, events); !ok {
			break
		}
	}
	eventually(t, func() bool { return primarySt.CloseCount() >= 1 }, "stream leaked after cancel")
}

func TestUpdateExpectedText_ReachesProvider(t *testing.T) {
	st := readyStream()
	s := newSession(t, Config{Primary: &mock.Provider{Stream: st}})

	events, _ := s.Start(context.Background(), "قل هو الله احد الله الصمد")
	wantEvent(t, events, EventReady)

	s.UpdateExpectedText("الله الصمد")
	eventually(t, func() bool {
		texts := st.UpdatePromptTexts()
		return len(texts) == 1 && texts[0] == "الله الصمد"
	}, "prompt update never reached the provider")
}

func TestStop_Idempotent(t *testing.T) {
	st := readyStream()
	s := newSession(t, Config{Primary: &mock.Provider{Stream: st}})

	events, _ := s.Start(context.Background(), "")
	wantEvent(t, events, EventReady)

	s.Stop()
	s.Stop()
	eventually(t, func() bool { return st.FinalizeCount() == 1 }, "Stop never finalized")
	st.EventsCh <- asr.Event{Type: asr.EventCompleted, Text: ""}

	wantEvent(t, events, EventCompleted)
	if _, ok := nextEvent(t, events); ok {
		t.Fatal("second terminal event emitted")
	}

	s.Stop() // after terminal: no-op
	if got := st.FinalizeCount(); got != 1 {
		t.Errorf("FinalizeCount = %d, want 1", got)
	}
	eventually(t, func() bool { return st.CloseCount() == 1 }, "resources not released exactly once")
}

func TestCompleted_WithoutStop(t *testing.T) {
	st := readyStream()
	s := newSession(t, Config{Primary: &mock.Provider{Stream: st}})

	events, _ := s.Start(context.Background(), "")
	wantEvent(t, events, EventReady)

	st.EventsCh <- asr.Event{Type: asr.EventCompleted, Text: "قل هو الله احد"}
	ev := wantEvent(t, events, EventCompleted)
	if ev.Text != "قل هو الله احد" {
		t.Errorf("completed text = %q", ev.Text)
	}
	if got := st.FinalizeCount(); got != 0 {
		t.Errorf("FinalizeCount = %d, want 0", got)
	}
}

func TestStart_FromTerminalResets(t *testing.T) {
	st := readyStream()
	primary := &mock.Provider{Stream: st}
	s := newSession(t, Config{Primary: primary})

	events, _ := s.Start(context.Background(), "first")
	wantEvent(t, events, EventReady)
	st.EventsCh <- asr.Event{Type: asr.EventCompleted}
	wantEvent(t, events, EventCompleted)
	if _, ok := nextEvent(t, events); ok {
		t.Fatal("first run channel still open")
	}

	primary.Stream = readyStream()
	events2, err := s.Start(context.Background(), "second")
	if err != nil {
		t.Fatalf("Start from terminal: %v", err)
	}
	wantEvent(t, events2, EventReady)
	if got := primary.ConnectCallCount(); got != 2 {
		t.Errorf("ConnectCallCount = %d, want 2", got)
	}
	if got := primary.ConnectCalls[1].Cfg.Prompt; got != "second" {
		t.Errorf("second run prompt = %q", got)
	}
}

// ---- failover ----

func TestFailover_PrimaryConnectError(t *testing.T) {
	primary := &mock.Provider{ProviderName: "iqra", ConnectErr: errors.New("dial tcp: refused")}
	backupSt := readyStream()
	backup := &mock.Provider{ProviderName: "openai", Stream: backupSt}
	s := newSession(t, Config{Primary: primary, Backup: backup})

	events, _ := s.Start(context.Background(), "بسم الله")
	wantEvent(t, events, EventReady)

	if got := primary.ConnectCallCount(); got != 1 {
		t.Errorf("primary connects = %d, want 1", got)
	}
	if got := backup.ConnectCallCount(); got != 1 {
		t.Errorf("backup connects = %d, want 1", got)
	}
	if got := backup.ConnectCalls[0].Cfg.Prompt; got != "بسم الله" {
		t.Errorf("backup prompt = %q", got)
	}
	if got := s.Failovers(); got != 1 {
		t.Errorf("Failovers() = %d, want 1", got)
	}
}

func TestFailover_StreamErrorReplaysAudio(t *testing.T) {
	primarySt := readyStream()
	primary := &mock.Provider{ProviderName: "iqra", Stream: primarySt}
	backupSt := readyStream()
	backup := &mock.Provider{ProviderName: "openai", Stream: backupSt}
	s := newSession(t, Config{Primary: primary, Backup: backup})

	events, _ := s.Start(context.Background(), "قل هو الله احد")
	wantEvent(t, events, EventReady)

	chunk := bytes.Repeat([]byte{0x22, 0x11}, 240)
	s.AddAudio(chunk)
	eventually(t, func() bool { return primarySt.SendCallCount() == 1 }, "audio never sent to primary")

	primarySt.EventsCh <- asr.Event{Type: asr.EventError, Err: errors.New("iqra: read: connection reset")}

	// Ready is emitted again under the backup, and the buffered audio is
	// replayed to it.
	wantEvent(t, events, EventReady)
	eventually(t, func() bool { return backupSt.SendCallCount() == 1 }, "audio never replayed to backup")
	if !bytes.Equal(backupSt.SentBytes(), chunk) {
		t.Error("replayed audio differs from the original")
	}
	eventually(t, func() bool { return primarySt.CloseCount() >= 1 }, "failed primary stream not closed")

	s.Stop()
	eventually(t, func() bool { return backupSt.FinalizeCount() == 1 }, "finalize never reached backup")
	backupSt.EventsCh <- asr.Event{Type: asr.EventCompleted, Text: "قل هو الله"}
	wantEvent(t, events, EventCompleted)
	if got := s.Failovers(); got != 1 {
		t.Errorf("Failovers() = %d, want 1", got)
	}
}

func TestFailover_SecondFailureIsTerminal(t *testing.T) {
	primary := &mock.Provider{ProviderName: "iqra", ConnectErr: errors.New("primary down")}
	backup := &mock.Provider{ProviderName: "openai", ConnectErr: errors.New("backup down")}
	s := newSession(t, Config{Primary: primary, Backup: backup})

	events, _ := s.Start(context.Background(), "")
	ev := wantEvent(t, events, EventError)
	if ev.Err == nil {
		t.Fatal("terminal event carries no error")
	}
	for _, want := range []string{"primary down", "backup down"} {
		if !strings.Contains(ev.Err.Error(), want) {
			t.Errorf("terminal error %q missing cause %q", ev.Err, want)
		}
	}
	if _, ok := nextEvent(t, events); ok {
		t.Error("events channel should close after terminal error")
	}
	if got := s.State(); got != StateError {
		t.Errorf("State() = %v, want ERROR", got)
	}
	// Exactly one attempt each: never a third.
	if p, b := primary.ConnectCallCount(), backup.ConnectCallCount(); p != 1 || b != 1 {
		t.Errorf("connect calls = %d/%d, want 1/1", p, b)
	}
}

func TestFailover_NotEligibleAfterTranscript(t *testing.T) {
	primarySt := readyStream()
	primary := &mock.Provider{ProviderName: "iqra", Stream: primarySt}
	backup := &mock.Provider{ProviderName: "openai", Stream: readyStream()}
	s := newSession(t, Config{Primary: primary, Backup: backup})

	events, _ := s.Start(context.Background(), "")
	wantEvent(t, events, EventReady)

	primarySt.EventsCh <- asr.Event{Type: asr.EventTranscript, Text: "بسم"}
	wantEvent(t, events, EventTranscription)

	primarySt.EventsCh <- asr.Event{Type: asr.EventError, Err: errors.New("late failure")}
	wantEvent(t, events, EventError)

	if got := backup.ConnectCallCount(); got != 0 {
		t.Errorf("backup connects = %d, want 0 (failover window closed)", got)
	}
	if got := s.State(); got != StateError {
		t.Errorf("State() = %v, want ERROR", got)
	}
}

func TestFailover_NoBackupIsTerminal(t *testing.T) {
	primary := &mock.Provider{ProviderName: "iqra", ConnectErr: errors.New("dial refused")}
	s := newSession(t, Config{Primary: primary})

	events, _ := s.Start(context.Background(), "")
	ev := wantEvent(t, events, EventError)
	if ev.Err == nil || !strings.Contains(ev.Err.Error(), "dial refused") {
		t.Errorf("terminal error = %v", ev.Err)
	}
}

func TestReadyTimeout_TriggersFailoverAndQueueBounds(t *testing.T) {
	// The primary connects but never becomes ready.
	primarySt := mock.NewStream()
	primary := &mock.Provider{ProviderName: "iqra", Stream: primarySt}
	backupSt := readyStream()
	backup := &mock.Provider{ProviderName: "openai", Stream: backupSt}
	s := newSession(t, Config{
		Primary:      primary,
		Backup:       backup,
		ReadyTimeout: 300 * time.Millisecond,
		QueueSize:    2,
	})

	events, _ := s.Start(context.Background(), "")

	// While the run is still connecting nothing drains the queue, so the
	// bounded queue drops the overflow without blocking.
	for i := 0; i < 5; i++ {
		s.AddAudio([]byte{byte(i), 0})
	}
	if got := s.DroppedFrames(); got != 3 {
		t.Errorf("DroppedFrames() = %d, want 3", got)
	}

	wantEvent(t, events, EventReady)
	eventually(t, func() bool { return primarySt.CloseCount() >= 1 }, "timed-out primary stream not closed")
	eventually(t, func() bool { return backupSt.SendCallCount() == 2 }, "queued audio not delivered to backup")
	if got := s.Failovers(); got != 1 {
		t.Errorf("Failovers() = %d, want 1", got)
	}
}

// ---- cancellation ----

func TestContextCancel_AbandonsRun(t *testing.T) {
	st := readyStream()
	s := newSession(t, Config{Primary: &mock.Provider{Stream: st}})

	ctx, cancel := context.WithCancel(context.Background())
	events, _ := s.Start(ctx, "")
	wantEvent(t, events, EventReady)

	cancel()
	for {
		ev, ok := nextEvent(t, events)
		if !ok {
			break
		}
		if ev.Type != EventError {
			t.Fatalf("unexpected event after cancel: %+v", ev)
		}
	}
	eventually(t, func() bool { return s.State() == StateError }, "state never settled after cancel")
	eventually(t, func() bool { return st.CloseCount() >= 1 }, "stream leaked after cancel")
}
