package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"voicechat/internal/application"
	"voicechat/internal/domain"
)

type sessionHarness struct {
	session   *application.Session
	scheduler *application.Scheduler
	dialer    *mockDialer
	capture   *mockCapture
	sink      *mockSink
	notifier  *recordingNotifier
	observer  *recordingObserver
}

func newSessionHarness(t *testing.T, maxMalformed int) *sessionHarness {
	t.Helper()
	h := &sessionHarness{
		dialer:   &mockDialer{},
		capture:  newMockCapture(),
		sink:     &mockSink{},
		notifier: &recordingNotifier{},
		observer: &recordingObserver{},
	}
	logger := discardLogger()
	h.scheduler = application.NewScheduler(h.sink, false, nil, logger)
	h.session = application.NewSession(
		h.dialer,
		h.capture,
		h.scheduler,
		application.NewTranscriptAggregator(0, logger),
		h.notifier,
		nil,
		application.SessionConfig{FrameSize: 4, OutputSampleRate: 24000, MaxMalformedPayloads: maxMalformed},
		logger,
	)
	h.session.AddObserver(h.observer)
	return h
}

// activate starts the session and delivers the open event.
func (h *sessionHarness) activate(t *testing.T) *mockStream {
	t.Helper()
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	stream := h.dialer.last()
	stream.events <- domain.StreamEvent{Kind: domain.EventOpen}
	waitForStatus(t, h.session, domain.StatusActive)
	return stream
}

func waitForStatus(t *testing.T, s *application.Session, want domain.SessionStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Status() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("status: got %s, want %s", s.Status(), want)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func message(msg domain.ServerMessage) domain.StreamEvent {
	return domain.StreamEvent{Kind: domain.EventMessage, Message: &msg}
}

func text(s string) *string { return &s }

func audioPayload(samples []float32) *domain.TransportChunk {
	chunk := domain.EncodeForTransport(samples, 24000)
	return &chunk
}

func TestSession_StartActivatesOnOpen(t *testing.T) {
	h := newSessionHarness(t, 3)

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if h.session.Status() != domain.StatusConnecting {
		t.Fatalf("expected connecting before open, got %s", h.session.Status())
	}

	stream := h.dialer.last()
	stream.events <- domain.StreamEvent{Kind: domain.EventOpen}
	waitForStatus(t, h.session, domain.StatusActive)

	h.capture.frames <- []float32{0.1, 0.2, 0.3, 0.4}
	waitFor(t, "first frame", func() bool { return len(stream.sentChunks()) == 1 })

	h.session.Stop()
	if h.session.Status() != domain.StatusIdle {
		t.Errorf("after stop: got %s, want idle", h.session.Status())
	}

	want := []domain.SessionStatus{domain.StatusConnecting, domain.StatusActive, domain.StatusIdle}
	got := h.observer.statusHistory()
	if len(got) != len(want) {
		t.Fatalf("status history: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("status %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestSession_FramesBeforeOpenAreNotSent(t *testing.T) {
	h := newSessionHarness(t, 3)
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	stream := h.dialer.last()

	h.capture.frames <- []float32{1, 1, 1, 1}
	waitFor(t, "pre-open frame consumed", func() bool { return len(h.capture.frames) == 0 })
	stream.events <- domain.StreamEvent{Kind: domain.EventOpen}
	waitForStatus(t, h.session, domain.StatusActive)

	h.capture.frames <- []float32{0, 0, 0, 0}
	waitFor(t, "frame after open", func() bool { return len(stream.sentChunks()) == 1 })

	if stream.sentChunks()[0].Data != domain.EncodeForTransport([]float32{0, 0, 0, 0}, 16000).Data {
		t.Error("pre-open audio leaked onto the stream")
	}
	h.session.Stop()
}

func TestSession_StartWhileRunning(t *testing.T) {
	h := newSessionHarness(t, 3)
	h.activate(t)
	defer h.session.Stop()

	err := h.session.Start(context.Background())
	if !errors.Is(err, domain.ErrSessionRunning) {
		t.Fatalf("expected ErrSessionRunning, got %v", err)
	}
	if n := h.dialer.count(); n != 1 {
		t.Errorf("second start dialed again: %d streams", n)
	}
}

func TestSession_ConcurrentStartDialsOnce(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := newSessionHarness(t, 3)

		var wg sync.WaitGroup
		var mu sync.Mutex
		started := 0
		for g := 0; g < 16; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := h.session.Start(context.Background())
				if err == nil {
					mu.Lock()
					started++
					mu.Unlock()
					return
				}
				if !errors.Is(err, domain.ErrSessionRunning) {
					t.Errorf("start: %v", err)
				}
			}()
		}
		wg.Wait()

		if started != 1 {
			t.Fatalf("round %d: %d starts succeeded, want 1", i, started)
		}
		if n := h.dialer.count(); n != 1 {
			t.Fatalf("round %d: dialed %d streams, want 1", i, n)
		}
		if n := h.capture.startCount(); n != 1 {
			t.Fatalf("round %d: capture started %d times, want 1", i, n)
		}
		h.session.Stop()
	}
}

func TestSession_DeviceFailure(t *testing.T) {
	h := newSessionHarness(t, 3)
	h.capture.startErr = errBoom

	err := h.session.Start(context.Background())
	if !errors.Is(err, domain.ErrDeviceAcquisition) {
		t.Fatalf("expected ErrDeviceAcquisition, got %v", err)
	}
	if h.session.Status() != domain.StatusError {
		t.Errorf("status: got %s, want error", h.session.Status())
	}
	if h.dialer.last() != nil {
		t.Error("session dialed without a capture device")
	}
	if h.notifier.count() != 1 {
		t.Errorf("expected one notice, got %d", h.notifier.count())
	}
	if !errors.Is(h.session.LastError(), errBoom) {
		t.Errorf("last error should wrap the cause, got %v", h.session.LastError())
	}

	// Stop in error is a no-op.
	h.session.Stop()
	if h.session.Status() != domain.StatusError {
		t.Errorf("stop changed error status to %s", h.session.Status())
	}
}

func TestSession_DialFailureReleasesCapture(t *testing.T) {
	h := newSessionHarness(t, 3)
	h.dialer.err = errBoom

	err := h.session.Start(context.Background())
	if !errors.Is(err, domain.ErrStream) {
		t.Fatalf("expected ErrStream, got %v", err)
	}
	if h.session.Status() != domain.StatusError {
		t.Errorf("status: got %s, want error", h.session.Status())
	}
	if h.capture.stopCount() != 1 {
		t.Errorf("capture not released: %d stops", h.capture.stopCount())
	}

	h.notifier.mu.Lock()
	defer h.notifier.mu.Unlock()
	if len(h.notifier.ctxErrs) != 1 || h.notifier.ctxErrs[0] != nil {
		t.Errorf("notice context: got %v, want live context", h.notifier.ctxErrs)
	}
}

func TestSession_RestartFromError(t *testing.T) {
	h := newSessionHarness(t, 3)
	h.dialer.err = errBoom
	if err := h.session.Start(context.Background()); err == nil {
		t.Fatal("expected first start to fail")
	}

	h.dialer.mu.Lock()
	h.dialer.err = nil
	h.dialer.mu.Unlock()

	h.activate(t)
	if h.session.LastError() != nil {
		t.Errorf("last error not cleared on restart: %v", h.session.LastError())
	}
	h.session.Stop()
}

func TestSession_FinalizesTurn(t *testing.T) {
	h := newSessionHarness(t, 3)
	stream := h.activate(t)

	stream.events <- message(domain.ServerMessage{InputTranscription: text("Hi")})
	stream.events <- message(domain.ServerMessage{OutputTranscription: text("Hello")})
	stream.events <- message(domain.ServerMessage{OutputTranscription: text(" there")})
	stream.events <- message(domain.ServerMessage{TurnComplete: true})

	log := h.session.Conversation()
	waitFor(t, "turn", func() bool { return log.Len() == 2 })

	msgs := log.Messages()
	if msgs[0].Role != domain.RoleUser || msgs[0].Text != "Hi" {
		t.Errorf("user message: %+v", msgs[0])
	}
	if msgs[1].Role != domain.RoleModel || msgs[1].Text != "Hello there" {
		t.Errorf("model message: %+v", msgs[1])
	}

	// An empty turn appends nothing.
	stream.events <- message(domain.ServerMessage{TurnComplete: true})
	stream.events <- message(domain.ServerMessage{InputTranscription: text("Next")})
	stream.events <- message(domain.ServerMessage{TurnComplete: true})
	waitFor(t, "second turn", func() bool { return log.Len() == 3 })

	h.session.Stop()
}

func TestSession_MessagesBeforeOpenAreIgnored(t *testing.T) {
	h := newSessionHarness(t, 3)
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	stream := h.dialer.last()

	stream.events <- message(domain.ServerMessage{InputTranscription: text("early"), TurnComplete: true})
	stream.events <- domain.StreamEvent{Kind: domain.EventOpen}
	waitForStatus(t, h.session, domain.StatusActive)

	stream.events <- message(domain.ServerMessage{InputTranscription: text("Hi"), TurnComplete: true})
	log := h.session.Conversation()
	waitFor(t, "turn", func() bool { return log.Len() == 1 })

	if got := log.Messages()[0].Text; got != "Hi" {
		t.Errorf("message: got %q, want Hi", got)
	}
	h.session.Stop()
}

func TestSession_MalformedPayloadLeavesTurnIntact(t *testing.T) {
	h := newSessionHarness(t, 3)
	stream := h.activate(t)

	stream.events <- message(domain.ServerMessage{InputTranscription: text("What time is it")})
	stream.events <- message(domain.ServerMessage{
		OutputTranscription: text("It is noon"),
		Audio:               audioPayload(make([]float32, 240)),
	})
	waitFor(t, "first chunk", func() bool { return len(h.sink.playbacks()) == 1 })
	cursor := h.scheduler.NextStartTime()
	active := h.scheduler.Active()

	stream.events <- message(domain.ServerMessage{
		Audio: &domain.TransportChunk{Data: "!!not base64!!", MimeType: "audio/pcm;rate=24000"},
	})
	stream.events <- message(domain.ServerMessage{TurnComplete: true})

	log := h.session.Conversation()
	waitFor(t, "turn", func() bool { return log.Len() == 2 })

	if got := h.scheduler.NextStartTime(); got != cursor {
		t.Errorf("cursor: got %v, want %v", got, cursor)
	}
	if got := h.scheduler.Active(); got != active {
		t.Errorf("active sources: got %d, want %d", got, active)
	}
	if n := len(h.sink.playbacks()); n != 1 {
		t.Errorf("playbacks: got %d, want 1", n)
	}

	msgs := log.Messages()
	if msgs[0].Role != domain.RoleUser || msgs[0].Text != "What time is it" {
		t.Errorf("user message: got %s %q", msgs[0].Role, msgs[0].Text)
	}
	if msgs[1].Role != domain.RoleModel || msgs[1].Text != "It is noon" {
		t.Errorf("model message: got %s %q", msgs[1].Role, msgs[1].Text)
	}
	if h.session.Status() != domain.StatusActive {
		t.Errorf("status: got %s, want active", h.session.Status())
	}
	h.session.Stop()
}

func TestSession_SchedulesAudioAndInterrupts(t *testing.T) {
	h := newSessionHarness(t, 3)
	stream := h.activate(t)

	stream.events <- message(domain.ServerMessage{Audio: audioPayload(make([]float32, 2400))})
	stream.events <- message(domain.ServerMessage{Audio: audioPayload(make([]float32, 2400))})
	waitFor(t, "two chunks", func() bool { return len(h.sink.playbacks()) == 2 })

	p := h.sink.playbacks()
	if p[0].at != 0 || p[1].at != 100*time.Millisecond {
		t.Errorf("chunks not back to back: %v, %v", p[0].at, p[1].at)
	}
	if p[0].chunk.SampleRate != 24000 {
		t.Errorf("sample rate: got %d", p[0].chunk.SampleRate)
	}

	stream.events <- message(domain.ServerMessage{Interrupted: true})
	stream.events <- message(domain.ServerMessage{Audio: audioPayload(make([]float32, 2400))})
	waitFor(t, "post-interrupt chunk", func() bool { return len(h.sink.playbacks()) == 3 })

	if h.sink.playbacks()[2].at != 0 {
		t.Errorf("post-interrupt chunk should start at the clock, got %v", h.sink.playbacks()[2].at)
	}
	h.session.Stop()
}

func TestSession_MalformedBelowThresholdIsDropped(t *testing.T) {
	h := newSessionHarness(t, 3)
	stream := h.activate(t)

	bad := &domain.TransportChunk{Data: "!!not base64!!", MimeType: "audio/pcm;rate=24000"}
	stream.events <- message(domain.ServerMessage{Audio: bad})
	stream.events <- message(domain.ServerMessage{Audio: bad})
	stream.events <- message(domain.ServerMessage{Audio: audioPayload(make([]float32, 240))})
	stream.events <- message(domain.ServerMessage{Audio: bad})
	stream.events <- message(domain.ServerMessage{Audio: bad})
	waitFor(t, "good chunk", func() bool { return len(h.sink.playbacks()) == 1 })

	stream.events <- message(domain.ServerMessage{Audio: audioPayload(make([]float32, 240))})
	waitFor(t, "second good chunk", func() bool { return len(h.sink.playbacks()) == 2 })

	if h.session.Status() != domain.StatusActive {
		t.Errorf("non-consecutive malformed payloads ended the session: %s", h.session.Status())
	}
	h.session.Stop()
}

func TestSession_MalformedThresholdFails(t *testing.T) {
	h := newSessionHarness(t, 2)
	stream := h.activate(t)

	stream.events <- domain.StreamEvent{Kind: domain.EventMalformed, Err: domain.ErrMalformedPayload}
	stream.events <- message(domain.ServerMessage{Audio: &domain.TransportChunk{Data: "AAA", MimeType: "audio/pcm"}})
	waitForStatus(t, h.session, domain.StatusError)

	if !errors.Is(h.session.LastError(), domain.ErrMalformedPayload) {
		t.Errorf("last error: %v", h.session.LastError())
	}
	if stream.closeCount() != 1 {
		t.Errorf("stream closed %d times", stream.closeCount())
	}
	if h.notifier.count() != 1 {
		t.Errorf("expected one notice, got %d", h.notifier.count())
	}
}

func TestSession_StreamErrorFails(t *testing.T) {
	h := newSessionHarness(t, 3)
	stream := h.activate(t)

	stream.events <- domain.StreamEvent{Kind: domain.EventError, Err: errBoom}
	waitForStatus(t, h.session, domain.StatusError)
	h.session.Wait()

	if !errors.Is(h.session.LastError(), domain.ErrStream) {
		t.Errorf("last error: %v", h.session.LastError())
	}
	if h.capture.stopCount() != 1 {
		t.Errorf("capture stopped %d times", h.capture.stopCount())
	}
}

func TestSession_RemoteCloseReturnsToIdle(t *testing.T) {
	h := newSessionHarness(t, 3)
	stream := h.activate(t)

	stream.events <- domain.StreamEvent{Kind: domain.EventClosed}
	waitForStatus(t, h.session, domain.StatusIdle)
	h.session.Wait()

	if h.notifier.count() != 0 {
		t.Errorf("remote close should not notify, got %d", h.notifier.count())
	}
	if stream.closeCount() != 1 {
		t.Errorf("stream closed %d times", stream.closeCount())
	}
}

func TestSession_StopIsIdempotent(t *testing.T) {
	h := newSessionHarness(t, 3)

	h.session.Stop()
	if h.session.Status() != domain.StatusIdle {
		t.Fatalf("stop on fresh session: %s", h.session.Status())
	}

	stream := h.activate(t)
	h.session.Stop()
	h.session.Stop()

	if stream.closeCount() != 1 {
		t.Errorf("stream closed %d times", stream.closeCount())
	}
	if h.capture.stopCount() != 1 {
		t.Errorf("capture stopped %d times", h.capture.stopCount())
	}
}

func TestSession_StopDiscardsPartialTurn(t *testing.T) {
	h := newSessionHarness(t, 3)
	stream := h.activate(t)

	stream.events <- message(domain.ServerMessage{InputTranscription: text("half a thought")})
	h.session.Stop()

	stream = h.activate(t)
	stream.events <- message(domain.ServerMessage{OutputTranscription: text("fresh")})
	stream.events <- message(domain.ServerMessage{TurnComplete: true})

	log := h.session.Conversation()
	waitFor(t, "turn", func() bool { return log.Len() == 1 })
	if msg := log.Messages()[0]; msg.Role != domain.RoleModel || msg.Text != "fresh" {
		t.Errorf("partial turn leaked across runs: %+v", msg)
	}
	h.session.Stop()
}
