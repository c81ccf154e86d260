package application_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"voicechat/internal/application"
	"voicechat/internal/domain"
)

type mockSink struct {
	mu        sync.Mutex
	now       time.Duration
	scheduled []*mockPlayback
	fail      error
}

type mockPlayback struct {
	at      time.Duration
	chunk   domain.AudioChunk
	onEnded func()
	stopped bool
}

func (p *mockPlayback) Stop()                { p.stopped = true }
func (p *mockPlayback) Start() time.Duration { return p.at }
func (p *mockPlayback) End() time.Duration   { return p.at + p.chunk.Duration() }

func (f *mockSink) Now() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *mockSink) setNow(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = d
}

func (f *mockSink) Schedule(chunk domain.AudioChunk, at time.Duration, onEnded func()) (application.PlaybackHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	p := &mockPlayback{at: at, chunk: chunk, onEnded: onEnded}
	f.scheduled = append(f.scheduled, p)
	return p, nil
}

func (f *mockSink) playbacks() []*mockPlayback {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*mockPlayback, len(f.scheduled))
	copy(out, f.scheduled)
	return out
}

func monoChunk(d time.Duration, rate int) domain.AudioChunk {
	frames := int(d * time.Duration(rate) / time.Second)
	return domain.AudioChunk{Data: [][]float32{make([]float32, frames)}, SampleRate: rate}
}

type mockCapture struct {
	mu       sync.Mutex
	frames   chan []float32
	startErr error
	starts   int
	stops    int
}

func newMockCapture() *mockCapture {
	return &mockCapture{frames: make(chan []float32, 16)}
}

func (c *mockCapture) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	return c.startErr
}

func (c *mockCapture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	return nil
}

func (c *mockCapture) Frames() <-chan []float32 { return c.frames }
func (c *mockCapture) SampleRate() int          { return 16000 }
func (c *mockCapture) Name() string             { return "mock" }

func (c *mockCapture) startCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts
}

func (c *mockCapture) stopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}

type mockStream struct {
	mu      sync.Mutex
	events  chan domain.StreamEvent
	sent    []domain.TransportChunk
	sendErr error
	closes  int
}

func newMockStream() *mockStream {
	return &mockStream{events: make(chan domain.StreamEvent, 32)}
}

func (s *mockStream) Send(chunk domain.TransportChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, chunk)
	return nil
}

func (s *mockStream) Events() <-chan domain.StreamEvent { return s.events }

func (s *mockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *mockStream) sentChunks() []domain.TransportChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TransportChunk, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *mockStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type mockDialer struct {
	mu      sync.Mutex
	streams []*mockStream
	err     error
}

func (d *mockDialer) Dial(_ context.Context) (application.LiveStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	s := newMockStream()
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *mockDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

func (d *mockDialer) last() *mockStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	ctxErrs  []error
}

func (n *recordingNotifier) Notify(ctx context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	n.ctxErrs = append(n.ctxErrs, ctx.Err())
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

type recordingObserver struct {
	mu       sync.Mutex
	statuses []domain.SessionStatus
	messages []domain.ChatMessage
}

func (o *recordingObserver) StatusChanged(status domain.SessionStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, status)
}

func (o *recordingObserver) MessagesAppended(messages []domain.ChatMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, messages...)
}

func (o *recordingObserver) statusHistory() []domain.SessionStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.SessionStatus, len(o.statuses))
	copy(out, o.statuses)
	return out
}

var errBoom = errors.New("boom")
