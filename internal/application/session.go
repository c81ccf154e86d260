package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"voicechat/internal/domain"
)

const (
	noticeDevice    = "Microphone unavailable. Allow microphone access and start the conversation again."
	noticeStream    = "Lost connection to the conversation service. Start the conversation again to reconnect."
	noticeMalformed = "The conversation service sent unreadable audio repeatedly. The conversation was stopped."
)

const notifyTimeout = 10 * time.Second

type SessionConfig struct {
	FrameSize            int
	OutputSampleRate     int
	MaxMalformedPayloads int
}

// Session drives one conversation at a time through
// idle -> connecting -> active -> idle|error. All inbound events, capture
// frames and stop requests are handled on a single loop goroutine per run.
type Session struct {
	dialer       LiveDialer
	capture      CaptureSource
	pipeline     *CapturePipeline
	scheduler    *Scheduler
	transcripts  *TranscriptAggregator
	conversation *ConversationLog
	notifier     Notifier
	metrics      Metrics
	cfg          SessionConfig
	logger       *slog.Logger

	mu        sync.Mutex
	status    domain.SessionStatus
	run       *sessionRun
	lastErr   error
	observers []SessionObserver
}

type sessionRun struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	stream LiveStream
	logger *slog.Logger

	stop        chan struct{}
	stopOnce    sync.Once
	releaseOnce sync.Once
	done        chan struct{}

	malformed int
}

func NewSession(
	dialer LiveDialer,
	capture CaptureSource,
	scheduler *Scheduler,
	transcripts *TranscriptAggregator,
	notifier Notifier,
	metrics Metrics,
	cfg SessionConfig,
	logger *slog.Logger,
) *Session {
	if cfg.OutputSampleRate <= 0 {
		cfg.OutputSampleRate = domain.DefaultOutputSampleRate
	}
	if notifier == nil {
		notifier = &NoopNotifier{}
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Session{
		dialer:       dialer,
		capture:      capture,
		pipeline:     NewCapturePipeline(cfg.FrameSize, capture.SampleRate(), metrics, logger),
		scheduler:    scheduler,
		transcripts:  transcripts,
		conversation: NewConversationLog(),
		notifier:     notifier,
		metrics:      metrics,
		cfg:          cfg,
		logger:       logger,
		status:       domain.StatusIdle,
	}
}

// AddObserver registers a presentation observer. Observers run on the
// session loop and must not call Stop.
func (s *Session) AddObserver(o SessionObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

func (s *Session) Status() domain.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastError returns the error that last moved the session to error.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) Conversation() *ConversationLog {
	return s.conversation
}

// Start acquires the capture source and dials the service. It returns once
// the stream is dialed; the session turns active when the stream reports
// open.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status == domain.StatusConnecting || s.status == domain.StatusActive {
		s.mu.Unlock()
		return domain.ErrSessionRunning
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run := &sessionRun{
		id:     uuid.NewString(),
		ctx:    runCtx,
		cancel: cancel,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	run.logger = s.logger.With("session_id", run.id)
	s.run = run
	s.lastErr = nil
	// Claimed under the same lock as the check so a concurrent Start sees it.
	prev := s.status
	s.status = domain.StatusConnecting
	observers := make([]SessionObserver, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	s.publishStatus(prev, domain.StatusConnecting, observers)
	run.logger.Info("starting session", "capture", s.capture.Name())

	if err := s.capture.Start(run.ctx); err != nil {
		err = fmt.Errorf("%w: %s: %w", domain.ErrDeviceAcquisition, s.capture.Name(), err)
		s.fail(run, err, noticeDevice)
		close(run.done)
		return err
	}

	stream, err := s.dialer.Dial(ctx)
	if err != nil {
		err = fmt.Errorf("%w: dialing: %w", domain.ErrStream, err)
		s.fail(run, err, noticeStream)
		close(run.done)
		return err
	}
	run.stream = stream

	go s.loop(run)
	return nil
}

// Stop ends the current run and waits for its resources to be released.
// It is a no-op when no run is in progress.
func (s *Session) Stop() {
	s.mu.Lock()
	run := s.run
	status := s.status
	s.mu.Unlock()

	if run == nil || status == domain.StatusIdle || status == domain.StatusError {
		return
	}

	run.stopOnce.Do(func() { close(run.stop) })
	<-run.done
}

// Wait blocks until the current run's loop exits.
func (s *Session) Wait() {
	s.mu.Lock()
	run := s.run
	s.mu.Unlock()
	if run != nil {
		<-run.done
	}
}

func (s *Session) loop(run *sessionRun) {
	defer close(run.done)

	events := run.stream.Events()
	frames := s.capture.Frames()

	for {
		select {
		case <-run.stop:
			run.logger.Info("stop requested")
			s.finish(run)
			return

		case ev, ok := <-events:
			if !ok {
				run.logger.Info("stream ended")
				s.finish(run)
				return
			}
			if ended := s.handleEvent(run, ev); ended {
				return
			}

		case frame, ok := <-frames:
			if !ok {
				run.logger.Debug("capture source drained")
				frames = nil
				continue
			}
			s.pipeline.Push(frame)
		}
	}
}

func (s *Session) handleEvent(run *sessionRun, ev domain.StreamEvent) bool {
	switch ev.Kind {
	case domain.EventOpen:
		if s.Status() != domain.StatusConnecting {
			return false
		}
		s.pipeline.Attach(run.stream)
		s.setStatus(domain.StatusActive)
		run.logger.Info("session active")

	case domain.EventMessage:
		if ev.Message == nil {
			return false
		}
		if s.Status() != domain.StatusActive {
			run.logger.Debug("ignoring message while not active", "status", s.Status())
			return false
		}
		return s.route(run, ev.Message)

	case domain.EventMalformed:
		return s.malformed(run, ev.Err)

	case domain.EventError:
		s.fail(run, fmt.Errorf("%w: %w", domain.ErrStream, ev.Err), noticeStream)
		return true

	case domain.EventClosed:
		run.logger.Info("stream closed by service")
		s.finish(run)
		return true
	}
	return false
}

func (s *Session) route(run *sessionRun, msg *domain.ServerMessage) bool {
	if msg.InputTranscription != nil {
		s.transcripts.AppendUser(*msg.InputTranscription)
	}
	if msg.OutputTranscription != nil {
		s.transcripts.AppendModel(*msg.OutputTranscription)
	}

	if msg.Interrupted {
		s.scheduler.Interrupt()
		s.metrics.Interrupted()
		run.logger.Info("model turn interrupted")
	}

	if msg.Audio != nil {
		if ended := s.play(run, *msg.Audio); ended {
			return true
		}
	}

	if msg.TurnComplete {
		s.completeTurn(run)
	}
	return false
}

func (s *Session) play(run *sessionRun, payload domain.TransportChunk) bool {
	pcm, err := domain.DecodeFromTransport(payload.Data)
	if err != nil {
		return s.malformed(run, err)
	}
	chunk, err := domain.PCMToPlayable(pcm, domain.ParseSampleRate(payload.MimeType, s.cfg.OutputSampleRate), 1)
	if err != nil {
		return s.malformed(run, err)
	}
	run.malformed = 0

	if _, err := s.scheduler.Enqueue(chunk); err != nil {
		run.logger.Warn("dropping audio chunk", "error", err)
	}
	return false
}

func (s *Session) completeTurn(run *sessionRun) {
	messages := s.transcripts.FinalizeTurn()
	s.scheduler.ResumeTurn()
	s.metrics.TurnFinalized(len(messages))

	if len(messages) == 0 {
		return
	}
	s.conversation.Append(messages...)
	for _, m := range messages {
		run.logger.Info("turn finalized", "role", m.Role, "chars", len(m.Text))
	}
	for _, o := range s.snapshotObservers() {
		o.MessagesAppended(messages)
	}
}

func (s *Session) malformed(run *sessionRun, err error) bool {
	s.metrics.MalformedPayload()
	run.malformed++
	run.logger.Warn("dropping malformed payload", "error", err, "consecutive", run.malformed)

	limit := s.cfg.MaxMalformedPayloads
	if limit > 0 && run.malformed >= limit {
		if !errors.Is(err, domain.ErrMalformedPayload) {
			err = fmt.Errorf("%w: %w", domain.ErrMalformedPayload, err)
		}
		s.fail(run, err, noticeMalformed)
		return true
	}
	return false
}

// finish releases the run and returns to idle.
func (s *Session) finish(run *sessionRun) {
	s.release(run)
	s.setStatus(domain.StatusIdle)
	run.logger.Info("session stopped")
}

func (s *Session) fail(run *sessionRun, err error, notice string) {
	run.logger.Error("session failed", "error", err)
	s.release(run)

	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.setStatus(domain.StatusError)

	// The run context is already cancelled by release.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(run.ctx), notifyTimeout)
	defer cancel()
	if nerr := s.notifier.Notify(ctx, notice); nerr != nil {
		run.logger.Error("notifying failure", "error", nerr)
	}
}

func (s *Session) release(run *sessionRun) {
	run.releaseOnce.Do(func() {
		s.pipeline.Detach()
		if run.stream != nil {
			if err := run.stream.Close(); err != nil {
				run.logger.Warn("closing stream", "error", err)
			}
		}
		if err := s.capture.Stop(); err != nil {
			run.logger.Warn("stopping capture", "error", err)
		}
		s.scheduler.Reset()
		s.transcripts.Discard()
		run.cancel()
	})
}

func (s *Session) setStatus(status domain.SessionStatus) {
	s.mu.Lock()
	if s.status == status {
		s.mu.Unlock()
		return
	}
	prev := s.status
	s.status = status
	observers := make([]SessionObserver, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	s.publishStatus(prev, status, observers)
}

func (s *Session) publishStatus(prev, status domain.SessionStatus, observers []SessionObserver) {
	s.logger.Debug("session status changed", "from", prev, "to", status)
	s.metrics.StatusChanged(status)
	for _, o := range observers {
		o.StatusChanged(status)
	}
}

func (s *Session) snapshotObservers() []SessionObserver {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SessionObserver, len(s.observers))
	copy(out, s.observers)
	return out
}
