package application

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"voicechat/internal/domain"
)

// ScheduledSource is a chunk placed on the output timeline.
type ScheduledSource struct {
	ID       uint64
	Start    time.Duration
	Duration time.Duration
	handle   PlaybackHandle
}

func (s *ScheduledSource) End() time.Duration {
	return s.Start + s.Duration
}

// Scheduler plays inbound chunks back to back against the sink clock.
// Chunks are placed at max(cursor, now) so network gaps never open holes in
// the middle of a burst and bursts never overlap.
type Scheduler struct {
	sink    PlaybackSink
	metrics Metrics
	logger  *slog.Logger

	mu         sync.Mutex
	nextStart  time.Duration
	active     map[uint64]*ScheduledSource
	seq        uint64
	dropStale  bool
	discarding bool
}

// NewScheduler creates a scheduler. With dropStale set, audio arriving after
// an interruption is discarded until ResumeTurn is called.
func NewScheduler(sink PlaybackSink, dropStale bool, metrics Metrics, logger *slog.Logger) *Scheduler {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Scheduler{
		sink:      sink,
		metrics:   metrics,
		logger:    logger,
		active:    make(map[uint64]*ScheduledSource),
		dropStale: dropStale,
	}
}

// Enqueue schedules chunk right after everything already scheduled. It
// returns nil without error when the chunk is empty or discarded.
func (s *Scheduler) Enqueue(chunk domain.AudioChunk) (*ScheduledSource, error) {
	if chunk.Frames() == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.discarding {
		s.metrics.ChunkDiscarded()
		s.logger.Debug("discarding audio from interrupted turn", "frames", chunk.Frames())
		return nil, nil
	}

	start := s.nextStart
	if now := s.sink.Now(); now > start {
		start = now
	}

	s.seq++
	id := s.seq
	handle, err := s.sink.Schedule(chunk, start, func() { s.finished(id) })
	if err != nil {
		return nil, fmt.Errorf("scheduling playback: %w", err)
	}

	// The cursor follows the sink's placement so consecutive chunks stay
	// contiguous on its frame grid.
	src := &ScheduledSource{
		ID:       id,
		Start:    handle.Start(),
		Duration: handle.End() - handle.Start(),
		handle:   handle,
	}

	s.nextStart = src.End()
	s.active[id] = src
	s.metrics.ChunkScheduled(src.Duration)

	return src, nil
}

func (s *Scheduler) finished(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}

// Interrupt stops everything scheduled or playing and resets the cursor.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	sources := make([]*ScheduledSource, 0, len(s.active))
	for _, src := range s.active {
		sources = append(sources, src)
	}
	clear(s.active)
	s.nextStart = 0
	if s.dropStale {
		s.discarding = true
	}
	s.mu.Unlock()

	for _, src := range sources {
		if src.handle != nil {
			src.handle.Stop()
		}
	}

	if len(sources) > 0 {
		s.logger.Debug("playback interrupted", "stopped_sources", len(sources))
	}
}

// ResumeTurn re-enables scheduling after an interruption.
func (s *Scheduler) ResumeTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discarding = false
}

// Reset interrupts playback and clears any pending discard state.
func (s *Scheduler) Reset() {
	s.Interrupt()
	s.ResumeTurn()
}

func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Scheduler) NextStartTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}
