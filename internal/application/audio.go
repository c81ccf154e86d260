package application

import (
	"context"
	"time"

	"voicechat/internal/domain"
)

// CaptureSource delivers mono float sample buffers at SampleRate. Buffer
// sizes are whatever the device produces; the capture pipeline reframes them.
type CaptureSource interface {
	Start(ctx context.Context) error
	Stop() error
	Frames() <-chan []float32
	SampleRate() int
	Name() string
}

// PlaybackSink plays chunks at positions on its own monotonic output clock.
// onEnded must not be called synchronously from Schedule, and is not called
// for sources stopped through their handle.
type PlaybackSink interface {
	Now() time.Duration
	Schedule(chunk domain.AudioChunk, at time.Duration, onEnded func()) (PlaybackHandle, error)
}

// PlaybackHandle controls one scheduled chunk. Start and End are the
// positions the sink actually assigned on its clock, which can differ from the
// requested position after rounding to the device frame grid or when the
// requested start had already passed.
type PlaybackHandle interface {
	Stop()
	Start() time.Duration
	End() time.Duration
}
