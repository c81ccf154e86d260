package application

import (
	"log/slog"

	"voicechat/internal/domain"
)

const DefaultFrameSize = 4096

// FrameSender is the outbound half of a live stream.
type FrameSender interface {
	Send(chunk domain.TransportChunk) error
}

// CapturePipeline cuts device buffers into fixed-size frames and sends each
// completed frame, fire and forget, to the attached stream.
type CapturePipeline struct {
	frameSize  int
	sampleRate int
	pending    []float32
	out        FrameSender
	metrics    Metrics
	logger     *slog.Logger
}

func NewCapturePipeline(frameSize, sampleRate int, metrics Metrics, logger *slog.Logger) *CapturePipeline {
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &CapturePipeline{
		frameSize:  frameSize,
		sampleRate: sampleRate,
		pending:    make([]float32, 0, frameSize),
		metrics:    metrics,
		logger:     logger,
	}
}

func (p *CapturePipeline) Attach(out FrameSender) {
	p.out = out
}

// Detach stops sending and discards any partial frame.
func (p *CapturePipeline) Detach() {
	p.out = nil
	p.pending = p.pending[:0]
}

func (p *CapturePipeline) Attached() bool {
	return p.out != nil
}

// Push accepts one device buffer and returns how many frames it completed.
func (p *CapturePipeline) Push(samples []float32) int {
	if p.out == nil {
		if len(samples) > 0 {
			p.metrics.FrameDropped()
		}
		return 0
	}

	sent := 0
	for len(samples) > 0 {
		n := p.frameSize - len(p.pending)
		if n > len(samples) {
			n = len(samples)
		}
		p.pending = append(p.pending, samples[:n]...)
		samples = samples[n:]

		if len(p.pending) == p.frameSize {
			p.flush()
			sent++
		}
	}
	return sent
}

func (p *CapturePipeline) flush() {
	chunk := domain.EncodeForTransport(p.pending, p.sampleRate)
	pcmBytes := len(p.pending) * 2
	p.pending = p.pending[:0]

	if err := p.out.Send(chunk); err != nil {
		p.metrics.SendFailed()
		p.logger.Warn("sending audio frame", "error", err)
		return
	}
	p.metrics.FrameSent(pcmBytes)
}
