package application

import (
	"time"

	"voicechat/internal/domain"
)

type Metrics interface {
	FrameSent(bytes int)
	FrameDropped()
	SendFailed()
	ChunkScheduled(d time.Duration)
	ChunkDiscarded()
	Interrupted()
	TurnFinalized(messages int)
	MalformedPayload()
	StatusChanged(status domain.SessionStatus)
}

type NoopMetrics struct{}

func (NoopMetrics) FrameSent(int)                      {}
func (NoopMetrics) FrameDropped()                      {}
func (NoopMetrics) SendFailed()                        {}
func (NoopMetrics) ChunkScheduled(time.Duration)       {}
func (NoopMetrics) ChunkDiscarded()                    {}
func (NoopMetrics) Interrupted()                       {}
func (NoopMetrics) TurnFinalized(int)                  {}
func (NoopMetrics) MalformedPayload()                  {}
func (NoopMetrics) StatusChanged(domain.SessionStatus) {}
