package application

import (
	"context"

	"voicechat/internal/domain"
)

type LiveDialer interface {
	Dial(ctx context.Context) (LiveStream, error)
}

// LiveStream is one open connection to the conversational service. Events
// is closed after the final EventClosed or EventError.
type LiveStream interface {
	Send(chunk domain.TransportChunk) error
	Events() <-chan domain.StreamEvent
	Close() error
}
