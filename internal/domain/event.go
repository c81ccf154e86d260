package domain

// ServerMessage is one inbound message from the live service. Any subset of
// the fields may be set.
type ServerMessage struct {
	InputTranscription  *string
	OutputTranscription *string
	TurnComplete        bool
	Interrupted         bool
	Audio               *TransportChunk
}

type StreamEventKind string

const (
	EventOpen      StreamEventKind = "open"
	EventMessage   StreamEventKind = "message"
	EventMalformed StreamEventKind = "malformed"
	EventError     StreamEventKind = "error"
	EventClosed    StreamEventKind = "closed"
)

type StreamEvent struct {
	Kind    StreamEventKind
	Message *ServerMessage
	Err     error
}
