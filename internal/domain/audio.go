package domain

import "time"

// AudioChunk is an immutable block of planar float samples in [-1, 1].
type AudioChunk struct {
	Data       [][]float32
	SampleRate int
}

func (c AudioChunk) Channels() int {
	return len(c.Data)
}

func (c AudioChunk) Frames() int {
	if len(c.Data) == 0 {
		return 0
	}
	return len(c.Data[0])
}

func (c AudioChunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.SampleRate)
}

// TransportChunk is base64 PCM as carried on the wire.
type TransportChunk struct {
	Data     string
	MimeType string
}

const (
	DefaultInputSampleRate  = 16000
	DefaultOutputSampleRate = 24000
)
