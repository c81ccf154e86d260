//go:build !portaudio
// +build !portaudio

package audio

import (
	"context"
	"fmt"
	"log/slog"

	"voicechat/internal/domain"
)

// MicrophoneSource stub when portaudio is not available
type MicrophoneSource struct {
	sampleRate int
	frames     chan []float32
	logger     *slog.Logger
}

func NewMicrophoneSource(sampleRate, deviceIndex int, logger *slog.Logger) *MicrophoneSource {
	return &MicrophoneSource{
		sampleRate: sampleRate,
		frames:     make(chan []float32),
		logger:     logger,
	}
}

func (m *MicrophoneSource) Name() string {
	return "microphone"
}

func (m *MicrophoneSource) SampleRate() int {
	return m.sampleRate
}

func (m *MicrophoneSource) Frames() <-chan []float32 {
	return m.frames
}

func (m *MicrophoneSource) Start(_ context.Context) error {
	return fmt.Errorf("microphone source not available: rebuild with -tags portaudio")
}

func (m *MicrophoneSource) Stop() error {
	return nil
}

func ListDevices() ([]Device, error) {
	return nil, fmt.Errorf("%w: device listing not available: rebuild with -tags portaudio", domain.ErrDeviceAcquisition)
}
