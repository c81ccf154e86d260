//go:build !portaudio
// +build !portaudio

package audio

import (
	"fmt"
	"log/slog"
	"time"

	"voicechat/internal/application"
	"voicechat/internal/domain"
)

// SpeakerSink stub when portaudio is not available
type SpeakerSink struct {
	logger *slog.Logger
}

func NewSpeakerSink(sampleRate, deviceIndex int, logger *slog.Logger) *SpeakerSink {
	return &SpeakerSink{logger: logger}
}

func (s *SpeakerSink) Open() error {
	return fmt.Errorf("%w: speaker sink not available: rebuild with -tags portaudio", domain.ErrDeviceAcquisition)
}

func (s *SpeakerSink) Close() error {
	return nil
}

func (s *SpeakerSink) Now() time.Duration {
	return 0
}

func (s *SpeakerSink) Schedule(_ domain.AudioChunk, _ time.Duration, _ func()) (application.PlaybackHandle, error) {
	return nil, fmt.Errorf("speaker sink not available")
}
