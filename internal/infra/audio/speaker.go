//go:build portaudio
// +build portaudio

package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"voicechat/internal/application"
	"voicechat/internal/domain"
)

// SpeakerSink plays scheduled chunks on an output device. The number of
// frames the device has pulled is the output clock.
type SpeakerSink struct {
	sampleRate      int
	deviceIndex     int
	framesPerBuffer int
	logger          *slog.Logger

	mixer *mixer

	mu     sync.Mutex
	stream *portaudio.Stream
	done   chan struct{}
}

// NewSpeakerSink creates a sink on the device at deviceIndex, or the default
// output device when deviceIndex is negative.
func NewSpeakerSink(sampleRate, deviceIndex int, logger *slog.Logger) *SpeakerSink {
	return &SpeakerSink{
		sampleRate:      sampleRate,
		deviceIndex:     deviceIndex,
		framesPerBuffer: 512,
		logger:          logger,
		mixer:           newMixer(sampleRate),
	}
}

func (s *SpeakerSink) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: initializing portaudio: %w", domain.ErrDeviceAcquisition, err)
	}

	device, err := outputDevice(s.deviceIndex)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("%w: %w", domain.ErrDeviceAcquisition, err)
	}

	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: 1,
			Latency:  device.DefaultLowOutputLatency,
		},
		SampleRate:      float64(s.sampleRate),
		FramesPerBuffer: s.framesPerBuffer,
	}

	stream, err := portaudio.OpenStream(params, func(out []float32) {
		s.mixer.render(out)
	})
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("%w: opening output stream: %w", domain.ErrDeviceAcquisition, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("%w: starting output stream: %w", domain.ErrDeviceAcquisition, err)
	}

	s.stream = stream
	s.done = make(chan struct{})
	go s.mixer.dispatch(s.done)

	s.logger.Info("speaker started", "device", device.Name, "sample_rate", s.sampleRate)
	return nil
}

func (s *SpeakerSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}

	close(s.done)
	err := s.stream.Stop()
	s.stream.Close()
	s.stream = nil
	portaudio.Terminate()

	if err != nil {
		return fmt.Errorf("stopping output stream: %w", err)
	}
	return nil
}

func (s *SpeakerSink) Now() time.Duration {
	return s.mixer.now()
}

func (s *SpeakerSink) Schedule(chunk domain.AudioChunk, at time.Duration, onEnded func()) (application.PlaybackHandle, error) {
	s.mu.Lock()
	open := s.stream != nil
	s.mu.Unlock()
	if !open {
		return nil, fmt.Errorf("speaker not open")
	}
	return s.mixer.schedule(chunk, at, onEnded)
}

func outputDevice(index int) (*portaudio.DeviceInfo, error) {
	if index < 0 {
		device, err := portaudio.DefaultOutputDevice()
		if err != nil {
			return nil, fmt.Errorf("default output device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	if index >= len(devices) || devices[index].MaxOutputChannels < 1 {
		return nil, fmt.Errorf("device %d is not an output device", index)
	}
	return devices[index], nil
}
