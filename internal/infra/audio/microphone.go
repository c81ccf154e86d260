//go:build portaudio
// +build portaudio

package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"voicechat/internal/domain"
)

const frameQueue = 32

// MicrophoneSource captures mono float samples from an input device.
type MicrophoneSource struct {
	sampleRate      int
	deviceIndex     int
	framesPerBuffer int
	logger          *slog.Logger

	frames chan []float32

	mu      sync.Mutex
	stream  *portaudio.Stream
	dropped atomic.Int64
}

// NewMicrophoneSource creates a source on the device at deviceIndex, or the
// default input device when deviceIndex is negative.
func NewMicrophoneSource(sampleRate, deviceIndex int, logger *slog.Logger) *MicrophoneSource {
	return &MicrophoneSource{
		sampleRate:      sampleRate,
		deviceIndex:     deviceIndex,
		framesPerBuffer: 1024,
		logger:          logger,
		frames:          make(chan []float32, frameQueue),
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
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != nil {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initializing portaudio: %w", err)
	}

	device, err := inputDevice(m.deviceIndex)
	if err != nil {
		portaudio.Terminate()
		return err
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: 1,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(m.sampleRate),
		FramesPerBuffer: m.framesPerBuffer,
	}

	m.drain()
	m.dropped.Store(0)

	stream, err := portaudio.OpenStream(params, m.capture)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("opening input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("starting input stream: %w", err)
	}

	m.stream = stream
	m.logger.Info("microphone started", "device", device.Name, "sample_rate", m.sampleRate)
	return nil
}

func (m *MicrophoneSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return nil
	}

	err := m.stream.Stop()
	m.stream.Close()
	m.stream = nil
	portaudio.Terminate()

	if n := m.dropped.Load(); n > 0 {
		m.logger.Warn("microphone buffers dropped", "count", n)
	}
	if err != nil {
		return fmt.Errorf("stopping input stream: %w", err)
	}
	return nil
}

// capture runs on the portaudio thread and must not block.
func (m *MicrophoneSource) capture(in []float32) {
	buf := make([]float32, len(in))
	copy(buf, in)

	select {
	case m.frames <- buf:
	default:
		m.dropped.Add(1)
	}
}

func (m *MicrophoneSource) drain() {
	for {
		select {
		case <-m.frames:
		default:
			return
		}
	}
}

func inputDevice(index int) (*portaudio.DeviceInfo, error) {
	if index < 0 {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	if index >= len(devices) || devices[index].MaxInputChannels < 1 {
		return nil, fmt.Errorf("device %d is not an input device", index)
	}
	return devices[index], nil
}

// ListDevices reports every device portaudio can see.
func ListDevices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initializing portaudio: %w", domain.ErrDeviceAcquisition, err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}

	out := make([]Device, 0, len(devices))
	for i, d := range devices {
		out = append(out, Device{
			Index:             i,
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
		})
	}
	return out, nil
}
