package audio

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/youpy/go-wav"

	"voicechat/internal/application"
	"voicechat/internal/domain"
)

const virtualTick = 10 * time.Millisecond

// VirtualSink renders playback against the wall clock instead of a device.
// With a record path set, everything rendered is written to a 16-bit WAV
// file on Close.
type VirtualSink struct {
	sampleRate int
	recordPath string
	logger     *slog.Logger

	mixer *mixer

	mu       sync.Mutex
	running  bool
	done     chan struct{}
	wg       sync.WaitGroup
	recorded []float32
}

func NewVirtualSink(sampleRate int, recordPath string, logger *slog.Logger) *VirtualSink {
	return &VirtualSink{
		sampleRate: sampleRate,
		recordPath: recordPath,
		logger:     logger,
		mixer:      newMixer(sampleRate),
	}
}

func (v *VirtualSink) Open() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.running {
		return nil
	}

	v.running = true
	v.done = make(chan struct{})
	v.wg.Add(2)
	go func() {
		defer v.wg.Done()
		v.mixer.dispatch(v.done)
	}()
	go func() {
		defer v.wg.Done()
		v.run(v.done)
	}()

	v.logger.Info("virtual output started", "sample_rate", v.sampleRate, "record", v.recordPath)
	return nil
}

func (v *VirtualSink) Close() error {
	v.mu.Lock()
	if !v.running {
		v.mu.Unlock()
		return nil
	}
	v.running = false
	close(v.done)
	v.mu.Unlock()

	v.wg.Wait()

	if v.recordPath == "" {
		return nil
	}
	return v.writeRecording()
}

func (v *VirtualSink) Now() time.Duration {
	return v.mixer.now()
}

func (v *VirtualSink) Schedule(chunk domain.AudioChunk, at time.Duration, onEnded func()) (application.PlaybackHandle, error) {
	return v.mixer.schedule(chunk, at, onEnded)
}

func (v *VirtualSink) run(done <-chan struct{}) {
	ticker := time.NewTicker(virtualTick)
	defer ticker.Stop()

	started := time.Now()
	var rendered int64
	buf := make([]float32, durationToFrames(virtualTick, v.sampleRate)*4)

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		due := durationToFrames(time.Since(started), v.sampleRate) - rendered
		for due > 0 {
			n := min(due, int64(len(buf)))
			v.mixer.render(buf[:n])
			if v.recordPath != "" {
				v.recorded = append(v.recorded, buf[:n]...)
			}
			rendered += n
			due -= n
		}
	}
}

func (v *VirtualSink) writeRecording() error {
	f, err := os.Create(v.recordPath)
	if err != nil {
		return fmt.Errorf("creating recording: %w", err)
	}
	defer f.Close()

	samples := make([]wav.Sample, len(v.recorded))
	for i, s := range v.recorded {
		samples[i].Values[0] = int(math.Round(float64(s) * math.MaxInt16))
	}

	w := wav.NewWriter(f, uint32(len(samples)), 1, uint32(v.sampleRate), 16)
	if err := w.WriteSamples(samples); err != nil {
		return fmt.Errorf("writing recording: %w", err)
	}

	v.logger.Info("recording written", "path", v.recordPath, "duration", framesToDuration(int64(len(samples)), v.sampleRate))
	return nil
}
