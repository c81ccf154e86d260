package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/youpy/go-wav"
)

const (
	fileBlockSize   = 1024
	processedSuffix = ".processed"
)

// FileSource plays WAV files dropped into a directory as if they were
// spoken into a microphone. Files already present at start are played first,
// in name order, then new files as they appear. Writers should create the
// file under a .tmp name and rename it when complete.
type FileSource struct {
	dir        string
	sampleRate int
	realtime   bool
	logger     *slog.Logger

	frames chan []float32

	mu        sync.Mutex
	processed map[string]bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewFileSource creates a drop-directory source. With realtime set, samples
// are paced at the source rate; otherwise they are delivered as fast as the
// consumer reads them.
func NewFileSource(dir string, sampleRate int, realtime bool, logger *slog.Logger) *FileSource {
	return &FileSource{
		dir:        dir,
		sampleRate: sampleRate,
		realtime:   realtime,
		logger:     logger,
		frames:     make(chan []float32, 8),
		processed:  make(map[string]bool),
	}
}

func (f *FileSource) Name() string {
	return "file"
}

func (f *FileSource) SampleRate() int {
	return f.sampleRate
}

func (f *FileSource) Frames() <-chan []float32 {
	return f.frames
}

func (f *FileSource) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return nil
	}

	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return fmt.Errorf("creating audio dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(f.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", f.dir, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	queue := make(chan string, 64)

	f.wg.Add(2)
	go func() {
		defer f.wg.Done()
		f.watch(ctx, watcher, queue)
	}()
	go func() {
		defer f.wg.Done()
		f.play(ctx, queue)
	}()

	f.logger.Info("watching audio drop directory", "dir", f.dir)
	return nil
}

func (f *FileSource) Stop() error {
	f.mu.Lock()
	cancel := f.cancel
	f.cancel = nil
	f.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	f.wg.Wait()
	return nil
}

func (f *FileSource) watch(ctx context.Context, watcher *fsnotify.Watcher, queue chan<- string) {
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) || !isWAV(event.Name) {
				continue
			}
			select {
			case queue <- event.Name:
			case <-ctx.Done():
				return
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			f.logger.Error("file watcher error", "error", err)
		}
	}
}

func (f *FileSource) play(ctx context.Context, queue <-chan string) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		f.logger.Error("reading audio dir", "error", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isWAV(entry.Name()) {
			continue
		}
		if !f.playFile(ctx, filepath.Join(f.dir, entry.Name())) {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case path := <-queue:
			if !f.playFile(ctx, path) {
				return
			}
		}
	}
}

// playFile streams one file into the frame channel. It returns false once
// ctx is done.
func (f *FileSource) playFile(ctx context.Context, path string) bool {
	f.mu.Lock()
	seen := f.processed[path]
	f.processed[path] = true
	f.mu.Unlock()
	if seen {
		return true
	}

	samples, rate, err := decodeWAV(path)
	if err != nil {
		f.logger.Error("decoding audio file", "path", path, "error", err)
		return true
	}
	samples = Resample(samples, rate, f.sampleRate)

	f.logger.Info("playing audio file", "path", path,
		"duration", framesToDuration(int64(len(samples)), f.sampleRate))

	var ticker *time.Ticker
	if f.realtime {
		ticker = time.NewTicker(framesToDuration(fileBlockSize, f.sampleRate))
		defer ticker.Stop()
	}

	for len(samples) > 0 {
		n := min(fileBlockSize, len(samples))
		block := samples[:n]
		samples = samples[n:]

		select {
		case f.frames <- block:
		case <-ctx.Done():
			f.forget(path)
			return false
		}

		if ticker != nil {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				f.forget(path)
				return false
			}
		}
	}

	if err := os.Rename(path, path+processedSuffix); err != nil {
		f.logger.Warn("marking audio file processed", "path", path, "error", err)
	}
	return true
}

// forget lets an interrupted file play again on the next start.
func (f *FileSource) forget(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.processed, path)
}

func isWAV(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".wav")
}

// decodeWAV reads a WAV file and downmixes it to mono floats.
func decodeWAV(path string) ([]float32, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	reader := wav.NewReader(file)
	format, err := reader.Format()
	if err != nil {
		return nil, 0, fmt.Errorf("reading format: %w", err)
	}
	channels := uint(format.NumChannels)
	if channels == 0 || channels > 2 {
		return nil, 0, fmt.Errorf("unsupported channel count %d", channels)
	}

	var out []float32
	for {
		samples, err := reader.ReadSamples(4096)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("reading samples: %w", err)
		}
		if len(samples) == 0 {
			break
		}
		for _, s := range samples {
			var sum float64
			for ch := uint(0); ch < channels; ch++ {
				sum += reader.FloatValue(s, ch)
			}
			out = append(out, float32(sum/float64(channels)))
		}
	}

	return out, int(format.SampleRate), nil
}
