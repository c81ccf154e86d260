package audio_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/youpy/go-wav"

	"voicechat/internal/infra/audio"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeWAV writes a 16-bit WAV holding n copies of value on every channel.
func writeWAV(t *testing.T, path string, n int, channels uint16, rate uint32, value int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating wav: %v", err)
	}
	defer f.Close()

	samples := make([]wav.Sample, n)
	for i := range samples {
		for ch := 0; ch < int(channels); ch++ {
			samples[i].Values[ch] = value
		}
	}
	w := wav.NewWriter(f, uint32(n), channels, rate, 16)
	if err := w.WriteSamples(samples); err != nil {
		t.Fatalf("writing wav: %v", err)
	}
}

// collect reads frames until n samples arrived.
func collect(t *testing.T, src *audio.FileSource, n int) []float32 {
	t.Helper()
	var got []float32
	timeout := time.After(5 * time.Second)
	for len(got) < n {
		select {
		case frame := <-src.Frames():
			got = append(got, frame...)
		case <-timeout:
			t.Fatalf("timed out after %d of %d samples", len(got), n)
		}
	}
	return got
}

func waitForFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s never appeared", path)
}

func TestFileSource_PlaysExistingFiles(t *testing.T) {
	dir := t.TempDir()
	writeWAV(t, filepath.Join(dir, "a.wav"), 3000, 1, 16000, 16384)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644)

	src := audio.NewFileSource(dir, 16000, false, discardLogger())
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer src.Stop()

	got := collect(t, src, 3000)
	if len(got) != 3000 {
		t.Fatalf("samples: got %d, want 3000", len(got))
	}
	for i, s := range got {
		if s != 0.5 {
			t.Fatalf("sample %d: got %v, want 0.5", i, s)
		}
	}

	waitForFile(t, filepath.Join(dir, "a.wav.processed"))
}

func TestFileSource_PicksUpDroppedFiles(t *testing.T) {
	dir := t.TempDir()
	src := audio.NewFileSource(dir, 16000, false, discardLogger())
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer src.Stop()

	tmp := filepath.Join(dir, "b.wav.tmp")
	writeWAV(t, tmp, 1000, 2, 16000, -16384)
	if err := os.Rename(tmp, filepath.Join(dir, "b.wav")); err != nil {
		t.Fatalf("rename: %v", err)
	}

	got := collect(t, src, 1000)
	if got[0] != -0.5 {
		t.Errorf("stereo downmix: got %v, want -0.5", got[0])
	}
}

func TestFileSource_ResamplesToSourceRate(t *testing.T) {
	dir := t.TempDir()
	writeWAV(t, filepath.Join(dir, "c.wav"), 800, 1, 8000, 0)

	src := audio.NewFileSource(dir, 16000, false, discardLogger())
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer src.Stop()

	if got := collect(t, src, 1600); len(got) != 1600 {
		t.Errorf("samples: got %d, want 1600", len(got))
	}
}

func TestFileSource_StopIsIdempotent(t *testing.T) {
	src := audio.NewFileSource(t.TempDir(), 16000, true, discardLogger())
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Errorf("first stop: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Errorf("second stop: %v", err)
	}
}
