package audio_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/youpy/go-wav"

	"voicechat/internal/domain"
	"voicechat/internal/infra/audio"
)

func TestVirtualSink_ClockAdvancesAndCompletes(t *testing.T) {
	sink := audio.NewVirtualSink(24000, "", discardLogger())
	if err := sink.Open(); err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer sink.Close()

	chunk := domain.AudioChunk{Data: [][]float32{make([]float32, 1200)}, SampleRate: 24000}
	ended := make(chan struct{})
	if _, err := sink.Schedule(chunk, sink.Now(), func() { close(ended) }); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}

	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("50ms chunk never completed")
	}
	if sink.Now() < 50*time.Millisecond {
		t.Errorf("clock behind rendered audio: %v", sink.Now())
	}
}

func TestVirtualSink_RecordsToWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	sink := audio.NewVirtualSink(16000, path, discardLogger())
	if err := sink.Open(); err != nil {
		t.Fatalf("Open error: %v", err)
	}

	data := make([]float32, 800)
	for i := range data {
		data[i] = 0.5
	}
	ended := make(chan struct{})
	sink.Schedule(domain.AudioChunk{Data: [][]float32{data}, SampleRate: 16000}, 0, func() { close(ended) })

	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("chunk never completed")
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening recording: %v", err)
	}
	defer f.Close()

	reader := wav.NewReader(f)
	format, err := reader.Format()
	if err != nil {
		t.Fatalf("reading format: %v", err)
	}
	if format.SampleRate != 16000 || format.NumChannels != 1 {
		t.Errorf("format: got %d Hz, %d channels", format.SampleRate, format.NumChannels)
	}

	loud := 0
	for {
		samples, err := reader.ReadSamples(4096)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("reading samples: %v", err)
		}
		for _, s := range samples {
			if reader.IntValue(s, 0) > 16000 {
				loud++
			}
		}
	}
	if loud != 800 {
		t.Errorf("recorded chunk samples: got %d, want 800", loud)
	}
}
