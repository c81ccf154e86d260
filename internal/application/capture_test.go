package application_test

import (
	"testing"

	"voicechat/internal/application"
	"voicechat/internal/domain"
)

func TestCapturePipeline_DropsWhileDetached(t *testing.T) {
	p := application.NewCapturePipeline(4, 16000, nil, discardLogger())

	if sent := p.Push([]float32{0.1, 0.2, 0.3, 0.4, 0.5}); sent != 0 {
		t.Fatalf("expected no frames while detached, got %d", sent)
	}

	stream := newMockStream()
	p.Attach(stream)
	if sent := p.Push([]float32{0.1, 0.2, 0.3}); sent != 0 {
		t.Fatalf("partial frame should not be sent, got %d", sent)
	}
	if len(stream.sentChunks()) != 0 {
		t.Fatal("dropped samples leaked into the first frame")
	}
}

func TestCapturePipeline_Reframes(t *testing.T) {
	stream := newMockStream()
	p := application.NewCapturePipeline(4, 16000, nil, discardLogger())
	p.Attach(stream)

	sent := p.Push([]float32{0, 0.25, 0.5})
	sent += p.Push([]float32{-0.25, -0.5, 1, -1, 0, 0.5, 0.5})

	if sent != 2 {
		t.Fatalf("expected 2 frames, got %d", sent)
	}

	chunks := stream.sentChunks()
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks on the stream, got %d", len(chunks))
	}

	want := [][]float32{{0, 0.25, 0.5, -0.25}, {-0.5, 1, -1, 0}}
	for i, chunk := range chunks {
		if chunk.MimeType != "audio/pcm;rate=16000" {
			t.Errorf("chunk %d mime: %q", i, chunk.MimeType)
		}
		expected := domain.EncodeForTransport(want[i], 16000)
		if chunk.Data != expected.Data {
			t.Errorf("chunk %d payload mismatch", i)
		}
	}
}

func TestCapturePipeline_DetachDiscardsPartialFrame(t *testing.T) {
	stream := newMockStream()
	p := application.NewCapturePipeline(4, 16000, nil, discardLogger())
	p.Attach(stream)

	p.Push([]float32{1, 1, 1})
	p.Detach()
	p.Attach(stream)
	p.Push([]float32{0, 0, 0, 0})

	chunks := stream.sentChunks()
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Data != domain.EncodeForTransport([]float32{0, 0, 0, 0}, 16000).Data {
		t.Error("stale partial frame was sent after reattach")
	}
}

func TestCapturePipeline_SendErrorIsNotFatal(t *testing.T) {
	stream := newMockStream()
	stream.sendErr = errBoom
	p := application.NewCapturePipeline(2, 16000, nil, discardLogger())
	p.Attach(stream)

	if sent := p.Push([]float32{0, 0, 0, 0}); sent != 2 {
		t.Errorf("frames are attempted regardless of send errors, got %d", sent)
	}
}
