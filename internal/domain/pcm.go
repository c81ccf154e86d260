package domain

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const bytesPerSample = 2

// PCMMimeType returns the wire MIME type for 16-bit PCM at the given rate.
func PCMMimeType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// ParseSampleRate extracts the rate parameter from a PCM MIME type.
func ParseSampleRate(mimeType string, fallback int) int {
	for _, param := range strings.Split(mimeType, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(key, "rate") {
			continue
		}
		rate, err := strconv.Atoi(value)
		if err != nil || rate <= 0 {
			return fallback
		}
		return rate
	}
	return fallback
}

// EncodePCM quantizes samples to 16-bit little-endian PCM. Out of range
// values are clamped; NaN is treated as silence.
func EncodePCM(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(quantize(s)))
	}
	return out
}

func quantize(s float32) int16 {
	v := float64(s)
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	q := math.Round(v * 32768)
	if q > math.MaxInt16 {
		q = math.MaxInt16
	}
	if q < math.MinInt16 {
		q = math.MinInt16
	}
	return int16(q)
}

func EncodeForTransport(samples []float32, sampleRate int) TransportChunk {
	return TransportChunk{
		Data:     base64.StdEncoding.EncodeToString(EncodePCM(samples)),
		MimeType: PCMMimeType(sampleRate),
	}
}

func DecodeFromTransport(text string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return data, nil
}

// PCMToPlayable reinterprets interleaved 16-bit little-endian PCM as planar
// float samples.
func PCMToPlayable(pcm []byte, sampleRate, channels int) (AudioChunk, error) {
	if channels < 1 {
		return AudioChunk{}, fmt.Errorf("%w: invalid channel count %d", ErrMalformedPayload, channels)
	}
	if sampleRate < 1 {
		return AudioChunk{}, fmt.Errorf("%w: invalid sample rate %d", ErrMalformedPayload, sampleRate)
	}

	frameSize := bytesPerSample * channels
	if len(pcm)%frameSize != 0 {
		return AudioChunk{}, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrTruncatedPCM, len(pcm), frameSize)
	}

	frames := len(pcm) / frameSize
	data := make([][]float32, channels)
	for ch := range data {
		data[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := i*frameSize + ch*bytesPerSample
			data[ch][i] = float32(int16(binary.LittleEndian.Uint16(pcm[off:]))) / 32768
		}
	}

	return AudioChunk{Data: data, SampleRate: sampleRate}, nil
}
