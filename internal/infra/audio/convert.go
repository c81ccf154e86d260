package audio

import "voicechat/internal/domain"

// Downmix averages all channels of chunk into one.
func Downmix(chunk domain.AudioChunk) []float32 {
	switch chunk.Channels() {
	case 0:
		return nil
	case 1:
		return chunk.Data[0]
	}

	frames := chunk.Frames()
	out := make([]float32, frames)
	scale := 1 / float32(chunk.Channels())
	for _, plane := range chunk.Data {
		for i := 0; i < frames && i < len(plane); i++ {
			out[i] += plane[i] * scale
		}
	}
	return out
}

// Resample converts mono samples between rates by linear interpolation.
func Resample(samples []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 || len(samples) == 0 {
		return samples
	}

	n := int(int64(len(samples)) * int64(to) / int64(from))
	out := make([]float32, n)
	step := float64(from) / float64(to)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = samples[j] + (samples[j+1]-samples[j])*frac
	}
	return out
}
