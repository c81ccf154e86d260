package audio

import (
	"sync"
	"time"

	"voicechat/internal/application"
	"voicechat/internal/domain"
)

// mixer renders scheduled chunks onto a mono timeline measured in output
// frames. The render position is the output clock. It is shared by the
// speaker, whose device callback drives render.
type mixer struct {
	sampleRate int

	mu       sync.Mutex
	position int64
	voices   []*voice
	pending  []func()
	wake     chan struct{}
}

type voice struct {
	m       *mixer
	start   int64
	samples []float32
	onEnded func()
}

func newMixer(sampleRate int) *mixer {
	return &mixer{
		sampleRate: sampleRate,
		wake:       make(chan struct{}, 1),
	}
}

func (m *mixer) now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return framesToDuration(m.position, m.sampleRate)
}

func (m *mixer) schedule(chunk domain.AudioChunk, at time.Duration, onEnded func()) (application.PlaybackHandle, error) {
	samples := Resample(Downmix(chunk), chunk.SampleRate, m.sampleRate)

	v := &voice{
		m:       m,
		start:   durationToFrames(at, m.sampleRate),
		samples: samples,
		onEnded: onEnded,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v.start < m.position {
		v.start = m.position
	}
	m.voices = append(m.voices, v)
	return v, nil
}

func (v *voice) Start() time.Duration {
	return framesToDuration(v.start, v.m.sampleRate)
}

func (v *voice) End() time.Duration {
	return framesToDuration(v.start+int64(len(v.samples)), v.m.sampleRate)
}

// Stop silences the voice without firing its completion.
func (v *voice) Stop() {
	m := v.m
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, other := range m.voices {
		if other == v {
			m.voices = append(m.voices[:i], m.voices[i+1:]...)
			return
		}
	}
}

// render fills out with the next len(out) frames and advances the clock.
// Completions are queued for dispatch; render never calls user code.
func (m *mixer) render(out []float32) {
	for i := range out {
		out[i] = 0
	}

	m.mu.Lock()
	from := m.position
	to := from + int64(len(out))

	kept := m.voices[:0]
	for _, v := range m.voices {
		end := v.start + int64(len(v.samples))
		lo, hi := max(v.start, from), min(end, to)
		for f := lo; f < hi; f++ {
			out[f-from] += v.samples[f-v.start]
		}
		if end <= to {
			if v.onEnded != nil {
				m.pending = append(m.pending, v.onEnded)
			}
			continue
		}
		kept = append(kept, v)
	}
	for i := len(kept); i < len(m.voices); i++ {
		m.voices[i] = nil
	}
	m.voices = kept
	m.position = to
	notify := len(m.pending) > 0
	m.mu.Unlock()

	for i, s := range out {
		if s > 1 {
			out[i] = 1
		} else if s < -1 {
			out[i] = -1
		}
	}

	if notify {
		select {
		case m.wake <- struct{}{}:
		default:
		}
	}
}

// dispatch runs queued completions until done is closed.
func (m *mixer) dispatch(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-m.wake:
		}

		m.mu.Lock()
		callbacks := m.pending
		m.pending = nil
		m.mu.Unlock()

		for _, fn := range callbacks {
			fn()
		}
	}
}

func (m *mixer) active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

func framesToDuration(frames int64, sampleRate int) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

// durationToFrames rounds to the nearest frame, so it inverts
// framesToDuration exactly.
func durationToFrames(d time.Duration, sampleRate int) int64 {
	return (int64(d)*int64(sampleRate) + int64(time.Second)/2) / int64(time.Second)
}
