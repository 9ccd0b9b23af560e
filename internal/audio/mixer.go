package audio

import (
	"math"
	"sync"
)

// DefaultSampleRate is the mixer rate when none is configured.
const DefaultSampleRate = 44100

// Mixer is a software audio destination. Voices started on it are sine
// oscillators with a gain stage; Render sums every started voice.
type Mixer struct {
	sampleRate float64

	mu     sync.Mutex
	voices []*sineVoice
}

// NewMixer creates a mixer running at sampleRate Hz.
func NewMixer(sampleRate int) *Mixer {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &Mixer{sampleRate: float64(sampleRate)}
}

// SampleRate returns the output rate in Hz.
func (m *Mixer) SampleRate() int {
	return int(m.sampleRate)
}

// Start implements Synth.
func (m *Mixer) Start(freq, gain float64) (Voice, error) {
	v := &sineVoice{
		mixer: m,
		step:  2 * math.Pi * freq / m.sampleRate,
		gain:  gain,
	}

	m.mu.Lock()
	m.voices = append(m.voices, v)
	m.mu.Unlock()

	return v, nil
}

// Active returns the number of voices currently sounding.
func (m *Mixer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// Render overwrites dst with the next len(dst) mono samples.
// Samples are not clipped; sinks clamp on conversion.
func (m *Mixer) Render(dst []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range dst {
		var s float64
		for _, v := range m.voices {
			s += math.Sin(v.phase) * v.gain
			v.phase += v.step
			if v.phase >= 2*math.Pi {
				v.phase -= 2 * math.Pi
			}
		}
		dst[i] = float32(s)
	}
}

func (m *Mixer) remove(v *sineVoice) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, cur := range m.voices {
		if cur == v {
			m.voices = append(m.voices[:i], m.voices[i+1:]...)
			return
		}
	}
}

type sineVoice struct {
	mixer *Mixer
	step  float64
	gain  float64
	phase float64

	once sync.Once
}

func (v *sineVoice) Stop() {
	v.once.Do(func() { v.mixer.remove(v) })
}
