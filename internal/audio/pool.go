package audio

import (
	"math"
	"sync"

	"go.uber.org/zap"
)

// Voice is a started tone generator.
type Voice interface {
	// Stop silences the voice. Stopping twice is a no-op.
	Stop()
}

// Synth builds tone generators.
type Synth interface {
	// Start creates a fixed-waveform oscillator at freq Hz, routes it through
	// a gain stage set to gain, connects it to the output and starts it.
	Start(freq, gain float64) (Voice, error)
}

// PoolConfig holds pool limits.
type PoolConfig struct {
	// Upper bound for the gain stage; volumes are clamped to [0, MaxGain].
	MaxGain float64

	// Log a warning each time the pool grows by this many voices.
	// Zero disables the warning. The pool itself is never capped.
	WarnVoices int
}

// DefaultPoolConfig returns sensible defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxGain:    1.0,
		WarnVoices: 64,
	}
}

// Pool owns the live voices started on behalf of a guest.
// Voices are only ever removed all at once, by DropAll.
type Pool struct {
	mu     sync.Mutex
	synth  Synth
	voices []Voice
	cfg    PoolConfig
	logger *zap.Logger
}

// NewPool creates an empty pool playing through synth.
func NewPool(synth Synth, cfg PoolConfig, logger *zap.Logger) *Pool {
	if cfg.MaxGain <= 0 {
		cfg.MaxGain = DefaultPoolConfig().MaxGain
	}
	return &Pool{
		synth:  synth,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "audio-pool")),
	}
}

// Play starts a new voice and appends it to the pool.
func (p *Pool) Play(freq, volume float64) error {
	if math.IsNaN(freq) || math.IsInf(freq, 0) || freq <= 0 {
		return &InvalidFrequencyError{Frequency: freq}
	}
	gain := p.clampGain(volume)

	p.mu.Lock()
	defer p.mu.Unlock()

	v, err := p.synth.Start(freq, gain)
	if err != nil {
		return &SynthError{Frequency: freq, Err: err}
	}
	p.voices = append(p.voices, v)

	if n := len(p.voices); p.cfg.WarnVoices > 0 && n%p.cfg.WarnVoices == 0 {
		p.logger.Warn("Voice pool keeps growing without drop_all",
			zap.Int("voices", n),
		)
	}

	return nil
}

// DropAll stops every voice and empties the pool. It returns how many voices
// were stopped; calling it on an empty pool is a no-op.
func (p *Pool) DropAll() int {
	p.mu.Lock()
	voices := p.voices
	p.voices = nil
	p.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}

	if len(voices) > 0 {
		p.logger.Debug("Dropped all voices", zap.Int("voices", len(voices)))
	}
	return len(voices)
}

// Len returns the number of live voices.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.voices)
}

func (p *Pool) clampGain(volume float64) float64 {
	switch {
	case math.IsNaN(volume), volume < 0:
		return 0
	case volume > p.cfg.MaxGain:
		return p.cfg.MaxGain
	default:
		return volume
	}
}
