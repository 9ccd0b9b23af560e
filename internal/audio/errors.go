package audio

import "fmt"

// InvalidFrequencyError occurs when a tone is requested at a frequency that
// is not a positive finite number.
type InvalidFrequencyError struct {
	Frequency float64
}

func (e *InvalidFrequencyError) Error() string {
	return fmt.Sprintf("invalid tone frequency %v Hz", e.Frequency)
}

// SynthError occurs when the synthesiser cannot start a voice.
type SynthError struct {
	Frequency float64
	Err       error
}

func (e *SynthError) Error() string {
	return fmt.Sprintf("failed to start %v Hz voice: %v", e.Frequency, e.Err)
}

func (e *SynthError) Unwrap() error {
	return e.Err
}
