package audio

import (
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"go.uber.org/multierr"
)

const (
	recordBitDepth = 16
	pcmFormat      = 1
)

// Recorder captures mixer output into a 16-bit mono WAV file.
type Recorder struct {
	file    *os.File
	enc     *wav.Encoder
	buf     *goaudio.IntBuffer
	scratch []float32
	frames  int
}

// NewRecorder creates path and prepares it for sampleRate Hz mono audio.
func NewRecorder(path string, sampleRate int) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording %s: %w", path, err)
	}

	return &Recorder{
		file: f,
		enc:  wav.NewEncoder(f, sampleRate, recordBitDepth, 1, pcmFormat),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
			SourceBitDepth: recordBitDepth,
		},
	}, nil
}

// Capture renders n samples from m and appends them to the recording.
func (r *Recorder) Capture(m *Mixer, n int) error {
	if n <= 0 {
		return nil
	}
	if cap(r.scratch) < n {
		r.scratch = make([]float32, n)
	}
	samples := r.scratch[:n]
	m.Render(samples)
	return r.Write(samples)
}

// Write appends float samples, clamped to [-1, 1].
func (r *Recorder) Write(samples []float32) error {
	if cap(r.buf.Data) < len(samples) {
		r.buf.Data = make([]int, len(samples))
	}
	r.buf.Data = r.buf.Data[:len(samples)]

	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		r.buf.Data[i] = int(s * 32767)
	}

	if err := r.enc.Write(r.buf); err != nil {
		return fmt.Errorf("failed to write samples: %w", err)
	}
	r.frames += len(samples)
	return nil
}

// Samples returns how many samples were written so far.
func (r *Recorder) Samples() int {
	return r.frames
}

// Close finalises the WAV header and closes the file.
func (r *Recorder) Close() error {
	return multierr.Append(r.enc.Close(), r.file.Close())
}
