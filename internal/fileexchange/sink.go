package fileexchange

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Artifact is a text file produced by the guest for the user to download.
type Artifact struct {
	Name      string
	Content   string
	MIME      string
	CreatedAt time.Time
}

// Sink delivers artifacts to the user.
type Sink interface {
	Deliver(a Artifact) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(a Artifact) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(a Artifact) error {
	return f(a)
}

// MultiSink delivers to every sink and joins their errors.
type MultiSink []Sink

// Deliver implements Sink.
func (m MultiSink) Deliver(a Artifact) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Deliver(a))
	}
	return err
}

// DirSink writes artifacts into a download directory.
type DirSink struct {
	Dir string
}

// NewDirSink creates a sink writing into dir.
func NewDirSink(dir string) *DirSink {
	return &DirSink{Dir: dir}
}

// Deliver implements Sink. An existing file with the same name is overwritten.
func (d *DirSink) Deliver(a Artifact) error {
	name, err := artifactFileName(a.Name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create download dir %s: %w", d.Dir, err)
	}
	return os.WriteFile(filepath.Join(d.Dir, name), []byte(a.Content), 0o644)
}

// artifactFileName strips any directory part so guests cannot write outside
// the download directory.
func artifactFileName(name string) (string, error) {
	base := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, "\\", "/")))
	if base == "/" || base == "." || base == "" {
		return "", &InvalidArtifactNameError{Name: name}
	}
	return base, nil
}
