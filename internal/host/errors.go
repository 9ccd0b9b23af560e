package host

import "fmt"

// FrameError occurs when the guest's frame export fails. The guest is not
// called again.
type FrameError struct {
	Frame uint64
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("guest frame %d failed: %v", e.Frame, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}
