package linmem

import (
	"errors"
	"fmt"
)

// ErrUnbound is returned when a view is used before a guest memory was bound.
var ErrUnbound = errors.New("linear memory view is not bound to a guest memory")

var errOutOfRange = errors.New("out of range")

// MemoryAccessError occurs when a span falls outside guest memory.
type MemoryAccessError struct {
	Operation string
	Address   uint32
	Length    uint32
	Err       error
}

func (e *MemoryAccessError) Error() string {
	return fmt.Sprintf("memory access failed (op=%s, addr=%d, len=%d): %v",
		e.Operation, e.Address, e.Length, e.Err)
}

func (e *MemoryAccessError) Unwrap() error {
	return e.Err
}

// DecodeError occurs when a guest span is not valid UTF-8.
type DecodeError struct {
	Address uint32
	Length  uint32
	// Offset of the first invalid byte within the span.
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid UTF-8 at byte %d of span (addr=%d, len=%d): %v",
		e.Offset, e.Address, e.Length, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
