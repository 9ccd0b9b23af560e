package fileexchange

import "fmt"

// NotReadyError occurs when a file is consumed while none is pending.
type NotReadyError struct {
	State State
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("no file ready for import (state: %s)", e.State)
}

// InvalidArtifactNameError occurs when an artifact name cannot be used as a file name.
type InvalidArtifactNameError struct {
	Name string
}

func (e *InvalidArtifactNameError) Error() string {
	return fmt.Sprintf("invalid artifact name '%s'", e.Name)
}

// ExportError occurs when a sink fails to deliver an artifact.
type ExportError struct {
	Name string
	Err  error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("failed to deliver artifact '%s': %v", e.Name, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// SelectionError occurs when a picked file cannot be read.
type SelectionError struct {
	Path string
	Err  error
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("failed to read selected file '%s': %v", e.Path, e.Err)
}

func (e *SelectionError) Unwrap() error {
	return e.Err
}
