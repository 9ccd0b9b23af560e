package guest

import (
	"fmt"
)

// ManifestNotFoundError occurs when manifest.yaml is not found in a directory.
type ManifestNotFoundError struct {
	Path string
	Err  error
}

func (e *ManifestNotFoundError) Error() string {
	return fmt.Sprintf("manifest not found at '%s': %v", e.Path, e.Err)
}

func (e *ManifestNotFoundError) Unwrap() error {
	return e.Err
}

// ManifestParseError occurs when manifest.yaml cannot be parsed as valid YAML.
type ManifestParseError struct {
	Path string
	Err  error
}

func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("failed to parse manifest at '%s': %v", e.Path, e.Err)
}

func (e *ManifestParseError) Unwrap() error {
	return e.Err
}

// ManifestValidationError occurs when manifest.yaml fails validation.
type ManifestValidationError struct {
	Path    string
	Field   string
	Message string
}

func (e *ManifestValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("manifest validation failed at '%s': %s (field: %s)",
			e.Path, e.Message, e.Field)
	}
	return fmt.Sprintf("manifest validation failed at '%s': %s", e.Path, e.Message)
}

// WasmNotFoundError occurs when the Wasm file referenced in manifest doesn't exist.
type WasmNotFoundError struct {
	ManifestPath string
	WasmFile     string
}

func (e *WasmNotFoundError) Error() string {
	return fmt.Sprintf("Wasm file '%s' not found (referenced in manifest '%s')",
		e.WasmFile, e.ManifestPath)
}

// MissingCapabilityError occurs when a guest imports a host function whose
// capability its manifest does not grant.
type MissingCapabilityError struct {
	GuestName  string
	Import     string
	Capability string
}

func (e *MissingCapabilityError) Error() string {
	return fmt.Sprintf("guest '%s' imports '%s' but does not declare capability '%s'",
		e.GuestName, e.Import, e.Capability)
}

// GuestLoadError occurs when guest loading fails.
type GuestLoadError struct {
	GuestName string
	Err       error
}

func (e *GuestLoadError) Error() string {
	return fmt.Sprintf("failed to load guest '%s': %v", e.GuestName, e.Err)
}

func (e *GuestLoadError) Unwrap() error {
	return e.Err
}

// GuestNotFoundError occurs when a guest is not found in the registry.
type GuestNotFoundError struct {
	GuestName string
}

func (e *GuestNotFoundError) Error() string {
	return fmt.Sprintf("guest '%s' not found", e.GuestName)
}

// GuestAlreadyRegisteredError occurs when attempting to register a duplicate guest.
type GuestAlreadyRegisteredError struct {
	GuestName string
}

func (e *GuestAlreadyRegisteredError) Error() string {
	return fmt.Sprintf("guest '%s' is already registered", e.GuestName)
}
