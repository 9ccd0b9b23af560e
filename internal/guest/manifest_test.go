package guest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/woxQAQ/l3x-host/pkg/abi"
)

// soundGuest imports env.wasm_sound_play and exports an empty frame.
func soundGuest() []byte {
	b := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	// type section: (f32, f32) -> (), () -> ()
	b = append(b, 0x01, 0x09, 0x02, 0x60, 0x02, 0x7d, 0x7d, 0x00, 0x60, 0x00, 0x00)
	// import section: env.wasm_sound_play, type 0
	b = append(b, 0x02, 0x17, 0x01, 0x03)
	b = append(b, "env"...)
	b = append(b, 0x0f)
	b = append(b, abi.ImportSoundPlay...)
	b = append(b, 0x00, 0x00)
	// function section: one function of type 1
	b = append(b, 0x03, 0x02, 0x01, 0x01)
	// export section: frame = func 1
	b = append(b, 0x07, 0x09, 0x01, 0x05)
	b = append(b, "frame"...)
	b = append(b, 0x00, 0x01)
	// code section: empty body
	b = append(b, 0x0a, 0x04, 0x01, 0x02, 0x00, 0x0b)
	return b
}

// writeGuest creates dir/name with a manifest and the sound guest binary.
func writeGuest(t *testing.T, dir, name, manifest string) string {
	t.Helper()
	guestDir := filepath.Join(dir, name)
	if err := os.MkdirAll(guestDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(guestDir, "guest.wasm"), soundGuest(), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(guestDir, ManifestFile), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	return guestDir
}

const validManifest = `
name: tones
version: 1.0.0
description: plays tones
wasm:
  file: guest.wasm
  start: [init]
capabilities: [logging, sound]
`

func TestParseManifest_Valid(t *testing.T) {
	dir := writeGuest(t, t.TempDir(), "tones", validManifest)

	manifest, err := ParseManifest(dir)
	if err != nil {
		t.Fatalf("ParseManifest() failed: %v", err)
	}

	if manifest.Name != "tones" {
		t.Errorf("expected Name 'tones', got '%s'", manifest.Name)
	}

	if manifest.Version != "1.0.0" {
		t.Errorf("expected Version '1.0.0', got '%s'", manifest.Version)
	}

	if manifest.Wasm.Frame != DefaultFrameExport {
		t.Errorf("expected default frame export, got '%s'", manifest.Wasm.Frame)
	}

	if len(manifest.Wasm.Start) != 1 || manifest.Wasm.Start[0] != "init" {
		t.Errorf("expected start [init], got %v", manifest.Wasm.Start)
	}

	if !manifest.Grants(abi.CapabilitySound) || manifest.Grants(abi.CapabilityFiles) {
		t.Errorf("unexpected capabilities %v", manifest.Capabilities)
	}

	if manifest.WasmPath() != filepath.Join(dir, "guest.wasm") {
		t.Errorf("unexpected wasm path %s", manifest.WasmPath())
	}
}

func TestParseManifest_NotFound(t *testing.T) {
	_, err := ParseManifest(filepath.Join(t.TempDir(), "nonexistent"))
	if err == nil {
		t.Fatal("ParseManifest() should fail for nonexistent directory")
	}

	var notFound *ManifestNotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("expected ManifestNotFoundError, got %T", err)
	}
}

func TestParseManifest_InvalidYAML(t *testing.T) {
	dir := writeGuest(t, t.TempDir(), "broken", "name: [unterminated\n")

	_, err := ParseManifest(dir)
	var parseErr *ManifestParseError
	if !errors.As(err, &parseErr) {
		t.Errorf("expected ManifestParseError, got %T", err)
	}
}

func TestParseManifest_ValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		field    string
	}{
		{
			name:     "missing name",
			manifest: "version: 1.0.0\nwasm:\n  file: guest.wasm\ncapabilities: [sound]\n",
			field:    "name",
		},
		{
			name:     "missing version",
			manifest: "name: x\nwasm:\n  file: guest.wasm\ncapabilities: [sound]\n",
			field:    "version",
		},
		{
			name:     "missing wasm file",
			manifest: "name: x\nversion: 1.0.0\ncapabilities: [sound]\n",
			field:    "wasm.file",
		},
		{
			name:     "escaping wasm file",
			manifest: "name: x\nversion: 1.0.0\nwasm:\n  file: ../guest.wasm\ncapabilities: [sound]\n",
			field:    "wasm.file",
		},
		{
			name:     "no capabilities",
			manifest: "name: x\nversion: 1.0.0\nwasm:\n  file: guest.wasm\n",
			field:    "capabilities",
		},
		{
			name:     "unknown capability",
			manifest: "name: x\nversion: 1.0.0\nwasm:\n  file: guest.wasm\ncapabilities: [network]\n",
			field:    "capabilities",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeGuest(t, t.TempDir(), "guest", tt.manifest)

			_, err := ParseManifest(dir)
			var validationErr *ManifestValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected ManifestValidationError, got %v", err)
			}

			if validationErr.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, validationErr.Field)
			}
		})
	}
}

func TestParseManifest_WasmNotFound(t *testing.T) {
	dir := writeGuest(t, t.TempDir(), "guest", "name: x\nversion: 1.0.0\nwasm:\n  file: other.wasm\ncapabilities: [sound]\n")

	_, err := ParseManifest(dir)
	var notFound *WasmNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected WasmNotFoundError, got %v", err)
	}

	if notFound.WasmFile != "other.wasm" {
		t.Errorf("expected other.wasm, got %s", notFound.WasmFile)
	}
}

func TestBareManifest(t *testing.T) {
	m := BareManifest(filepath.Join("guests", "demo.wasm"))

	if m.Name != "demo" {
		t.Errorf("expected name demo, got %s", m.Name)
	}

	if len(m.Capabilities) != len(abi.AllCapabilities) {
		t.Errorf("bare guests get every capability, got %v", m.Capabilities)
	}

	if m.WasmPath() != filepath.Join("guests", "demo.wasm") {
		t.Errorf("unexpected wasm path %s", m.WasmPath())
	}

	if m.Wasm.Frame != DefaultFrameExport || len(m.Wasm.Start) != len(DefaultStartExports) {
		t.Errorf("expected default exports, got %+v", m.Wasm)
	}
}
