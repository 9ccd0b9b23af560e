package guest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/woxQAQ/l3x-host/pkg/abi"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the file name looked up in a guest directory.
const ManifestFile = "manifest.yaml"

// DefaultFrameExport is the export called once per host frame.
const DefaultFrameExport = "frame"

// DefaultStartExports run once after instantiation when a guest exports them.
var DefaultStartExports = []string{"_initialize"}

// Manifest represents the guest manifest.yaml structure.
type Manifest struct {
	Name         string           `yaml:"name"`
	Version      string           `yaml:"version"`
	Description  string           `yaml:"description"`
	Wasm         WasmConfig       `yaml:"wasm"`
	Capabilities []abi.Capability `yaml:"capabilities"`
	Author       string           `yaml:"author"`
	License      string           `yaml:"license"`

	// Internal fields
	dir string // Directory containing manifest
}

// WasmConfig holds Wasm module configuration.
type WasmConfig struct {
	File string `yaml:"file"`
	// Exports run after instantiation. Missing ones are skipped.
	Start []string `yaml:"start"`
	// Export called every frame.
	Frame string `yaml:"frame"`
}

// ParseManifest reads and parses manifest.yaml from a directory.
func ParseManifest(dir string) (*Manifest, error) {
	manifestPath := filepath.Join(dir, ManifestFile)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, &ManifestNotFoundError{
			Path: manifestPath,
			Err:  err,
		}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestParseError{
			Path: manifestPath,
			Err:  err,
		}
	}

	m.dir = dir
	m.applyDefaults()

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// BareManifest describes a guest given as a lone .wasm file. It grants every
// capability and uses the default exports.
func BareManifest(wasmPath string) *Manifest {
	base := filepath.Base(wasmPath)
	m := &Manifest{
		Name:         strings.TrimSuffix(base, filepath.Ext(base)),
		Version:      "0.0.0",
		Wasm:         WasmConfig{File: base},
		Capabilities: append([]abi.Capability(nil), abi.AllCapabilities...),
		dir:          filepath.Dir(wasmPath),
	}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Wasm.Frame == "" {
		m.Wasm.Frame = DefaultFrameExport
	}
	if m.Wasm.Start == nil {
		m.Wasm.Start = append([]string(nil), DefaultStartExports...)
	}
}

// Validate checks manifest fields.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "name",
			Message: "name is required",
		}
	}

	if m.Version == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "version",
			Message: "version is required",
		}
	}

	if m.Wasm.File == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "wasm.file",
			Message: "wasm.file is required",
		}
	}

	if !filepath.IsLocal(m.Wasm.File) {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "wasm.file",
			Message: fmt.Sprintf("wasm.file must stay inside the guest directory: %s", m.Wasm.File),
		}
	}

	if len(m.Capabilities) == 0 {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "capabilities",
			Message: "at least one capability is required",
		}
	}

	for _, c := range m.Capabilities {
		if !c.Valid() {
			return &ManifestValidationError{
				Path:    m.Path(),
				Field:   "capabilities",
				Message: fmt.Sprintf("unknown capability: %s (must be one of: logging, sound, files)", c),
			}
		}
	}

	if _, err := os.Stat(m.WasmPath()); os.IsNotExist(err) {
		return &WasmNotFoundError{
			ManifestPath: m.Path(),
			WasmFile:     m.Wasm.File,
		}
	}

	return nil
}

// Grants reports whether the manifest lists capability c.
func (m *Manifest) Grants(c abi.Capability) bool {
	for _, have := range m.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Path returns the manifest file path.
func (m *Manifest) Path() string {
	return filepath.Join(m.dir, ManifestFile)
}

// WasmPath returns the path to the Wasm file.
func (m *Manifest) WasmPath() string {
	return filepath.Join(m.dir, m.Wasm.File)
}

// Dir returns the directory containing the manifest.
func (m *Manifest) Dir() string {
	return m.dir
}
