package guest

import (
	"time"

	wasmapi "github.com/woxQAQ/l3x-host/api/wasm"
	"github.com/woxQAQ/l3x-host/internal/wasm"
	"github.com/woxQAQ/l3x-host/pkg/abi"
)

// Guest is a loaded guest with its manifest and compiled Wasm module.
type Guest struct {
	// Manifest is the parsed guest metadata
	Manifest *Manifest

	// Compiled is the compiled Wasm module
	Compiled *wasm.CompiledModule

	// LoadedAt is the timestamp when the guest was loaded
	LoadedAt time.Time
}

// Name returns the guest name.
func (g *Guest) Name() string {
	return g.Manifest.Name
}

// Version returns the guest version.
func (g *Guest) Version() string {
	return g.Manifest.Version
}

// Capabilities returns the capabilities granted to this guest.
func (g *Guest) Capabilities() []abi.Capability {
	return g.Manifest.Capabilities
}

// HasFrame reports whether the guest exports its frame function.
func (g *Guest) HasFrame() bool {
	return g.Compiled.Exports(g.Manifest.Wasm.Frame)
}

// InstanceConfig describes an instance of this guest served by host.
func (g *Guest) InstanceConfig(host wasmapi.HostFunctions) *wasm.InstanceConfig {
	return &wasm.InstanceConfig{
		ModuleName:     g.Compiled.Name,
		Host:           host,
		Capabilities:   g.Manifest.Capabilities,
		StartFunctions: g.Manifest.Wasm.Start,
		Exports:        []string{g.Manifest.Wasm.Frame},
	}
}
