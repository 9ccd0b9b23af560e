//go:build !wasm

package wasm

import "github.com/woxQAQ/l3x-host/pkg/abi"

// Memory is the guest linear memory handed to the bridge on each call.
// wazero's api.Memory satisfies it.
type Memory interface {
	Size() uint32
	Read(offset, byteCount uint32) ([]byte, bool)
}

// HostFunctions defines the bridge operations behind the env host module.
//
// Methods that return an error only do so for conditions that must abort the
// calling guest function: invalid UTF-8 in a guest span or a span outside
// guest memory. Everything else is logged and absorbed.
type HostFunctions interface {
	// BindMemory attaches the calling guest's memory. Called on every entry.
	BindMemory(mem Memory)

	// Logging
	Log(level abi.LogLevel, ptr, length uint32) error

	// Sound
	SoundPlay(frequency, volume float32)
	SoundDropAll()

	// File import, polled by the guest
	RequestFileImport()
	FileImportLen() uint32
	FileImportType() uint32
	ImportFile(dest uint32) error

	// File export
	ExportFile(namePtr, nameLen, dataPtr, dataLen uint32) error
}
