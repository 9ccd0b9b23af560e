package abi

// Shared constants for the guest/host boundary.
// Guests and the host agree on these names and values; changing any of them
// breaks already-compiled guests.

// ModuleName is the import module guests resolve host functions from.
const ModuleName = "env"

// Host function import names.
const (
	ImportLog         = "wasm_log"
	ImportLogError    = "wasm_log_error"
	ImportLogWarn     = "wasm_log_warn"
	ImportLogInfo     = "wasm_log_info"
	ImportLogDebug    = "wasm_log_debug"
	ImportLogTrace    = "wasm_log_trace"
	ImportSoundPlay   = "wasm_sound_play"
	ImportSoundDrop   = "wasm_sound_drop_all"
	ImportRequestFile = "wasm_request_file_import"
	ImportFileLen     = "wasm_file_import_len"
	ImportFileType    = "wasm_file_import_type"
	ImportFile        = "wasm_import_file"
	ImportExportFile  = "wasm_give_user_file"
)

// Capability groups a guest may ask for in its manifest.
type Capability string

const (
	CapabilityLogging Capability = "logging"
	CapabilitySound   Capability = "sound"
	CapabilityFiles   Capability = "files"
)

// AllCapabilities lists every capability group in registration order.
var AllCapabilities = []Capability{CapabilityLogging, CapabilitySound, CapabilityFiles}

// LogLevel is the severity passed to wasm_log.
type LogLevel uint32

const (
	LogLevelError LogLevel = iota + 1
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
	LogLevelTrace
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "error"
	case LogLevelWarn:
		return "warn"
	case LogLevelInfo:
		return "info"
	case LogLevelDebug:
		return "debug"
	case LogLevelTrace:
		return "trace"
	default:
		return "unknown"
	}
}

// FileType tags an imported file by its name extension.
type FileType uint32

const (
	FileTypeUnknown FileType = iota
	FileTypePrimary
	FileTypeSecondary
)

// Default extensions for the primary and secondary file types.
const (
	DefaultPrimaryExt   = "l3"
	DefaultSecondaryExt = "l3x"
)

// ArtifactMIME is the content type of artifacts exported by guests.
const ArtifactMIME = "text/csv;charset=utf-8"

var importCapabilities = map[string]Capability{
	ImportLog:         CapabilityLogging,
	ImportLogError:    CapabilityLogging,
	ImportLogWarn:     CapabilityLogging,
	ImportLogInfo:     CapabilityLogging,
	ImportLogDebug:    CapabilityLogging,
	ImportLogTrace:    CapabilityLogging,
	ImportSoundPlay:   CapabilitySound,
	ImportSoundDrop:   CapabilitySound,
	ImportRequestFile: CapabilityFiles,
	ImportFileLen:     CapabilityFiles,
	ImportFileType:    CapabilityFiles,
	ImportFile:        CapabilityFiles,
	ImportExportFile:  CapabilityFiles,
}

// CapabilityOf returns the capability that provides an env import.
func CapabilityOf(importName string) (Capability, bool) {
	c, ok := importCapabilities[importName]
	return c, ok
}

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	for _, known := range AllCapabilities {
		if c == known {
			return true
		}
	}
	return false
}
