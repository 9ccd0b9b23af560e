//go:build wasm

package wasm

// Guest-side bindings for the env host module. Guests built with
// GOOS=wasip1 GOARCH=wasm import this package instead of declaring the
// imports themselves.
//
// NOTE: uint32 is used for pointers and lengths because WebAssembly uses a 32-bit
// linear memory model. All Wasm memory addresses are represented as 32-bit integers.
// See: https://github.com/golang/go/issues/59156
//
// Guests export a frame function the host calls once per frame:
//
//	//go:wasmexport frame
//	func frame()

import (
	"runtime"
	"unsafe"

	"github.com/woxQAQ/l3x-host/pkg/abi"
)

//go:wasmimport env wasm_log
func wasmLog(level, ptr, length uint32)

//go:wasmimport env wasm_sound_play
func wasmSoundPlay(frequency, volume float32)

//go:wasmimport env wasm_sound_drop_all
func wasmSoundDropAll()

//go:wasmimport env wasm_request_file_import
func wasmRequestFileImport()

//go:wasmimport env wasm_file_import_len
func wasmFileImportLen() uint32

//go:wasmimport env wasm_file_import_type
func wasmFileImportType() uint32

//go:wasmimport env wasm_import_file
func wasmImportFile(dest uint32)

//go:wasmimport env wasm_give_user_file
func wasmGiveUserFile(namePtr, nameLen, dataPtr, dataLen uint32)

func stringSpan(s string) (uint32, uint32) {
	if len(s) == 0 {
		return 0, 0
	}
	return uint32(uintptr(unsafe.Pointer(unsafe.StringData(s)))), uint32(len(s))
}

// Log writes msg to the host log at level.
func Log(level abi.LogLevel, msg string) {
	ptr, n := stringSpan(msg)
	wasmLog(uint32(level), ptr, n)
	runtime.KeepAlive(msg)
}

func Error(msg string) { Log(abi.LogLevelError, msg) }
func Warn(msg string)  { Log(abi.LogLevelWarn, msg) }
func Info(msg string)  { Log(abi.LogLevelInfo, msg) }
func Debug(msg string) { Log(abi.LogLevelDebug, msg) }
func Trace(msg string) { Log(abi.LogLevelTrace, msg) }

// PlayTone starts a sine tone that sounds until StopTones.
func PlayTone(frequency, volume float32) {
	wasmSoundPlay(frequency, volume)
}

// StopTones silences every tone started so far.
func StopTones() {
	wasmSoundDropAll()
}

// RequestFile asks the host to let the user pick a file. The result is
// collected with PollFile on a later frame.
func RequestFile() {
	wasmRequestFileImport()
}

// PollFile returns the picked file once it is available and clears it on
// the host. ok is false while nothing is ready.
func PollFile() (data []byte, typ abi.FileType, ok bool) {
	n := wasmFileImportLen()
	if n == 0 {
		return nil, abi.FileTypeUnknown, false
	}
	typ = abi.FileType(wasmFileImportType())

	data = make([]byte, n)
	wasmImportFile(uint32(uintptr(unsafe.Pointer(unsafe.SliceData(data)))))
	runtime.KeepAlive(data)
	return data, typ, true
}

// GiveUserFile hands a text file to the user under name.
func GiveUserFile(name, text string) {
	namePtr, nameLen := stringSpan(name)
	dataPtr, dataLen := stringSpan(text)
	wasmGiveUserFile(namePtr, nameLen, dataPtr, dataLen)
	runtime.KeepAlive(name)
	runtime.KeepAlive(text)
}
