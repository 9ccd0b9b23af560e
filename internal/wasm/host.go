package wasm

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	wasmapi "github.com/woxQAQ/l3x-host/api/wasm"
	"github.com/woxQAQ/l3x-host/pkg/abi"
	"go.uber.org/zap"
)

// HostFunctionsImpl adapts a bridge to the wazero calling convention.
// Every export binds the caller's memory before touching guest spans.
type HostFunctionsImpl struct {
	funcs  wasmapi.HostFunctions
	logger *zap.Logger
}

// NewHostFunctions wraps funcs for export to a guest.
func NewHostFunctions(funcs wasmapi.HostFunctions, logger *zap.Logger) *HostFunctionsImpl {
	return &HostFunctionsImpl{
		funcs:  funcs,
		logger: logger.With(zap.String("component", "wasm-host")),
	}
}

// Export registers the functions of each capability on builder.
func (h *HostFunctionsImpl) Export(builder wazero.HostModuleBuilder, caps []abi.Capability) error {
	for _, c := range caps {
		switch c {
		case abi.CapabilityLogging:
			h.exportLogging(builder)
		case abi.CapabilitySound:
			h.exportSound(builder)
		case abi.CapabilityFiles:
			h.exportFiles(builder)
		default:
			return fmt.Errorf("unknown capability %q", c)
		}
	}
	return nil
}

func (h *HostFunctionsImpl) exportLogging(builder wazero.HostModuleBuilder) {
	builder.NewFunctionBuilder().
		WithFunc(h.logMessage).
		WithParameterNames("level", "ptr", "len").
		Export(abi.ImportLog)

	for name, level := range map[string]abi.LogLevel{
		abi.ImportLogError: abi.LogLevelError,
		abi.ImportLogWarn:  abi.LogLevelWarn,
		abi.ImportLogInfo:  abi.LogLevelInfo,
		abi.ImportLogDebug: abi.LogLevelDebug,
		abi.ImportLogTrace: abi.LogLevelTrace,
	} {
		builder.NewFunctionBuilder().
			WithFunc(h.logAt(name, level)).
			WithParameterNames("ptr", "len").
			Export(name)
	}
}

func (h *HostFunctionsImpl) exportSound(builder wazero.HostModuleBuilder) {
	builder.NewFunctionBuilder().
		WithFunc(h.soundPlay).
		WithParameterNames("frequency", "volume").
		Export(abi.ImportSoundPlay)

	builder.NewFunctionBuilder().
		WithFunc(h.soundDropAll).
		Export(abi.ImportSoundDrop)
}

func (h *HostFunctionsImpl) exportFiles(builder wazero.HostModuleBuilder) {
	builder.NewFunctionBuilder().
		WithFunc(h.requestFileImport).
		Export(abi.ImportRequestFile)

	builder.NewFunctionBuilder().
		WithFunc(h.fileImportLen).
		Export(abi.ImportFileLen)

	builder.NewFunctionBuilder().
		WithFunc(h.fileImportType).
		Export(abi.ImportFileType)

	builder.NewFunctionBuilder().
		WithFunc(h.importFile).
		WithParameterNames("dest").
		Export(abi.ImportFile)

	builder.NewFunctionBuilder().
		WithFunc(h.giveUserFile).
		WithParameterNames("name_ptr", "name_len", "data_ptr", "data_len").
		Export(abi.ImportExportFile)
}

// enter binds the calling module's memory.
func (h *HostFunctionsImpl) enter(mod api.Module) {
	if mem := mod.Memory(); mem != nil {
		h.funcs.BindMemory(mem)
	}
}

// trap aborts the calling guest function. wazero recovers the panic and
// returns it from the guest call.
func (h *HostFunctionsImpl) trap(name string, err error) {
	h.logger.Error("Host function trapped",
		zap.String("function", name),
		zap.Error(err),
	)
	panic(&HostFunctionError{FunctionName: name, Err: err})
}

// logMessage is called by guests to log a UTF-8 message.
// Signature: wasm_log(level, ptr, len)
func (h *HostFunctionsImpl) logMessage(_ context.Context, mod api.Module, level, ptr, length uint32) {
	h.enter(mod)
	if err := h.funcs.Log(abi.LogLevel(level), ptr, length); err != nil {
		h.trap(abi.ImportLog, err)
	}
}

func (h *HostFunctionsImpl) logAt(name string, level abi.LogLevel) func(context.Context, api.Module, uint32, uint32) {
	return func(_ context.Context, mod api.Module, ptr, length uint32) {
		h.enter(mod)
		if err := h.funcs.Log(level, ptr, length); err != nil {
			h.trap(name, err)
		}
	}
}

// soundPlay starts a tone. Signature: wasm_sound_play(f32 frequency, f32 volume)
func (h *HostFunctionsImpl) soundPlay(_ context.Context, frequency, volume float32) {
	h.funcs.SoundPlay(frequency, volume)
}

func (h *HostFunctionsImpl) soundDropAll(context.Context) {
	h.funcs.SoundDropAll()
}

func (h *HostFunctionsImpl) requestFileImport(context.Context) {
	h.funcs.RequestFileImport()
}

// fileImportLen returns the pending file's byte length, 0 when none.
func (h *HostFunctionsImpl) fileImportLen(context.Context) uint32 {
	return h.funcs.FileImportLen()
}

// fileImportType returns the pending file's type code, 0 when none.
func (h *HostFunctionsImpl) fileImportType(context.Context) uint32 {
	return h.funcs.FileImportType()
}

// importFile copies the pending file to dest and clears it.
// The guest must reserve at least wasm_file_import_len bytes at dest.
func (h *HostFunctionsImpl) importFile(_ context.Context, mod api.Module, dest uint32) {
	h.enter(mod)
	if err := h.funcs.ImportFile(dest); err != nil {
		h.trap(abi.ImportFile, err)
	}
}

// giveUserFile hands a named text artifact to the user.
func (h *HostFunctionsImpl) giveUserFile(_ context.Context, mod api.Module, namePtr, nameLen, dataPtr, dataLen uint32) {
	h.enter(mod)
	if err := h.funcs.ExportFile(namePtr, nameLen, dataPtr, dataLen); err != nil {
		h.trap(abi.ImportExportFile, err)
	}
}
