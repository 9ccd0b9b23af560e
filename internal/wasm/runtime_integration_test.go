package wasm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woxQAQ/l3x-host/internal/bridge"
	"github.com/woxQAQ/l3x-host/internal/fileexchange"
	"github.com/woxQAQ/l3x-host/internal/linmem"
	"github.com/woxQAQ/l3x-host/pkg/abi"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// Minimal valid Wasm 1.0 module with no sections.
var emptyModule = []byte{
	0x00, 0x61, 0x73, 0x6d, // Magic number: \0asm
	0x01, 0x00, 0x00, 0x00, // Version: 1
}

func uleb(n int) []byte {
	var out []byte
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func vec(items ...[]byte) []byte {
	out := uleb(len(items))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func wasmName(s string) []byte {
	return append(uleb(len(s)), s...)
}

func section(id byte, body []byte) []byte {
	return append(append([]byte{id}, uleb(len(body))...), body...)
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// guestModule assembles a guest that imports part of env:
//
//	poll()    -> wasm_file_import_len()
//	load()    -> wasm_import_file(1024)
//	request() -> wasm_request_file_import()
//	hello()   -> wasm_log_info(0, 5) with "hello" at address 0
//	bad_log() -> wasm_log_info(65530, 60), past the end of memory
//	spin()    -> loops forever
func guestModule() []byte {
	const (
		typeI32     = 0x7f
		typeFunc    = 0x60
		kindFunc    = 0x00
		kindMemory  = 0x02
		opCall      = 0x10
		opI32Const  = 0x41
		opEnd       = 0x0b
		opLoop      = 0x03
		opBr        = 0x0c
		blockVoid   = 0x40
		noLocals    = 0x00
		firstDefIdx = 4
	)

	types := section(0x01, vec(
		[]byte{typeFunc, 0x00, 0x01, typeI32},          // 0: () -> i32
		[]byte{typeFunc, 0x01, typeI32, 0x00},          // 1: (i32) -> ()
		[]byte{typeFunc, 0x00, 0x00},                   // 2: () -> ()
		[]byte{typeFunc, 0x02, typeI32, typeI32, 0x00}, // 3: (i32, i32) -> ()
	))

	imp := func(name string, typeIdx byte) []byte {
		return cat(wasmName(abi.ModuleName), wasmName(name), []byte{kindFunc, typeIdx})
	}
	imports := section(0x02, vec(
		imp(abi.ImportFileLen, 0),
		imp(abi.ImportFile, 1),
		imp(abi.ImportRequestFile, 2),
		imp(abi.ImportLogInfo, 3),
	))

	funcs := section(0x03, vec([]byte{0}, []byte{2}, []byte{2}, []byte{2}, []byte{2}, []byte{2}))
	memory := section(0x05, vec([]byte{0x00, 0x01}))

	exp := func(name string, kind, idx byte) []byte {
		return cat(wasmName(name), []byte{kind, idx})
	}
	exports := section(0x07, vec(
		exp("poll", kindFunc, firstDefIdx),
		exp("load", kindFunc, firstDefIdx+1),
		exp("request", kindFunc, firstDefIdx+2),
		exp("hello", kindFunc, firstDefIdx+3),
		exp("bad_log", kindFunc, firstDefIdx+4),
		exp("spin", kindFunc, firstDefIdx+5),
		exp("memory", kindMemory, 0),
	))

	body := func(code ...byte) []byte {
		b := append([]byte{noLocals}, code...)
		return append(uleb(len(b)), b...)
	}
	code := section(0x0a, vec(
		body(opCall, 0, opEnd),
		body(opI32Const, 0x80, 0x08, opCall, 1, opEnd),
		body(opCall, 2, opEnd),
		body(opI32Const, 0x00, opI32Const, 0x05, opCall, 3, opEnd),
		body(opI32Const, 0xfa, 0xff, 0x03, opI32Const, 0x3c, opCall, 3, opEnd),
		body(opLoop, blockVoid, opBr, 0x00, opEnd, opEnd),
	))

	data := section(0x0b, vec(
		cat([]byte{0x00, opI32Const, 0x00, opEnd}, wasmName("hello")),
	))

	return cat(emptyModule, types, imports, funcs, memory, exports, code, data)
}

type testPicker struct {
	opened  int
	deliver func(fileexchange.Selection)
}

func (p *testPicker) Open(_ context.Context, deliver func(fileexchange.Selection)) error {
	p.opened++
	p.deliver = deliver
	return nil
}

type guestHarness struct {
	runtime  *Runtime
	manager  *InstanceManager
	bridge   *bridge.Context
	instance *Instance
	picker   *testPicker
}

func newGuestHarness(t *testing.T, logger *zap.Logger, config *RuntimeConfig) *guestHarness {
	t.Helper()
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = runtime.Close(ctx) })

	_, err = NewModuleLoader(runtime, logger).LoadModuleFromMemory(ctx, "guest", guestModule())
	require.NoError(t, err)

	picker := &testPicker{}
	b := bridge.New(bridge.Options{Files: fileexchange.Config{Picker: picker}}, logger)
	t.Cleanup(b.Close)

	manager := NewInstanceManager(runtime, logger)
	instance, err := manager.Instantiate(ctx, &InstanceConfig{
		ModuleName: "guest",
		Host:       b,
		Exports:    []string{"poll", "load"},
	})
	require.NoError(t, err)

	return &guestHarness{runtime: runtime, manager: manager, bridge: b, instance: instance, picker: picker}
}

func (h *guestHarness) call(t *testing.T, name string) []uint64 {
	t.Helper()
	results, err := h.instance.Call(context.Background(), name)
	require.NoError(t, err)
	return results
}

// TestLoadModuleFromMemory tests loading a simple Wasm module from memory.
func TestLoadModuleFromMemory(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	loader := NewModuleLoader(runtime, logger)

	module, err := loader.LoadModuleFromMemory(ctx, "test-module", emptyModule)
	if err != nil {
		t.Fatalf("Failed to load module: %v", err)
	}

	if module.Name != "test-module" {
		t.Errorf("Module name = %s, want 'test-module'", module.Name)
	}

	// Test caching - load again should hit cache.
	module2, err := loader.LoadModuleFromMemory(ctx, "test-module", emptyModule)
	if err != nil {
		t.Fatalf("Failed to load module from cache: %v", err)
	}

	if module2 != module {
		t.Error("Cache should return the same module instance")
	}
}

// TestModuleLoaderFileSource tests the FileModuleSource.
func TestModuleLoaderFileSource(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	loader := NewModuleLoader(runtime, logger)

	wasmFile := filepath.Join(t.TempDir(), "guest.wasm")
	if err := os.WriteFile(wasmFile, guestModule(), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	module, err := loader.LoadModuleFromFile(ctx, wasmFile)
	if err != nil {
		t.Fatalf("Failed to load module from file: %v", err)
	}

	if !module.Exports("poll") {
		t.Error("Compiled module should export poll")
	}

	wantImport := [2]string{abi.ModuleName, abi.ImportFileLen}
	if imports := module.Imports(); len(imports) != 4 || imports[0] != wantImport {
		t.Errorf("Imports = %v, want 4 starting with %v", imports, wantImport)
	}
}

func TestModuleLoaderFSSource(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	require.NoError(t, err)
	defer runtime.Close(ctx)

	fsys := fstest.MapFS{"bin/guest.wasm": {Data: emptyModule}}
	module, err := NewModuleLoader(runtime, logger).LoadModule(ctx, &FSModuleSource{FS: fsys, Path: "bin/guest.wasm", ID: "demo"})
	require.NoError(t, err)
	assert.Equal(t, "demo", module.Name)

	_, ok := runtime.GetCompiledModule("demo")
	assert.True(t, ok)
}

func TestModuleLoaderRejectsInvalidBinary(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	require.NoError(t, err)
	defer runtime.Close(ctx)

	_, err = NewModuleLoader(runtime, logger).LoadModuleFromMemory(ctx, "junk", []byte("not wasm"))
	var compileErr *CompilationError
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, "junk", compileErr.ModuleName)
}

func TestInstantiateUnknownModule(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	require.NoError(t, err)
	defer runtime.Close(ctx)

	b := bridge.New(bridge.Options{}, logger)
	defer b.Close()

	_, err = NewInstanceManager(runtime, logger).Instantiate(ctx, &InstanceConfig{ModuleName: "missing", Host: b})
	var notFound *ModuleNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestGuestFileImportPolling(t *testing.T) {
	h := newGuestHarness(t, zaptest.NewLogger(t), nil)

	h.call(t, "request")
	require.Equal(t, 1, h.picker.opened)
	assert.Equal(t, uint64(0), h.call(t, "poll")[0])

	h.picker.deliver(fileexchange.Selection{Name: "run.l3x", Data: []byte("t,v\n0,1\n")})
	assert.Equal(t, uint64(0), h.call(t, "poll")[0], "completion is not visible until Dispatch")

	h.bridge.Dispatch()
	assert.Equal(t, uint64(8), h.call(t, "poll")[0])
	assert.Equal(t, uint32(abi.FileTypeSecondary), h.bridge.FileImportType())

	h.call(t, "load")
	data, ok := h.instance.Memory().Read(1024, 8)
	require.True(t, ok)
	assert.Equal(t, "t,v\n0,1\n", string(data))
	assert.Equal(t, uint64(0), h.call(t, "poll")[0])
}

func TestGuestLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := newGuestHarness(t, zap.New(core), nil)

	h.call(t, "hello")

	entries := logs.FilterLoggerName("guest").AllUntimed()
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
}

func TestGuestOutOfRangeLogTraps(t *testing.T) {
	h := newGuestHarness(t, zaptest.NewLogger(t), nil)

	_, err := h.instance.Call(context.Background(), "bad_log")
	require.Error(t, err)

	var hostErr *HostFunctionError
	require.ErrorAs(t, err, &hostErr)
	assert.Equal(t, abi.ImportLogInfo, hostErr.FunctionName)

	var accessErr *linmem.MemoryAccessError
	assert.ErrorAs(t, err, &accessErr)
}

func TestGuestCallMissingExport(t *testing.T) {
	h := newGuestHarness(t, zaptest.NewLogger(t), nil)

	assert.True(t, h.instance.HasExport("hello"))
	assert.False(t, h.instance.HasExport("frame"))

	_, err := h.instance.Call(context.Background(), "frame")
	var notFound *FunctionNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "frame", notFound.FunctionName)
}

func TestGuestExecutionTimeout(t *testing.T) {
	config := DefaultRuntimeConfig()
	config.ExecutionTimeout = 50 * time.Millisecond
	h := newGuestHarness(t, zaptest.NewLogger(t), config)

	_, err := h.instance.Call(context.Background(), "spin")
	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "spin", timeout.FunctionName)
}

func TestSecondGuestNeedsFirstClosed(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()
	h := newGuestHarness(t, logger, nil)

	other := bridge.New(bridge.Options{}, logger)
	defer other.Close()

	_, err := h.manager.Instantiate(ctx, &InstanceConfig{ModuleName: "guest", Host: other})
	require.True(t, errors.Is(err, ErrHostModuleInUse), "got %v", err)

	require.NoError(t, h.instance.Close(ctx))
	_, ok := h.runtime.GetInstance(h.instance.ID)
	assert.False(t, ok)

	next, err := h.manager.Instantiate(ctx, &InstanceConfig{ModuleName: "guest", Host: other})
	require.NoError(t, err)
	assert.NoError(t, next.Close(ctx))
}

func TestCapabilitiesLimitImports(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	require.NoError(t, err)
	defer runtime.Close(ctx)

	_, err = NewModuleLoader(runtime, logger).LoadModuleFromMemory(ctx, "guest", guestModule())
	require.NoError(t, err)

	b := bridge.New(bridge.Options{}, logger)
	defer b.Close()

	manager := NewInstanceManager(runtime, logger)
	_, err = manager.Instantiate(ctx, &InstanceConfig{
		ModuleName:   "guest",
		Host:         b,
		Capabilities: []abi.Capability{abi.CapabilityLogging},
	})
	var instErr *InstantiationError
	require.ErrorAs(t, err, &instErr)

	// The failed attempt must not leave env behind.
	inst, err := manager.Instantiate(ctx, &InstanceConfig{ModuleName: "guest", Host: b})
	require.NoError(t, err)
	assert.NoError(t, inst.Close(ctx))
}

func TestHostFunctionsExportUnknownCapability(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	require.NoError(t, err)
	defer runtime.Close(ctx)

	b := bridge.New(bridge.Options{}, logger)
	defer b.Close()

	builder := runtime.runtime.NewHostModuleBuilder(abi.ModuleName)
	err = NewHostFunctions(b, logger).Export(builder, []abi.Capability{"network"})
	assert.Error(t, err)
}
