package wasm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap/zaptest"
)

func newTestRuntime(t *testing.T, config *RuntimeConfig) *Runtime {
	t.Helper()
	runtime, err := NewRuntime(context.Background(), zaptest.NewLogger(t), config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = runtime.Close(context.Background()) })
	return runtime
}

func TestDefaultRuntimeConfig(t *testing.T) {
	config := DefaultRuntimeConfig()

	assert.Equal(t, uint32(256), config.MemoryPages)
	assert.False(t, config.DebugEnabled)
	assert.False(t, config.EnableWASI)
	assert.Empty(t, config.CacheDir)
	assert.Zero(t, config.ExecutionTimeout)
}

func TestNewRuntime_Defaults(t *testing.T) {
	runtime := newTestRuntime(t, nil)

	assert.Equal(t, DefaultRuntimeConfig(), runtime.Config())
	assert.Nil(t, runtime.cache)
	assert.Nil(t, runtime.runtime.Module(wasi_snapshot_preview1.ModuleName))
}

func TestNewRuntime_Options(t *testing.T) {
	runtime := newTestRuntime(t, &RuntimeConfig{
		MemoryPages:      128,
		DebugEnabled:     true,
		CacheDir:         t.TempDir(),
		EnableWASI:       true,
		ExecutionTimeout: time.Second,
	})

	assert.Equal(t, uint32(128), runtime.Config().MemoryPages)
	assert.NotNil(t, runtime.cache, "compilation cache opened for CacheDir")
	assert.NotNil(t, runtime.runtime.Module(wasi_snapshot_preview1.ModuleName), "WASI instantiated")
}

func TestRuntime_CloseIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runtime, err := NewRuntime(ctx, zaptest.NewLogger(t), &RuntimeConfig{
		MemoryPages: 16,
		CacheDir:    t.TempDir(),
	})
	require.NoError(t, err)
	assert.False(t, runtime.IsClosed())

	cancel()
	err = runtime.Close(ctx)
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.True(t, runtime.IsClosed())
	assert.NoError(t, runtime.Close(context.Background()), "second close is a no-op")
}

func TestRuntime_LoadAfterCloseFails(t *testing.T) {
	runtime, err := NewRuntime(context.Background(), zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	require.NoError(t, runtime.Close(context.Background()))

	_, err = NewModuleLoader(runtime, zaptest.NewLogger(t)).LoadModuleFromMemory(context.Background(), "late", guestModule())
	assert.Error(t, err)
}

func TestRuntime_Caches(t *testing.T) {
	runtime := newTestRuntime(t, nil)

	module := &CompiledModule{
		Name:       "echo",
		Source:     "memory",
		SizeBytes:  1024,
		CompiledAt: time.Now().Unix(),
	}
	runtime.StoreCompiledModule(module)

	got, ok := runtime.GetCompiledModule("echo")
	require.True(t, ok)
	assert.Same(t, module, got)

	_, ok = runtime.GetCompiledModule("missing")
	assert.False(t, ok)

	instance := &Instance{ID: "01J0000000000000000000000", Name: "echo"}
	runtime.StoreInstance(instance)

	gotInstance, ok := runtime.GetInstance(instance.ID)
	require.True(t, ok)
	assert.Same(t, instance, gotInstance)

	runtime.DeleteInstance(instance.ID)
	_, ok = runtime.GetInstance(instance.ID)
	assert.False(t, ok)
}

func TestErrorMessages(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "compilation",
			err:  &CompilationError{ModuleName: "tones", Err: cause},
			want: "failed to compile Wasm module 'tones': boom",
		},
		{
			name: "instantiation",
			err:  &InstantiationError{ModuleName: "tones", InstanceID: "inst-1", Err: cause},
			want: "failed to instantiate module 'tones' (instance: inst-1): boom",
		},
		{
			name: "module not found",
			err:  &ModuleNotFoundError{ModuleName: "tones"},
			want: "module 'tones' not found in cache",
		},
		{
			name: "function not found",
			err:  &FunctionNotFoundError{ModuleName: "tones", FunctionName: "frame"},
			want: "function 'frame' not found in module 'tones'",
		},
		{
			name: "host function",
			err:  &HostFunctionError{FunctionName: "wasm_import_file", Err: cause},
			want: "host function 'wasm_import_file' failed: boom",
		},
		{
			name: "timeout",
			err:  &TimeoutError{FunctionName: "frame", Duration: 50 * time.Millisecond, Err: cause},
			want: "guest function 'frame' timed out after 50ms",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
			if u, ok := tt.err.(interface{ Unwrap() error }); ok {
				assert.ErrorIs(t, u.Unwrap(), cause)
			}
		})
	}
}
