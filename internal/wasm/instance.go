package wasm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	wasmapi "github.com/woxQAQ/l3x-host/api/wasm"
	"github.com/woxQAQ/l3x-host/pkg/abi"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrHostModuleInUse is returned when another live instance still owns the
// env host module. Close it before instantiating the next guest.
var ErrHostModuleInUse = errors.New("host module " + abi.ModuleName + " is already instantiated")

// InstanceManager creates and manages guest instances.
type InstanceManager struct {
	runtime *Runtime
	logger  *zap.Logger
}

// NewInstanceManager creates a new instance manager.
func NewInstanceManager(runtime *Runtime, logger *zap.Logger) *InstanceManager {
	return &InstanceManager{
		runtime: runtime,
		logger:  logger.With(zap.String("component", "wasm-instance")),
	}
}

// InstanceConfig holds configuration for creating instances.
type InstanceConfig struct {
	// Module name to instantiate.
	ModuleName string

	// Instance ID (if empty, a ULID is generated).
	InstanceID string

	// Host receives the guest's env imports.
	Host wasmapi.HostFunctions

	// Capabilities selects which env functions are exported.
	// Empty means all of them.
	Capabilities []abi.Capability

	// Functions run once after instantiation, in order. Missing ones are skipped.
	StartFunctions []string

	// Exports looked up once and kept for Call.
	Exports []string

	// Guest stdout and stderr, used by WASI guests.
	Stdout io.Writer
	Stderr io.Writer
}

// Instance represents an instantiated guest together with the env host
// module it imports from.
type Instance struct {
	module api.Module
	host   api.Module

	runtime *Runtime
	timeout time.Duration

	// Instance metadata.
	ID        string
	Name      string
	CreatedAt int64

	// Exported functions (cached for performance).
	exports map[string]api.Function

	closeOnce sync.Once
	closeErr  error
}

// Instantiate creates a new instance from a compiled module.
// The env host module is built from config.Host and instantiated first.
func (m *InstanceManager) Instantiate(ctx context.Context, config *InstanceConfig) (*Instance, error) {
	compiled, ok := m.runtime.GetCompiledModule(config.ModuleName)
	if !ok {
		return nil, &ModuleNotFoundError{ModuleName: config.ModuleName}
	}
	if config.Host == nil {
		return nil, fmt.Errorf("instance of %s has no host functions", config.ModuleName)
	}

	instanceID := config.InstanceID
	if instanceID == "" {
		instanceID = ulid.Make().String()
	}

	m.logger.Info("Instantiating guest module",
		zap.String("module", config.ModuleName),
		zap.String("instance_id", instanceID),
	)

	if m.runtime.runtime.Module(abi.ModuleName) != nil {
		return nil, &InstantiationError{
			ModuleName: config.ModuleName,
			InstanceID: instanceID,
			Err:        ErrHostModuleInUse,
		}
	}

	caps := config.Capabilities
	if len(caps) == 0 {
		caps = abi.AllCapabilities
	}

	hostBuilder := m.runtime.runtime.NewHostModuleBuilder(abi.ModuleName)
	if err := m.exportHostFunctions(hostBuilder, config.Host, caps); err != nil {
		return nil, fmt.Errorf("failed to export host functions: %w", err)
	}

	host, err := hostBuilder.Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate host module: %w", err)
	}

	moduleConfig := wazero.NewModuleConfig().
		WithName(instanceID).
		WithStartFunctions(config.StartFunctions...).
		WithSysWalltime().
		WithSysNanotime()
	if config.Stdout != nil {
		moduleConfig = moduleConfig.WithStdout(config.Stdout)
	}
	if config.Stderr != nil {
		moduleConfig = moduleConfig.WithStderr(config.Stderr)
	}

	module, err := m.runtime.runtime.InstantiateModule(ctx, compiled.Module, moduleConfig)
	if err != nil {
		_ = host.Close(ctx)
		return nil, &InstantiationError{
			ModuleName: config.ModuleName,
			InstanceID: instanceID,
			Err:        err,
		}
	}

	exports := m.cacheExportedFunctions(module, config.Exports)

	instance := &Instance{
		module:    module,
		host:      host,
		runtime:   m.runtime,
		timeout:   m.runtime.config.ExecutionTimeout,
		ID:        instanceID,
		Name:      config.ModuleName,
		CreatedAt: time.Now().Unix(),
		exports:   exports,
	}

	m.runtime.StoreInstance(instance)

	m.logger.Info("Guest instantiated",
		zap.String("instance_id", instanceID),
		zap.Strings("capabilities", capabilityNames(caps)),
		zap.Int("cached_exports", len(exports)),
	)

	return instance, nil
}

// HasExport reports whether the guest exports a function called name.
func (i *Instance) HasExport(name string) bool {
	if _, ok := i.exports[name]; ok {
		return true
	}
	return i.module.ExportedFunction(name) != nil
}

// Memory returns the guest's linear memory, nil if it has none.
func (i *Instance) Memory() api.Memory {
	return i.module.Memory()
}

// Call invokes an exported guest function. A call that outlives the
// runtime's execution timeout returns a TimeoutError and leaves the
// instance closed.
func (i *Instance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn, ok := i.exports[name]
	if !ok {
		if fn = i.module.ExportedFunction(name); fn == nil {
			return nil, &FunctionNotFoundError{ModuleName: i.Name, FunctionName: name}
		}
	}

	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	results, err := fn.Call(ctx, params...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{FunctionName: name, Duration: i.timeout, Err: err}
		}
		return nil, err
	}
	return results, nil
}

// Close closes the guest and its host module and stops tracking it.
func (i *Instance) Close(ctx context.Context) error {
	err := i.close(ctx)
	i.runtime.DeleteInstance(i.ID)
	return err
}

func (i *Instance) close(ctx context.Context) error {
	i.closeOnce.Do(func() {
		i.closeErr = multierr.Append(i.module.Close(ctx), i.host.Close(ctx))
	})
	return i.closeErr
}

// cacheExportedFunctions caches references to the named exports.
func (m *InstanceManager) cacheExportedFunctions(module api.Module, names []string) map[string]api.Function {
	exports := make(map[string]api.Function, len(names))
	for _, name := range names {
		if fn := module.ExportedFunction(name); fn != nil {
			exports[name] = fn
		}
	}
	return exports
}

// exportHostFunctions registers the bridge for import by the guest.
func (m *InstanceManager) exportHostFunctions(builder wazero.HostModuleBuilder, funcs wasmapi.HostFunctions, caps []abi.Capability) error {
	return NewHostFunctions(funcs, m.logger).Export(builder, caps)
}

func capabilityNames(caps []abi.Capability) []string {
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}
	return names
}
