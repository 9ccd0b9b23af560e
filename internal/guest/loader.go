package guest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/woxQAQ/l3x-host/internal/wasm"
	"github.com/woxQAQ/l3x-host/pkg/abi"
	"go.uber.org/zap"
)

// Loader handles loading guests from disk.
type Loader struct {
	runtime      *wasm.Runtime
	moduleLoader *wasm.ModuleLoader
	logger       *zap.Logger
}

// NewLoader creates a new guest loader.
func NewLoader(runtime *wasm.Runtime, logger *zap.Logger) *Loader {
	return &Loader{
		runtime:      runtime,
		moduleLoader: wasm.NewModuleLoader(runtime, logger),
		logger:       logger.With(zap.String("component", "guest-loader")),
	}
}

// Load loads a guest from a directory holding manifest.yaml or from a bare
// .wasm file.
func (l *Loader) Load(ctx context.Context, path string) (*Guest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("guest %s: %w", path, err)
	}
	if info.IsDir() {
		return l.LoadGuest(ctx, path)
	}
	if filepath.Ext(path) != ".wasm" {
		return nil, fmt.Errorf("guest %s: expected a directory or a .wasm file", path)
	}
	manifest := BareManifest(path)
	return l.load(ctx, manifest, &wasm.FileModuleSource{Path: manifest.WasmPath()})
}

// LoadGuest loads a single guest from a directory.
func (l *Loader) LoadGuest(ctx context.Context, dir string) (*Guest, error) {
	l.logger.Debug("Loading guest", zap.String("dir", dir))

	manifest, err := ParseManifest(dir)
	if err != nil {
		return nil, err
	}
	return l.load(ctx, manifest, &wasm.FSModuleSource{
		FS:   os.DirFS(manifest.Dir()),
		Path: filepath.ToSlash(manifest.Wasm.File),
		ID:   manifest.WasmPath(),
	})
}

func (l *Loader) load(ctx context.Context, manifest *Manifest, source wasm.ModuleSource) (*Guest, error) {
	l.logger.Info("Loading guest",
		zap.String("name", manifest.Name),
		zap.String("version", manifest.Version),
		zap.String("wasm", manifest.WasmPath()),
	)

	// Compile Wasm module (uses internal caching)
	compiled, err := l.moduleLoader.LoadModule(ctx, source)
	if err != nil {
		return nil, &GuestLoadError{
			GuestName: manifest.Name,
			Err:       err,
		}
	}

	if err := checkImports(manifest, compiled); err != nil {
		return nil, &GuestLoadError{
			GuestName: manifest.Name,
			Err:       err,
		}
	}

	guest := &Guest{
		Manifest: manifest,
		Compiled: compiled,
		LoadedAt: time.Now(),
	}

	if !guest.HasFrame() {
		l.logger.Warn("Guest has no frame export; it only runs its start functions",
			zap.String("name", manifest.Name),
			zap.String("frame", manifest.Wasm.Frame),
		)
	}

	l.logger.Info("Guest loaded successfully",
		zap.String("name", manifest.Name),
		zap.Int64("size_bytes", compiled.SizeBytes),
	)

	return guest, nil
}

// checkImports rejects env imports outside the manifest's capabilities.
// Imports from other modules are resolved by the runtime.
func checkImports(m *Manifest, compiled *wasm.CompiledModule) error {
	for _, imp := range compiled.Imports() {
		if imp[0] != abi.ModuleName {
			continue
		}
		c, ok := abi.CapabilityOf(imp[1])
		if !ok {
			return fmt.Errorf("unknown host function %s.%s", imp[0], imp[1])
		}
		if !m.Grants(c) {
			return &MissingCapabilityError{
				GuestName:  m.Name,
				Import:     imp[1],
				Capability: string(c),
			}
		}
	}
	return nil
}

// DiscoverGuests scans a directory for guest directories.
func (l *Loader) DiscoverGuests(ctx context.Context, basePath string) ([]*Guest, error) {
	l.logger.Debug("Scanning guest directory", zap.String("path", basePath))

	entries, err := os.ReadDir(basePath)
	if err != nil {
		if os.IsNotExist(err) {
			l.logger.Warn("Guest path does not exist", zap.String("path", basePath))
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory '%s': %w", basePath, err)
	}

	var guests []*Guest
	failed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		dir := filepath.Join(basePath, entry.Name())
		guest, err := l.LoadGuest(ctx, dir)
		if err != nil {
			l.logger.Error("Failed to load guest",
				zap.String("dir", dir),
				zap.Error(err),
			)
			failed++
			continue
		}

		guests = append(guests, guest)
	}

	if failed > 0 {
		l.logger.Warn("Some guests failed to load",
			zap.Int("loaded", len(guests)),
			zap.Int("failed", failed),
		)
	}

	return guests, nil
}
