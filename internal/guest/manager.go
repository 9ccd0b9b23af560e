package guest

import (
	"context"
	"os"
	"sync"

	"github.com/woxQAQ/l3x-host/internal/wasm"
	"go.uber.org/zap"
)

// Manager resolves guests given on the command line, either as paths or as
// names of guests installed under a guests directory.
type Manager struct {
	guestsDir string
	loader    *Loader
	registry  *Registry
	logger    *zap.Logger

	mu     sync.Mutex
	loaded bool
}

// NewManager creates a new guest manager.
func NewManager(guestsDir string, runtime *wasm.Runtime, logger *zap.Logger) *Manager {
	return &Manager{
		guestsDir: guestsDir,
		loader:    NewLoader(runtime, logger),
		registry:  NewRegistry(logger),
		logger:    logger.With(zap.String("component", "guest-manager")),
	}
}

// LoadAll discovers and registers the guests under the guests directory.
// Later calls are no-ops.
func (m *Manager) LoadAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded || m.guestsDir == "" {
		return nil
	}

	guests, err := m.loader.DiscoverGuests(ctx, m.guestsDir)
	if err != nil {
		return err
	}

	for _, guest := range guests {
		if err := m.registry.Register(guest); err != nil {
			m.logger.Error("Failed to register guest",
				zap.String("name", guest.Manifest.Name),
				zap.Error(err),
			)
		}
	}

	m.loaded = true

	m.logger.Info("Guests discovered",
		zap.String("path", m.guestsDir),
		zap.Int("count", m.registry.Count()),
	)

	return nil
}

// Resolve loads target when it names an existing path, otherwise looks it
// up by name among the installed guests.
func (m *Manager) Resolve(ctx context.Context, target string) (*Guest, error) {
	if _, err := os.Stat(target); err == nil {
		return m.loader.Load(ctx, target)
	}

	if err := m.LoadAll(ctx); err != nil {
		return nil, err
	}

	guest, ok := m.registry.Get(target)
	if !ok {
		return nil, &GuestNotFoundError{GuestName: target}
	}
	return guest, nil
}

// List returns the installed guests sorted by name.
func (m *Manager) List(ctx context.Context) ([]*Guest, error) {
	if err := m.LoadAll(ctx); err != nil {
		return nil, err
	}
	return m.registry.List(), nil
}

// Registry returns the guest registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}
