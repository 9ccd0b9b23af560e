package host

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/woxQAQ/l3x-host/internal/audio"
	"github.com/woxQAQ/l3x-host/internal/config"
	"github.com/woxQAQ/l3x-host/internal/fileexchange"
	"github.com/woxQAQ/l3x-host/internal/guest"
	"github.com/woxQAQ/l3x-host/internal/wasm"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const readHeaderTimeout = 10 * time.Second

// Host wires the Wasm runtime, the audio output and the file affordances
// configured for one guest run.
type Host struct {
	cfg    *config.Config
	logger *zap.Logger

	runtime   *wasm.Runtime
	instances *wasm.InstanceManager
	guests    *guest.Manager

	mixer    *audio.Mixer
	recorder *audio.Recorder

	picker    fileexchange.Picker
	inbox     *fileexchange.InboxPicker
	sink      fileexchange.Sink
	downloads *fileexchange.HTTPSink

	server   *http.Server
	listener net.Listener

	stdout io.Writer
	stderr io.Writer
}

// Option customises a Host.
type Option func(*Host)

// WithPicker replaces the configured file picker.
func WithPicker(p fileexchange.Picker) Option {
	return func(h *Host) {
		h.picker = p
	}
}

// WithSink replaces the configured artifact sinks.
func WithSink(s fileexchange.Sink) Option {
	return func(h *Host) {
		h.sink = s
	}
}

// WithStdio sets the streams WASI guests write to.
func WithStdio(stdout, stderr io.Writer) Option {
	return func(h *Host) {
		h.stdout = stdout
		h.stderr = stderr
	}
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Host, error) {
	wasmRuntime, err := wasm.NewRuntime(ctx, logger, &wasm.RuntimeConfig{
		MemoryPages:      cfg.Wasm.MemoryPages,
		DebugEnabled:     cfg.Wasm.Debug,
		CacheDir:         cfg.Wasm.CacheDir,
		EnableWASI:       cfg.Wasm.WASI,
		ExecutionTimeout: cfg.Wasm.ExecutionTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Wasm runtime: %w", err)
	}

	h := &Host{
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "host")),
		runtime:   wasmRuntime,
		instances: wasm.NewInstanceManager(wasmRuntime, logger),
		guests:    guest.NewManager(cfg.GuestsDir, wasmRuntime, logger),
		mixer:     audio.NewMixer(cfg.Audio.SampleRate),
	}

	switch cfg.Files.Picker {
	case config.PickerInbox:
		h.inbox = fileexchange.NewInboxPicker(cfg.Files.InboxDir, cfg.Files.Settle, logger)
		h.picker = h.inbox
	case config.PickerPrompt:
		h.picker = fileexchange.NewPromptPicker(logger)
	}

	var sinks fileexchange.MultiSink
	if cfg.Files.DownloadDir != "" {
		sinks = append(sinks, fileexchange.NewDirSink(cfg.Files.DownloadDir))
	}
	if cfg.Files.HTTPAddr != "" {
		h.downloads = fileexchange.NewHTTPSink(logger)
		sinks = append(sinks, h.downloads)
	}
	switch len(sinks) {
	case 0:
	case 1:
		h.sink = sinks[0]
	default:
		h.sink = sinks
	}

	for _, opt := range opts {
		opt(h)
	}

	if cfg.Audio.RecordPath != "" {
		if h.recorder, err = audio.NewRecorder(cfg.Audio.RecordPath, cfg.Audio.SampleRate); err != nil {
			return nil, multierr.Append(err, h.Close(ctx))
		}
	}

	if h.downloads != nil {
		ln, err := net.Listen("tcp", cfg.Files.HTTPAddr)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("listen %s: %w", cfg.Files.HTTPAddr, err), h.Close(ctx))
		}
		h.listener = ln
		h.server = &http.Server{
			Handler:           h.downloads.Handler(),
			ReadHeaderTimeout: readHeaderTimeout,
			ErrorLog:          zap.NewStdLog(logger),
		}
	}

	h.logger.Info("Host initialized",
		zap.Uint32("wasm_memory_pages", cfg.Wasm.MemoryPages),
		zap.String("wasm_cache_dir", cfg.Wasm.CacheDir),
		zap.String("picker", cfg.Files.Picker),
		zap.Int("sample_rate", cfg.Audio.SampleRate),
		zap.String("downloads", h.DownloadAddr()),
	)

	return h, nil
}

// Guests returns the guest manager.
func (h *Host) Guests() *guest.Manager {
	return h.guests
}

// DownloadAddr returns the address artifacts are served on, empty when the
// HTTP sink is disabled.
func (h *Host) DownloadAddr() string {
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// Close gracefully shuts down the host.
func (h *Host) Close(ctx context.Context) error {
	h.logger.Info("Shutting down host")

	var err error
	if h.inbox != nil {
		h.inbox.Close()
	}
	if h.listener != nil {
		// Already closed when a run served on it.
		_ = h.listener.Close()
	}
	if h.recorder != nil {
		if rerr := h.recorder.Close(); rerr != nil {
			h.logger.Error("Failed to finish recording", zap.Error(rerr))
			err = multierr.Append(err, rerr)
		}
	}
	if rerr := h.runtime.Close(ctx); rerr != nil {
		h.logger.Error("Failed to shutdown Wasm runtime", zap.Error(rerr))
		err = multierr.Append(err, rerr)
	}

	h.logger.Info("Host shutdown complete")
	return err
}
