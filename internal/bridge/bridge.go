package bridge

import (
	"errors"

	"github.com/oklog/ulid/v2"
	wasmapi "github.com/woxQAQ/l3x-host/api/wasm"
	"github.com/woxQAQ/l3x-host/internal/audio"
	"github.com/woxQAQ/l3x-host/internal/fileexchange"
	"github.com/woxQAQ/l3x-host/internal/linmem"
	"github.com/woxQAQ/l3x-host/pkg/abi"
	"go.uber.org/zap"
)

var _ wasmapi.HostFunctions = (*Context)(nil)

// Options configures a bridge context.
type Options struct {
	// Files configures the file exchange. Its Dispatcher is always the
	// context's own loop.
	Files fileexchange.Config

	// Synth plays tones. Defaults to a software mixer.
	Synth audio.Synth

	Pool audio.PoolConfig
}

// Context is the state the bridge keeps for one guest instance: the memory
// view, the pending-file slot and the voice pool. Contexts are independent;
// create one per guest.
type Context struct {
	ID string

	logger   *zap.Logger
	guestLog *zap.Logger

	view  *linmem.View
	loop  *Loop
	files *fileexchange.Exchange
	sound *audio.Pool
}

// New creates a context with an unbound memory view.
func New(opts Options, logger *zap.Logger) *Context {
	id := ulid.Make().String()
	logger = logger.With(zap.String("bridge_id", id))

	loop := &Loop{}
	opts.Files.Dispatcher = loop

	synth := opts.Synth
	if synth == nil {
		synth = audio.NewMixer(audio.DefaultSampleRate)
	}

	return &Context{
		ID:       id,
		logger:   logger.With(zap.String("component", "bridge")),
		guestLog: logger.Named("guest"),
		view:     linmem.NewView(nil),
		loop:     loop,
		files:    fileexchange.New(opts.Files, logger),
		sound:    audio.NewPool(synth, opts.Pool, logger),
	}
}

// Files returns the file exchange.
func (c *Context) Files() *fileexchange.Exchange { return c.files }

// Sound returns the voice pool.
func (c *Context) Sound() *audio.Pool { return c.sound }

// View returns the memory view.
func (c *Context) View() *linmem.View { return c.view }

// Dispatch applies host events that completed since the last call. The host
// calls it between guest calls, never during one.
func (c *Context) Dispatch() int {
	return c.loop.Drain()
}

// Close stops every voice and any open picker.
func (c *Context) Close() {
	c.sound.DropAll()
	c.files.Close()
}

// BindMemory implements wasmapi.HostFunctions.
func (c *Context) BindMemory(mem wasmapi.Memory) {
	if mem == nil {
		return
	}
	c.view.Bind(mem)
}

// Log implements wasmapi.HostFunctions.
func (c *Context) Log(level abi.LogLevel, ptr, length uint32) error {
	msg, err := linmem.DecodeUTF8(c.view, ptr, length)
	if err != nil {
		return err
	}

	switch level {
	case abi.LogLevelError:
		c.guestLog.Error(msg)
	case abi.LogLevelWarn:
		c.guestLog.Warn(msg)
	case abi.LogLevelInfo:
		c.guestLog.Info(msg)
	case abi.LogLevelDebug:
		c.guestLog.Debug(msg)
	case abi.LogLevelTrace:
		c.guestLog.Debug(msg, zap.String("guest_level", abi.LogLevelTrace.String()))
	default:
		c.guestLog.Info(msg, zap.Uint32("guest_level", uint32(level)))
	}
	return nil
}

// SoundPlay implements wasmapi.HostFunctions.
func (c *Context) SoundPlay(frequency, volume float32) {
	if err := c.sound.Play(float64(frequency), float64(volume)); err != nil {
		c.logger.Warn("Tone not started", zap.Error(err))
	}
}

// SoundDropAll implements wasmapi.HostFunctions.
func (c *Context) SoundDropAll() {
	c.sound.DropAll()
}

// RequestFileImport implements wasmapi.HostFunctions.
func (c *Context) RequestFileImport() {
	c.files.RequestImport()
}

// FileImportLen implements wasmapi.HostFunctions.
func (c *Context) FileImportLen() uint32 {
	return c.files.Len()
}

// FileImportType implements wasmapi.HostFunctions.
func (c *Context) FileImportType() uint32 {
	return uint32(c.files.Type())
}

// ImportFile implements wasmapi.HostFunctions. Consuming while nothing is
// ready is a no-op.
func (c *Context) ImportFile(dest uint32) error {
	_, err := c.files.Consume(c.view, dest)
	var notReady *fileexchange.NotReadyError
	if errors.As(err, &notReady) {
		c.logger.Debug("Import ignored", zap.Error(err))
		return nil
	}
	return err
}

// ExportFile implements wasmapi.HostFunctions.
func (c *Context) ExportFile(namePtr, nameLen, dataPtr, dataLen uint32) error {
	name, err := linmem.DecodeUTF8(c.view, namePtr, nameLen)
	if err != nil {
		return err
	}
	text, err := linmem.DecodeUTF8(c.view, dataPtr, dataLen)
	if err != nil {
		return err
	}

	if err := c.files.Export(name, text); err != nil {
		c.logger.Error("Export failed", zap.Error(err))
	}
	return nil
}
