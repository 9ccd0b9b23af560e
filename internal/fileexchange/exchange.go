package fileexchange

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/woxQAQ/l3x-host/pkg/abi"
	"go.uber.org/zap"
)

// State is the import handshake state as seen by the guest.
type State int

const (
	// StateIdle means no file is pending and none was requested.
	StateIdle State = iota
	// StateRequested means the picker is open and nothing has arrived yet.
	StateRequested
	// StateReady means a file is pending and can be consumed.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequested:
		return "requested"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Pending is the single selected-but-not-consumed file.
type Pending struct {
	Name string
	Data []byte
	Type abi.FileType
}

// Classifier tags files by name extension.
type Classifier struct {
	Primary   string
	Secondary string
}

// DefaultClassifier returns the classifier for .l3 and .l3x files.
func DefaultClassifier() Classifier {
	return Classifier{
		Primary:   abi.DefaultPrimaryExt,
		Secondary: abi.DefaultSecondaryExt,
	}
}

// Classify looks at the text between the first and second dot of name.
// Matching is exact and case-sensitive: "data.l3x" is secondary, while
// "data.L3X", "data.backup.l3x" and "data" are unknown.
func (c Classifier) Classify(name string) abi.FileType {
	parts := strings.Split(name, ".")
	if len(parts) < 2 || parts[1] == "" {
		return abi.FileTypeUnknown
	}
	switch parts[1] {
	case c.Primary:
		return abi.FileTypePrimary
	case c.Secondary:
		return abi.FileTypeSecondary
	default:
		return abi.FileTypeUnknown
	}
}

// Dispatcher runs completions on the goroutine that owns the guest.
type Dispatcher interface {
	Post(fn func())
}

// MemoryWriter is where consumed files are copied to.
type MemoryWriter interface {
	Write(ptr uint32, data []byte) error
}

// Config holds the collaborators of an Exchange.
type Config struct {
	Classifier Classifier

	// Picker opens the host's file selection affordance.
	// If nil, import requests are logged and never complete.
	Picker Picker

	// Sink receives exported artifacts. If nil, exports are dropped with a warning.
	Sink Sink

	// Dispatcher serialises picker completions with guest calls.
	// If nil, completions are applied on the picker's goroutine.
	Dispatcher Dispatcher
}

// Exchange owns the file import handshake and the export path for one guest.
//
// Imports follow a polling protocol: the guest requests an import, then polls
// Len until it is non-zero, reads Type, reserves Len bytes and calls Consume.
// Exports are synchronous and do not touch the pending slot.
type Exchange struct {
	cfg    Config
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	pending  *Pending
	awaiting bool
}

// New creates an exchange in the idle state.
func New(cfg Config, logger *zap.Logger) *Exchange {
	if cfg.Classifier == (Classifier{}) {
		cfg.Classifier = DefaultClassifier()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Exchange{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "file-exchange")),
		ctx:    ctx,
		cancel: cancel,
	}
}

// RequestImport opens the picker and returns without waiting for a selection.
// If the user never picks a file the exchange stays in StateRequested.
func (x *Exchange) RequestImport() {
	x.mu.Lock()
	x.awaiting = true
	x.mu.Unlock()

	if x.cfg.Picker == nil {
		x.logger.Warn("File import requested but no picker is configured")
		return
	}

	x.logger.Debug("Opening file picker")
	if err := x.cfg.Picker.Open(x.ctx, x.deliver); err != nil {
		x.logger.Error("Failed to open file picker", zap.Error(err))
	}
}

func (x *Exchange) deliver(sel Selection) {
	if x.cfg.Dispatcher == nil {
		x.Complete(sel.Name, sel.Data)
		return
	}
	x.cfg.Dispatcher.Post(func() {
		x.Complete(sel.Name, sel.Data)
	})
}

// Complete stores a finished file read as the pending file, replacing any
// file that was not consumed yet.
func (x *Exchange) Complete(name string, data []byte) {
	p := &Pending{
		Name: name,
		Data: data,
		Type: x.cfg.Classifier.Classify(name),
	}

	x.mu.Lock()
	replaced := x.pending
	x.pending = p
	x.awaiting = false
	x.mu.Unlock()

	if replaced != nil {
		x.logger.Info("Pending file replaced before it was consumed",
			zap.String("dropped", replaced.Name),
		)
	}
	x.logger.Info("File ready for import",
		zap.String("name", p.Name),
		zap.Int("size_bytes", len(p.Data)),
		zap.Uint32("type", uint32(p.Type)),
	)
}

// State returns the current handshake state.
func (x *Exchange) State() State {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.stateLocked()
}

func (x *Exchange) stateLocked() State {
	switch {
	case x.pending != nil:
		return StateReady
	case x.awaiting:
		return StateRequested
	default:
		return StateIdle
	}
}

// Len returns the pending file's size, or 0 when nothing is ready.
func (x *Exchange) Len() uint32 {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.pending == nil {
		return 0
	}
	return uint32(len(x.pending.Data))
}

// Type returns the pending file's tag, or FileTypeUnknown when nothing is ready.
func (x *Exchange) Type() abi.FileType {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.pending == nil {
		return abi.FileTypeUnknown
	}
	return x.pending.Type
}

// Consume copies the pending file to dest and clears the slot. When nothing
// is ready it returns *NotReadyError and copies nothing. If the write fails
// the file stays pending.
func (x *Exchange) Consume(mem MemoryWriter, dest uint32) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.pending == nil {
		return 0, &NotReadyError{State: x.stateLocked()}
	}
	p := x.pending
	if err := mem.Write(dest, p.Data); err != nil {
		return 0, err
	}
	x.pending = nil

	x.logger.Debug("File consumed by guest",
		zap.String("name", p.Name),
		zap.Uint32("dest", dest),
		zap.Int("size_bytes", len(p.Data)),
	)
	return len(p.Data), nil
}

// Export hands a text artifact to the sink.
func (x *Exchange) Export(name, text string) error {
	if x.cfg.Sink == nil {
		x.logger.Warn("Artifact dropped, no sink configured", zap.String("name", name))
		return nil
	}

	a := Artifact{
		Name:      name,
		Content:   text,
		MIME:      abi.ArtifactMIME,
		CreatedAt: time.Now(),
	}
	if err := x.cfg.Sink.Deliver(a); err != nil {
		return &ExportError{Name: name, Err: err}
	}

	x.logger.Info("Artifact delivered",
		zap.String("name", name),
		zap.Int("size_bytes", len(text)),
	)
	return nil
}

// Close stops any open picker. Pending state is discarded with the exchange.
func (x *Exchange) Close() {
	x.cancel()
}
