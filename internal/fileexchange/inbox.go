package fileexchange

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultSettle is how long an inbox file must stay unchanged before it is read.
const DefaultSettle = 200 * time.Millisecond

// InboxPicker selects the next file that appears in a watched directory.
// Dropping or saving a file into the inbox plays the role of choosing it in a
// file dialog. Only one request is watched at a time; a new request replaces
// the previous one.
type InboxPicker struct {
	dir    string
	settle time.Duration
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewInboxPicker creates a picker watching dir.
func NewInboxPicker(dir string, settle time.Duration, logger *zap.Logger) *InboxPicker {
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &InboxPicker{
		dir:    dir,
		settle: settle,
		logger: logger.With(zap.String("component", "inbox-picker")),
	}
}

// Open implements Picker.
func (p *InboxPicker) Open(ctx context.Context, deliver func(Selection)) error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create inbox %s: %w", p.dir, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(p.dir); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch inbox %s: %w", p.dir, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.cancel = cancel
	p.mu.Unlock()

	p.logger.Info("Waiting for a file in the inbox", zap.String("dir", p.dir))
	go p.watch(ctx, w, deliver)
	return nil
}

// Close stops the active watch, if any.
func (p *InboxPicker) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *InboxPicker) watch(ctx context.Context, w *fsnotify.Watcher, deliver func(Selection)) {
	defer w.Close()

	var (
		timer     *time.Timer
		settled   <-chan time.Time
		candidate string
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("Inbox watch ended without a selection")
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			candidate = ev.Name
			if timer == nil {
				timer = time.NewTimer(p.settle)
			} else {
				timer.Reset(p.settle)
			}
			settled = timer.C

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			p.logger.Warn("Inbox watcher error", zap.Error(err))

		case <-settled:
			settled = nil
			info, err := os.Stat(candidate)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			sel, err := loadSelection(candidate)
			if err != nil {
				p.logger.Error("Failed to read inbox file", zap.Error(err))
				continue
			}
			if ctx.Err() != nil {
				return
			}
			p.logger.Info("Inbox file selected",
				zap.String("name", sel.Name),
				zap.Int("size_bytes", len(sel.Data)),
			)
			deliver(sel)
			return
		}
	}
}
