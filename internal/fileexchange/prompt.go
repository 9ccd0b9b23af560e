package fileexchange

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"

	"github.com/chzyer/readline"
	"go.uber.org/zap"
)

const defaultPrompt = "import file> "

// PromptPicker asks for a file path on the terminal.
// An empty line, EOF or Ctrl-C cancels the selection.
type PromptPicker struct {
	prompt string
	stdin  io.ReadCloser
	stdout io.Writer
	logger *zap.Logger

	busy atomic.Bool
}

// PromptOption configures a PromptPicker.
type PromptOption func(*PromptPicker)

// WithPromptIO replaces the terminal streams.
func WithPromptIO(stdin io.ReadCloser, stdout io.Writer) PromptOption {
	return func(p *PromptPicker) {
		p.stdin = stdin
		p.stdout = stdout
	}
}

// WithPrompt sets the prompt text.
func WithPrompt(prompt string) PromptOption {
	return func(p *PromptPicker) {
		p.prompt = prompt
	}
}

// NewPromptPicker creates a terminal picker.
func NewPromptPicker(logger *zap.Logger, opts ...PromptOption) *PromptPicker {
	p := &PromptPicker{
		prompt: defaultPrompt,
		logger: logger.With(zap.String("component", "prompt-picker")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Open implements Picker. While a prompt is showing, further requests are ignored.
func (p *PromptPicker) Open(ctx context.Context, deliver func(Selection)) error {
	if !p.busy.CompareAndSwap(false, true) {
		p.logger.Debug("Prompt already open")
		return nil
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          p.prompt,
		Stdin:           p.stdin,
		Stdout:          p.stdout,
		InterruptPrompt: "^C",
		EOFPrompt:       "",
		HistoryLimit:    -1,
	})
	if err != nil {
		p.busy.Store(false)
		return err
	}

	go func() {
		defer p.busy.Store(false)
		defer rl.Close()

		stop := context.AfterFunc(ctx, func() { rl.Close() })
		defer stop()

		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) || ctx.Err() != nil {
				p.logger.Info("File selection cancelled")
				return
			}
			p.logger.Error("Failed to read file path", zap.Error(err))
			return
		}

		path := strings.TrimSpace(line)
		if path == "" {
			p.logger.Info("File selection cancelled")
			return
		}

		sel, err := loadSelection(path)
		if err != nil {
			p.logger.Error("Failed to read selected file", zap.Error(err))
			return
		}
		if ctx.Err() != nil {
			return
		}
		deliver(sel)
	}()

	return nil
}
