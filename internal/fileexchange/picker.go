package fileexchange

import (
	"context"
	"os"
	"path/filepath"
)

// Selection is a file the user picked, already read into memory.
type Selection struct {
	// Name is the base name of the file, used for type classification.
	Name string
	Data []byte
}

// Picker is the host's file selection affordance.
type Picker interface {
	// Open presents the affordance and returns without waiting for the user.
	// deliver is called at most once, from any goroutine, after a file was
	// chosen and fully read. A cancelled selection never calls deliver.
	// ctx ends the affordance; after it is done deliver must not be called.
	Open(ctx context.Context, deliver func(Selection)) error
}

// PickerFunc adapts a function to Picker.
type PickerFunc func(ctx context.Context, deliver func(Selection)) error

// Open implements Picker.
func (f PickerFunc) Open(ctx context.Context, deliver func(Selection)) error {
	return f(ctx, deliver)
}

func loadSelection(path string) (Selection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Selection{}, &SelectionError{Path: path, Err: err}
	}
	return Selection{Name: filepath.Base(path), Data: data}, nil
}
