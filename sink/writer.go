package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/c360/natsbridge/errors"
)

// Writer writes records as JSON lines
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	enc    *json.Encoder
	closer io.Closer
}

// NewWriter writes JSON lines to w. Close does not close w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, enc: json.NewEncoder(w)}
}

// OpenFile appends JSON lines to path, creating it and its directory if needed
func OpenFile(path string) (*Writer, error) {
	if path == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Writer", "OpenFile", "file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.WrapFatal(err, "Writer", "OpenFile", "create output directory")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.WrapFatal(err, "Writer", "OpenFile", "open output file")
	}

	w := NewWriter(f)
	w.closer = f
	return w, nil
}

// Deliver writes rec as one line
func (w *Writer) Deliver(_ context.Context, rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.enc == nil {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Writer", "Deliver", "write record")
	}
	if err := w.enc.Encode(rec); err != nil {
		return errors.WrapTransient(err, "Writer", "Deliver", "write record")
	}
	return nil
}

// Close closes the underlying file, if Writer opened one
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.enc = nil
	if w.closer == nil {
		return nil
	}
	err := w.closer.Close()
	w.closer = nil
	if err != nil {
		return errors.Wrap(err, "Writer", "Close", "close output file")
	}
	return nil
}
