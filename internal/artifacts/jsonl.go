package artifacts

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// JSONLWriter appends one JSON object per line. Writes are unbuffered so
// every record reaches the file before Write returns.
type JSONLWriter struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// NewJSONLWriter wraps w. Close is a no-op unless w is also an io.Closer.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	jw := &JSONLWriter{w: w}
	if c, ok := w.(io.Closer); ok {
		jw.closer = c
	}
	return jw
}

// CreateJSONL truncates or creates the file at path
func CreateJSONL(path string) (*JSONLWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return NewJSONLWriter(f), nil
}

// Write encodes v followed by a newline
func (w *JSONLWriter) Write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.w.Write(data)
	return err
}

// Close closes the underlying file
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closer == nil {
		return nil
	}
	err := w.closer.Close()
	w.closer = nil
	return err
}
