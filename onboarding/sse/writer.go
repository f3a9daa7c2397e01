package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// Writer emits SSE records. When the underlying writer is an
// http.Flusher, every record is flushed immediately so tokens reach the
// client as they are produced.
type Writer struct {
	w io.Writer
	f http.Flusher
}

func NewWriter(w io.Writer) *Writer {
	sw := &Writer{w: w}
	if f, ok := w.(http.Flusher); ok {
		sw.f = f
	}
	return sw
}

// WriteEvent marshals the payload as the record's single data line.
func (w *Writer) WriteEvent(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "marshal %s event", name)
	}
	if _, err := fmt.Fprintf(w.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return errors.Wrapf(err, "write %s event", name)
	}
	w.flush()
	return nil
}

// WriteComment emits a keepalive comment record.
func (w *Writer) WriteComment(text string) error {
	if _, err := fmt.Fprintf(w.w, ": %s\n\n", text); err != nil {
		return errors.Wrap(err, "write comment")
	}
	w.flush()
	return nil
}

func (w *Writer) flush() {
	if w.f != nil {
		w.f.Flush()
	}
}
