package server

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"example.com/bergate/internal/common"
)

// NDJSONWriter streams newline-delimited JSON objects to the underlying writer.
type NDJSONWriter struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
	count   int
}

// NewNDJSONWriter wraps w. If w supports http.Flusher every record is
// flushed to the client as soon as it is written.
func NewNDJSONWriter(w http.ResponseWriter) *NDJSONWriter {
	var flusher http.Flusher
	if f, ok := w.(http.Flusher); ok {
		flusher = f
	}
	return &NDJSONWriter{writer: w, flusher: flusher}
}

// WriteDiagnostic writes one slice diagnostic as an NDJSON record.
func (w *NDJSONWriter) WriteDiagnostic(d common.DiagEntry) error {
	return w.WriteObject(d)
}

// WriteObject marshals v, writes it followed by a newline and flushes.
func (w *NDJSONWriter) WriteObject(v any) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := w.writer.Write(data); err != nil {
		return err
	}
	w.count++
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

// Count returns the number of records written so far.
func (w *NDJSONWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}
