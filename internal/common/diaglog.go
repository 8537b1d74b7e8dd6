package common

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// DiagEntry captures the outcome of recovering one candidate slice.
type DiagEntry struct {
	Stream      string    `json:"stream,omitempty"`
	Slice       int       `json:"slice"`
	Offset      int64     `json:"offset"`
	SliceLen    int       `json:"sliceLen"`
	Method      string    `json:"method"`
	Counter     uint32    `json:"counter"`
	Length      int       `json:"length"`
	Lengths     []int     `json:"lengths,omitempty"`
	Counters    []uint32  `json:"counters,omitempty"`
	StoredCRC   uint32    `json:"storedCrc"`
	ExpectedCRC uint32    `json:"expectedCrc"`
	CRCMismatch bool      `json:"crcMismatch,omitempty"`
	Duplicate   bool      `json:"duplicate,omitempty"`
	HeaderHex   string    `json:"headerHex,omitempty"`
	Error       string    `json:"error,omitempty"`
	Ts          time.Time `json:"ts"`
}

// Failed reports whether the slice was dropped.
func (d DiagEntry) Failed() bool {
	return d.Error != ""
}

// DiagLog is an append-only JSONL file of slice diagnostics. Paths ending in
// .gz or .zst are compressed; each Open appends a new compressed member.
type DiagLog struct {
	path string
	mu   sync.Mutex
	w    io.WriteCloser
	bw   *bufio.Writer
	n    int
}

// OpenDiagLog opens path for appending.
func OpenDiagLog(path string) (*DiagLog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("diagnostics path is empty")
	}
	w, err := openOutput(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND)
	if err != nil {
		return nil, fmt.Errorf("open diagnostics: %w", err)
	}
	return &DiagLog{path: path, w: w, bw: bufio.NewWriter(w)}, nil
}

// Path returns the backing file path for the log.
func (d *DiagLog) Path() string {
	if d == nil {
		return ""
	}
	return d.path
}

// Count returns the number of entries appended since Open.
func (d *DiagLog) Count() int {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n
}

// Append writes entry as one JSON line.
func (d *DiagLog) Append(entry DiagEntry) error {
	if d == nil {
		return errors.New("nil diagnostics log")
	}
	if entry.Method == "" {
		return errors.New("diagnostic entry missing method")
	}
	if entry.Ts.IsZero() {
		entry.Ts = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bw == nil {
		return errors.New("diagnostics log closed")
	}
	if _, err := d.bw.Write(append(data, '\n')); err != nil {
		return err
	}
	d.n++
	return nil
}

// Close flushes buffered entries and closes the file.
func (d *DiagLog) Close() error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bw == nil {
		return nil
	}
	ferr := d.bw.Flush()
	cerr := d.w.Close()
	d.bw = nil
	d.w = nil
	if ferr != nil {
		return ferr
	}
	return cerr
}

// ReadDiagLog loads every entry from the supplied JSONL file.
func ReadDiagLog(path string) ([]DiagEntry, error) {
	rc, err := OpenInput(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	var entries []DiagEntry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry DiagEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("decode diagnostic entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
