package packet

import (
	"bytes"
	"iter"
)

// Scanner walks a buffer and yields the candidate slices that start at each
// occurrence of the marker. It never validates header contents.
type Scanner struct {
	buf    []byte
	marker [MarkerLen]byte
	pos    int
	found  int
}

// NewScanner prepares a scanner over buf. The buffer is not copied; callers
// must not modify it while slices are in use.
func NewScanner(buf []byte, m Marker) *Scanner {
	s := &Scanner{buf: buf, marker: m.Bytes()}
	s.Reset()
	return s
}

// Reset rewinds the scanner to the first marker in the buffer.
func (s *Scanner) Reset() {
	s.found = 0
	s.pos = bytes.Index(s.buf, s.marker[:])
}

// Offset returns the buffer offset of the slice the next call to Next will
// return, or -1 once the scan is exhausted.
func (s *Scanner) Offset() int {
	return s.pos
}

// Count returns the number of slices returned since the last Reset.
func (s *Scanner) Count() int {
	return s.found
}

// Next returns the bytes from the current marker up to the next marker (or
// the end of the buffer). The search for the following marker starts one
// byte after the current match.
func (s *Scanner) Next() ([]byte, bool) {
	if s.pos < 0 {
		return nil, false
	}
	start := s.pos
	next := -1
	if rel := bytes.Index(s.buf[start+1:], s.marker[:]); rel >= 0 {
		next = start + 1 + rel
	}
	var out []byte
	if next > 0 {
		out = s.buf[start:next:next]
	} else {
		out = s.buf[start:len(s.buf):len(s.buf)]
	}
	s.pos = next
	s.found++
	return out, true
}

// Scan returns a lazy sequence of the candidate slices in buf. Each range
// over the sequence starts a fresh scan.
func Scan(buf []byte, m Marker) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		s := NewScanner(buf, m)
		for {
			slice, ok := s.Next()
			if !ok {
				return
			}
			if !yield(slice) {
				return
			}
		}
	}
}

// Split materializes Scan into a slice of candidate packets.
func Split(buf []byte, m Marker) [][]byte {
	var out [][]byte
	for slice := range Scan(buf, m) {
		out = append(out, slice)
	}
	return out
}
