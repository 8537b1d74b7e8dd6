// Package recovery reconstructs the length and sequence counter of a
// candidate packet whose redundant header copies may have been corrupted.
package recovery

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"example.com/bergate/internal/packet"
)

var (
	ErrVotingFailed = errors.New("redundant header copies have no majority")
	ErrCRCMismatch  = errors.New("no length/counter combination reproduces the header crc")

	// ErrTruncatedHeader is reported for slices shorter than a packet header.
	ErrTruncatedHeader = packet.ErrTruncatedHeader
)

// Method records how a header was recovered.
type Method int

const (
	MethodNone Method = iota
	MethodCRC
	MethodVote
)

func (m Method) String() string {
	switch m {
	case MethodCRC:
		return "crc"
	case MethodVote:
		return "vote"
	default:
		return "none"
	}
}

func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Method) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "crc":
		*m = MethodCRC
	case "vote":
		*m = MethodVote
	case "", "none":
		*m = MethodNone
	default:
		return fmt.Errorf("unknown recovery method %q", string(b))
	}
	return nil
}

// Diagnostic describes a single recovery attempt. It is attached to both
// successful and failed outcomes.
type Diagnostic struct {
	SliceLen    int                            `json:"sliceLen"`
	HeaderHex   string                         `json:"headerHex"`
	Lengths     [packet.RedundantCopies]uint8  `json:"lengths"`
	Counters    [packet.RedundantCopies]uint32 `json:"counters"`
	StoredCRC   uint32                         `json:"storedCrc"`
	ExpectedCRC uint32                         `json:"expectedCrc"`
	CRCMismatch bool                           `json:"crcMismatch"`
	Method      Method                         `json:"method"`
	Length      uint8                          `json:"length,omitempty"`
	Counter     uint32                         `json:"counter,omitempty"`
	Reason      string                         `json:"reason,omitempty"`
}

// Result is a successfully recovered header.
type Result struct {
	Counter    uint32
	Length     uint8
	Method     Method
	Diagnostic Diagnostic
}

// Error is returned for slices whose header cannot be recovered.
type Error struct {
	Reason     error
	Diagnostic Diagnostic
}

func (e *Error) Error() string {
	d := e.Diagnostic
	if errors.Is(e.Reason, ErrTruncatedHeader) {
		return fmt.Sprintf("recover header: %v (%d bytes)", e.Reason, d.SliceLen)
	}
	return fmt.Sprintf("recover header: %v (stored crc 0x%08X, expected 0x%08X, lengths %v, counters %v)",
		e.Reason, d.StoredCRC, d.ExpectedCRC, d.Lengths, d.Counters)
}

// Unwrap exposes the failure reason and, when the stored CRC matched no
// combination, ErrCRCMismatch.
func (e *Error) Unwrap() []error {
	if e.Diagnostic.CRCMismatch {
		return []error{e.Reason, ErrCRCMismatch}
	}
	return []error{e.Reason}
}

// Recover determines the packet length and counter of slice. The CRC is
// tried against all sixteen (length, counter) pairs drawn from the
// redundant copies, length copies in the outer loop; the first match wins.
// When none match, each field falls back to a strict majority of its
// copies.
func Recover(slice []byte) (Result, error) {
	diag := Diagnostic{SliceLen: len(slice)}
	hdr, err := packet.ParseHeader(slice)
	if err != nil {
		diag.HeaderHex = hex.EncodeToString(slice)
		diag.Reason = err.Error()
		return Result{}, &Error{Reason: err, Diagnostic: diag}
	}
	diag.HeaderHex = hex.EncodeToString(slice[:packet.HeaderLen])
	diag.Lengths = hdr.Lengths
	diag.Counters = hdr.Counters
	diag.StoredCRC = hdr.StoredCRC()

	for _, l := range hdr.Lengths {
		for _, c := range hdr.Counters {
			crc := packet.RegionCRC(l, c)
			if crc != diag.StoredCRC {
				continue
			}
			diag.ExpectedCRC = crc
			diag.Method = MethodCRC
			diag.Length = l
			diag.Counter = c
			return Result{Counter: c, Length: l, Method: MethodCRC, Diagnostic: diag}, nil
		}
	}

	diag.CRCMismatch = true
	l, lok := majority(hdr.Lengths)
	c, cok := majority(hdr.Counters)
	if !lok || !cok {
		diag.ExpectedCRC = packet.RegionCRC(hdr.Lengths[0], hdr.Counters[0])
		diag.Reason = ErrVotingFailed.Error()
		return Result{}, &Error{Reason: ErrVotingFailed, Diagnostic: diag}
	}
	diag.ExpectedCRC = packet.RegionCRC(l, c)
	diag.Method = MethodVote
	diag.Length = l
	diag.Counter = c
	return Result{Counter: c, Length: l, Method: MethodVote, Diagnostic: diag}, nil
}

// majority returns the most frequent copy when at least two copies agree
// and no other value is as frequent.
func majority[T comparable](copies [packet.RedundantCopies]T) (T, bool) {
	counts := make(map[T]int, len(copies))
	for _, v := range copies {
		counts[v]++
	}
	var best T
	bestN, ties := 0, 0
	for v, n := range counts {
		switch {
		case n > bestN:
			best, bestN, ties = v, n, 1
		case n == bestN:
			ties++
		}
	}
	if bestN < 2 || ties > 1 {
		var zero T
		return zero, false
	}
	return best, true
}
