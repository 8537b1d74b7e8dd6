// Package collate applies header recovery to a stream of candidate slices
// and indexes the recovered packets by sequence counter.
package collate

import (
	"bytes"
	"errors"
	"iter"
	"slices"

	"github.com/sirupsen/logrus"

	"example.com/bergate/internal/common"
	"example.com/bergate/internal/packet"
	"example.com/bergate/internal/recovery"
)

// Stats counts slice outcomes for one collation run.
type Stats struct {
	Slices     int `json:"slices"`
	Recovered  int `json:"recovered"`
	CRCMatched int `json:"crcMatched"`
	Voted      int `json:"voted"`
	Failed     int `json:"failed"`
	Duplicates int `json:"duplicates"`
}

// SliceDiagnostic is the recovery outcome of the slice at Index in stream
// order. Offset is the byte position of the slice in the scanned buffer.
// Err is nil for recovered slices.
type SliceDiagnostic struct {
	Index     int
	Offset    int64
	Duplicate bool
	Err       error
	recovery.Diagnostic
}

// Collation maps recovered sequence counters to the bytes of the slice
// that carried them.
type Collation struct {
	Packets     map[uint32][]byte
	Stats       Stats
	Diagnostics []SliceDiagnostic
}

type options struct {
	log     logrus.FieldLogger
	metrics *common.Metrics
	diag    *common.DiagLog
	stream  string
	keep    bool
	base    int64
	notify  func(SliceDiagnostic) error
}

// Option customises a collation run.
type Option func(*options)

// WithLogger routes per-slice failure logs to l instead of the process
// logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics records every slice outcome in m.
func WithMetrics(m *common.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithDiagLog appends an entry per slice to d, tagged with stream.
func WithDiagLog(d *common.DiagLog, stream string) Option {
	return func(o *options) {
		o.diag = d
		o.stream = stream
	}
}

// WithCallback invokes fn after each slice is processed. Once fn returns an
// error it is not called again.
func WithCallback(fn func(SliceDiagnostic) error) Option {
	return func(o *options) { o.notify = fn }
}

// WithoutDiagnostics drops the per-slice diagnostics from the result.
func WithoutDiagnostics() Option {
	return func(o *options) { o.keep = false }
}

// Collate recovers every slice in seq. A slice that fails recovery is
// logged and dropped; a later slice with an already seen counter replaces
// the earlier one.
func Collate(seq iter.Seq[[]byte], opts ...Option) *Collation {
	o := options{log: common.Log(), keep: true}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Collation{Packets: make(map[uint32][]byte)}
	offset := o.base
	for slice := range seq {
		idx := c.Stats.Slices
		c.Stats.Slices++
		if o.metrics != nil {
			o.metrics.AddSlice(int64(len(slice)))
		}
		res, err := recovery.Recover(slice)
		sd := SliceDiagnostic{Index: idx, Offset: offset, Err: err, Diagnostic: res.Diagnostic}
		offset += int64(len(slice))
		if err != nil {
			c.Stats.Failed++
			var rerr *recovery.Error
			if errors.As(err, &rerr) {
				sd.Diagnostic = rerr.Diagnostic
			}
			if o.metrics != nil {
				o.metrics.IncFailed()
			}
			o.log.WithFields(logrus.Fields{
				"slice":       idx,
				"offset":      sd.Offset,
				"header":      sd.HeaderHex,
				"storedCrc":   sd.StoredCRC,
				"expectedCrc": sd.ExpectedCRC,
				"lengths":     sd.Lengths,
				"counters":    sd.Counters,
			}).Debugf("drop slice: %v", err)
		} else {
			c.Stats.Recovered++
			switch res.Method {
			case recovery.MethodCRC:
				c.Stats.CRCMatched++
				if o.metrics != nil {
					o.metrics.IncCRC()
				}
			case recovery.MethodVote:
				c.Stats.Voted++
				if o.metrics != nil {
					o.metrics.IncVoted()
				}
			}
			if _, seen := c.Packets[res.Counter]; seen {
				c.Stats.Duplicates++
				sd.Duplicate = true
				if o.metrics != nil {
					o.metrics.IncDuplicate()
				}
			}
			c.Packets[res.Counter] = slice
		}
		if o.keep {
			c.Diagnostics = append(c.Diagnostics, sd)
		}
		if o.diag != nil {
			if err := o.diag.Append(sd.Entry(o.stream)); err != nil {
				o.log.WithError(err).Warn("append diagnostic")
			}
		}
		if o.notify != nil {
			if err := o.notify(sd); err != nil {
				o.log.WithError(err).Warn("slice callback failed; disabling")
				o.notify = nil
			}
		}
	}
	return c
}

// FromBuffer scans buf for m and collates the resulting slices.
func FromBuffer(buf []byte, m packet.Marker, opts ...Option) *Collation {
	marker := m.Bytes()
	if lead := bytes.Index(buf, marker[:]); lead > 0 {
		opts = append([]Option{func(o *options) { o.base = int64(lead) }}, opts...)
	}
	return Collate(packet.Scan(buf, m), opts...)
}

// Len returns the number of distinct recovered counters.
func (c *Collation) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Packets)
}

// Get returns the packet recovered for counter.
func (c *Collation) Get(counter uint32) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	b, ok := c.Packets[counter]
	return b, ok
}

// Counters returns the recovered counters in ascending order.
func (c *Collation) Counters() []uint32 {
	if c == nil {
		return nil
	}
	out := make([]uint32, 0, len(c.Packets))
	for k := range c.Packets {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Failures returns the diagnostics of dropped slices.
func (c *Collation) Failures() []SliceDiagnostic {
	if c == nil {
		return nil
	}
	var out []SliceDiagnostic
	for _, d := range c.Diagnostics {
		if d.Err != nil {
			out = append(out, d)
		}
	}
	return out
}

// Entry converts d into a diagnostics log line.
func (d SliceDiagnostic) Entry(stream string) common.DiagEntry {
	e := common.DiagEntry{
		Stream:      stream,
		Slice:       d.Index,
		Offset:      d.Offset,
		SliceLen:    d.SliceLen,
		Method:      d.Method.String(),
		Counter:     d.Counter,
		Length:      int(d.Length),
		StoredCRC:   d.StoredCRC,
		ExpectedCRC: d.ExpectedCRC,
		CRCMismatch: d.CRCMismatch,
		Duplicate:   d.Duplicate,
		HeaderHex:   d.HeaderHex,
	}
	if d.SliceLen >= packet.HeaderLen {
		e.Lengths = make([]int, len(d.Lengths))
		for i, l := range d.Lengths {
			e.Lengths[i] = int(l)
		}
		e.Counters = append([]uint32(nil), d.Counters[:]...)
	}
	if d.Err != nil {
		e.Method = "failed"
		e.Error = d.Err.Error()
	}
	return e
}
