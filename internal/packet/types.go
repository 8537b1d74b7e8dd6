package packet

// Marker is the preamble/sync pair that opens every packet. Together they
// form the 8-byte synchronization pattern searched for by the scanner.
type Marker struct {
	Preamble uint32
	Sync     uint32
}

// DefaultMarker is the marker used by the generator and scorer unless a run
// configures another one.
var DefaultMarker = Marker{Preamble: 0x99999999, Sync: 0x1ACFFC1D}

// Header is the parsed view of the fixed 32-byte packet header. The four
// length and counter copies are kept as read so recovery can compare them.
type Header struct {
	Preamble uint32
	Sync     uint32
	Lengths  [RedundantCopies]uint8
	Counters [RedundantCopies]uint32
	CRC      int32
}

// Frame is a packet wrapped in the transport frame consumed by the external
// flowgraph. Spacing is opaque to this module.
type Frame struct {
	Spacing uint32
	Packet  []byte
}
