package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

const (
	HeaderLen       = 32
	MarkerLen       = 8
	RedundantCopies = 4
	MaxPacketLen    = 255
	MinPayloadLen   = 2
	MaxPayloadLen   = MaxPacketLen - HeaderLen

	lengthsOffset  = 8
	countersOffset = 12
	crcOffset      = 28

	// CRCRegionStart and CRCRegionEnd bound the bytes covered by the header
	// CRC: the four length bytes and the four counter words.
	CRCRegionStart = lengthsOffset
	CRCRegionEnd   = crcOffset
	CRCRegionLen   = CRCRegionEnd - CRCRegionStart
)

var (
	ErrInvalidPayloadLength = errors.New("invalid payload length")
	ErrTruncatedHeader      = errors.New("slice shorter than packet header")
)

// Bytes returns the 8-byte synchronization pattern for m.
func (m Marker) Bytes() [MarkerLen]byte {
	var out [MarkerLen]byte
	binary.BigEndian.PutUint32(out[0:4], m.Preamble)
	binary.BigEndian.PutUint32(out[4:8], m.Sync)
	return out
}

func (m Marker) String() string {
	return fmt.Sprintf("%08X%08X", m.Preamble, m.Sync)
}

// Encode builds a packet carrying payload with every redundant length and
// counter copy set to the same value.
func Encode(m Marker, counter uint32, payload []byte) ([]byte, error) {
	if len(payload) < MinPayloadLen || HeaderLen+len(payload) > MaxPacketLen {
		return nil, fmt.Errorf("%w: %d bytes (want %d..%d)", ErrInvalidPayloadLength, len(payload), MinPayloadLen, MaxPayloadLen)
	}
	packetLen := uint8(HeaderLen + len(payload))

	buf := make([]byte, HeaderLen+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], m.Preamble)
	binary.BigEndian.PutUint32(buf[4:8], m.Sync)
	fillRegion(buf[CRCRegionStart:CRCRegionEnd], packetLen, counter)
	crc := crc32.ChecksumIEEE(buf[CRCRegionStart:CRCRegionEnd])
	binary.BigEndian.PutUint32(buf[crcOffset:HeaderLen], crc)
	copy(buf[HeaderLen:], payload)
	return buf, nil
}

// RegionCRC computes the header CRC for a (length, counter) pair as if all
// four copies of each field held that value.
func RegionCRC(length uint8, counter uint32) uint32 {
	var region [CRCRegionLen]byte
	fillRegion(region[:], length, counter)
	return crc32.ChecksumIEEE(region[:])
}

func fillRegion(region []byte, length uint8, counter uint32) {
	for i := 0; i < RedundantCopies; i++ {
		region[i] = length
	}
	for i := 0; i < RedundantCopies; i++ {
		off := RedundantCopies + i*4
		binary.BigEndian.PutUint32(region[off:off+4], counter)
	}
}

// ParseHeader decodes the fixed header at the start of b without validating
// the CRC or the redundant copies.
func ParseHeader(b []byte) (Header, error) {
	var hdr Header
	if len(b) < HeaderLen {
		return hdr, ErrTruncatedHeader
	}
	hdr.Preamble = binary.BigEndian.Uint32(b[0:4])
	hdr.Sync = binary.BigEndian.Uint32(b[4:8])
	copy(hdr.Lengths[:], b[lengthsOffset:lengthsOffset+RedundantCopies])
	for i := range hdr.Counters {
		off := countersOffset + i*4
		hdr.Counters[i] = binary.BigEndian.Uint32(b[off : off+4])
	}
	hdr.CRC = int32(binary.BigEndian.Uint32(b[crcOffset:HeaderLen]))
	return hdr, nil
}

// StoredCRC returns the header CRC as the unsigned checksum value.
func (h Header) StoredCRC() uint32 {
	return uint32(h.CRC)
}
