package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// FrameHeaderLen is the size of the spacing/length prefix the transmit
// flowgraph strips before modulating a packet.
const FrameHeaderLen = 8

var (
	ErrTruncatedFrame     = errors.New("frame extends past end of buffer")
	ErrInvalidFrameLength = errors.New("frame length smaller than frame header")
)

// EncodeFrame prefixes packet with the pre-packet spacing and the total frame
// length, both big-endian.
func EncodeFrame(spacing uint32, packet []byte) []byte {
	out := make([]byte, FrameHeaderLen+len(packet))
	binary.BigEndian.PutUint32(out[0:4], spacing)
	binary.BigEndian.PutUint32(out[4:8], uint32(FrameHeaderLen+len(packet)))
	copy(out[FrameHeaderLen:], packet)
	return out
}

// ParseFrames splits a back-to-back frame stream into its frames. Packet
// slices alias buf.
func ParseFrames(buf []byte) ([]Frame, error) {
	var frames []Frame
	offset := 0
	for offset < len(buf) {
		if offset+FrameHeaderLen > len(buf) {
			return frames, fmt.Errorf("%w: header at offset %d", ErrTruncatedFrame, offset)
		}
		spacing := binary.BigEndian.Uint32(buf[offset : offset+4])
		frameLen := int64(binary.BigEndian.Uint32(buf[offset+4 : offset+8]))
		if frameLen < FrameHeaderLen {
			return frames, fmt.Errorf("%w: %d at offset %d", ErrInvalidFrameLength, frameLen, offset)
		}
		end := int64(offset) + frameLen
		if end > int64(len(buf)) {
			return frames, fmt.Errorf("%w: frame at offset %d needs %d bytes, %d left", ErrTruncatedFrame, offset, frameLen, len(buf)-offset)
		}
		frames = append(frames, Frame{
			Spacing: spacing,
			Packet:  buf[offset+FrameHeaderLen : end : end],
		})
		offset = int(end)
	}
	return frames, nil
}
