// Package gen builds ground-truth packet streams with pseudo-random payloads.
package gen

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"

	"example.com/bergate/internal/packet"
)

const (
	// DefaultMinSpacing is 160 bytes worth of samples at four symbols per
	// byte and four samples per symbol.
	DefaultMinSpacing uint32 = 4 * 4 * 160
	DefaultMaxSpacing uint32 = 256 * 8 * 2
	DefaultMinBits    int64  = 1_000_000

	pcgStream = 0x6265726761746531
)

var ErrInvalidOptions = errors.New("invalid generator options")

type Options struct {
	MinTotalBits int64
	Seed         int64
	Marker       packet.Marker
	MinPayload   int
	MaxPayload   int
	MinSpacing   uint32
	MaxSpacing   uint32
}

func DefaultOptions() Options {
	return Options{
		MinTotalBits: DefaultMinBits,
		Marker:       packet.DefaultMarker,
		MinPayload:   packet.MinPayloadLen,
		MaxPayload:   packet.MaxPayloadLen,
		MinSpacing:   DefaultMinSpacing,
		MaxSpacing:   DefaultMaxSpacing,
	}
}

// Packet is one generated packet with the spacing the transmit side inserts
// before it.
type Packet struct {
	Counter uint32
	Spacing uint32
	Bytes   []byte
}

func (o Options) validate() error {
	switch {
	case o.MinTotalBits < 0:
		return fmt.Errorf("%w: negative bit target %d", ErrInvalidOptions, o.MinTotalBits)
	case o.MinPayload < packet.MinPayloadLen || o.MaxPayload > packet.MaxPayloadLen:
		return fmt.Errorf("%w: payload range [%d, %d] outside [%d, %d]", ErrInvalidOptions,
			o.MinPayload, o.MaxPayload, packet.MinPayloadLen, packet.MaxPayloadLen)
	case o.MinPayload > o.MaxPayload:
		return fmt.Errorf("%w: min payload %d above max %d", ErrInvalidOptions, o.MinPayload, o.MaxPayload)
	case o.MinSpacing >= o.MaxSpacing:
		return fmt.Errorf("%w: spacing range [%d, %d) is empty", ErrInvalidOptions, o.MinSpacing, o.MaxSpacing)
	}
	return nil
}

// Generate draws packets with counters 0, 1, 2, ... until the payload bits
// reach MinTotalBits. Output depends only on opts.
func Generate(opts Options) ([]Packet, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(uint64(opts.Seed), pcgStream))

	var sizes []int
	var bits int64
	for bits < opts.MinTotalBits {
		n := opts.MinPayload + rng.IntN(opts.MaxPayload-opts.MinPayload+1)
		sizes = append(sizes, n)
		bits += 8 * int64(n)
	}

	span := opts.MaxSpacing - opts.MinSpacing
	pkts := make([]Packet, len(sizes))
	for i := range pkts {
		pkts[i].Counter = uint32(i)
		pkts[i].Spacing = opts.MinSpacing + rng.Uint32N(span)
	}
	for i, n := range sizes {
		payload := make([]byte, n)
		fill(rng, payload)
		b, err := packet.Encode(opts.Marker, pkts[i].Counter, payload)
		if err != nil {
			return nil, fmt.Errorf("encode packet %d: %w", i, err)
		}
		pkts[i].Bytes = b
	}
	return pkts, nil
}

func fill(rng *rand.Rand, b []byte) {
	for i := 0; i < len(b); i += 8 {
		v := rng.Uint64()
		for j := i; j < len(b) && j < i+8; j++ {
			b[j] = byte(v)
			v >>= 8
		}
	}
}

// PayloadBits returns the number of payload bits across pkts.
func PayloadBits(pkts []Packet) int64 {
	var n int64
	for _, p := range pkts {
		n += 8 * int64(len(p.Bytes)-packet.HeaderLen)
	}
	return n
}

// TruthStream concatenates the packets with no gap.
func TruthStream(pkts []Packet) []byte {
	size := 0
	for _, p := range pkts {
		size += len(p.Bytes)
	}
	out := make([]byte, 0, size)
	for _, p := range pkts {
		out = append(out, p.Bytes...)
	}
	return out
}

// FrameStream wraps each packet in its spacing/length frame header.
func FrameStream(pkts []Packet) []byte {
	size := 0
	for _, p := range pkts {
		size += packet.FrameHeaderLen + len(p.Bytes)
	}
	out := make([]byte, 0, size)
	for _, p := range pkts {
		out = append(out, packet.EncodeFrame(p.Spacing, p.Bytes)...)
	}
	return out
}

// WriteFiles writes the truth stream and, when framesPath is set, the frame
// stream.
func WriteFiles(pkts []Packet, truthPath, framesPath string) error {
	if err := writeFile(truthPath, TruthStream(pkts)); err != nil {
		return fmt.Errorf("write truth: %w", err)
	}
	if framesPath == "" {
		return nil
	}
	if err := writeFile(framesPath, FrameStream(pkts)); err != nil {
		return fmt.Errorf("write frames: %w", err)
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
