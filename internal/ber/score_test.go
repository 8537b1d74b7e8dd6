package ber

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/bergate/internal/collate"
	"example.com/bergate/internal/packet"
)

// stream encodes one 40-byte packet per counter with a zero payload, giving
// 32 scored bytes per packet.
func stream(t *testing.T, counters ...uint32) []byte {
	t.Helper()
	var out []byte
	for _, c := range counters {
		pkt, err := packet.Encode(packet.DefaultMarker, c, make([]byte, 8))
		require.NoError(t, err)
		require.Len(t, pkt, 40)
		out = append(out, pkt...)
	}
	return out
}

func collation(buf []byte) *collate.Collation {
	l, _ := test.NewNullLogger()
	return collate.FromBuffer(buf, packet.DefaultMarker, collate.WithLogger(l))
}

func TestScoreIdentical(t *testing.T) {
	buf := stream(t, 0, 1, 2, 3)
	opts := DefaultOptions()
	opts.Threshold = 0
	res := Score(collation(buf), collation(buf), opts)
	assert.Equal(t, int64(0), res.ErrorBits)
	assert.Equal(t, int64(4*32*8), res.TotalScoredBits)
	assert.Equal(t, 0.0, res.BER)
	assert.True(t, res.Pass)
	assert.Equal(t, "0", res.Ratio)
	assert.Equal(t, 4, res.NumMatched)
	assert.Equal(t, 0, res.NumMissing)
}

func TestScoreEmptyDecoded(t *testing.T) {
	truth := collation(stream(t, 0, 1, 2))
	res := Score(truth, collation(nil), DefaultOptions())
	assert.Equal(t, 1.0, res.BER)
	assert.Equal(t, res.TotalScoredBits, res.ErrorBits)
	assert.Equal(t, "1", res.Ratio)
	assert.False(t, res.Pass)
	assert.Equal(t, 3, res.NumMissing)
	assert.Equal(t, 0, res.NumDecodedPackets)
}

func TestScoreSingleBitFlip(t *testing.T) {
	truth := stream(t, 5)
	decoded := bytes.Clone(truth)
	decoded[39] = 0x01

	res := Score(collation(truth), collation(decoded), DefaultOptions())
	assert.Equal(t, int64(1), res.ErrorBits)
	assert.Equal(t, int64(256), res.TotalScoredBits)
	assert.InDelta(t, 1.0/256, res.BER, 1e-15)
	assert.Equal(t, "1/256", res.Ratio)
	require.Len(t, res.Packets, 1)
	assert.Equal(t, PacketScore{Counter: 5, TruthLen: 40, DecodedLen: 40, ScoredBits: 256, ErrorBits: 1}, res.Packets[0])
}

func TestScoreMissingCounter(t *testing.T) {
	all := []uint32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	var kept []uint32
	for _, c := range all {
		if c != 7 {
			kept = append(kept, c)
		}
	}
	res := Score(collation(stream(t, all...)), collation(stream(t, kept...)), DefaultOptions())
	assert.Equal(t, int64(256), res.ErrorBits)
	assert.Equal(t, int64(2560), res.TotalScoredBits)
	assert.Equal(t, 0.1, res.BER)
	assert.Equal(t, "1/10", res.Ratio)
	assert.Equal(t, 1, res.NumMissing)
	assert.True(t, res.Packets[7].Missing)
	assert.Equal(t, uint32(7), res.Packets[7].Counter)
}

func TestScoreDeterministic(t *testing.T) {
	truth := stream(t, 3, 1, 2, 0)
	decoded := bytes.Clone(truth)
	decoded[72] ^= 0xFF
	decoded[112] ^= 0x0F

	tc, dc := collation(truth), collation(decoded)
	before := bytes.Clone(dc.Packets[1])
	first := Score(tc, dc, DefaultOptions())
	second := Score(tc, dc, DefaultOptions())
	assert.Equal(t, first, second)
	assert.Equal(t, before, dc.Packets[1])

	var order []uint32
	for _, ps := range first.Packets {
		order = append(order, ps.Counter)
	}
	assert.Equal(t, []uint32{0, 1, 2, 3}, order)
}

func TestScoreLengthMismatch(t *testing.T) {
	truth := stream(t, 0)
	truthC := &collate.Collation{Packets: map[uint32][]byte{0: truth}}
	decodedC := &collate.Collation{Packets: map[uint32][]byte{0: truth[:30]}}

	res := Score(truthC, decodedC, DefaultOptions())
	assert.Equal(t, int64(0), res.ErrorBits)

	opts := DefaultOptions()
	opts.PenalizeLengthMismatch = true
	res = Score(truthC, decodedC, opts)
	assert.Equal(t, int64(80), res.ErrorBits)
	assert.True(t, res.PenalizeLength)

	longer := append(bytes.Clone(truth), 0xFF, 0xFF)
	res = Score(truthC, &collate.Collation{Packets: map[uint32][]byte{0: longer}}, opts)
	assert.Equal(t, int64(0), res.ErrorBits)
}

func TestScoreThresholdBoundary(t *testing.T) {
	truth := stream(t, 5)
	decoded := bytes.Clone(truth)
	decoded[39] = 0x01

	opts := DefaultOptions()
	opts.Threshold = 1.0 / 256
	assert.True(t, Score(collation(truth), collation(decoded), opts).Pass)
	opts.Threshold = 1.0/256 - 1e-9
	assert.False(t, Score(collation(truth), collation(decoded), opts).Pass)
}

func TestScoreNothingScorable(t *testing.T) {
	res := Score(collation(nil), collation(stream(t, 1)), DefaultOptions())
	assert.Equal(t, 0.0, res.BER)
	assert.Equal(t, int64(0), res.TotalScoredBits)
	assert.True(t, res.Pass)
	assert.Equal(t, Interval{Level: DefaultConfidence, Lower: 0, Upper: 1}, res.Confidence)
}

func TestScoreDefaultPrefix(t *testing.T) {
	buf := stream(t, 1)
	res := Score(collation(buf), collation(buf), Options{})
	assert.Equal(t, packet.MarkerLen, res.Prefix)
	assert.Equal(t, int64(256), res.TotalScoredBits)
}

func TestClopperPearson(t *testing.T) {
	tests := []struct {
		name string
		k, n int64
	}{
		{name: "no errors", k: 0, n: 10000},
		{name: "few errors", k: 3, n: 10000},
		{name: "half", k: 50, n: 100},
		{name: "all errors", k: 256, n: 256},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			iv := clopperPearson(tc.k, tc.n, 0.95)
			p := float64(tc.k) / float64(tc.n)
			assert.True(t, p >= iv.Lower && p <= iv.Upper, "interval %+v does not contain %v", iv, p)
			assert.GreaterOrEqual(t, iv.Lower, 0.0)
			assert.LessOrEqual(t, iv.Upper, 1.0)
			assert.Less(t, iv.Lower, iv.Upper)
			if tc.k == 0 {
				assert.Equal(t, 0.0, iv.Lower)
			}
			if tc.k == tc.n {
				assert.Equal(t, 1.0, iv.Upper)
			}
		})
	}
	assert.Equal(t, DefaultConfidence, clopperPearson(1, 10, 2).Level)
}

func TestWorst(t *testing.T) {
	r := Result{Packets: []PacketScore{
		{Counter: 4, ErrorBits: 3},
		{Counter: 1, ErrorBits: 0},
		{Counter: 2, ErrorBits: 9},
		{Counter: 3, ErrorBits: 3},
	}}
	got := r.Worst(2)
	require.Len(t, got, 2)
	assert.Equal(t, uint32(2), got[0].Counter)
	assert.Equal(t, uint32(3), got[1].Counter)
	assert.Len(t, r.Worst(-1), 3)
}
