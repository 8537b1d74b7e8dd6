package recovery

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"example.com/bergate/internal/packet"
)

func encode(t *testing.T, counter uint32, size int) []byte {
	t.Helper()
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	pkt, err := packet.Encode(packet.DefaultMarker, counter, payload)
	require.NoError(t, err)
	return pkt
}

func setCounter(pkt []byte, copy int, v uint32) {
	off := 12 + 4*copy
	binary.BigEndian.PutUint32(pkt[off:off+4], v)
}

func corruptCRC(pkt []byte) {
	pkt[28] ^= 0xA5
	pkt[31] ^= 0x3C
}

func TestRecoverUntouched(t *testing.T) {
	pkt := encode(t, 1234, 40)
	res, err := Recover(pkt)
	require.NoError(t, err)
	assert.Equal(t, uint32(1234), res.Counter)
	assert.Equal(t, uint8(len(pkt)), res.Length)
	assert.Equal(t, MethodCRC, res.Method)
	assert.False(t, res.Diagnostic.CRCMismatch)
	assert.Equal(t, res.Diagnostic.StoredCRC, res.Diagnostic.ExpectedCRC)
	assert.Len(t, res.Diagnostic.HeaderHex, 2*packet.HeaderLen)
}

func TestRecoverSingleCorruptedCopyViaCRC(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(pkt []byte)
	}{
		{name: "len2", corrupt: func(pkt []byte) { pkt[10] = 99 }},
		{name: "len0", corrupt: func(pkt []byte) { pkt[8] = 3 }},
		{name: "count1", corrupt: func(pkt []byte) { setCounter(pkt, 1, 0xDEADBEEF) }},
		{name: "count0", corrupt: func(pkt []byte) { setCounter(pkt, 0, 42) }},
		{name: "len3 and count0", corrupt: func(pkt []byte) {
			pkt[11] = 200
			setCounter(pkt, 0, 1)
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pkt := encode(t, 500, 16)
			want := uint8(len(pkt))
			tc.corrupt(pkt)
			res, err := Recover(pkt)
			require.NoError(t, err)
			assert.Equal(t, MethodCRC, res.Method)
			assert.Equal(t, want, res.Length)
			assert.Equal(t, uint32(500), res.Counter)
		})
	}
}

func TestRecoverVoteWhenCRCCorrupted(t *testing.T) {
	pkt := encode(t, 77, 20)
	want := uint8(len(pkt))
	corruptCRC(pkt)
	pkt[9] = 17
	setCounter(pkt, 3, 78)

	res, err := Recover(pkt)
	require.NoError(t, err)
	assert.Equal(t, MethodVote, res.Method)
	assert.Equal(t, want, res.Length)
	assert.Equal(t, uint32(77), res.Counter)
	assert.True(t, res.Diagnostic.CRCMismatch)
	assert.NotEqual(t, res.Diagnostic.StoredCRC, res.Diagnostic.ExpectedCRC)
	assert.Equal(t, packet.RegionCRC(want, 77), res.Diagnostic.ExpectedCRC)
}

func TestRecoverVotingFailures(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(pkt []byte)
	}{
		{name: "length 2-2 split", corrupt: func(pkt []byte) {
			pkt[10] = 60
			pkt[11] = 60
		}},
		{name: "counter 2-2 split", corrupt: func(pkt []byte) {
			setCounter(pkt, 0, 9)
			setCounter(pkt, 1, 9)
		}},
		{name: "all lengths distinct", corrupt: func(pkt []byte) {
			pkt[8], pkt[9], pkt[10] = 33, 34, 35
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pkt := encode(t, 3, 10)
			corruptCRC(pkt)
			tc.corrupt(pkt)

			_, err := Recover(pkt)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrVotingFailed)
			assert.ErrorIs(t, err, ErrCRCMismatch)

			var rerr *Error
			require.True(t, errors.As(err, &rerr))
			assert.Equal(t, MethodNone, rerr.Diagnostic.Method)
			assert.Equal(t, ErrVotingFailed.Error(), rerr.Diagnostic.Reason)
			assert.Len(t, rerr.Diagnostic.HeaderHex, 2*packet.HeaderLen)
		})
	}
}

func TestRecoverTruncated(t *testing.T) {
	pkt := encode(t, 1, 2)
	_, err := Recover(pkt[:packet.HeaderLen-1])
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTruncatedHeader)
	assert.NotErrorIs(t, err, ErrCRCMismatch)

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, packet.HeaderLen-1, rerr.Diagnostic.SliceLen)
	assert.Contains(t, err.Error(), "31 bytes")
}

func TestMajority(t *testing.T) {
	tests := []struct {
		name   string
		copies [4]uint8
		want   uint8
		ok     bool
	}{
		{name: "unanimous", copies: [4]uint8{5, 5, 5, 5}, want: 5, ok: true},
		{name: "three of four", copies: [4]uint8{5, 9, 5, 5}, want: 5, ok: true},
		{name: "pair with singletons", copies: [4]uint8{1, 7, 2, 7}, want: 7, ok: true},
		{name: "two-two split", copies: [4]uint8{1, 1, 2, 2}},
		{name: "all distinct", copies: [4]uint8{1, 2, 3, 4}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := majority(tc.copies)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMethodText(t *testing.T) {
	b, err := json.Marshal(Diagnostic{Method: MethodVote})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"method":"vote"`)

	var d Diagnostic
	require.NoError(t, json.Unmarshal(b, &d))
	assert.Equal(t, MethodVote, d.Method)

	var m Method
	assert.Error(t, m.UnmarshalText([]byte("guess")))
}

func TestRecoverRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		counter := rapid.Uint32().Draw(t, "counter")
		payload := rapid.SliceOfN(rapid.Byte(), packet.MinPayloadLen, packet.MaxPayloadLen).Draw(t, "payload")
		pkt, err := packet.Encode(packet.DefaultMarker, counter, payload)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		res, err := Recover(pkt)
		if err != nil {
			t.Fatalf("Recover: %v", err)
		}
		if res.Counter != counter || int(res.Length) != len(pkt) || res.Method != MethodCRC {
			t.Fatalf("Recover = (%d, %d, %s), want (%d, %d, crc)", res.Counter, res.Length, res.Method, counter, len(pkt))
		}
	})
}

func TestRecoverSingleLengthCorruptionProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		counter := rapid.Uint32().Draw(t, "counter")
		size := rapid.IntRange(packet.MinPayloadLen, packet.MaxPayloadLen).Draw(t, "size")
		pkt, err := packet.Encode(packet.DefaultMarker, counter, make([]byte, size))
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		copyIdx := rapid.IntRange(0, 3).Draw(t, "copy")
		pkt[8+copyIdx] = rapid.Byte().Draw(t, "value")
		res, err := Recover(pkt)
		if err != nil {
			t.Fatalf("Recover: %v", err)
		}
		if res.Counter != counter || int(res.Length) != len(pkt) {
			t.Fatalf("Recover = (%d, %d), want (%d, %d)", res.Counter, res.Length, counter, len(pkt))
		}
	})
}
