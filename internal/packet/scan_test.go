package packet

import (
	"bytes"
	"errors"
	"testing"

	"pgregory.net/rapid"
)

func buildStream(t *testing.T, sizes ...int) ([]byte, [][]byte) {
	t.Helper()
	var stream []byte
	var pkts [][]byte
	for i, size := range sizes {
		payload := bytes.Repeat([]byte{byte(i + 1)}, size)
		pkt, err := Encode(DefaultMarker, uint32(i), payload)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		pkts = append(pkts, pkt)
		stream = append(stream, pkt...)
	}
	return stream, pkts
}

func TestSplitConcatenatedPackets(t *testing.T) {
	stream, pkts := buildStream(t, 2, 17, 223, 64)
	slices := Split(stream, DefaultMarker)
	if len(slices) != len(pkts) {
		t.Fatalf("got %d slices, want %d", len(slices), len(pkts))
	}
	for i := range pkts {
		if !bytes.Equal(slices[i], pkts[i]) {
			t.Fatalf("slice %d = %x, want %x", i, slices[i], pkts[i])
		}
	}
}

func TestScanLeadingGarbageAndTail(t *testing.T) {
	stream, pkts := buildStream(t, 4, 4)
	marker := DefaultMarker.Bytes()
	buf := append([]byte{0x00, 0x11, 0x22}, stream...)
	buf = append(buf, marker[:]...)

	slices := Split(buf, DefaultMarker)
	if len(slices) != 3 {
		t.Fatalf("got %d slices, want 3", len(slices))
	}
	if !bytes.Equal(slices[0], pkts[0]) || !bytes.Equal(slices[1], pkts[1]) {
		t.Fatalf("packet slices do not match")
	}
	if !bytes.Equal(slices[2], marker[:]) {
		t.Fatalf("tail slice = %x, want bare marker", slices[2])
	}
}

func TestScanNoMarker(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
	}{
		{name: "nil", buf: nil},
		{name: "noise", buf: []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}},
		{name: "partial marker", buf: []byte{0x99, 0x99, 0x99, 0x99, 0x1A, 0xCF, 0xFC}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			n := 0
			for range Scan(tc.buf, DefaultMarker) {
				n++
			}
			if n != 0 {
				t.Fatalf("got %d slices from %x", n, tc.buf)
			}
		})
	}
}

func TestScanIsRestartable(t *testing.T) {
	stream, _ := buildStream(t, 3, 9, 12)
	seq := Scan(stream, DefaultMarker)
	var first, second int
	for range seq {
		first++
	}
	for range seq {
		second++
	}
	if first != 3 || second != 3 {
		t.Fatalf("first=%d second=%d, want 3 and 3", first, second)
	}

	s := NewScanner(stream, DefaultMarker)
	for {
		if _, ok := s.Next(); !ok {
			break
		}
	}
	if s.Count() != 3 || s.Offset() != -1 {
		t.Fatalf("count=%d offset=%d after exhaustion", s.Count(), s.Offset())
	}
	s.Reset()
	if s.Offset() != 0 {
		t.Fatalf("offset after reset = %d", s.Offset())
	}
}

func TestScanEarlyBreak(t *testing.T) {
	stream, pkts := buildStream(t, 5, 5, 5)
	for slice := range Scan(stream, DefaultMarker) {
		if !bytes.Equal(slice, pkts[0]) {
			t.Fatalf("first slice mismatch")
		}
		break
	}
}

func TestScanCoversStreamProperty(t *testing.T) {
	marker := DefaultMarker.Bytes()
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(t, "n")
		var stream []byte
		for i := 0; i < n; i++ {
			payload := rapid.SliceOfN(rapid.Byte(), MinPayloadLen, MaxPayloadLen).Draw(t, "payload")
			pkt, err := Encode(DefaultMarker, uint32(i), payload)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			stream = append(stream, pkt...)
		}
		if bytes.Count(stream, marker[:]) != n {
			// a payload happened to contain the marker; not a scan bug
			return
		}
		total := 0
		count := 0
		for slice := range Scan(stream, DefaultMarker) {
			if !bytes.HasPrefix(slice, marker[:]) {
				t.Fatalf("slice %d does not start with marker", count)
			}
			total += len(slice)
			count++
		}
		if count != n {
			t.Fatalf("got %d slices, want %d", count, n)
		}
		if total != len(stream) {
			t.Fatalf("slices cover %d bytes, stream has %d", total, len(stream))
		}
	})
}

func TestFrameRoundTrip(t *testing.T) {
	_, pkts := buildStream(t, 2, 30, 100)
	spacings := []uint32{2560, 3000, 4095}
	var stream []byte
	for i, pkt := range pkts {
		stream = append(stream, EncodeFrame(spacings[i], pkt)...)
	}
	frames, err := ParseFrames(stream)
	if err != nil {
		t.Fatalf("ParseFrames: %v", err)
	}
	if len(frames) != len(pkts) {
		t.Fatalf("got %d frames, want %d", len(frames), len(pkts))
	}
	for i, f := range frames {
		if f.Spacing != spacings[i] {
			t.Fatalf("frame %d spacing = %d, want %d", i, f.Spacing, spacings[i])
		}
		if !bytes.Equal(f.Packet, pkts[i]) {
			t.Fatalf("frame %d packet mismatch", i)
		}
	}
}

func TestParseFramesErrors(t *testing.T) {
	good := EncodeFrame(100, []byte{1, 2, 3})
	tests := []struct {
		name string
		buf  []byte
		want error
		n    int
	}{
		{name: "short header", buf: append(append([]byte{}, good...), 0, 0, 0), want: ErrTruncatedFrame, n: 1},
		{name: "body past end", buf: good[:len(good)-1], want: ErrTruncatedFrame},
		{name: "length below header", buf: []byte{0, 0, 0, 1, 0, 0, 0, 4}, want: ErrInvalidFrameLength},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			frames, err := ParseFrames(tc.buf)
			if !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
			if len(frames) != tc.n {
				t.Fatalf("got %d frames before error, want %d", len(frames), tc.n)
			}
		})
	}
}

func BenchmarkScan(b *testing.B) {
	var stream []byte
	for i := 0; i < 1000; i++ {
		pkt, _ := Encode(DefaultMarker, uint32(i), make([]byte, 100))
		stream = append(stream, pkt...)
	}
	b.SetBytes(int64(len(stream)))
	b.ReportAllocs()
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		for range Scan(stream, DefaultMarker) {
		}
	}
}
