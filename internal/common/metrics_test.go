package common

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.Start()
	m.SetTotalBytes(400)
	m.AddSlice(100)
	m.AddSlice(100)
	m.AddSlice(-5)
	m.IncCRC()
	m.IncVoted()
	m.IncFailed()
	m.IncDuplicate()
	m.Stop()

	s := m.Snapshot()
	if s.Slices != 3 || s.Bytes != 200 {
		t.Fatalf("slices=%d bytes=%d", s.Slices, s.Bytes)
	}
	if s.Recovered() != 2 || s.Failed != 1 || s.Duplicates != 1 {
		t.Fatalf("snapshot = %+v", s)
	}
	if s.Completion() != 0.5 {
		t.Fatalf("completion = %v", s.Completion())
	}
	line := formatProgressLine(s)
	if !strings.Contains(line, "3 slices") || !strings.Contains(line, "1 failed") {
		t.Fatalf("progress line %q", line)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{in: 512, want: "512 B"},
		{in: 2048, want: "2.00 KiB"},
		{in: 3 << 20, want: "3.00 MiB"},
	}
	for _, tc := range tests {
		if got := FormatBytes(tc.in); got != tc.want {
			t.Fatalf("FormatBytes(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestProgressPrinterStops(t *testing.T) {
	var buf bytes.Buffer
	m := NewMetrics()
	m.Start()
	stop := StartProgressPrinter(&buf, m, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	stop()
	if StartProgressPrinter(nil, m, 0) == nil {
		t.Fatalf("nil writer returned nil stop func")
	}
}
