package common

import (
	"path/filepath"
	"testing"
)

func TestDiagLogAppendAcrossOpens(t *testing.T) {
	for _, name := range []string{"diag.jsonl", "diag.jsonl.gz", "diag.jsonl.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			for i := 0; i < 2; i++ {
				dl, err := OpenDiagLog(path)
				if err != nil {
					t.Fatalf("OpenDiagLog: %v", err)
				}
				if err := dl.Append(DiagEntry{Slice: i, Method: "crc", Counter: uint32(10 + i)}); err != nil {
					t.Fatalf("Append: %v", err)
				}
				if dl.Count() != 1 {
					t.Fatalf("Count = %d", dl.Count())
				}
				if err := dl.Close(); err != nil {
					t.Fatalf("Close: %v", err)
				}
			}
			entries, err := ReadDiagLog(path)
			if err != nil {
				t.Fatalf("ReadDiagLog: %v", err)
			}
			if len(entries) != 2 || entries[0].Counter != 10 || entries[1].Counter != 11 {
				t.Fatalf("entries = %+v", entries)
			}
			if entries[0].Ts.IsZero() {
				t.Fatalf("timestamp not set")
			}
		})
	}
}

func TestDiagLogRejects(t *testing.T) {
	if _, err := OpenDiagLog(" "); err == nil {
		t.Fatalf("empty path accepted")
	}
	dl, err := OpenDiagLog(filepath.Join(t.TempDir(), "d.jsonl"))
	if err != nil {
		t.Fatalf("OpenDiagLog: %v", err)
	}
	if err := dl.Append(DiagEntry{}); err == nil {
		t.Fatalf("entry without method accepted")
	}
	dl.Close()
	if err := dl.Append(DiagEntry{Method: "vote"}); err == nil {
		t.Fatalf("append after close accepted")
	}
	var nilLog *DiagLog
	if nilLog.Close() != nil || nilLog.Path() != "" {
		t.Fatalf("nil log misbehaves")
	}
}
