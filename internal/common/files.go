package common

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

type Hasher struct {
	h hash.Hash
}

func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

func (h *Hasher) Write(p []byte) (int, error) {
	return h.h.Write(p)
}

func (h *Hasher) Sum() string {
	return hex.EncodeToString(h.h.Sum(nil))
}

func Sha256OfFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return "", 0, err
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), stat.Size(), nil
}

// Compression identifies the stream codec selected by a file suffix.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
)

// CompressionFor picks a codec from the path suffix (.gz or .zst).
func CompressionFor(path string) Compression {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz", ".gzip":
		return CompressionGzip
	case ".zst", ".zstd":
		return CompressionZstd
	default:
		return CompressionNone
	}
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r readCloser) Close() error { return r.close() }

// OpenInput opens path for reading, decompressing .gz and .zst files.
func OpenInput(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	switch CompressionFor(path) {
	case CompressionGzip:
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("gzip %s: %w", path, err)
		}
		return readCloser{Reader: zr, close: func() error {
			zr.Close()
			return f.Close()
		}}, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("zstd %s: %w", path, err)
		}
		return readCloser{Reader: zr, close: func() error {
			zr.Close()
			return f.Close()
		}}, nil
	default:
		return f, nil
	}
}

// ReadInput loads the whole of path into memory.
func ReadInput(path string) ([]byte, error) {
	rc, err := OpenInput(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

type writeCloser struct {
	io.Writer
	close func() error
}

func (w writeCloser) Close() error { return w.close() }

// CreateOutput creates path for writing, compressing by suffix. Parent
// directories are created as needed.
func CreateOutput(path string) (io.WriteCloser, error) {
	return openOutput(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC)
}

func openOutput(path string, flag int) (io.WriteCloser, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, err
	}
	switch CompressionFor(path) {
	case CompressionGzip:
		zw := gzip.NewWriter(f)
		return writeCloser{Writer: zw, close: func() error {
			if err := zw.Close(); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		}}, nil
	case CompressionZstd:
		zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			f.Close()
			return nil, err
		}
		return writeCloser{Writer: zw, close: func() error {
			if err := zw.Close(); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		}}, nil
	default:
		return f, nil
	}
}

// WriteOutput writes data to path through CreateOutput.
func WriteOutput(path string, data []byte) error {
	wc, err := CreateOutput(path)
	if err != nil {
		return err
	}
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return err
	}
	return wc.Close()
}
