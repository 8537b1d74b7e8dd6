package common

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig controls where and how the shared logger writes. An empty
// Directory keeps output on stderr only.
type LogConfig struct {
	Directory  string `yaml:"directory"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
}

var (
	logMu  sync.Mutex
	logger = newLogger(os.Stderr)
	closer io.Closer
)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000000",
	})
	return l
}

// Log returns the process logger.
func Log() *logrus.Logger {
	return logger
}

// WithFields starts a structured entry on the process logger.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return logger.WithFields(fields)
}

func Logf(format string, args ...interface{}) {
	logger.Infof(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	logger.Fatalf(format, args...)
}

// SetupLogging applies cfg to the process logger. When a directory is
// configured, output is duplicated into a size-rotated file.
func SetupLogging(cfg LogConfig) error {
	level := logrus.InfoLevel
	if s := strings.TrimSpace(cfg.Level); s != "" {
		parsed, err := logrus.ParseLevel(s)
		if err != nil {
			return fmt.Errorf("log level: %w", err)
		}
		level = parsed
	}
	var formatter logrus.Formatter
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "text":
		formatter = &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000000"}
	case "json":
		formatter = &logrus.JSONFormatter{}
	default:
		return fmt.Errorf("log format %q: want text or json", cfg.Format)
	}

	var out io.Writer = os.Stderr
	var rotator *lumberjack.Logger
	if cfg.Directory != "" {
		if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		name := cfg.File
		if name == "" {
			name = "bergate.log"
		}
		rotator = &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Directory, name),
			MaxSize:    cfg.MaxSizeMB,
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: cfg.MaxBackups,
			Compress:   cfg.Compress,
		}
		out = io.MultiWriter(os.Stderr, rotator)
	}

	logMu.Lock()
	defer logMu.Unlock()
	if closer != nil {
		closer.Close()
		closer = nil
	}
	if rotator != nil {
		closer = rotator
	}
	logger.SetOutput(out)
	logger.SetLevel(level)
	logger.SetFormatter(formatter)
	return nil
}

// CloseLogging flushes and closes the rotating log file, if any.
func CloseLogging() error {
	logMu.Lock()
	defer logMu.Unlock()
	if closer == nil {
		return nil
	}
	err := closer.Close()
	closer = nil
	logger.SetOutput(os.Stderr)
	return err
}
