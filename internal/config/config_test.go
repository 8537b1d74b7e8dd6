package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/bergate/internal/packet"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "port: 9090\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, filepath.Join(".", "data"), cfg.StorageDir)
	assert.Equal(t, packet.DefaultMarker, cfg.PacketMarker())
	assert.Equal(t, 1e-5, cfg.Scoring.Threshold)
	assert.Equal(t, packet.MarkerLen, cfg.Scoring.Prefix)
	assert.Equal(t, 0.95, cfg.Scoring.Confidence)
	assert.Equal(t, filepath.Join("data", "logs"), cfg.Logs.Directory)
	assert.Equal(t, 25, cfg.Logs.MaxSizeMB)
	assert.Equal(t, "bergated.log", cfg.Logs.File)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
port: 8181
storageDir: store
lang: tr
marker:
  preamble: 0xAAAAAAAA
  sync: 0x1ACFFC1D
scoring:
  threshold: 0.001
  prefix: 8
  penalizeLength: true
  confidence: 0.99
logs:
  directory: /var/log/bergate
  level: debug
  format: json
  compress: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(filepath.Dir(path), "store"), cfg.StorageDir)
	assert.Equal(t, packet.Marker{Preamble: 0xAAAAAAAA, Sync: 0x1ACFFC1D}, cfg.PacketMarker())
	opts := cfg.ScoreOptions()
	assert.Equal(t, 0.001, opts.Threshold)
	assert.True(t, opts.PenalizeLengthMismatch)
	assert.Equal(t, 0.99, opts.Confidence)
	assert.Equal(t, "/var/log/bergate", cfg.Logs.Directory)
	assert.Equal(t, "json", cfg.Logs.Format)
	assert.True(t, cfg.Logs.Compress)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown field", body: "prot: 80\n"},
		{name: "negative threshold", body: "scoring:\n  threshold: -1\n"},
		{name: "prefix past header", body: "scoring:\n  prefix: 40\n"},
		{name: "zero prefix", body: "scoring:\n  prefix: 0\n"},
		{name: "confidence of one", body: "scoring:\n  confidence: 1\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadKeepsZeroThreshold(t *testing.T) {
	cfg, err := Load(writeConfig(t, "scoring:\n  threshold: 0\n"))
	require.NoError(t, err)

	opts := cfg.ScoreOptions()
	assert.Equal(t, 0.0, opts.Threshold)
	assert.Equal(t, packet.MarkerLen, opts.Prefix)
	assert.Equal(t, 0.95, opts.Confidence)
}

func TestLoadKeepsScoringDefaultsBesideOtherSections(t *testing.T) {
	cfg, err := Load(writeConfig(t, "scoring:\n  penalizeLength: true\n"))
	require.NoError(t, err)

	assert.Equal(t, 1e-5, cfg.Scoring.Threshold)
	assert.Equal(t, packet.MarkerLen, cfg.Scoring.Prefix)
	assert.True(t, cfg.Scoring.PenalizeLength)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadShippedConfig(t *testing.T) {
	path := filepath.Join("..", "..", "config", "bergated.yaml")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, packet.DefaultMarker, cfg.PacketMarker())
	assert.True(t, filepath.IsAbs(cfg.StorageDir) || filepath.Base(cfg.StorageDir) == "data")
	assert.Equal(t, filepath.Join(cfg.StorageDir, "logs"), cfg.Logs.Directory)
	assert.True(t, cfg.Logs.Compress)
}
