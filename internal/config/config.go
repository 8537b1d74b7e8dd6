// Package config loads the scoring daemon's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"example.com/bergate/internal/ber"
	"example.com/bergate/internal/common"
	"example.com/bergate/internal/packet"
)

type MarkerConfig struct {
	Preamble uint32 `yaml:"preamble"`
	Sync     uint32 `yaml:"sync"`
}

type ScoringConfig struct {
	Threshold      float64 `yaml:"threshold"`
	Prefix         int     `yaml:"prefix"`
	PenalizeLength bool    `yaml:"penalizeLength"`
	Confidence     float64 `yaml:"confidence"`
}

type Config struct {
	Port        int              `yaml:"port"`
	StorageDir  string           `yaml:"storageDir"`
	MaxUploadMB int              `yaml:"maxUploadMB"`
	Lang        string           `yaml:"lang"`
	Marker      MarkerConfig     `yaml:"marker"`
	Scoring     ScoringConfig    `yaml:"scoring"`
	Logs        common.LogConfig `yaml:"logs"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	cfg := Config{Scoring: defaultScoring()}
	cfg.applyDefaults()
	return cfg
}

// defaultScoring is decoded over, so an explicit zero threshold or prefix in
// the file is kept as written.
func defaultScoring() ScoringConfig {
	opts := ber.DefaultOptions()
	return ScoringConfig{
		Threshold:  opts.Threshold,
		Prefix:     opts.Prefix,
		Confidence: opts.Confidence,
	}
}

// Load reads path and fills unset fields with defaults. Relative storage and
// log directories resolve against the config file's directory.
func Load(path string) (Config, error) {
	cfg := Config{Scoring: defaultScoring()}
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode %s: %w", path, err)
	}
	baseDir := filepath.Dir(path)
	resolve := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Clean(filepath.Join(baseDir, p))
	}
	cfg.StorageDir = resolve(cfg.StorageDir)
	cfg.Logs.Directory = resolve(cfg.Logs.Directory)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.StorageDir == "" {
		c.StorageDir = filepath.Join(".", "data")
	}
	if c.MaxUploadMB <= 0 {
		c.MaxUploadMB = 256
	}
	if c.Lang == "" {
		c.Lang = "en"
	}
	if c.Marker.Preamble == 0 && c.Marker.Sync == 0 {
		c.Marker.Preamble = packet.DefaultMarker.Preamble
		c.Marker.Sync = packet.DefaultMarker.Sync
	}
	if c.Scoring.Confidence == 0 {
		c.Scoring.Confidence = ber.DefaultConfidence
	}
	if c.Logs.Directory == "" {
		c.Logs.Directory = filepath.Join(c.StorageDir, "logs")
	}
	if c.Logs.File == "" {
		c.Logs.File = "bergated.log"
	}
	if c.Logs.MaxSizeMB <= 0 {
		c.Logs.MaxSizeMB = 25
	}
	if c.Logs.MaxAgeDays <= 0 {
		c.Logs.MaxAgeDays = 7
	}
	if c.Logs.MaxBackups <= 0 {
		c.Logs.MaxBackups = 5
	}
	if c.Logs.Level == "" {
		c.Logs.Level = "info"
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Scoring.Threshold < 0 {
		errs = append(errs, fmt.Errorf("scoring.threshold %g is negative", c.Scoring.Threshold))
	}
	if c.Scoring.Prefix < 1 || c.Scoring.Prefix > packet.HeaderLen {
		errs = append(errs, fmt.Errorf("scoring.prefix %d outside [1, %d]", c.Scoring.Prefix, packet.HeaderLen))
	}
	if c.Scoring.Confidence <= 0 || c.Scoring.Confidence >= 1 {
		errs = append(errs, fmt.Errorf("scoring.confidence %g outside (0, 1)", c.Scoring.Confidence))
	}
	return errors.Join(errs...)
}

func (c Config) PacketMarker() packet.Marker {
	return packet.Marker{Preamble: c.Marker.Preamble, Sync: c.Marker.Sync}
}

func (c Config) ScoreOptions() ber.Options {
	return ber.Options{
		Prefix:                 c.Scoring.Prefix,
		Threshold:              c.Scoring.Threshold,
		PenalizeLengthMismatch: c.Scoring.PenalizeLength,
		Confidence:             c.Scoring.Confidence,
	}
}
