// Package manifest records the artifacts of a scoring run with their
// SHA-256 digests.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/bergate/internal/common"
)

type ArtifactType string

const (
	TypeTruth       ArtifactType = "truth"
	TypeFrames      ArtifactType = "frames"
	TypeDecoded     ArtifactType = "decoded"
	TypeResult      ArtifactType = "result"
	TypePDF         ArtifactType = "pdf"
	TypeDiagnostics ArtifactType = "diagnostics"
	TypeOther       ArtifactType = "other"
)

type Item struct {
	Path   string       `json:"path"`
	Size   int64        `json:"size"`
	Sha256 string       `json:"sha256"`
	Type   ArtifactType `json:"type"`
}

type Manifest struct {
	RunID     string    `json:"runId"`
	CreatedAt time.Time `json:"createdAt"`
	ShaAlgo   string    `json:"shaAlgo"`
	Items     []Item    `json:"items"`
}

// Entry pairs a path with an explicit artifact type. An empty Type is
// inferred from the file name.
type Entry struct {
	Path string
	Type ArtifactType
}

// Build hashes every entry. An empty runID gets a fresh UUID.
func Build(runID string, entries []Entry) (Manifest, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	m := Manifest{RunID: runID, CreatedAt: time.Now().UTC(), ShaAlgo: "sha256"}
	for _, e := range entries {
		hex, sz, err := common.Sha256OfFile(e.Path)
		if err != nil {
			return m, fmt.Errorf("hash %s: %w", e.Path, err)
		}
		typ := e.Type
		if typ == "" {
			typ = InferType(e.Path)
		}
		m.Items = append(m.Items, Item{Path: e.Path, Size: sz, Sha256: hex, Type: typ})
	}
	return m, nil
}

// BuildPaths is Build with inferred types.
func BuildPaths(runID string, paths []string) (Manifest, error) {
	entries := make([]Entry, len(paths))
	for i, p := range paths {
		entries[i] = Entry{Path: p}
	}
	return Build(runID, entries)
}

// InferType guesses the artifact type from the file name, ignoring a
// trailing .gz or .zst.
func InferType(path string) ArtifactType {
	name := strings.ToLower(filepath.Base(path))
	name = strings.TrimSuffix(strings.TrimSuffix(name, ".gz"), ".zst")
	switch {
	case strings.HasSuffix(name, ".pdf"):
		return TypePDF
	case strings.HasSuffix(name, ".jsonl"), strings.HasSuffix(name, ".ndjson"):
		return TypeDiagnostics
	case strings.HasSuffix(name, ".json"):
		return TypeResult
	case strings.HasSuffix(name, ".bin"):
		switch {
		case strings.Contains(name, "truth"):
			return TypeTruth
		case strings.Contains(name, "decoded"):
			return TypeDecoded
		case strings.Contains(name, "frame"), strings.Contains(name, "out_"):
			return TypeFrames
		}
	}
	return TypeOther
}

func Save(m Manifest, out string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func Load(path string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}

// Verify rehashes every item and returns the paths whose digest or size no
// longer match.
func Verify(m Manifest) ([]string, error) {
	var changed []string
	for _, it := range m.Items {
		hex, sz, err := common.Sha256OfFile(it.Path)
		if err != nil {
			return changed, fmt.Errorf("hash %s: %w", it.Path, err)
		}
		if hex != it.Sha256 || sz != it.Size {
			changed = append(changed, it.Path)
		}
	}
	return changed, nil
}
